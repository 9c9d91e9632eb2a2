package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

// Farm size labels accepted by SaveFarmProfile.
var farmSizes = []string{"SMALL", "MEDIUM", "LARGE"}

func inSet(value string, set []string) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}

// pinError maps PIN rule violations onto the error taxonomy.
func pinError(err error) *Error {
	switch {
	case errors.Is(err, crypto.ErrPinSequential):
		e := invalidArgument("PIN must not be a sequential pattern")
		e.Code = CodePinSequential
		return e
	case errors.Is(err, crypto.ErrPinRepeated):
		e := invalidArgument("PIN must not repeat a single digit")
		e.Code = CodePinRepeated
		return e
	default:
		return invalidArgument("PIN must be exactly 4 digits")
	}
}

// RequestFarmerOtp starts farmer signup by sending a code to an
// unregistered phone.
func (c *Core) RequestFarmerOtp(ctx context.Context, rawPhone string) (OtpRequestResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return OtpRequestResult{}, invalidArgument(err.Error())
	}
	exists, err := c.store.PhoneExists(ctx, phone)
	if err != nil {
		return OtpRequestResult{}, wrap(err, "phone lookup failed")
	}
	if exists {
		return OtpRequestResult{}, alreadyExists(CodePhoneExists, "an account already exists for this mobile number")
	}

	_, sent, err := c.otp.Generate(ctx, scopeFor(model.RoleFarmer), phone)
	if err != nil {
		if err == otp.ErrRateLimited {
			return OtpRequestResult{}, rateExceeded("too many codes requested, try again later")
		}
		return OtpRequestResult{}, wrap(err, "otp generation failed")
	}
	return OtpRequestResult{Sent: sent, ExpiresIn: c.otp.TTL()}, nil
}

// CreateFarmerAccount verifies the signup code and creates the user.
func (c *Core) CreateFarmerAccount(ctx context.Context, rawPhone, code, language, deviceID string, ip, userAgent *string) (LoginResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	if err := crypto.ValidateTempPin(code); err != nil {
		return LoginResult{}, invalidArgument("otp must be 6 digits")
	}
	exists, err := c.store.PhoneExists(ctx, phone)
	if err != nil {
		return LoginResult{}, wrap(err, "phone lookup failed")
	}
	if exists {
		return LoginResult{}, alreadyExists(CodePhoneExists, "an account already exists for this mobile number")
	}

	ok, err := c.otp.Verify(ctx, scopeFor(model.RoleFarmer), phone, code)
	if err != nil {
		return LoginResult{}, wrap(err, "otp verification failed")
	}
	if !ok {
		return LoginResult{}, unauthenticated(CodeInvalidOTP, "incorrect or expired code")
	}

	if language == "" {
		language = "en"
	}
	now := time.Now().UTC()
	user := model.User{
		ID:        c.newID(),
		Phone:     phone,
		Role:      model.RoleFarmer,
		IsActive:  true,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateUser(ctx, user); err != nil {
		return LoginResult{}, wrap(err, "user create failed")
	}
	c.metrics.IncRegistration(model.RoleFarmer)

	tokens, err := c.issueSession(ctx, user, deviceID, nil, ip, userAgent, true)
	if err != nil {
		return LoginResult{}, wrap(err, "session issue failed")
	}
	return LoginResult{Tokens: tokens, User: summarize(user, "")}, nil
}

type FarmerProfileInput struct {
	FullName string
	District string
	State    string
	Village  *string
	PinCode  *string
	Language string
}

// SaveFarmerProfile writes the personal-details step. Re-submitting
// replaces the previous values.
func (c *Core) SaveFarmerProfile(ctx context.Context, userID int64, input FarmerProfileInput) (model.FarmerProfile, error) {
	name, err := validate.Name(input.FullName)
	if err != nil {
		return model.FarmerProfile{}, invalidArgument(err.Error())
	}
	if input.District == "" || input.State == "" {
		return model.FarmerProfile{}, invalidArgument("district and state are required")
	}
	user, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.FarmerProfile{}, notFound(CodeNotFound, "account not found")
		}
		return model.FarmerProfile{}, wrap(err, "user lookup failed")
	}
	if user.Role != model.RoleFarmer {
		return model.FarmerProfile{}, permissionDenied(CodeUnauthorized, "not a farmer account")
	}

	now := time.Now().UTC()
	profile, err := c.store.GetFarmerProfile(ctx, userID)
	if err != nil && !repository.IsNoRows(err) {
		return model.FarmerProfile{}, wrap(err, "profile lookup failed")
	}
	if repository.IsNoRows(err) {
		profile = model.FarmerProfile{
			ID:        c.newID(),
			UserID:    userID,
			CreatedAt: now,
		}
	}
	profile.FullName = name
	profile.District = &input.District
	profile.State = &input.State
	profile.Village = input.Village
	profile.PinCode = input.PinCode
	profile.UpdatedAt = now

	if profile.CreatedAt.Equal(now) {
		err = c.store.CreateFarmerProfile(ctx, profile)
	} else {
		err = c.store.UpdateFarmerProfile(ctx, profile)
	}
	if err != nil {
		return model.FarmerProfile{}, wrap(err, "profile write failed")
	}
	return profile, nil
}

type FarmerProfilePatch struct {
	FullName *string
	District *string
	State    *string
	Village  *string
	PinCode  *string
}

// UpdateFarmerProfile patches individual profile fields.
func (c *Core) UpdateFarmerProfile(ctx context.Context, userID int64, patch FarmerProfilePatch) (model.FarmerProfile, error) {
	profile, err := c.store.GetFarmerProfile(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.FarmerProfile{}, notFound(CodeNotFound, "farmer profile not found")
		}
		return model.FarmerProfile{}, wrap(err, "profile lookup failed")
	}
	if patch.FullName != nil {
		name, err := validate.Name(*patch.FullName)
		if err != nil {
			return model.FarmerProfile{}, invalidArgument(err.Error())
		}
		profile.FullName = name
	}
	if patch.District != nil {
		profile.District = patch.District
	}
	if patch.State != nil {
		profile.State = patch.State
	}
	if patch.Village != nil {
		profile.Village = patch.Village
	}
	if patch.PinCode != nil {
		profile.PinCode = patch.PinCode
	}
	profile.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateFarmerProfile(ctx, profile); err != nil {
		return model.FarmerProfile{}, wrap(err, "profile write failed")
	}
	return profile, nil
}

// SaveFarmProfile writes the farm-details step onto the profile row.
func (c *Core) SaveFarmProfile(ctx context.Context, userID int64, farmSize string, farmingTypes, mainCrops []string) error {
	if !inSet(farmSize, farmSizes) {
		return invalidArgument("farmSize must be SMALL, MEDIUM or LARGE")
	}
	if _, err := c.store.GetFarmerProfile(ctx, userID); err != nil {
		if repository.IsNoRows(err) {
			return notFound(CodeNotFound, "submit profile details before farm details")
		}
		return wrap(err, "profile lookup failed")
	}
	if err := c.store.SaveFarmProfile(ctx, userID, farmSize, farmingTypes, mainCrops); err != nil {
		return wrap(err, "farm profile write failed")
	}
	return nil
}

type PaymentInput struct {
	Type        string
	UpiID       string
	BankAccount string
	IFSC        string
}

// AddPaymentDetails records a payout destination and makes it primary.
func (c *Core) AddPaymentDetails(ctx context.Context, userID int64, input PaymentInput) (model.PaymentDetails, error) {
	details := model.PaymentDetails{
		ID:        c.newID(),
		UserID:    userID,
		Type:      input.Type,
		Primary:   true,
		CreatedAt: time.Now().UTC(),
	}
	switch input.Type {
	case model.PaymentUPI:
		vpa, err := validate.UPI(input.UpiID)
		if err != nil {
			return model.PaymentDetails{}, invalidArgument(err.Error())
		}
		details.UpiID = &vpa
	case model.PaymentBank:
		if input.BankAccount == "" {
			return model.PaymentDetails{}, invalidArgument("bankAccount is required")
		}
		ifsc, err := validate.IFSC(input.IFSC)
		if err != nil {
			return model.PaymentDetails{}, invalidArgument(err.Error())
		}
		details.BankAccount = &input.BankAccount
		details.IFSC = &ifsc
		if bank, _ := c.upi.LookupIFSC(ctx, ifsc); bank != "" {
			details.BankName = &bank
		}
	default:
		return model.PaymentDetails{}, invalidArgument("paymentType must be UPI or BANK")
	}

	if err := c.store.ClearPrimaryPayment(ctx, userID); err != nil {
		return model.PaymentDetails{}, wrap(err, "primary payment reset failed")
	}
	if err := c.store.CreatePaymentDetails(ctx, details); err != nil {
		return model.PaymentDetails{}, wrap(err, "payment write failed")
	}
	return details, nil
}

type UpiVerification struct {
	Valid       bool
	AccountName string
}

// VerifyUpi checks a VPA against the payment-rails provider and marks
// the matching primary payment row verified.
func (c *Core) VerifyUpi(ctx context.Context, userID int64, rawVpa string) (UpiVerification, error) {
	vpa, err := validate.UPI(rawVpa)
	if err != nil {
		return UpiVerification{}, invalidArgument(err.Error())
	}
	result := UpiVerification{Valid: true}
	if c.upi.Enabled() {
		valid, name, err := c.upi.VerifyVPA(ctx, vpa)
		if err != nil {
			return UpiVerification{}, invalidUpi("UPI verification is unavailable, try again")
		}
		if !valid {
			return UpiVerification{}, invalidUpi(fmt.Sprintf("UPI ID %s could not be verified", vpa))
		}
		result.AccountName = name
	}

	payment, err := c.store.GetPrimaryPayment(ctx, userID)
	if err == nil && payment.Type == model.PaymentUPI && payment.UpiID != nil && *payment.UpiID == vpa {
		if err := c.store.MarkPaymentVerified(ctx, payment.ID, time.Now().UTC()); err != nil {
			return UpiVerification{}, wrap(err, "payment verify failed")
		}
	} else if err != nil && !repository.IsNoRows(err) {
		return UpiVerification{}, wrap(err, "payment lookup failed")
	}
	return result, nil
}

// SetFarmerPin stores the 4-digit quick-login PIN.
func (c *Core) SetFarmerPin(ctx context.Context, userID int64, pin, confirmPin string) error {
	if err := crypto.ValidatePin(pin); err != nil {
		return pinError(err)
	}
	if pin != confirmPin {
		return invalidArgument("PINs do not match")
	}
	user, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return notFound(CodeNotFound, "account not found")
		}
		return wrap(err, "user lookup failed")
	}
	hash, err := crypto.HashPin(pin)
	if err != nil {
		return wrap(err, "pin hash failed")
	}
	if err := c.store.SetPin(ctx, user.ID, hash); err != nil {
		return wrap(err, "pin write failed")
	}
	c.logger.Info("pin set", zap.Int64("user_id", user.ID))
	return nil
}

// LoginWithPin authenticates a farmer by phone + PIN. Failures feed
// both the per-phone lockout and the per-user attempt counter.
func (c *Core) LoginWithPin(ctx context.Context, rawPhone, pin, deviceID string, ip, userAgent *string) (LoginResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	if locked, until, err := c.lockout.Status(ctx, phone); err != nil {
		return LoginResult{}, wrap(err, "lockout lookup failed")
	} else if locked {
		return LoginResult{}, accountLocked(until)
	}

	user, err := c.store.GetUserByPhone(ctx, phone)
	if err != nil {
		if repository.IsNoRows(err) {
			return LoginResult{}, notFound(CodePhoneNotRegistered, "no account for this mobile number")
		}
		return LoginResult{}, wrap(err, "user lookup failed")
	}
	now := time.Now().UTC()
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return LoginResult{}, accountLocked(*user.LockedUntil)
	}
	if !user.IsActive {
		return LoginResult{}, permissionDenied(CodeUnauthorized, "account is disabled")
	}
	if user.PinHash == nil {
		return LoginResult{}, failedPrecondition(CodeInvalidState, "no PIN set for this account")
	}

	if crypto.CheckPin(*user.PinHash, pin) != nil {
		return LoginResult{}, c.recordPinFailure(ctx, user, now)
	}
	if err := c.lockout.Clear(ctx, phone); err != nil {
		return LoginResult{}, wrap(err, "lockout clear failed")
	}
	return c.finishLogin(ctx, user, deviceID, ip, userAgent)
}

// recordPinFailure bumps the row counter and the lockout engine and
// picks the error the caller should see.
func (c *Core) recordPinFailure(ctx context.Context, user model.User, now time.Time) error {
	attempts := user.LoginAttempts + 1
	var lockedUntil *time.Time
	if attempts >= c.cfg.BuyerMaxAttempts {
		until := now.Add(c.cfg.BuyerLockout)
		lockedUntil = &until
	}
	if err := c.store.SetLoginAttempts(ctx, user.ID, attempts, lockedUntil); err != nil {
		return wrap(err, "counter update failed")
	}

	locked, remaining, until, err := c.lockout.RecordFailure(ctx, user.Phone)
	if err != nil {
		return wrap(err, "lockout update failed")
	}
	if locked {
		c.metrics.IncLockout(user.Role)
		return accountLocked(until)
	}
	if lockedUntil != nil {
		c.metrics.IncLockout(user.Role)
		return accountLocked(*lockedUntil)
	}
	e := unauthenticated(CodeInvalidPIN, "incorrect PIN")
	e.RemainingAttempts = &remaining
	return e
}
