package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)

func haulerRegKey(token string) string {
	return "hauler_reg:" + token
}

// haulerStash carries step-1 data until the code is verified.
type haulerStash struct {
	FullName string  `json:"full_name"`
	Phone    string  `json:"phone"`
	District *string `json:"district,omitempty"`
}

type HaulerStep1Input struct {
	FullName string
	Phone    string
	District string
}

type HaulerStep1Result struct {
	RegistrationToken string
	Sent              bool
	ExpiresIn         int
}

// HaulerRegisterStep1 parks the applicant under a fresh registration
// token and sends the verification code.
func (c *Core) HaulerRegisterStep1(ctx context.Context, input HaulerStep1Input) (HaulerStep1Result, error) {
	name, err := validate.Name(input.FullName)
	if err != nil {
		return HaulerStep1Result{}, invalidArgument(err.Error())
	}
	phone, err := validate.Phone(input.Phone)
	if err != nil {
		return HaulerStep1Result{}, invalidArgument(err.Error())
	}
	exists, err := c.store.PhoneExists(ctx, phone)
	if err != nil {
		return HaulerStep1Result{}, wrap(err, "phone lookup failed")
	}
	if exists {
		return HaulerStep1Result{}, alreadyExists(CodePhoneExists, "an account already exists for this mobile number")
	}

	token := uuid.NewString()
	stash := haulerStash{FullName: name, Phone: phone}
	if input.District != "" {
		stash.District = &input.District
	}
	raw, err := json.Marshal(stash)
	if err != nil {
		return HaulerStep1Result{}, wrap(err, "stash encode failed")
	}
	if err := c.rdb.Set(ctx, haulerRegKey(token), raw, c.cfg.OTPTTL).Err(); err != nil {
		return HaulerStep1Result{}, wrap(err, "stash store failed")
	}

	_, sent, err := c.otp.Generate(ctx, scopeFor(model.RoleHauler), phone)
	if err != nil {
		if err == otp.ErrRateLimited {
			return HaulerStep1Result{}, rateExceeded("too many codes requested, try again later")
		}
		return HaulerStep1Result{}, wrap(err, "otp generation failed")
	}
	return HaulerStep1Result{RegistrationToken: token, Sent: sent, ExpiresIn: c.otp.TTL()}, nil
}

// placeholderVehicle marks a stub row so the real number can claim the
// uniqueness slot later.
func placeholderVehicle(token string) string {
	return "TEMP-" + strings.ToUpper(token[:8])
}

// HaulerVerifyOtp verifies the step-1 code and creates the user plus a
// stub profile in one transaction.
func (c *Core) HaulerVerifyOtp(ctx context.Context, token, code string) (model.HaulerProfile, error) {
	if err := crypto.ValidateTempPin(code); err != nil {
		return model.HaulerProfile{}, invalidArgument("otp must be 6 digits")
	}
	raw, err := c.rdb.Get(ctx, haulerRegKey(token)).Result()
	if err == redis.Nil {
		return model.HaulerProfile{}, notFound(CodeRegistrationNotFound, "registration not found or expired")
	}
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "stash fetch failed")
	}
	var stash haulerStash
	if err := json.Unmarshal([]byte(raw), &stash); err != nil {
		return model.HaulerProfile{}, wrap(err, "stash decode failed")
	}

	ok, err := c.otp.Verify(ctx, scopeFor(model.RoleHauler), stash.Phone, code)
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "otp verification failed")
	}
	if !ok {
		return model.HaulerProfile{}, unauthenticated(CodeInvalidOTP, "incorrect or expired code")
	}

	now := time.Now().UTC()
	user := model.User{
		ID:        c.newID(),
		Phone:     stash.Phone,
		Role:      model.RoleHauler,
		IsActive:  true,
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}
	profile := model.HaulerProfile{
		ID:                 c.newID(),
		UserID:             user.ID,
		FullName:           stash.FullName,
		District:           stash.District,
		VehicleType:        "TEMP",
		VehicleNumber:      placeholderVehicle(token),
		CurrentStep:        1,
		VerificationStatus: model.HaulerInProgress,
		RegistrationToken:  &token,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		return tx.CreateHaulerProfile(ctx, profile)
	})
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "registration commit failed")
	}

	c.rdb.Del(ctx, haulerRegKey(token))
	c.metrics.IncRegistration(model.RoleHauler)
	return profile, nil
}

// resolveHaulerStep loads the profile behind a registration token and
// enforces the no-skipping step order.
func (c *Core) resolveHaulerStep(ctx context.Context, token string, step int) (model.HaulerProfile, error) {
	if token == "" {
		return model.HaulerProfile{}, invalidArgument("registrationToken is required")
	}
	profile, err := c.store.GetHaulerByToken(ctx, token)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.HaulerProfile{}, notFound(CodeRegistrationNotFound, "registration not found or already submitted")
		}
		return model.HaulerProfile{}, wrap(err, "registration lookup failed")
	}
	if profile.CurrentStep < step-1 {
		return model.HaulerProfile{}, failedPrecondition(CodeInvalidState,
			fmt.Sprintf("complete step %d first", step-1))
	}
	if profile.CurrentStep > step {
		return model.HaulerProfile{}, failedPrecondition(CodeInvalidState, "step already completed")
	}
	return profile, nil
}

type VehicleInput struct {
	VehicleType       string
	VehicleNumber     string
	PayloadCapacityKg float64
	PhotoFrontURL     string
	PhotoSideURL      string
	PhotoOtherURL     string
}

// HaulerAddVehicleInfo records the vehicle for step 2.
func (c *Core) HaulerAddVehicleInfo(ctx context.Context, token string, input VehicleInput) (model.HaulerProfile, error) {
	profile, err := c.resolveHaulerStep(ctx, token, 2)
	if err != nil {
		return model.HaulerProfile{}, err
	}
	if _, ok := validate.VehicleClassFor(input.VehicleType); !ok {
		return model.HaulerProfile{}, invalidArgument("vehicleType is not recognized")
	}
	number, err := validate.VehicleNumber(input.VehicleNumber)
	if err != nil {
		return model.HaulerProfile{}, invalidArgument(err.Error())
	}
	if err := validate.PayloadCapacity(input.VehicleType, input.PayloadCapacityKg); err != nil {
		return model.HaulerProfile{}, invalidArgument(err.Error())
	}
	if input.PhotoFrontURL == "" || input.PhotoSideURL == "" {
		return model.HaulerProfile{}, invalidArgument("front and side vehicle photos are required")
	}
	taken, err := c.store.VehicleNumberExists(ctx, number, profile.ID)
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "vehicle lookup failed")
	}
	if taken {
		return model.HaulerProfile{}, alreadyExists(CodeDuplicateVehicle, "this vehicle is already registered")
	}

	if err := c.store.SetHaulerVehicle(ctx, profile.ID, input.VehicleType, number, input.PayloadCapacityKg); err != nil {
		return model.HaulerProfile{}, wrap(err, "vehicle write failed")
	}
	docs := []struct{ docType, url string }{
		{model.DocVehiclePhotoFront, input.PhotoFrontURL},
		{model.DocVehiclePhotoSide, input.PhotoSideURL},
		{model.DocVehiclePhotoOther, input.PhotoOtherURL},
	}
	now := time.Now().UTC()
	for _, d := range docs {
		if d.url == "" {
			continue
		}
		if err := c.store.CreateHaulerDocument(ctx, model.HaulerDocument{
			ID:         c.newID(),
			HaulerID:   profile.ID,
			Type:       d.docType,
			URL:        d.url,
			UploadedAt: now,
		}); err != nil {
			return model.HaulerProfile{}, wrap(err, "document write failed")
		}
	}

	profile.VehicleType = input.VehicleType
	profile.VehicleNumber = number
	profile.PayloadCapacityKg = input.PayloadCapacityKg
	profile.CurrentStep = 2
	return profile, nil
}

type LicenseInput struct {
	DLNumber   string
	DLExpiry   string
	DLFrontURL string
	DLBackURL  string
}

// HaulerAddLicenseInfo records the driving license for step 3.
func (c *Core) HaulerAddLicenseInfo(ctx context.Context, token string, input LicenseInput) (model.HaulerProfile, error) {
	profile, err := c.resolveHaulerStep(ctx, token, 3)
	if err != nil {
		return model.HaulerProfile{}, err
	}
	dl, err := validate.DrivingLicense(input.DLNumber)
	if err != nil {
		return model.HaulerProfile{}, invalidArgument(err.Error())
	}
	expiry, err := validate.DLExpiry(input.DLExpiry, time.Now())
	if err != nil {
		return model.HaulerProfile{}, invalidArgument(err.Error())
	}
	if input.DLFrontURL == "" || input.DLBackURL == "" {
		return model.HaulerProfile{}, invalidArgument("front and back license photos are required")
	}

	if err := c.store.SetHaulerLicense(ctx, profile.ID, dl, expiry); err != nil {
		return model.HaulerProfile{}, wrap(err, "license write failed")
	}
	now := time.Now().UTC()
	for _, d := range []struct{ docType, url string }{
		{model.DocDLFront, input.DLFrontURL},
		{model.DocDLBack, input.DLBackURL},
	} {
		if err := c.store.CreateHaulerDocument(ctx, model.HaulerDocument{
			ID:         c.newID(),
			HaulerID:   profile.ID,
			Type:       d.docType,
			URL:        d.url,
			UploadedAt: now,
		}); err != nil {
			return model.HaulerProfile{}, wrap(err, "document write failed")
		}
	}

	profile.DLNumber = &dl
	profile.DLExpiry = &expiry
	profile.CurrentStep = 3
	return profile, nil
}

type HaulerPaymentInput struct {
	UpiID       string
	BankAccount string
	IFSC        string
}

// HaulerAddPaymentInfo verifies the payout UPI and records it for
// step 4. UPI verification is required here, not best-effort.
func (c *Core) HaulerAddPaymentInfo(ctx context.Context, token string, input HaulerPaymentInput) (model.HaulerProfile, error) {
	profile, err := c.resolveHaulerStep(ctx, token, 4)
	if err != nil {
		return model.HaulerProfile{}, err
	}
	vpa, err := validate.UPI(input.UpiID)
	if err != nil {
		return model.HaulerProfile{}, invalidArgument(err.Error())
	}
	if c.upi.Enabled() {
		valid, _, err := c.upi.VerifyVPA(ctx, vpa)
		if err != nil {
			return model.HaulerProfile{}, invalidUpi("UPI verification is unavailable, try again")
		}
		if !valid {
			return model.HaulerProfile{}, invalidUpi(fmt.Sprintf("UPI ID %s could not be verified", vpa))
		}
	}

	now := time.Now().UTC()
	details := model.PaymentDetails{
		ID:         c.newID(),
		UserID:     profile.UserID,
		Type:       model.PaymentUPI,
		UpiID:      &vpa,
		Verified:   true,
		VerifiedAt: &now,
		Primary:    true,
		CreatedAt:  now,
	}
	if input.BankAccount != "" {
		ifsc, err := validate.IFSC(input.IFSC)
		if err != nil {
			return model.HaulerProfile{}, invalidArgument(err.Error())
		}
		details.BankAccount = &input.BankAccount
		details.IFSC = &ifsc
		if bank, _ := c.upi.LookupIFSC(ctx, ifsc); bank != "" {
			details.BankName = &bank
		}
	}
	if err := c.store.ClearPrimaryPayment(ctx, profile.UserID); err != nil {
		return model.HaulerProfile{}, wrap(err, "primary payment reset failed")
	}
	if err := c.store.CreatePaymentDetails(ctx, details); err != nil {
		return model.HaulerProfile{}, wrap(err, "payment write failed")
	}
	if err := c.store.SetHaulerStep(ctx, profile.ID, 4); err != nil {
		return model.HaulerProfile{}, wrap(err, "step write failed")
	}

	profile.CurrentStep = 4
	return profile, nil
}

// HaulerSubmitRegistration moves the application into the review queue
// and consumes the registration token.
func (c *Core) HaulerSubmitRegistration(ctx context.Context, token string) (model.HaulerProfile, error) {
	profile, err := c.resolveHaulerStep(ctx, token, 4)
	if err != nil {
		return model.HaulerProfile{}, err
	}
	if profile.CurrentStep != 4 {
		return model.HaulerProfile{}, failedPrecondition(CodeInvalidState, "complete all four steps before submitting")
	}
	ok, err := c.store.SubmitHauler(ctx, profile.ID)
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "submit failed")
	}
	if !ok {
		return model.HaulerProfile{}, failedPrecondition(CodeInvalidState, "registration is not open for submission")
	}

	user, err := c.store.GetUserByID(ctx, profile.UserID)
	if err == nil {
		c.notify(ctx, user.Phone, "Thanks! Your CropFresh hauler application is submitted and under review. We will notify you once verified.")
	}
	c.logger.Info("hauler submitted", zap.Int64("hauler_id", profile.ID))

	profile.VerificationStatus = model.HaulerPendingVerification
	profile.RegistrationToken = nil
	return profile, nil
}

// PendingHauler is one row of the admin review queue.
type PendingHauler struct {
	Profile   model.HaulerProfile
	Phone     string
	MaskedDL  string
	Documents []model.HaulerDocument
}

type PendingHaulerPage struct {
	Items []PendingHauler
	Total int
	Page  int
	Limit int
}

// GetPendingHaulerVerifications lists applications awaiting review,
// oldest first. DL numbers are masked for display.
func (c *Core) GetPendingHaulerVerifications(ctx context.Context, page, limit int, district *string) (PendingHaulerPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	profiles, total, err := c.store.ListPendingHaulers(ctx, district, page, limit)
	if err != nil {
		return PendingHaulerPage{}, wrap(err, "queue fetch failed")
	}

	items := make([]PendingHauler, 0, len(profiles))
	for _, profile := range profiles {
		item := PendingHauler{Profile: profile}
		if profile.DLNumber != nil {
			item.MaskedDL = validate.MaskDL(*profile.DLNumber)
		}
		if user, err := c.store.GetUserByID(ctx, profile.UserID); err == nil {
			item.Phone = user.Phone
		}
		docs, err := c.store.ListHaulerDocuments(ctx, profile.ID)
		if err != nil {
			return PendingHaulerPage{}, wrap(err, "document fetch failed")
		}
		item.Documents = docs
		items = append(items, item)
	}
	return PendingHaulerPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

type VerifyHaulerInput struct {
	HaulerID        int64
	Action          string
	RejectionReason string
	VerifiedBy      int64
}

// VerifyHaulerAccount decides a pending application. Racing decisions
// serialize on the row: the loser gets INVALID_STATE.
func (c *Core) VerifyHaulerAccount(ctx context.Context, input VerifyHaulerInput) (model.HaulerProfile, error) {
	if input.Action != ActionApprove && input.Action != ActionReject {
		return model.HaulerProfile{}, invalidArgument("action must be APPROVE or REJECT")
	}
	if input.Action == ActionReject && strings.TrimSpace(input.RejectionReason) == "" {
		return model.HaulerProfile{}, invalidArgument("rejectionReason is required for REJECT")
	}
	profile, err := c.store.GetHaulerByID(ctx, input.HaulerID)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.HaulerProfile{}, notFound(CodeNotFound, "hauler not found")
		}
		return model.HaulerProfile{}, wrap(err, "hauler lookup failed")
	}

	now := time.Now().UTC()
	status := model.HaulerActive
	var reason *string
	if input.Action == ActionReject {
		status = model.HaulerRejected
		trimmed := strings.TrimSpace(input.RejectionReason)
		reason = &trimmed
	}
	ok, err := c.store.SetHaulerVerification(ctx, profile.ID, status, input.VerifiedBy, now, reason)
	if err != nil {
		return model.HaulerProfile{}, wrap(err, "verification write failed")
	}
	if !ok {
		return model.HaulerProfile{}, failedPrecondition(CodeInvalidState, "application is not pending verification")
	}

	if user, err := c.store.GetUserByID(ctx, profile.UserID); err == nil {
		if status == model.HaulerActive {
			c.notify(ctx, user.Phone, "Congratulations! Your CropFresh hauler account is verified. You can start accepting delivery jobs now.")
		} else {
			c.notify(ctx, user.Phone, fmt.Sprintf("Your CropFresh hauler application was not approved: %s. You may reapply after addressing this.", *reason))
		}
	}
	c.logger.Info("hauler verified",
		zap.Int64("hauler_id", profile.ID),
		zap.String("action", input.Action),
		zap.Int64("verified_by", input.VerifiedBy))

	profile.VerificationStatus = status
	profile.VerifiedBy = &input.VerifiedBy
	profile.VerifiedAt = &now
	profile.RejectionReason = reason
	return profile, nil
}

// VehicleEligibility returns the capacity and radius limits per class.
func (c *Core) VehicleEligibility() []validate.VehicleClass {
	return validate.VehicleClasses
}

// HaulerView is the self-service profile projection.
type HaulerView struct {
	Profile   model.HaulerProfile
	Phone     string
	Documents []model.HaulerDocument
}

// GetHaulerProfile returns the caller's own hauler record.
func (c *Core) GetHaulerProfile(ctx context.Context, userID int64) (HaulerView, error) {
	profile, err := c.store.GetHaulerByUserID(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return HaulerView{}, notFound(CodeNotFound, "hauler profile not found")
		}
		return HaulerView{}, wrap(err, "hauler lookup failed")
	}
	user, err := c.store.GetUserByID(ctx, userID)
	if err != nil {
		return HaulerView{}, wrap(err, "user lookup failed")
	}
	docs, err := c.store.ListHaulerDocuments(ctx, profile.ID)
	if err != nil {
		return HaulerView{}, wrap(err, "document fetch failed")
	}
	return HaulerView{Profile: profile, Phone: user.Phone, Documents: docs}, nil
}
