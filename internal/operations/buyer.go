package operations

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

func buyerRegKey(phone string) string {
	return "buyer_reg:" + phone
}

func buyerEmailGuardKey(email string) string {
	return "buyer_reg:email:" + email
}

// buyerBundle is the pending registration stashed between RegisterBuyer
// and VerifyBuyerOtp.
type buyerBundle struct {
	FullName     string  `json:"full_name"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"password_hash"`
	Phone        string  `json:"phone"`
	BusinessName string  `json:"business_name"`
	BusinessType string  `json:"business_type"`
	GSTNumber    *string `json:"gst_number,omitempty"`
}

type BuyerRegistrationInput struct {
	FullName     string
	Email        string
	Password     string
	Phone        string
	BusinessName string
	BusinessType string
	GSTNumber    string
}

// RegisterBuyer validates the application, parks it in the KV store and
// sends the confirmation code. No rows are written until the code is
// verified.
func (c *Core) RegisterBuyer(ctx context.Context, input BuyerRegistrationInput) (OtpRequestResult, error) {
	name, err := validate.Name(input.FullName)
	if err != nil {
		return OtpRequestResult{}, invalidArgument(err.Error())
	}
	email, err := validate.Email(input.Email)
	if err != nil {
		return OtpRequestResult{}, invalidArgument(err.Error())
	}
	phone, err := validate.Phone(input.Phone)
	if err != nil {
		return OtpRequestResult{}, invalidArgument(err.Error())
	}
	if report := crypto.ValidatePassword(input.Password); !report.Valid {
		e := invalidArgument("password does not meet the policy")
		e.Code = CodeWeakPassword
		e.Rules = report.Failed
		return OtpRequestResult{}, e
	}
	if input.BusinessName == "" {
		return OtpRequestResult{}, invalidArgument("businessName is required")
	}
	if !inSet(input.BusinessType, model.BusinessTypes) {
		return OtpRequestResult{}, invalidArgument("businessType is not recognized")
	}
	var gst *string
	if input.GSTNumber != "" {
		normalized, err := validate.GST(input.GSTNumber)
		if err != nil {
			return OtpRequestResult{}, invalidArgument(err.Error())
		}
		gst = &normalized
	}

	if exists, err := c.store.EmailExists(ctx, email); err != nil {
		return OtpRequestResult{}, wrap(err, "email lookup failed")
	} else if exists {
		return OtpRequestResult{}, alreadyExists(CodeEmailExists, "an account already exists for this email")
	}
	if exists, err := c.store.PhoneExists(ctx, phone); err != nil {
		return OtpRequestResult{}, wrap(err, "phone lookup failed")
	} else if exists {
		return OtpRequestResult{}, alreadyExists(CodePhoneExists, "an account already exists for this mobile number")
	}

	// Two applications racing on one email settle here: the SETNX
	// winner proceeds, the loser sees EMAIL_EXISTS.
	set, err := c.rdb.SetNX(ctx, buyerEmailGuardKey(email), phone, c.cfg.OTPTTL).Result()
	if err != nil {
		return OtpRequestResult{}, wrap(err, "email guard failed")
	}
	if !set {
		holder, err := c.rdb.Get(ctx, buyerEmailGuardKey(email)).Result()
		if err != nil && err != redis.Nil {
			return OtpRequestResult{}, wrap(err, "email guard failed")
		}
		if holder != phone {
			return OtpRequestResult{}, alreadyExists(CodeEmailExists, "a registration for this email is already in progress")
		}
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return OtpRequestResult{}, wrap(err, "password hash failed")
	}
	bundle, err := json.Marshal(buyerBundle{
		FullName:     name,
		Email:        email,
		PasswordHash: hash,
		Phone:        phone,
		BusinessName: input.BusinessName,
		BusinessType: input.BusinessType,
		GSTNumber:    gst,
	})
	if err != nil {
		return OtpRequestResult{}, wrap(err, "bundle encode failed")
	}
	if err := c.rdb.Set(ctx, buyerRegKey(phone), bundle, c.cfg.OTPTTL).Err(); err != nil {
		return OtpRequestResult{}, wrap(err, "bundle store failed")
	}

	_, sent, err := c.otp.Generate(ctx, scopeFor(model.RoleBuyer), phone)
	if err != nil {
		if err == otp.ErrRateLimited {
			return OtpRequestResult{}, rateExceeded("too many codes requested, try again later")
		}
		return OtpRequestResult{}, wrap(err, "otp generation failed")
	}
	return OtpRequestResult{Sent: sent, ExpiresIn: c.otp.TTL()}, nil
}

type BuyerAddressInput struct {
	Address string
	City    string
	PinCode string
}

// VerifyBuyerOtp finalizes the parked registration: one transaction
// creates the user, the organization profile and its first ADMIN
// membership.
func (c *Core) VerifyBuyerOtp(ctx context.Context, rawPhone, code string, addr BuyerAddressInput, deviceID string, ip, userAgent *string) (LoginResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	if err := crypto.ValidateTempPin(code); err != nil {
		return LoginResult{}, invalidArgument("otp must be 6 digits")
	}
	if addr.Address == "" || addr.City == "" || addr.PinCode == "" {
		return LoginResult{}, invalidArgument("address, city and pinCode are required")
	}

	raw, err := c.rdb.Get(ctx, buyerRegKey(phone)).Result()
	if err == redis.Nil {
		return LoginResult{}, notFound(CodeRegistrationNotFound, "no pending registration for this mobile number")
	}
	if err != nil {
		return LoginResult{}, wrap(err, "bundle fetch failed")
	}
	var bundle buyerBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return LoginResult{}, wrap(err, "bundle decode failed")
	}

	ok, err := c.otp.Verify(ctx, scopeFor(model.RoleBuyer), phone, code)
	if err != nil {
		return LoginResult{}, wrap(err, "otp verification failed")
	}
	if !ok {
		return LoginResult{}, unauthenticated(CodeInvalidOTP, "incorrect or expired code")
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           c.newID(),
		Phone:        bundle.Phone,
		Email:        &bundle.Email,
		Role:         model.RoleBuyer,
		PasswordHash: &bundle.PasswordHash,
		IsActive:     true,
		Language:     "en",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	profile := model.BuyerProfile{
		ID:           c.newID(),
		UserID:       user.ID,
		FullName:     bundle.FullName,
		BusinessName: bundle.BusinessName,
		BusinessType: bundle.BusinessType,
		GSTNumber:    bundle.GSTNumber,
		Address:      &addr.Address,
		City:         &addr.City,
		PinCode:      &addr.PinCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	membership := model.TeamMembership{
		ID:         c.newID(),
		BuyerOrgID: profile.ID,
		UserID:     user.ID,
		Role:       model.TeamAdmin,
		Status:     model.MembershipActive,
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := tx.CreateBuyerProfile(ctx, profile); err != nil {
			return err
		}
		return tx.CreateMembership(ctx, membership)
	})
	if err != nil {
		return LoginResult{}, wrap(err, "registration commit failed")
	}

	c.rdb.Del(ctx, buyerRegKey(phone), buyerEmailGuardKey(bundle.Email))
	c.metrics.IncRegistration(model.RoleBuyer)
	if err := c.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, wrap(err, "last-login update failed")
	}

	tokens, err := c.issueSession(ctx, user, deviceID, &profile.ID, ip, userAgent, false)
	if err != nil {
		return LoginResult{}, wrap(err, "session issue failed")
	}
	c.logger.Info("buyer registered",
		zap.Int64("user_id", user.ID), zap.Int64("org_id", profile.ID))
	return LoginResult{Tokens: tokens, User: summarize(user, bundle.FullName)}, nil
}

// LoginBuyer authenticates by email and password. Failures count on the
// user row; the fifth in a row locks the account for thirty minutes.
func (c *Core) LoginBuyer(ctx context.Context, rawEmail, password, deviceID string, ip, userAgent *string) (LoginResult, error) {
	email, err := validate.Email(rawEmail)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	user, err := c.store.GetUserByEmail(ctx, email)
	if err != nil {
		if repository.IsNoRows(err) {
			return LoginResult{}, unauthenticated(CodeInvalidCredentials, "invalid email or password")
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
	if user.PasswordHash == nil || crypto.CheckPassword(*user.PasswordHash, password) != nil {
		attempts := user.LoginAttempts + 1
		var lockedUntil *time.Time
		if attempts >= c.cfg.BuyerMaxAttempts {
			until := now.Add(c.cfg.BuyerLockout)
			lockedUntil = &until
		}
		if err := c.store.SetLoginAttempts(ctx, user.ID, attempts, lockedUntil); err != nil {
			return LoginResult{}, wrap(err, "counter update failed")
		}
		if lockedUntil != nil {
			c.metrics.IncLockout(user.Role)
			return LoginResult{}, accountLocked(*lockedUntil)
		}
		remaining := c.cfg.BuyerMaxAttempts - attempts
		e := unauthenticated(CodeInvalidCredentials, "invalid email or password")
		e.RemainingAttempts = &remaining
		return LoginResult{}, e
	}
	return c.finishLogin(ctx, user, deviceID, ip, userAgent)
}

// ForgotPassword issues a reset token. The response shape never reveals
// whether the email has an account.
func (c *Core) ForgotPassword(ctx context.Context, rawEmail string) error {
	email, err := validate.Email(rawEmail)
	if err != nil {
		return invalidArgument(err.Error())
	}
	user, err := c.store.GetUserByEmail(ctx, email)
	if err != nil {
		if repository.IsNoRows(err) {
			c.logger.Info("password reset requested for unknown email")
			return nil
		}
		return wrap(err, "user lookup failed")
	}

	rawToken, err := crypto.NewRawToken()
	if err != nil {
		return wrap(err, "token generation failed")
	}
	tokenHash, err := crypto.HashPassword(rawToken)
	if err != nil {
		return wrap(err, "token hash failed")
	}
	now := time.Now().UTC()
	if err := c.store.InvalidateUserResetTokens(ctx, user.ID, now); err != nil {
		return wrap(err, "token invalidation failed")
	}
	if err := c.store.CreatePasswordResetToken(ctx, model.PasswordResetToken{
		ID:         c.newID(),
		UserID:     user.ID,
		TokenHash:  tokenHash,
		LookupHash: crypto.HashToken(rawToken),
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
	}); err != nil {
		return wrap(err, "token store failed")
	}

	c.notify(ctx, user.Phone, fmt.Sprintf("Use code %s within 1 hour to reset your CropFresh password.", rawToken))
	c.logger.Debug("password reset token issued",
		zap.Int64("user_id", user.ID), zap.String("token", rawToken))
	return nil
}

// ResetPassword consumes a reset token, rewrites the password and
// revokes every session of the user.
func (c *Core) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return invalidArgument("token is required")
	}
	if report := crypto.ValidatePassword(newPassword); !report.Valid {
		e := invalidArgument("password does not meet the policy")
		e.Code = CodeWeakPassword
		e.Rules = report.Failed
		return e
	}

	token, err := c.store.GetPasswordResetToken(ctx, crypto.HashToken(rawToken))
	if err != nil {
		if repository.IsNoRows(err) {
			return failedPrecondition(CodeTokenExpired, "invalid or expired reset token")
		}
		return wrap(err, "token lookup failed")
	}
	if crypto.CheckPassword(token.TokenHash, rawToken) != nil {
		return failedPrecondition(CodeTokenExpired, "invalid or expired reset token")
	}
	now := time.Now().UTC()
	if token.UsedAt != nil || !token.ExpiresAt.After(now) {
		return failedPrecondition(CodeTokenExpired, "invalid or expired reset token")
	}
	spent, err := c.store.MarkResetTokenUsed(ctx, token.ID, now)
	if err != nil {
		return wrap(err, "token spend failed")
	}
	if !spent {
		return failedPrecondition(CodeTokenExpired, "invalid or expired reset token")
	}

	hash, err := crypto.HashPassword(newPassword)
	if err != nil {
		return wrap(err, "password hash failed")
	}
	if err := c.store.SetPassword(ctx, token.UserID, hash); err != nil {
		return wrap(err, "password write failed")
	}
	if err := c.store.SetLoginAttempts(ctx, token.UserID, 0, nil); err != nil {
		return wrap(err, "counter reset failed")
	}
	if err := c.store.RevokeUserSessions(ctx, token.UserID, now); err != nil {
		return wrap(err, "session revoke failed")
	}
	c.logger.Info("password reset", zap.Int64("user_id", token.UserID))
	return nil
}
