package operations

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

// scopeFor keys OTP storage by the role that will log in with it.
func scopeFor(role string) string {
	return strings.ToLower(role)
}

type OtpRequestResult struct {
	Sent      bool
	ExpiresIn int
}

// RequestLoginOtp issues a login code for a registered phone user.
func (c *Core) RequestLoginOtp(ctx context.Context, rawPhone string) (OtpRequestResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return OtpRequestResult{}, invalidArgument(err.Error())
	}
	user, err := c.store.GetUserByPhone(ctx, phone)
	if err != nil {
		if repository.IsNoRows(err) {
			return OtpRequestResult{}, notFound(CodePhoneNotRegistered, "no account for this mobile number")
		}
		return OtpRequestResult{}, wrap(err, "user lookup failed")
	}
	if !user.IsActive {
		return OtpRequestResult{}, permissionDenied(CodeUnauthorized, "account is disabled")
	}

	_, sent, err := c.otp.Generate(ctx, scopeFor(user.Role), phone)
	if err != nil {
		if err == otp.ErrRateLimited {
			return OtpRequestResult{}, rateExceeded("too many codes requested, try again later")
		}
		return OtpRequestResult{}, wrap(err, "otp generation failed")
	}
	return OtpRequestResult{Sent: sent, ExpiresIn: c.otp.TTL()}, nil
}

type LoginResult struct {
	Tokens TokenPair
	User   UserSummary
}

// VerifyLoginOtp checks the code under the lockout rules and issues a
// single-device session.
func (c *Core) VerifyLoginOtp(ctx context.Context, rawPhone, code, deviceID string, ip, userAgent *string) (LoginResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	if err := crypto.ValidateTempPin(code); err != nil {
		return LoginResult{}, invalidArgument("otp must be 6 digits")
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
	if user.LockedUntil != nil && user.LockedUntil.After(time.Now().UTC()) {
		return LoginResult{}, accountLocked(*user.LockedUntil)
	}
	if !user.IsActive {
		return LoginResult{}, permissionDenied(CodeUnauthorized, "account is disabled")
	}

	ok, err := c.otp.Verify(ctx, scopeFor(user.Role), phone, code)
	if err != nil {
		return LoginResult{}, wrap(err, "otp verification failed")
	}
	if !ok {
		locked, remaining, until, err := c.lockout.RecordFailure(ctx, phone)
		if err != nil {
			return LoginResult{}, wrap(err, "lockout update failed")
		}
		if locked {
			c.metrics.IncLockout(user.Role)
			return LoginResult{}, accountLocked(until)
		}
		e := unauthenticated(CodeInvalidOTP, "incorrect or expired code")
		e.RemainingAttempts = &remaining
		return LoginResult{}, e
	}

	if err := c.lockout.Clear(ctx, phone); err != nil {
		return LoginResult{}, wrap(err, "lockout clear failed")
	}
	return c.finishLogin(ctx, user, deviceID, ip, userAgent)
}

// finishLogin resets counters, stamps last-login and issues the
// single-device session.
func (c *Core) finishLogin(ctx context.Context, user model.User, deviceID string, ip, userAgent *string) (LoginResult, error) {
	now := time.Now().UTC()
	if user.LoginAttempts != 0 || user.LockedUntil != nil {
		if err := c.store.SetLoginAttempts(ctx, user.ID, 0, nil); err != nil {
			return LoginResult{}, wrap(err, "counter reset failed")
		}
	}
	if err := c.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, wrap(err, "last-login update failed")
	}

	// Phone-credential accounts hold one live session; buyer and admin
	// accounts may stay signed in on several devices.
	single := user.Role == model.RoleFarmer || user.Role == model.RoleHauler || user.Role == model.RoleAgent
	tokens, err := c.issueSession(ctx, user, deviceID, c.orgFor(ctx, user), ip, userAgent, single)
	if err != nil {
		return LoginResult{}, wrap(err, "session issue failed")
	}
	c.metrics.IncLogin(user.Role)
	c.logger.Info("login", zap.Int64("user_id", user.ID), zap.String("role", user.Role))
	return LoginResult{Tokens: tokens, User: summarize(user, c.fullNameFor(ctx, user))}, nil
}

// orgFor binds a buyer's token to their organization through the
// active membership. Founders and invited members resolve the same
// way; a deactivated member's next token carries no org.
func (c *Core) orgFor(ctx context.Context, user model.User) *int64 {
	if user.Role != model.RoleBuyer {
		return nil
	}
	if m, err := c.store.GetActiveMembershipForUser(ctx, user.ID); err == nil {
		return &m.BuyerOrgID
	}
	return nil
}

// fullNameFor resolves the display name from the role profile.
// Missing profiles read as empty, never as an error.
func (c *Core) fullNameFor(ctx context.Context, user model.User) string {
	switch user.Role {
	case model.RoleFarmer:
		if p, err := c.store.GetFarmerProfile(ctx, user.ID); err == nil {
			return p.FullName
		}
	case model.RoleBuyer:
		if p, err := c.store.GetBuyerProfile(ctx, user.ID); err == nil {
			return p.FullName
		}
	case model.RoleHauler:
		if p, err := c.store.GetHaulerByUserID(ctx, user.ID); err == nil {
			return p.FullName
		}
	case model.RoleAgent:
		if p, err := c.store.GetAgentByUserID(ctx, user.ID); err == nil {
			return p.FullName
		}
	}
	return ""
}

// Logout revokes the presented session. Unknown tokens are a no-op.
func (c *Core) Logout(ctx context.Context, accessToken string) error {
	session, err := c.store.GetSessionByTokenHash(ctx, crypto.HashToken(accessToken))
	if err != nil {
		if repository.IsNoRows(err) {
			return nil
		}
		return wrap(err, "session lookup failed")
	}
	if session.DeletedAt != nil {
		return nil
	}
	if err := c.store.RevokeSession(ctx, session.ID, time.Now().UTC()); err != nil {
		return wrap(err, "session revoke failed")
	}
	return nil
}

// RefreshToken rotates the session: the presented refresh token is
// spent and a fresh pair replaces it.
func (c *Core) RefreshToken(ctx context.Context, refreshToken string, ip, userAgent *string) (LoginResult, error) {
	if refreshToken == "" {
		return LoginResult{}, invalidArgument("refreshToken is required")
	}
	session, err := c.store.GetSessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if repository.IsNoRows(err) {
			return LoginResult{}, unauthenticated(CodeInvalidCredentials, "invalid refresh token")
		}
		return LoginResult{}, wrap(err, "session lookup failed")
	}
	now := time.Now().UTC()
	if !session.ExpiresAt.After(now) {
		return LoginResult{}, failedPrecondition(CodeTokenExpired, "refresh token expired")
	}
	user, err := c.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return LoginResult{}, wrap(err, "user lookup failed")
	}
	if !user.IsActive {
		return LoginResult{}, permissionDenied(CodeUnauthorized, "account is disabled")
	}

	if err := c.store.RevokeSession(ctx, session.ID, now); err != nil {
		return LoginResult{}, wrap(err, "session rotate failed")
	}
	tokens, err := c.issueSession(ctx, user, "", c.orgFor(ctx, user), ip, userAgent, false)
	if err != nil {
		return LoginResult{}, wrap(err, "session issue failed")
	}
	return LoginResult{Tokens: tokens, User: summarize(user, c.fullNameFor(ctx, user))}, nil
}

type TokenStatus struct {
	Valid     bool
	UserID    int64
	UserType  string
	ExpiresAt time.Time
}

// VerifyToken reports whether the bearer is live: signature, session
// row present, not revoked, not expired.
func (c *Core) VerifyToken(ctx context.Context, accessToken string) (TokenStatus, error) {
	claims, err := auth.ParseToken(c.cfg.JWTSecret, accessToken)
	if err != nil {
		return TokenStatus{}, nil
	}
	session, err := c.store.GetSessionByTokenHash(ctx, crypto.HashToken(accessToken))
	if err != nil {
		if repository.IsNoRows(err) {
			return TokenStatus{}, nil
		}
		return TokenStatus{}, wrap(err, "session lookup failed")
	}
	if session.DeletedAt != nil || !session.ExpiresAt.After(time.Now().UTC()) {
		return TokenStatus{}, nil
	}
	return TokenStatus{
		Valid:     true,
		UserID:    claims.UserID,
		UserType:  claims.UserType,
		ExpiresAt: session.ExpiresAt,
	}, nil
}
