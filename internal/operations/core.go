// Package operations implements the domain services behind the RPC
// surface: login and sessions, the four onboarding flows, team
// management, the hauler review queue and the zone hierarchy.
package operations

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/config"
	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/metrics"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

// Notifier sends best-effort transactional SMS.
type Notifier interface {
	Send(ctx context.Context, phone, message string) error
}

// UpiVerifier fronts the payment-rails provider.
type UpiVerifier interface {
	Enabled() bool
	VerifyVPA(ctx context.Context, vpa string) (bool, string, error)
	LookupIFSC(ctx context.Context, code string) (string, string)
}

type Core struct {
	store   *repository.Store
	rdb     *redis.Client
	otp     *otp.Engine
	lockout *otp.Lockout
	sms     Notifier
	upi     UpiVerifier
	logger  *zap.Logger
	metrics *metrics.Metrics
	node    *snowflake.Node
	cfg     config.Config
}

func NewCore(store *repository.Store, rdb *redis.Client, engine *otp.Engine, lockout *otp.Lockout,
	notifier Notifier, verifier UpiVerifier, logger *zap.Logger, m *metrics.Metrics,
	node *snowflake.Node, cfg config.Config) *Core {
	return &Core{
		store:   store,
		rdb:     rdb,
		otp:     engine,
		lockout: lockout,
		sms:     notifier,
		upi:     verifier,
		logger:  logger,
		metrics: m,
		node:    node,
		cfg:     cfg,
	}
}

func (c *Core) newID() int64 {
	return c.node.Generate().Int64()
}

// notify sends an SMS without letting a gateway fault surface.
func (c *Core) notify(ctx context.Context, phone, message string) {
	if c.sms == nil {
		return
	}
	if err := c.sms.Send(ctx, phone, message); err != nil {
		c.logger.Warn("notification sms failed", zap.String("phone", phone), zap.Error(err))
	}
}

// TokenPair is a freshly issued session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// UserSummary is the profile projection login responses carry.
type UserSummary struct {
	UserID   int64  `json:"userId"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	UserType string `json:"userType"`
	FullName string `json:"fullName,omitempty"`
}

func (c *Core) tokenTTLs(role string) (access, refresh time.Duration) {
	if role == model.RoleAgent {
		return c.cfg.AgentAccessTokenTTL, c.cfg.AgentRefreshTokenTTL
	}
	return c.cfg.AccessTokenTTL, c.cfg.RefreshTokenTTL
}

// issueSession writes a session row and returns its token pair. With
// singleDevice set, every prior active session of the user is
// soft-deleted first.
func (c *Core) issueSession(ctx context.Context, user model.User, deviceID string, buyerOrgID *int64, ip, userAgent *string, singleDevice bool) (TokenPair, error) {
	accessTTL, _ := c.tokenTTLs(user.Role)
	accessToken, err := auth.NewAccessToken(c.cfg.JWTSecret, c.cfg.JWTIssuer, accessTTL, auth.Claims{
		UserID:     user.ID,
		UserType:   user.Role,
		DeviceID:   deviceID,
		BuyerOrgID: buyerOrgID,
	})
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := crypto.NewRawToken()
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	if singleDevice {
		if err := c.store.RevokeUserSessions(ctx, user.ID, now); err != nil {
			return TokenPair{}, err
		}
	}
	expiresAt := now.Add(accessTTL)
	if err := c.store.CreateSession(ctx, model.Session{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		TokenHash:    crypto.HashToken(accessToken),
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
		IPAddress:    ip,
		UserAgent:    userAgent,
		CreatedAt:    now,
	}); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}, nil
}

func summarize(user model.User, fullName string) UserSummary {
	summary := UserSummary{
		UserID:   user.ID,
		Phone:    user.Phone,
		UserType: user.Role,
		FullName: fullName,
	}
	if user.Email != nil {
		summary.Email = *user.Email
	}
	return summary
}
