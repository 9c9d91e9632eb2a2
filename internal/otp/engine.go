// Package otp implements the one-time-code engine and the shared
// rate-limit/lockout counters over the key-value store.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/metrics"
)

// ErrRateLimited reports that the per-phone generation budget for the
// current window is spent.
var ErrRateLimited = errors.New("otp rate limit exceeded")

// Sender dispatches the code to the phone. Implementations are
// best-effort; the engine treats failures as "not sent".
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

type Engine struct {
	rdb        *redis.Client
	sender     Sender
	logger     *zap.Logger
	metrics    *metrics.Metrics
	ttl        time.Duration
	rateLimit  int
	rateWindow time.Duration
}

func NewEngine(rdb *redis.Client, sender Sender, logger *zap.Logger, m *metrics.Metrics, ttl time.Duration, rateLimit int, rateWindow time.Duration) *Engine {
	return &Engine{
		rdb:        rdb,
		sender:     sender,
		logger:     logger,
		metrics:    m,
		ttl:        ttl,
		rateLimit:  rateLimit,
		rateWindow: rateWindow,
	}
}

func codeKey(scope, phone string) string {
	return fmt.Sprintf("otp:%s:%s", scope, phone)
}

func rateKey(phone string) string {
	return fmt.Sprintf("otp:rate:%s", phone)
}

// Generate draws a code, stores its hash under the scope key and
// dispatches it. Returns the raw code for development logging and
// whether the SMS actually went out. SMS failure does not fail the
// call; the stored code stays valid.
func (e *Engine) Generate(ctx context.Context, scope, phone string) (string, bool, error) {
	count, err := e.rdb.Incr(ctx, rateKey(phone)).Result()
	if err != nil {
		return "", false, err
	}
	if count == 1 {
		if err := e.rdb.Expire(ctx, rateKey(phone), e.rateWindow).Err(); err != nil {
			return "", false, err
		}
	}
	if count > int64(e.rateLimit) {
		e.metrics.IncOTPRateLimited()
		return "", false, ErrRateLimited
	}

	code, err := crypto.NewOTP()
	if err != nil {
		return "", false, err
	}
	if err := e.rdb.Set(ctx, codeKey(scope, phone), crypto.HashToken(code), e.ttl).Err(); err != nil {
		return "", false, err
	}
	e.metrics.IncOTPGenerated(scope)
	e.logger.Debug("otp generated", zap.String("scope", scope), zap.String("phone", phone), zap.String("code", code))

	sent := false
	if e.sender != nil {
		if err := e.sender.SendOTP(ctx, phone, code); err != nil {
			e.logger.Warn("otp dispatch failed", zap.String("phone", phone), zap.Error(err))
		} else {
			sent = true
		}
	}
	return code, sent, nil
}

// Verify consumes the stored code when the input matches. The consume
// is a GETDEL so two racing correct attempts cannot both pass; a
// mismatch leaves the stored code in place.
func (e *Engine) Verify(ctx context.Context, scope, phone, code string) (bool, error) {
	stored, err := e.rdb.Get(ctx, codeKey(scope, phone)).Result()
	if err == redis.Nil {
		e.metrics.IncOTPFailure()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored != crypto.HashToken(code) {
		e.metrics.IncOTPFailure()
		return false, nil
	}
	consumed, err := e.rdb.GetDel(ctx, codeKey(scope, phone)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return consumed == crypto.HashToken(code), nil
}

// TTL reports the code lifetime in seconds for response payloads.
func (e *Engine) TTL() int {
	return int(e.ttl / time.Second)
}
