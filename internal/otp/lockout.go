package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lockout tracks failed login verifications per phone. After the
// threshold is reached within the window the phone is locked for the
// full window; success clears both counters.
type Lockout struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
}

func NewLockout(rdb *redis.Client, threshold int, window time.Duration) *Lockout {
	return &Lockout{rdb: rdb, threshold: threshold, window: window}
}

func attemptsKey(phone string) string {
	return fmt.Sprintf("login:attempts:%s", phone)
}

func lockoutKey(phone string) string {
	return fmt.Sprintf("login:lockout:%s", phone)
}

// Status reports an active lockout. A stale timestamp (possible when
// the key was written with a longer TTL than the lock) clears both keys.
func (l *Lockout) Status(ctx context.Context, phone string) (bool, time.Time, error) {
	value, err := l.rdb.Get(ctx, lockoutKey(phone)).Result()
	if err == redis.Nil {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	until, err := time.Parse(time.RFC3339, value)
	if err != nil {
		// Unparseable lock is treated as absent.
		_ = l.rdb.Del(ctx, lockoutKey(phone)).Err()
		return false, time.Time{}, nil
	}
	if !until.After(time.Now().UTC()) {
		if err := l.rdb.Del(ctx, lockoutKey(phone), attemptsKey(phone)).Err(); err != nil {
			return false, time.Time{}, err
		}
		return false, time.Time{}, nil
	}
	return true, until, nil
}

// RecordFailure counts one failed verification. When the count reaches
// the threshold the lock is written and returned.
func (l *Lockout) RecordFailure(ctx context.Context, phone string) (locked bool, remaining int, until time.Time, err error) {
	count, err := l.rdb.Incr(ctx, attemptsKey(phone)).Result()
	if err != nil {
		return false, 0, time.Time{}, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, attemptsKey(phone), l.window).Err(); err != nil {
			return false, 0, time.Time{}, err
		}
	}
	remaining = l.threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if int(count) >= l.threshold {
		until = time.Now().UTC().Add(l.window)
		if err := l.rdb.Set(ctx, lockoutKey(phone), until.Format(time.RFC3339), l.window).Err(); err != nil {
			return false, 0, time.Time{}, err
		}
		return true, 0, until, nil
	}
	return false, remaining, time.Time{}, nil
}

// Clear removes both counters after a successful verification.
func (l *Lockout) Clear(ctx context.Context, phone string) error {
	return l.rdb.Del(ctx, attemptsKey(phone), lockoutKey(phone)).Err()
}
