package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLockout(t *testing.T) (*Lockout, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLockout(rdb, 3, 30*time.Minute), mr
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	lockout, _ := newTestLockout(t)
	ctx := context.Background()

	locked, remaining, _, err := lockout.RecordFailure(ctx, "9876543210")
	if err != nil {
		t.Fatalf("failure 1: %v", err)
	}
	if locked || remaining != 2 {
		t.Fatalf("failure 1: locked=%v remaining=%d", locked, remaining)
	}
	locked, remaining, _, err = lockout.RecordFailure(ctx, "9876543210")
	if err != nil {
		t.Fatalf("failure 2: %v", err)
	}
	if locked || remaining != 1 {
		t.Fatalf("failure 2: locked=%v remaining=%d", locked, remaining)
	}
	locked, remaining, until, err := lockout.RecordFailure(ctx, "9876543210")
	if err != nil {
		t.Fatalf("failure 3: %v", err)
	}
	if !locked || remaining != 0 {
		t.Fatalf("failure 3 must lock: locked=%v remaining=%d", locked, remaining)
	}
	wantUntil := time.Now().UTC().Add(30 * time.Minute)
	if until.Before(wantUntil.Add(-time.Minute)) || until.After(wantUntil.Add(time.Minute)) {
		t.Fatalf("lockout deadline off: %v", until)
	}

	active, gotUntil, err := lockout.Status(ctx, "9876543210")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !active {
		t.Fatalf("status must report the lock")
	}
	if !gotUntil.Equal(until.Truncate(time.Second)) {
		t.Fatalf("status deadline mismatch: %v vs %v", gotUntil, until)
	}
}

func TestLockoutExpires(t *testing.T) {
	lockout, mr := newTestLockout(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, _, err := lockout.RecordFailure(ctx, "9876543210"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}
	mr.FastForward(30*time.Minute + time.Second)
	active, _, err := lockout.Status(ctx, "9876543210")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if active {
		t.Fatalf("lock must expire with its TTL")
	}
}

func TestStaleLockIsCleared(t *testing.T) {
	lockout, mr := newTestLockout(t)
	ctx := context.Background()

	// A lock whose timestamp lies in the past despite the key's TTL.
	stale := time.Now().UTC().Add(-time.Minute).Format(time.RFC3339)
	mr.Set("login:lockout:9876543210", stale)
	mr.Set("login:attempts:9876543210", "3")

	active, _, err := lockout.Status(ctx, "9876543210")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if active {
		t.Fatalf("past deadline must read as unlocked")
	}
	if mr.Exists("login:lockout:9876543210") || mr.Exists("login:attempts:9876543210") {
		t.Fatalf("stale keys must be cleared")
	}
}

func TestClearOnSuccess(t *testing.T) {
	lockout, mr := newTestLockout(t)
	ctx := context.Background()

	if _, _, _, err := lockout.RecordFailure(ctx, "9876543210"); err != nil {
		t.Fatalf("failure: %v", err)
	}
	if err := lockout.Clear(ctx, "9876543210"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists("login:attempts:9876543210") {
		t.Fatalf("attempts must be cleared on success")
	}
	locked, remaining, _, err := lockout.RecordFailure(ctx, "9876543210")
	if err != nil {
		t.Fatalf("post-clear failure: %v", err)
	}
	if locked || remaining != 2 {
		t.Fatalf("counter must restart after clear: locked=%v remaining=%d", locked, remaining)
	}
}
