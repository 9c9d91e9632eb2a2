package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cropfresh/cropfresh-service-auth/internal/db"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	url := os.Getenv("CROPFRESH_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("CROPFRESH_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	return pool
}

var idSeq int64

func nextID() int64 {
	idSeq++
	return time.Now().UnixNano() + idSeq
}

func testPhone() string {
	return fmt.Sprintf("9%09d", time.Now().UnixNano()%1_000_000_000)
}

func createTestUser(t *testing.T, store *Store, role string) model.User {
	t.Helper()
	now := time.Now().UTC()
	user := model.User{
		ID:        nextID(),
		Phone:     testPhone(),
		Role:      role,
		IsActive:  true,
		Language:  "en",
		CreatedAt: now,
	}
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestUserLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()

	user := createTestUser(t, store, model.RoleFarmer)

	got, err := store.GetUserByPhone(ctx, user.Phone)
	if err != nil {
		t.Fatalf("get by phone: %v", err)
	}
	if got.ID != user.ID || got.Role != model.RoleFarmer {
		t.Fatalf("unexpected user row: %+v", got)
	}

	exists, err := store.PhoneExists(ctx, user.Phone)
	if err != nil || !exists {
		t.Fatalf("phone should exist: %v", err)
	}
	exists, err = store.PhoneExists(ctx, "9000000000")
	if err != nil || exists {
		t.Fatalf("unknown phone should not exist: %v", err)
	}

	until := time.Now().UTC().Add(30 * time.Minute)
	if err := store.SetLoginAttempts(ctx, user.ID, 5, &until); err != nil {
		t.Fatalf("set attempts: %v", err)
	}
	got, err = store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.LoginAttempts != 5 || got.LockedUntil == nil {
		t.Fatalf("lockout not persisted: %+v", got)
	}
	if err := store.SetLoginAttempts(ctx, user.ID, 0, nil); err != nil {
		t.Fatalf("clear attempts: %v", err)
	}
	got, _ = store.GetUserByID(ctx, user.ID)
	if got.LoginAttempts != 0 || got.LockedUntil != nil {
		t.Fatalf("lockout not cleared: %+v", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, store, model.RoleFarmer)

	first := model.Session{
		ID:           fmt.Sprintf("s-%d", nextID()),
		UserID:       user.ID,
		TokenHash:    fmt.Sprintf("hash-%d", nextID()),
		RefreshToken: fmt.Sprintf("refresh-%d", nextID()),
		ExpiresAt:    now.Add(time.Hour),
		CreatedAt:    now,
	}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Single-device: revoke everything, then write the replacement.
	if err := store.RevokeUserSessions(ctx, user.ID, now); err != nil {
		t.Fatalf("revoke sessions: %v", err)
	}
	second := first
	second.ID = fmt.Sprintf("s-%d", nextID())
	second.TokenHash = fmt.Sprintf("hash-%d", nextID())
	second.RefreshToken = fmt.Sprintf("refresh-%d", nextID())
	if err := store.CreateSession(ctx, second); err != nil {
		t.Fatalf("create second session: %v", err)
	}

	got, err := store.GetSessionByTokenHash(ctx, first.TokenHash)
	if err != nil {
		t.Fatalf("get first session: %v", err)
	}
	if got.DeletedAt == nil {
		t.Fatalf("first session should be soft-deleted")
	}
	active, err := store.CountActiveSessions(ctx, user.ID, now)
	if err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected 1 active session, got %d", active)
	}
}

func TestHaulerVerificationRace(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	user := createTestUser(t, store, model.RoleHauler)
	admin := createTestUser(t, store, model.RoleAdmin)

	token := fmt.Sprintf("tok-%d", nextID())
	hauler := model.HaulerProfile{
		ID:                 nextID(),
		UserID:             user.ID,
		FullName:           "Ravi",
		VehicleType:        "BIKE",
		VehicleNumber:      fmt.Sprintf("TEMP-%d", nextID()),
		CurrentStep:        1,
		VerificationStatus: model.HaulerInProgress,
		RegistrationToken:  &token,
		CreatedAt:          now,
	}
	if err := store.CreateHaulerProfile(ctx, hauler); err != nil {
		t.Fatalf("create hauler: %v", err)
	}
	if err := store.SetHaulerVehicle(ctx, hauler.ID, "BIKE", fmt.Sprintf("KA-01-AB-%04d", nextID()%10000), 18); err != nil {
		t.Fatalf("set vehicle: %v", err)
	}
	if err := store.SetHaulerStep(ctx, hauler.ID, 4); err != nil {
		t.Fatalf("set step: %v", err)
	}

	ok, err := store.SubmitHauler(ctx, hauler.ID)
	if err != nil || !ok {
		t.Fatalf("submit should succeed: ok=%v err=%v", ok, err)
	}
	got, err := store.GetHaulerByID(ctx, hauler.ID)
	if err != nil {
		t.Fatalf("get hauler: %v", err)
	}
	if got.VerificationStatus != model.HaulerPendingVerification || got.RegistrationToken != nil {
		t.Fatalf("submit must queue and consume the token: %+v", got)
	}

	ok, err = store.SetHaulerVerification(ctx, hauler.ID, model.HaulerActive, admin.ID, now, nil)
	if err != nil || !ok {
		t.Fatalf("first decision should apply: ok=%v err=%v", ok, err)
	}
	reason := "documents unreadable"
	ok, err = store.SetHaulerVerification(ctx, hauler.ID, model.HaulerRejected, admin.ID, now, &reason)
	if err != nil {
		t.Fatalf("second decision errored: %v", err)
	}
	if ok {
		t.Fatalf("second decision must miss the status guard")
	}
}

func TestZoneAssignmentExclusivity(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	manager := createTestUser(t, store, model.RoleAdmin)
	agentUser := createTestUser(t, store, model.RoleAgent)

	zoneA := model.Zone{ID: nextID(), Name: fmt.Sprintf("Taluk-%d", nextID()), Type: model.ZoneTaluk, CreatedAt: now}
	zoneB := model.Zone{ID: nextID(), Name: fmt.Sprintf("Taluk-%d", nextID()), Type: model.ZoneTaluk, CreatedAt: now}
	if err := store.CreateZone(ctx, zoneA); err != nil {
		t.Fatalf("create zone: %v", err)
	}
	if err := store.CreateZone(ctx, zoneB); err != nil {
		t.Fatalf("create zone: %v", err)
	}

	agent := model.AgentProfile{
		ID:             nextID(),
		UserID:         agentUser.ID,
		FullName:       "Meera",
		EmployeeID:     fmt.Sprintf("AGT-KA-%03d", nextID()%1000),
		EmploymentType: "FULL_TIME",
		Status:         model.AgentTraining,
		StartDate:      now,
		CreatedBy:      manager.ID,
		CreatedAt:      now,
	}
	if err := store.CreateAgentProfile(ctx, agent); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	err := store.WithTx(ctx, func(tx *Store) error {
		return tx.CreateZoneAssignment(ctx, model.AgentZoneAssignment{
			ID: nextID(), AgentID: agent.ID, ZoneID: zoneA.ID, AssignedBy: manager.ID, EffectiveFrom: now,
		})
	})
	if err != nil {
		t.Fatalf("first assignment: %v", err)
	}

	// Reassignment closes the open row and opens the next inside one tx.
	effective := now.Add(time.Hour)
	err = store.WithTx(ctx, func(tx *Store) error {
		if err := tx.CloseCurrentZoneAssignment(ctx, agent.ID, effective); err != nil {
			return err
		}
		return tx.CreateZoneAssignment(ctx, model.AgentZoneAssignment{
			ID: nextID(), AgentID: agent.ID, ZoneID: zoneB.ID, AssignedBy: manager.ID, EffectiveFrom: effective,
		})
	})
	if err != nil {
		t.Fatalf("reassignment: %v", err)
	}

	current, err := store.GetCurrentZoneAssignment(ctx, agent.ID)
	if err != nil {
		t.Fatalf("get current assignment: %v", err)
	}
	if current.ZoneID != zoneB.ID {
		t.Fatalf("expected zone %d, got %d", zoneB.ID, current.ZoneID)
	}
	count, err := store.CountZoneAssignments(ctx, zoneB.ID)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 open assignment in zone B, got %d (%v)", count, err)
	}
}

func TestLastAdminCountLocksRows(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	store := NewStore(pool)
	ctx := context.Background()
	now := time.Now().UTC()

	orgID := nextID()
	adminUser := createTestUser(t, store, model.RoleBuyer)
	if err := store.CreateMembership(ctx, model.TeamMembership{
		ID: nextID(), BuyerOrgID: orgID, UserID: adminUser.ID,
		Role: model.TeamAdmin, Status: model.MembershipActive, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create membership: %v", err)
	}

	err := store.WithTx(ctx, func(tx *Store) error {
		count, err := tx.CountActiveAdminsForUpdate(ctx, orgID)
		if err != nil {
			return err
		}
		if count != 1 {
			t.Fatalf("expected 1 active admin, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}
