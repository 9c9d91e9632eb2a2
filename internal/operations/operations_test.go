package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/config"
	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/db"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/otp"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
)

type recordingNotifier struct {
	phones   []string
	messages []string
}

func (r *recordingNotifier) Send(ctx context.Context, phone, message string) error {
	r.phones = append(r.phones, phone)
	r.messages = append(r.messages, message)
	return nil
}

type stubVerifier struct {
	enabled bool
	valid   bool
	name    string
	err     error
}

func (s *stubVerifier) Enabled() bool { return s.enabled }

func (s *stubVerifier) VerifyVPA(ctx context.Context, vpa string) (bool, string, error) {
	return s.valid, s.name, s.err
}

func (s *stubVerifier) LookupIFSC(ctx context.Context, code string) (string, string) {
	return "Canara Bank", "MG Road"
}

type testEnv struct {
	core  *Core
	store *repository.Store
	mr    *miniredis.Miniredis
	sms   *recordingNotifier
	upi   *stubVerifier
	cfg   config.Config
}

// newTestCore wires a Core against a real database and an in-memory
// redis. Skips when no database is reachable.
func newTestCore(t *testing.T) *testEnv {
	t.Helper()
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
	t.Cleanup(pool.Close)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{
		JWTSecret:            "test-secret",
		JWTIssuer:            "cropfresh-test",
		AccessTokenTTL:       720 * time.Hour,
		RefreshTokenTTL:      1440 * time.Hour,
		AgentAccessTokenTTL:  168 * time.Hour,
		AgentRefreshTokenTTL: 720 * time.Hour,
		PinChangeTokenTTL:    15 * time.Minute,
		TempPinTTL:           72 * time.Hour,
		OTPTTL:               10 * time.Minute,
		OTPRateLimit:         3,
		OTPRateWindow:        10 * time.Minute,
		LoginMaxAttempts:     3,
		LoginLockout:         30 * time.Minute,
		BuyerMaxAttempts:     5,
		BuyerLockout:         30 * time.Minute,
	}
	logger := zap.NewNop()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	store := repository.NewStore(pool)
	sms := &recordingNotifier{}
	verifier := &stubVerifier{}
	engine := otp.NewEngine(rdb, nil, logger, nil, cfg.OTPTTL, cfg.OTPRateLimit, cfg.OTPRateWindow)
	lockout := otp.NewLockout(rdb, cfg.LoginMaxAttempts, cfg.LoginLockout)
	core := NewCore(store, rdb, engine, lockout, sms, verifier, logger, nil, node, cfg)
	return &testEnv{core: core, store: store, mr: mr, sms: sms, upi: verifier, cfg: cfg}
}

var opIDSeq int64

func opNextID() int64 {
	opIDSeq++
	return time.Now().UnixNano() + opIDSeq
}

func opTestPhone() string {
	return fmt.Sprintf("9%09d", opNextID()%1_000_000_000)
}

func opTestEmail() string {
	return fmt.Sprintf("buyer%d@example.com", opNextID())
}

// plantOtp stores a known code so verification paths can be driven
// without reading the generated one.
func plantOtp(t *testing.T, env *testEnv, scope, phone, code string) {
	t.Helper()
	key := "otp:" + scope + ":" + phone
	if err := env.mr.Set(key, crypto.HashToken(code)); err != nil {
		t.Fatalf("plant otp: %v", err)
	}
	env.mr.SetTTL(key, 10*time.Minute)
}

func seedUser(t *testing.T, env *testEnv, role string) model.User {
	t.Helper()
	now := time.Now().UTC()
	user := model.User{
		ID:        opNextID(),
		Phone:     opTestPhone(),
		Role:      role,
		IsActive:  true,
		Language:  "en",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := env.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func seedOrgWithAdmin(t *testing.T, env *testEnv) (int64, model.User) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	email := opTestEmail()
	hash, err := crypto.HashPassword("Secret@123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	user := model.User{
		ID:           opNextID(),
		Phone:        opTestPhone(),
		Email:        &email,
		Role:         model.RoleBuyer,
		PasswordHash: &hash,
		IsActive:     true,
		Language:     "en",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.store.CreateUser(ctx, user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	profile := model.BuyerProfile{
		ID:           opNextID(),
		UserID:       user.ID,
		FullName:     "Asha Rao",
		BusinessName: "Rao Traders",
		BusinessType: "RETAILER",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.store.CreateBuyerProfile(ctx, profile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	if err := env.store.CreateMembership(ctx, model.TeamMembership{
		ID:         opNextID(),
		BuyerOrgID: profile.ID,
		UserID:     user.ID,
		Role:       model.TeamAdmin,
		Status:     model.MembershipActive,
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	return profile.ID, user
}

func seedZonePair(t *testing.T, env *testEnv) (model.Zone, model.Zone) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	state := model.Zone{ID: opNextID(), Name: "Karnataka", Type: model.ZoneState, CreatedAt: now}
	if err := env.store.CreateZone(ctx, state); err != nil {
		t.Fatalf("seed state zone: %v", err)
	}
	taluk := model.Zone{ID: opNextID(), Name: "Doddaballapura", Type: model.ZoneTaluk, ParentID: &state.ID, CreatedAt: now}
	if err := env.store.CreateZone(ctx, taluk); err != nil {
		t.Fatalf("seed taluk zone: %v", err)
	}
	return state, taluk
}

func domainError(t *testing.T, err error) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected domain error, got %v", err)
	}
	return e
}

func TestFarmerOtpLoginHappyPath(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	user := seedUser(t, env, model.RoleFarmer)

	result, err := env.core.RequestLoginOtp(ctx, user.Phone)
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if result.ExpiresIn != 600 {
		t.Fatalf("expected expiresIn 600, got %d", result.ExpiresIn)
	}
	stored, err := env.mr.Get("otp:farmer:" + user.Phone)
	if err != nil || len(stored) != 64 {
		t.Fatalf("stored code not a 64-hex digest: %q err=%v", stored, err)
	}
	if rate, _ := env.mr.Get("otp:rate:" + user.Phone); rate != "1" {
		t.Fatalf("rate counter should be 1, got %q", rate)
	}

	plantOtp(t, env, "farmer", user.Phone, "462817")
	login, err := env.core.VerifyLoginOtp(ctx, user.Phone, "462817", "D1", nil, nil)
	if err != nil {
		t.Fatalf("verify otp: %v", err)
	}
	if login.User.UserType != model.RoleFarmer || login.Tokens.AccessToken == "" {
		t.Fatalf("unexpected login result: %+v", login)
	}

	// A second login replaces the first session.
	plantOtp(t, env, "farmer", user.Phone, "998877")
	if _, err := env.core.VerifyLoginOtp(ctx, user.Phone, "998877", "D2", nil, nil); err != nil {
		t.Fatalf("second login: %v", err)
	}
	count, err := env.store.CountActiveSessions(ctx, user.ID, time.Now().UTC())
	if err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 active session, got %d", count)
	}
}

func TestOtpLockoutAfterThreeFailures(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	user := seedUser(t, env, model.RoleFarmer)
	plantOtp(t, env, "farmer", user.Phone, "314159")

	for i, wantRemaining := range []int{2, 1} {
		_, err := env.core.VerifyLoginOtp(ctx, user.Phone, "000000", "D1", nil, nil)
		e := domainError(t, err)
		if e.Code != CodeInvalidOTP {
			t.Fatalf("attempt %d: expected INVALID_OTP, got %s", i+1, e.Code)
		}
		if e.RemainingAttempts == nil || *e.RemainingAttempts != wantRemaining {
			t.Fatalf("attempt %d: expected remaining %d, got %+v", i+1, wantRemaining, e.RemainingAttempts)
		}
	}

	_, err := env.core.VerifyLoginOtp(ctx, user.Phone, "000000", "D1", nil, nil)
	e := domainError(t, err)
	if e.Code != CodeAccountLocked {
		t.Fatalf("third failure should lock, got %s", e.Code)
	}
	if e.LockedUntil == nil {
		t.Fatal("lockedUntil missing")
	}
	if d := time.Until(*e.LockedUntil); d < 29*time.Minute || d > 31*time.Minute {
		t.Fatalf("lockout deadline off: %v", d)
	}

	// Even the correct code is refused while locked.
	_, err = env.core.VerifyLoginOtp(ctx, user.Phone, "314159", "D1", nil, nil)
	if e := domainError(t, err); e.Code != CodeAccountLocked {
		t.Fatalf("expected ACCOUNT_LOCKED, got %s", e.Code)
	}
}

func TestBuyerRegistrationFlow(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	email := opTestEmail()
	phone := opTestPhone()

	result, err := env.core.RegisterBuyer(ctx, BuyerRegistrationInput{
		FullName:     "Meera Nair",
		Email:        email,
		Password:     "Secret@123",
		Phone:        phone,
		BusinessName: "Nair Fresh Mart",
		BusinessType: "RETAILER",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if result.ExpiresIn != 600 {
		t.Fatalf("expected expiresIn 600, got %d", result.ExpiresIn)
	}
	if !env.mr.Exists("buyer_reg:" + phone) {
		t.Fatal("registration bundle missing")
	}

	plantOtp(t, env, "buyer", phone, "271828")
	login, err := env.core.VerifyBuyerOtp(ctx, phone, "271828",
		BuyerAddressInput{Address: "14 Market Rd", City: "Kochi", PinCode: "682001"}, "", nil, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if login.User.UserType != model.RoleBuyer {
		t.Fatalf("unexpected user type %s", login.User.UserType)
	}
	if env.mr.Exists("buyer_reg:" + phone) {
		t.Fatal("bundle should be consumed")
	}

	profile, err := env.store.GetBuyerProfile(ctx, login.User.UserID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	membership, err := env.store.GetMembership(ctx, profile.ID, login.User.UserID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if membership.Role != model.TeamAdmin || membership.Status != model.MembershipActive {
		t.Fatalf("founder should be active admin: %+v", membership)
	}

	if _, err := env.core.LoginBuyer(ctx, email, "Secret@123", "", nil, nil); err != nil {
		t.Fatalf("login: %v", err)
	}
	_, err = env.core.LoginBuyer(ctx, email, "WrongPass@1", "", nil, nil)
	e := domainError(t, err)
	if e.Code != CodeInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s", e.Code)
	}
	if e.RemainingAttempts == nil || *e.RemainingAttempts != 4 {
		t.Fatalf("expected 4 remaining, got %+v", e.RemainingAttempts)
	}
}

func TestBuyerEmailRaceGuard(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	email := opTestEmail()

	input := BuyerRegistrationInput{
		FullName:     "First Caller",
		Email:        email,
		Password:     "Secret@123",
		Phone:        opTestPhone(),
		BusinessName: "First Mart",
		BusinessType: "HOTEL",
	}
	if _, err := env.core.RegisterBuyer(ctx, input); err != nil {
		t.Fatalf("first register: %v", err)
	}

	input.FullName = "Second Caller"
	input.Phone = opTestPhone()
	_, err := env.core.RegisterBuyer(ctx, input)
	if e := domainError(t, err); e.Code != CodeEmailExists {
		t.Fatalf("expected EMAIL_EXISTS, got %s", e.Code)
	}
}

func TestBuyerLockoutAfterFiveFailures(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	_, admin := seedOrgWithAdmin(t, env)

	for i := 0; i < 4; i++ {
		_, err := env.core.LoginBuyer(ctx, *admin.Email, "WrongPass@1", "", nil, nil)
		if e := domainError(t, err); e.Code != CodeInvalidCredentials {
			t.Fatalf("attempt %d: expected INVALID_CREDENTIALS, got %s", i+1, e.Code)
		}
	}
	_, err := env.core.LoginBuyer(ctx, *admin.Email, "WrongPass@1", "", nil, nil)
	e := domainError(t, err)
	if e.Code != CodeAccountLocked || e.LockedUntil == nil {
		t.Fatalf("fifth failure should lock: %+v", e)
	}
	// The right password does not unlock early.
	_, err = env.core.LoginBuyer(ctx, *admin.Email, "Secret@123", "", nil, nil)
	if e := domainError(t, err); e.Code != CodeAccountLocked {
		t.Fatalf("expected ACCOUNT_LOCKED, got %s", e.Code)
	}
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	_, admin := seedOrgWithAdmin(t, env)

	login, err := env.core.LoginBuyer(ctx, *admin.Email, "Secret@123", "", nil, nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := env.core.ForgotPassword(ctx, *admin.Email); err != nil {
		t.Fatalf("forgot: %v", err)
	}
	if len(env.sms.messages) == 0 {
		t.Fatal("reset notification not dispatched")
	}
	token := extractResetToken(t, env.sms.messages[len(env.sms.messages)-1])

	// Unknown emails still answer success.
	if err := env.core.ForgotPassword(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("forgot unknown: %v", err)
	}

	if err := env.core.ResetPassword(ctx, token, "Fresh@Pass1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.core.ResetPassword(ctx, token, "Another@Pass1"); err == nil {
		t.Fatal("spent token should be refused")
	}

	status, err := env.core.VerifyToken(ctx, login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if status.Valid {
		t.Fatal("old session should be revoked by the reset")
	}
	if _, err := env.core.LoginBuyer(ctx, *admin.Email, "Fresh@Pass1", "", nil, nil); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func extractResetToken(t *testing.T, message string) string {
	t.Helper()
	m := regexp.MustCompile(`code (\S+) within`).FindStringSubmatch(message)
	if m == nil {
		t.Fatalf("no token in message %q", message)
	}
	return m[1]
}

func TestHaulerRegistrationSteps(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	phone := opTestPhone()

	step1, err := env.core.HaulerRegisterStep1(ctx, HaulerStep1Input{FullName: "Ravi Kumar", Phone: phone, District: "Tumakuru"})
	if err != nil {
		t.Fatalf("step1: %v", err)
	}
	if step1.RegistrationToken == "" {
		t.Fatal("no registration token")
	}
	token := step1.RegistrationToken

	plantOtp(t, env, "hauler", phone, "604020")
	profile, err := env.core.HaulerVerifyOtp(ctx, token, "604020")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if profile.CurrentStep != 1 || profile.VerificationStatus != model.HaulerInProgress {
		t.Fatalf("unexpected stub profile: %+v", profile)
	}

	vehicle := VehicleInput{
		VehicleType:       "BIKE",
		VehicleNumber:     "KA 01 AB 1234",
		PayloadCapacityKg: 25,
		PhotoFrontURL:     "https://cdn.example.com/front.jpg",
		PhotoSideURL:      "https://cdn.example.com/side.jpg",
	}
	_, err = env.core.HaulerAddVehicleInfo(ctx, token, vehicle)
	if e := domainError(t, err); e.Code != CodeInvalidArgument {
		t.Fatalf("25kg on a bike should fail: %s", e.Code)
	}
	vehicle.PayloadCapacityKg = 18
	profile, err = env.core.HaulerAddVehicleInfo(ctx, token, vehicle)
	if err != nil {
		t.Fatalf("vehicle: %v", err)
	}
	if profile.CurrentStep != 2 || profile.VehicleNumber != "KA-01-AB-1234" {
		t.Fatalf("unexpected step-2 profile: %+v", profile)
	}

	// Step order is enforced: payment before license is refused.
	_, err = env.core.HaulerAddPaymentInfo(ctx, token, HaulerPaymentInput{UpiID: "ravi@upi"})
	if e := domainError(t, err); e.Code != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %s", e.Code)
	}

	profile, err = env.core.HaulerAddLicenseInfo(ctx, token, LicenseInput{
		DLNumber:   "KA0320219876543",
		DLExpiry:   time.Now().AddDate(2, 0, 0).Format("2006-01-02"),
		DLFrontURL: "https://cdn.example.com/dl-front.jpg",
		DLBackURL:  "https://cdn.example.com/dl-back.jpg",
	})
	if err != nil {
		t.Fatalf("license: %v", err)
	}
	if profile.CurrentStep != 3 {
		t.Fatalf("expected step 3, got %d", profile.CurrentStep)
	}

	profile, err = env.core.HaulerAddPaymentInfo(ctx, token, HaulerPaymentInput{UpiID: "Ravi@upi"})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if profile.CurrentStep != 4 {
		t.Fatalf("expected step 4, got %d", profile.CurrentStep)
	}

	profile, err = env.core.HaulerSubmitRegistration(ctx, token)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if profile.VerificationStatus != model.HaulerPendingVerification {
		t.Fatalf("expected pending, got %s", profile.VerificationStatus)
	}
	if len(env.sms.messages) == 0 || !strings.Contains(env.sms.messages[len(env.sms.messages)-1], "under review") {
		t.Fatal("submission SMS missing")
	}

	// The token is consumed by submission.
	_, err = env.core.HaulerSubmitRegistration(ctx, token)
	if e := domainError(t, err); e.Code != CodeRegistrationNotFound {
		t.Fatalf("expected REGISTRATION_NOT_FOUND, got %s", e.Code)
	}

	admin := seedUser(t, env, model.RoleAdmin)
	decided, err := env.core.VerifyHaulerAccount(ctx, VerifyHaulerInput{
		HaulerID:   profile.ID,
		Action:     ActionApprove,
		VerifiedBy: admin.ID,
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if decided.VerificationStatus != model.HaulerActive {
		t.Fatalf("expected ACTIVE, got %s", decided.VerificationStatus)
	}

	// A second decision loses the race.
	_, err = env.core.VerifyHaulerAccount(ctx, VerifyHaulerInput{
		HaulerID:        profile.ID,
		Action:          ActionReject,
		RejectionReason: "duplicate",
		VerifiedBy:      admin.ID,
	})
	if e := domainError(t, err); e.Code != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %s", e.Code)
	}
}

func TestLastAdminGuard(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	orgID, admin := seedOrgWithAdmin(t, env)

	membership, err := env.store.GetMembership(ctx, orgID, admin.ID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	err = env.core.UpdateTeamMemberRole(ctx, orgID, membership.ID, model.TeamFinanceUser, admin.ID, nil)
	if e := domainError(t, err); e.Code != CodeLastAdmin {
		t.Fatalf("expected LAST_ADMIN, got %s", e.Code)
	}

	second := seedUser(t, env, model.RoleBuyer)
	now := time.Now().UTC()
	if err := env.store.CreateMembership(ctx, model.TeamMembership{
		ID:         opNextID(),
		BuyerOrgID: orgID,
		UserID:     second.ID,
		Role:       model.TeamAdmin,
		Status:     model.MembershipActive,
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed second admin: %v", err)
	}

	if err := env.core.UpdateTeamMemberRole(ctx, orgID, membership.ID, model.TeamFinanceUser, admin.ID, nil); err != nil {
		t.Fatalf("role change: %v", err)
	}
	changes, err := env.store.ListRoleChanges(ctx, membership.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(changes) != 1 || changes[0].OldRole != model.TeamAdmin || changes[0].NewRole != model.TeamFinanceUser {
		t.Fatalf("unexpected audit trail: %+v", changes)
	}
}

func TestSelfActionForbidden(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	orgID, admin := seedOrgWithAdmin(t, env)
	membership, err := env.store.GetMembership(ctx, orgID, admin.ID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}

	err = env.core.DeactivateTeamMember(ctx, orgID, membership.ID, admin.ID)
	if e := domainError(t, err); e.Code != CodeSelfAction {
		t.Fatalf("expected SELF_ACTION, got %s", e.Code)
	}
	err = env.core.DeleteTeamMember(ctx, orgID, membership.ID, admin.ID)
	if e := domainError(t, err); e.Code != CodeSelfAction {
		t.Fatalf("expected SELF_ACTION, got %s", e.Code)
	}
}

func TestTeamInvitationLifecycle(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	orgID, admin := seedOrgWithAdmin(t, env)
	inviteeEmail := opTestEmail()

	invitation, err := env.core.InviteTeamMember(ctx, InviteInput{
		OrgID:     orgID,
		Email:     inviteeEmail,
		Phone:     opTestPhone(),
		Role:      model.TeamProcurementManager,
		InvitedBy: admin.ID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if invitation.RawToken == "" {
		t.Fatal("no raw token")
	}

	_, err = env.core.InviteTeamMember(ctx, InviteInput{
		OrgID: orgID, Email: inviteeEmail, Role: model.TeamFinanceUser, InvitedBy: admin.ID,
	})
	if e := domainError(t, err); e.Code != CodeDuplicateEmail {
		t.Fatalf("expected DUPLICATE_EMAIL, got %s", e.Code)
	}

	preview, err := env.core.ValidateInvitationToken(ctx, invitation.RawToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if preview.Email != inviteeEmail || preview.Role != model.TeamProcurementManager || preview.BusinessName != "Rao Traders" {
		t.Fatalf("unexpected preview: %+v", preview)
	}

	_, err = env.core.AcceptTeamInvitation(ctx, invitation.RawToken, "Kiran Shet", "weak", nil, nil)
	if e := domainError(t, err); e.Code != CodeWeakPassword {
		t.Fatalf("expected WEAK_PASSWORD, got %s", e.Code)
	}

	login, err := env.core.AcceptTeamInvitation(ctx, invitation.RawToken, "Kiran Shet", "Strong@Pass1", nil, nil)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if login.Tokens.AccessToken == "" || login.User.Email != inviteeEmail {
		t.Fatalf("unexpected login: %+v", login)
	}
	member, err := env.store.GetMembership(ctx, orgID, login.User.UserID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if member.Role != model.TeamProcurementManager || member.Status != model.MembershipActive {
		t.Fatalf("unexpected membership: %+v", member)
	}

	_, err = env.core.AcceptTeamInvitation(ctx, invitation.RawToken, "Kiran Shet", "Strong@Pass1", nil, nil)
	if e := domainError(t, err); e.Code != CodeAlreadyAccepted {
		t.Fatalf("expected ALREADY_ACCEPTED, got %s", e.Code)
	}

	// The member's own login binds the founding org, not a fresh one.
	memberLogin, err := env.core.LoginBuyer(ctx, inviteeEmail, "Strong@Pass1", "", nil, nil)
	if err != nil {
		t.Fatalf("member login: %v", err)
	}
	claims, err := auth.ParseToken(env.cfg.JWTSecret, memberLogin.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse member token: %v", err)
	}
	if claims.BuyerOrgID == nil || *claims.BuyerOrgID != orgID {
		t.Fatalf("member token should carry org %d, got %v", orgID, claims.BuyerOrgID)
	}
	if memberLogin.User.FullName != "Kiran Shet" {
		t.Fatalf("unexpected member name %q", memberLogin.User.FullName)
	}

	roster, err := env.core.ListTeamMembers(ctx, orgID, admin.ID, repository.MemberFilter{Search: "kiran"}, 1, 10)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if roster.Total != 1 || roster.Items[0].FullName != "Kiran Shet" {
		t.Fatalf("name search missed the member: %+v", roster.Items)
	}
}

func TestAgentOnboardingFlow(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	manager := seedUser(t, env, model.RoleAdmin)
	_, taluk := seedZonePair(t, env)
	phone := opTestPhone()

	created, err := env.core.CreateFieldAgent(ctx, CreateAgentInput{
		FullName:       "Suresh Gowda",
		Phone:          phone,
		ZoneID:         taluk.ID,
		StartDate:      time.Now().Format("2006-01-02"),
		EmploymentType: "FULL_TIME",
		CreatedBy:      manager.ID,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if !strings.HasPrefix(created.Profile.EmployeeID, "AGT-KA-") {
		t.Fatalf("unexpected employee id %s", created.Profile.EmployeeID)
	}
	if created.Profile.Status != model.AgentTraining {
		t.Fatalf("expected TRAINING, got %s", created.Profile.Status)
	}

	if len(env.sms.messages) == 0 {
		t.Fatal("welcome SMS missing")
	}
	welcome := env.sms.messages[len(env.sms.messages)-1]
	m := regexp.MustCompile(`\b([0-9]{6})\b`).FindStringSubmatch(welcome)
	if m == nil {
		t.Fatalf("no temp PIN in welcome SMS %q", welcome)
	}
	tempPin := m[1]

	first, err := env.core.AgentFirstLogin(ctx, phone, tempPin)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	if !first.RequiresPinChange || first.TemporaryToken == "" {
		t.Fatalf("unexpected first login: %+v", first)
	}
	if first.ExpiresIn != 900 {
		t.Fatalf("pin-change token should last 15 minutes, got %d", first.ExpiresIn)
	}

	_, err = env.core.AgentSetPin(ctx, first.TemporaryToken, "1234", "1234", nil, nil)
	if e := domainError(t, err); e.Code != CodePinSequential {
		t.Fatalf("expected SEQUENTIAL, got %s", e.Code)
	}

	set, err := env.core.AgentSetPin(ctx, first.TemporaryToken, "4827", "4827", nil, nil)
	if err != nil {
		t.Fatalf("set pin: %v", err)
	}
	if !set.RequiresTraining || set.Tokens.AccessToken == "" {
		t.Fatalf("unexpected set-pin result: %+v", set)
	}

	// Dashboard stays locked until training completes.
	_, err = env.core.GetAgentDashboard(ctx, created.Profile.UserID)
	if e := domainError(t, err); e.Code != CodeInvalidState {
		t.Fatalf("expected INVALID_STATE, got %s", e.Code)
	}

	already, err := env.core.CompleteAgentTraining(ctx, created.Profile.UserID)
	if err != nil || already {
		t.Fatalf("first completion: already=%v err=%v", already, err)
	}
	already, err = env.core.CompleteAgentTraining(ctx, created.Profile.UserID)
	if err != nil || !already {
		t.Fatalf("second completion should be idempotent: already=%v err=%v", already, err)
	}

	dashboard, err := env.core.GetAgentDashboard(ctx, created.Profile.UserID)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dashboard.Zone == nil || dashboard.Zone.ID != taluk.ID {
		t.Fatalf("unexpected dashboard zone: %+v", dashboard.Zone)
	}
	if len(dashboard.ZonePath) == 0 || dashboard.ZonePath[0].Type != model.ZoneState {
		t.Fatalf("expected state ancestor, got %+v", dashboard.ZonePath)
	}
}

func TestAgentZoneReassignment(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	manager := seedUser(t, env, model.RoleAdmin)
	state, taluk := seedZonePair(t, env)
	now := time.Now().UTC()
	other := model.Zone{ID: opNextID(), Name: "Nelamangala", Type: model.ZoneTaluk, ParentID: &state.ID, CreatedAt: now}
	if err := env.store.CreateZone(ctx, other); err != nil {
		t.Fatalf("seed zone: %v", err)
	}

	created, err := env.core.CreateFieldAgent(ctx, CreateAgentInput{
		FullName:       "Lakshmi Bai",
		Phone:          opTestPhone(),
		ZoneID:         taluk.ID,
		EmploymentType: "CONTRACT",
		CreatedBy:      manager.ID,
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	if err := env.core.ReassignAgentZone(ctx, created.Profile.ID, other.ID, manager.ID, time.Time{}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	assignment, err := env.store.GetCurrentZoneAssignment(ctx, created.Profile.ID)
	if err != nil {
		t.Fatalf("assignment: %v", err)
	}
	if assignment.ZoneID != other.ID {
		t.Fatalf("expected zone %d, got %d", other.ID, assignment.ZoneID)
	}
}

func TestRefreshTokenRotation(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	user := seedUser(t, env, model.RoleFarmer)
	plantOtp(t, env, "farmer", user.Phone, "135791")

	login, err := env.core.VerifyLoginOtp(ctx, user.Phone, "135791", "D1", nil, nil)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	rotated, err := env.core.RefreshToken(ctx, login.Tokens.RefreshToken, nil, nil)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rotated.Tokens.RefreshToken == login.Tokens.RefreshToken {
		t.Fatal("refresh token should rotate")
	}

	// The spent refresh token is dead.
	_, err = env.core.RefreshToken(ctx, login.Tokens.RefreshToken, nil, nil)
	if e := domainError(t, err); e.Code != CodeInvalidCredentials {
		t.Fatalf("expected INVALID_CREDENTIALS, got %s", e.Code)
	}

	old, err := env.core.VerifyToken(ctx, login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify old: %v", err)
	}
	if old.Valid {
		t.Fatal("rotated-away access token should be invalid")
	}
	fresh, err := env.core.VerifyToken(ctx, rotated.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("verify new: %v", err)
	}
	if !fresh.Valid || fresh.UserID != user.ID {
		t.Fatalf("unexpected status: %+v", fresh)
	}
}

func TestFarmerPinLogin(t *testing.T) {
	env := newTestCore(t)
	if env == nil {
		return
	}
	ctx := context.Background()
	user := seedUser(t, env, model.RoleFarmer)

	if err := env.core.SetFarmerPin(ctx, user.ID, "4827", "4827"); err != nil {
		t.Fatalf("set pin: %v", err)
	}

	_, err := env.core.LoginWithPin(ctx, user.Phone, "9999", "D1", nil, nil)
	e := domainError(t, err)
	if e.Code != CodeInvalidPIN {
		t.Fatalf("expected INVALID_PIN, got %s", e.Code)
	}
	if e.RemainingAttempts == nil || *e.RemainingAttempts != 2 {
		t.Fatalf("expected 2 remaining, got %+v", e.RemainingAttempts)
	}

	login, err := env.core.LoginWithPin(ctx, user.Phone, "4827", "D1", nil, nil)
	if err != nil {
		t.Fatalf("pin login: %v", err)
	}
	if login.User.UserType != model.RoleFarmer {
		t.Fatalf("unexpected user type %s", login.User.UserType)
	}
	refreshed, err := env.store.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if refreshed.LoginAttempts != 0 {
		t.Fatalf("attempt counter should reset, got %d", refreshed.LoginAttempts)
	}
}
