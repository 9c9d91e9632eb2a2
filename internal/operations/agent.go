package operations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/auth"
	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

// stateCodes maps state zone names to the employee-id prefix.
var stateCodes = map[string]string{
	"KARNATAKA":      "KA",
	"TAMIL NADU":     "TN",
	"ANDHRA PRADESH": "AP",
	"TELANGANA":      "TS",
	"KERALA":         "KL",
	"MAHARASHTRA":    "MH",
}

// stateCodeForZone walks up to the STATE ancestor and derives the
// two-letter code used in employee ids.
func (c *Core) stateCodeForZone(ctx context.Context, zone model.Zone) string {
	z := zone
	for z.Type != model.ZoneState && z.ParentID != nil {
		parent, err := c.store.GetZone(ctx, *z.ParentID)
		if err != nil {
			break
		}
		z = parent
	}
	name := strings.ToUpper(strings.TrimSpace(z.Name))
	if code, ok := stateCodes[name]; ok {
		return code
	}
	if len(name) >= 2 {
		return name[:2]
	}
	return "XX"
}

type CreateAgentInput struct {
	FullName       string
	Phone          string
	ZoneID         int64
	StartDate      string
	EmploymentType string
	CreatedBy      int64
}

type AgentCreated struct {
	Profile model.AgentProfile
	Phone   string
	Zone    model.Zone
}

// CreateFieldAgent provisions a field agent: user, profile and zone
// assignment in one transaction, then a welcome SMS with the
// temporary PIN.
func (c *Core) CreateFieldAgent(ctx context.Context, input CreateAgentInput) (AgentCreated, error) {
	name, err := validate.Name(input.FullName)
	if err != nil {
		return AgentCreated{}, invalidArgument(err.Error())
	}
	phone, err := validate.Phone(input.Phone)
	if err != nil {
		return AgentCreated{}, invalidArgument(err.Error())
	}
	if !inSet(input.EmploymentType, model.EmploymentTypes) {
		return AgentCreated{}, invalidArgument("employmentType is not recognized")
	}
	startDate := time.Now().UTC()
	if input.StartDate != "" {
		startDate, err = time.Parse("2006-01-02", input.StartDate)
		if err != nil {
			return AgentCreated{}, invalidArgument("startDate must be YYYY-MM-DD")
		}
	}
	zone, err := c.store.GetZone(ctx, input.ZoneID)
	if err != nil {
		if repository.IsNoRows(err) {
			return AgentCreated{}, notFound(CodeNotFound, "zone not found")
		}
		return AgentCreated{}, wrap(err, "zone lookup failed")
	}
	if exists, err := c.store.PhoneExists(ctx, phone); err != nil {
		return AgentCreated{}, wrap(err, "phone lookup failed")
	} else if exists {
		return AgentCreated{}, alreadyExists(CodePhoneExists, "an account already exists for this mobile number")
	}

	tempPin, err := crypto.NewTempPin()
	if err != nil {
		return AgentCreated{}, wrap(err, "temp pin generation failed")
	}
	tempPinHash, err := crypto.HashPin(tempPin)
	if err != nil {
		return AgentCreated{}, wrap(err, "temp pin hash failed")
	}

	stateCode := c.stateCodeForZone(ctx, zone)
	var profile model.AgentProfile
	var user model.User
	// Two managers minting in the same state can collide on the
	// sequence number; the unique index arbitrates and we re-mint.
	for attempt := 0; ; attempt++ {
		seq, err := c.store.CountAgentsByState(ctx, stateCode)
		if err != nil {
			return AgentCreated{}, wrap(err, "employee id mint failed")
		}
		now := time.Now().UTC()
		pinExpiry := now.Add(c.cfg.TempPinTTL)
		user = model.User{
			ID:           c.newID(),
			Phone:        phone,
			Role:         model.RoleAgent,
			TempPinHash:  &tempPinHash,
			PinExpiresAt: &pinExpiry,
			IsActive:     true,
			Language:     "en",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		profile = model.AgentProfile{
			ID:             c.newID(),
			UserID:         user.ID,
			FullName:       name,
			EmployeeID:     fmt.Sprintf("AGT-%s-%03d", stateCode, seq+1+attempt),
			EmploymentType: input.EmploymentType,
			Status:         model.AgentTraining,
			StartDate:      startDate,
			CreatedBy:      input.CreatedBy,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = c.store.WithTx(ctx, func(tx *repository.Store) error {
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			if err := tx.CreateAgentProfile(ctx, profile); err != nil {
				return err
			}
			return tx.CreateZoneAssignment(ctx, model.AgentZoneAssignment{
				ID:            c.newID(),
				AgentID:       profile.ID,
				ZoneID:        zone.ID,
				AssignedBy:    input.CreatedBy,
				EffectiveFrom: startDate,
			})
		})
		if err == nil {
			break
		}
		if repository.IsUniqueViolation(err) && attempt < 2 {
			continue
		}
		return AgentCreated{}, wrap(err, "agent create failed")
	}

	c.metrics.IncRegistration(model.RoleAgent)
	c.notify(ctx, phone, fmt.Sprintf("Welcome to CropFresh, %s! Your temporary PIN is %s. It expires in 72 hours. Open the agent app to set your own PIN.", name, tempPin))
	c.logger.Debug("agent provisioned",
		zap.String("employee_id", profile.EmployeeID),
		zap.String("temp_pin", tempPin))
	c.logger.Info("agent created",
		zap.Int64("agent_id", profile.ID),
		zap.String("employee_id", profile.EmployeeID),
		zap.Int64("created_by", input.CreatedBy))
	return AgentCreated{Profile: profile, Phone: phone, Zone: zone}, nil
}

type FirstLoginResult struct {
	TemporaryToken    string
	ExpiresIn         int
	RequiresPinChange bool
}

// AgentFirstLogin trades a valid temporary PIN for a short-lived token
// whose only power is setting the permanent PIN.
func (c *Core) AgentFirstLogin(ctx context.Context, rawPhone, tempPin string) (FirstLoginResult, error) {
	phone, err := validate.Phone(rawPhone)
	if err != nil {
		return FirstLoginResult{}, invalidArgument(err.Error())
	}
	if err := crypto.ValidateTempPin(tempPin); err != nil {
		return FirstLoginResult{}, invalidArgument("temporary PIN must be 6 digits")
	}
	if locked, until, err := c.lockout.Status(ctx, phone); err != nil {
		return FirstLoginResult{}, wrap(err, "lockout lookup failed")
	} else if locked {
		return FirstLoginResult{}, accountLocked(until)
	}

	user, err := c.store.GetUserByPhone(ctx, phone)
	if err != nil {
		if repository.IsNoRows(err) {
			return FirstLoginResult{}, notFound(CodePhoneNotRegistered, "no account for this mobile number")
		}
		return FirstLoginResult{}, wrap(err, "user lookup failed")
	}
	if user.Role != model.RoleAgent {
		return FirstLoginResult{}, permissionDenied(CodeUnauthorized, "not a field agent account")
	}
	if !user.IsActive {
		return FirstLoginResult{}, permissionDenied(CodeUnauthorized, "account is disabled")
	}
	if user.TempPinHash == nil {
		return FirstLoginResult{}, failedPrecondition(CodeInvalidState, "no temporary PIN pending, use PIN login")
	}
	if user.PinExpiresAt != nil && !user.PinExpiresAt.After(time.Now().UTC()) {
		return FirstLoginResult{}, failedPrecondition(CodePinExpired, "temporary PIN has expired, ask your manager to re-issue it")
	}

	if crypto.CheckPin(*user.TempPinHash, tempPin) != nil {
		locked, remaining, until, err := c.lockout.RecordFailure(ctx, phone)
		if err != nil {
			return FirstLoginResult{}, wrap(err, "lockout update failed")
		}
		if locked {
			c.metrics.IncLockout(user.Role)
			return FirstLoginResult{}, accountLocked(until)
		}
		e := unauthenticated(CodeInvalidPIN, "incorrect temporary PIN")
		e.RemainingAttempts = &remaining
		return FirstLoginResult{}, e
	}
	if err := c.lockout.Clear(ctx, phone); err != nil {
		return FirstLoginResult{}, wrap(err, "lockout clear failed")
	}

	token, err := auth.NewAccessToken(c.cfg.JWTSecret, c.cfg.JWTIssuer, c.cfg.PinChangeTokenTTL, auth.Claims{
		UserID:   user.ID,
		UserType: user.Role,
		Purpose:  auth.PurposePinChange,
	})
	if err != nil {
		return FirstLoginResult{}, wrap(err, "token issue failed")
	}
	return FirstLoginResult{
		TemporaryToken:    token,
		ExpiresIn:         int(c.cfg.PinChangeTokenTTL.Seconds()),
		RequiresPinChange: true,
	}, nil
}

type AgentSetPinResult struct {
	Tokens           TokenPair
	User             UserSummary
	RequiresTraining bool
}

// AgentSetPin consumes the pin-change token, stores the permanent PIN
// and issues the real session.
func (c *Core) AgentSetPin(ctx context.Context, tempToken, newPin, confirmPin string, ip, userAgent *string) (AgentSetPinResult, error) {
	claims, err := auth.ParseToken(c.cfg.JWTSecret, tempToken)
	if err != nil {
		return AgentSetPinResult{}, failedPrecondition(CodeTokenExpired, "temporary token is invalid or expired, login again")
	}
	if claims.Purpose != auth.PurposePinChange {
		return AgentSetPinResult{}, permissionDenied(CodeUnauthorized, "token cannot be used to set a PIN")
	}
	if err := crypto.ValidatePin(newPin); err != nil {
		return AgentSetPinResult{}, pinError(err)
	}
	if newPin != confirmPin {
		return AgentSetPinResult{}, invalidArgument("PINs do not match")
	}

	user, err := c.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if repository.IsNoRows(err) {
			return AgentSetPinResult{}, notFound(CodeNotFound, "account not found")
		}
		return AgentSetPinResult{}, wrap(err, "user lookup failed")
	}
	if user.Role != model.RoleAgent {
		return AgentSetPinResult{}, permissionDenied(CodeUnauthorized, "not a field agent account")
	}

	hash, err := crypto.HashPin(newPin)
	if err != nil {
		return AgentSetPinResult{}, wrap(err, "pin hash failed")
	}
	if err := c.store.SetPin(ctx, user.ID, hash); err != nil {
		return AgentSetPinResult{}, wrap(err, "pin write failed")
	}

	profile, err := c.store.GetAgentByUserID(ctx, user.ID)
	if err != nil {
		return AgentSetPinResult{}, wrap(err, "profile lookup failed")
	}
	result, err := c.finishLogin(ctx, user, "", ip, userAgent)
	if err != nil {
		return AgentSetPinResult{}, err
	}
	return AgentSetPinResult{
		Tokens:           result.Tokens,
		User:             result.User,
		RequiresTraining: profile.Status == model.AgentTraining,
	}, nil
}

// CompleteAgentTraining flips TRAINING to ACTIVE. A second call is a
// no-op that reports the training as already done.
func (c *Core) CompleteAgentTraining(ctx context.Context, userID int64) (alreadyDone bool, err error) {
	profile, err := c.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return false, notFound(CodeNotFound, "agent profile not found")
		}
		return false, wrap(err, "profile lookup failed")
	}
	ok, err := c.store.CompleteAgentTraining(ctx, profile.ID, time.Now().UTC())
	if err != nil {
		return false, wrap(err, "training update failed")
	}
	if ok {
		c.logger.Info("agent training completed", zap.Int64("agent_id", profile.ID))
		return false, nil
	}
	// The guard missed: either already ACTIVE (idempotent success) or
	// deactivated meanwhile. Re-read to tell them apart.
	profile, err = c.store.GetAgentByID(ctx, profile.ID)
	if err != nil {
		return false, wrap(err, "profile lookup failed")
	}
	if profile.Status == model.AgentActive {
		return true, nil
	}
	return false, failedPrecondition(CodeInvalidState, "agent is not in training")
}

// DeactivateAgent retires an agent and disables their login.
func (c *Core) DeactivateAgent(ctx context.Context, agentID int64, reason string, byUser int64) error {
	if strings.TrimSpace(reason) == "" {
		return invalidArgument("reason is required")
	}
	profile, err := c.store.GetAgentByID(ctx, agentID)
	if err != nil {
		if repository.IsNoRows(err) {
			return notFound(CodeNotFound, "agent not found")
		}
		return wrap(err, "agent lookup failed")
	}
	now := time.Now().UTC()
	ok, err := c.store.DeactivateAgent(ctx, profile.ID, strings.TrimSpace(reason), now)
	if err != nil {
		return wrap(err, "deactivation failed")
	}
	if !ok {
		return failedPrecondition(CodeInvalidState, "agent is already inactive")
	}
	if err := c.store.SetUserActive(ctx, profile.UserID, false); err != nil {
		return wrap(err, "user disable failed")
	}
	// Live sessions die with the account, not at token expiry.
	if err := c.store.RevokeUserSessions(ctx, profile.UserID, now); err != nil {
		return wrap(err, "session revoke failed")
	}

	if user, err := c.store.GetUserByID(ctx, profile.UserID); err == nil {
		c.notify(ctx, user.Phone, "Your CropFresh field agent account has been deactivated. Contact your district manager for details.")
	}
	c.logger.Info("agent deactivated",
		zap.Int64("agent_id", profile.ID), zap.Int64("by_user", byUser))
	return nil
}

// ReassignAgentZone closes the current assignment and opens the new one
// in a single transaction.
func (c *Core) ReassignAgentZone(ctx context.Context, agentID, newZoneID, byUser int64, effectiveFrom time.Time) error {
	profile, err := c.store.GetAgentByID(ctx, agentID)
	if err != nil {
		if repository.IsNoRows(err) {
			return notFound(CodeNotFound, "agent not found")
		}
		return wrap(err, "agent lookup failed")
	}
	zone, err := c.store.GetZone(ctx, newZoneID)
	if err != nil {
		if repository.IsNoRows(err) {
			return notFound(CodeNotFound, "zone not found")
		}
		return wrap(err, "zone lookup failed")
	}
	if effectiveFrom.IsZero() {
		effectiveFrom = time.Now().UTC()
	}

	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.CloseCurrentZoneAssignment(ctx, profile.ID, effectiveFrom); err != nil {
			return err
		}
		return tx.CreateZoneAssignment(ctx, model.AgentZoneAssignment{
			ID:            c.newID(),
			AgentID:       profile.ID,
			ZoneID:        zone.ID,
			AssignedBy:    byUser,
			EffectiveFrom: effectiveFrom,
		})
	})
	if err != nil {
		return wrap(err, "zone reassignment failed")
	}
	c.logger.Info("agent reassigned",
		zap.Int64("agent_id", profile.ID),
		zap.Int64("zone_id", zone.ID),
		zap.Int64("by_user", byUser))
	return nil
}

// AgentListItem pairs a profile with its phone and current zone.
type AgentListItem struct {
	Profile model.AgentProfile
	Phone   string
	Zone    *model.Zone
}

type AgentPage struct {
	Items []AgentListItem
	Total int
	Page  int
	Limit int
}

// ListFieldAgents pages through agents with optional status, employment
// and zone filters.
func (c *Core) ListFieldAgents(ctx context.Context, filter repository.AgentFilter, page, limit int) (AgentPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}
	profiles, total, err := c.store.ListAgents(ctx, filter, page, limit)
	if err != nil {
		return AgentPage{}, wrap(err, "agent list failed")
	}

	items := make([]AgentListItem, 0, len(profiles))
	for _, profile := range profiles {
		item := AgentListItem{Profile: profile}
		if user, err := c.store.GetUserByID(ctx, profile.UserID); err == nil {
			item.Phone = user.Phone
		}
		if assignment, err := c.store.GetCurrentZoneAssignment(ctx, profile.ID); err == nil {
			if zone, err := c.store.GetZone(ctx, assignment.ZoneID); err == nil {
				item.Zone = &zone
			}
		}
		items = append(items, item)
	}
	return AgentPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// AgentDetails is the full admin projection of one agent.
type AgentDetails struct {
	Profile    model.AgentProfile
	Phone      string
	Zone       *model.Zone
	Assignment *model.AgentZoneAssignment
}

func (c *Core) GetAgentDetails(ctx context.Context, agentID int64) (AgentDetails, error) {
	profile, err := c.store.GetAgentByID(ctx, agentID)
	if err != nil {
		if repository.IsNoRows(err) {
			return AgentDetails{}, notFound(CodeNotFound, "agent not found")
		}
		return AgentDetails{}, wrap(err, "agent lookup failed")
	}
	details := AgentDetails{Profile: profile}
	if user, err := c.store.GetUserByID(ctx, profile.UserID); err == nil {
		details.Phone = user.Phone
	}
	if assignment, err := c.store.GetCurrentZoneAssignment(ctx, profile.ID); err == nil {
		details.Assignment = &assignment
		if zone, err := c.store.GetZone(ctx, assignment.ZoneID); err == nil {
			details.Zone = &zone
		}
	} else if !repository.IsNoRows(err) {
		return AgentDetails{}, wrap(err, "assignment lookup failed")
	}
	return details, nil
}

// AgentDashboard is what the agent app shows after training.
type AgentDashboard struct {
	Profile  model.AgentProfile
	Zone     *model.Zone
	ZonePath []model.Zone
	TeamSize int
}

// GetAgentDashboard returns the agent's own dashboard. Locked until
// training is completed.
func (c *Core) GetAgentDashboard(ctx context.Context, userID int64) (AgentDashboard, error) {
	profile, err := c.store.GetAgentByUserID(ctx, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return AgentDashboard{}, notFound(CodeNotFound, "agent profile not found")
		}
		return AgentDashboard{}, wrap(err, "profile lookup failed")
	}
	switch profile.Status {
	case model.AgentTraining:
		return AgentDashboard{}, failedPrecondition(CodeInvalidState, "complete training to unlock the dashboard")
	case model.AgentInactive:
		return AgentDashboard{}, permissionDenied(CodeUnauthorized, "agent account is inactive")
	}

	dashboard := AgentDashboard{Profile: profile}
	assignment, err := c.store.GetCurrentZoneAssignment(ctx, profile.ID)
	if err != nil {
		if repository.IsNoRows(err) {
			return dashboard, nil
		}
		return AgentDashboard{}, wrap(err, "assignment lookup failed")
	}
	zone, err := c.store.GetZone(ctx, assignment.ZoneID)
	if err != nil {
		return AgentDashboard{}, wrap(err, "zone lookup failed")
	}
	dashboard.Zone = &zone
	ancestors, err := c.store.GetZoneAncestors(ctx, zone.ID)
	if err != nil {
		return AgentDashboard{}, wrap(err, "zone chain lookup failed")
	}
	dashboard.ZonePath = ancestors
	teamSize, err := c.store.CountZoneAssignments(ctx, zone.ID)
	if err != nil {
		return AgentDashboard{}, wrap(err, "team size lookup failed")
	}
	dashboard.TeamSize = teamSize
	return dashboard, nil
}
