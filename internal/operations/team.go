package operations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cropfresh/cropfresh-service-auth/internal/crypto"
	"github.com/cropfresh/cropfresh-service-auth/internal/model"
	"github.com/cropfresh/cropfresh-service-auth/internal/repository"
	"github.com/cropfresh/cropfresh-service-auth/internal/validate"
)

var teamRoles = []string{
	model.TeamAdmin,
	model.TeamProcurementManager,
	model.TeamFinanceUser,
	model.TeamReceivingStaff,
}

var errAlreadyAccepted = errors.New("invitation already accepted")

// requireActiveAdmin asserts the caller holds an ACTIVE ADMIN
// membership in the organization.
func (c *Core) requireActiveAdmin(ctx context.Context, orgID, userID int64) (model.TeamMembership, error) {
	m, err := c.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.TeamMembership{}, permissionDenied(CodeUnauthorized, "admin access required")
		}
		return model.TeamMembership{}, wrap(err, "membership lookup failed")
	}
	if m.Role != model.TeamAdmin || m.Status != model.MembershipActive {
		return model.TeamMembership{}, permissionDenied(CodeUnauthorized, "admin access required")
	}
	return m, nil
}

type InviteInput struct {
	OrgID     int64
	Email     string
	Phone     string
	Role      string
	InvitedBy int64
}

type InvitationResult struct {
	InvitationID int64
	ExpiresAt    time.Time
	// RawToken leaves the service only through the notification
	// channel, never through the API response.
	RawToken string
}

// InviteTeamMember creates a 24-hour invitation for a new org member.
func (c *Core) InviteTeamMember(ctx context.Context, input InviteInput) (InvitationResult, error) {
	if _, err := c.requireActiveAdmin(ctx, input.OrgID, input.InvitedBy); err != nil {
		return InvitationResult{}, err
	}
	if !inSet(input.Role, teamRoles) {
		return InvitationResult{}, invalidArgument("role is not recognized")
	}
	email, err := validate.Email(input.Email)
	if err != nil {
		return InvitationResult{}, invalidArgument(err.Error())
	}
	var phone *string
	if input.Phone != "" {
		normalized, err := validate.Phone(input.Phone)
		if err != nil {
			return InvitationResult{}, invalidArgument(err.Error())
		}
		phone = &normalized
	}

	if user, err := c.store.GetUserByEmail(ctx, email); err == nil {
		if _, err := c.store.GetMembership(ctx, input.OrgID, user.ID); err == nil {
			return InvitationResult{}, alreadyExists(CodeDuplicateEmail, "this email already belongs to a team member")
		} else if !repository.IsNoRows(err) {
			return InvitationResult{}, wrap(err, "membership lookup failed")
		}
	} else if !repository.IsNoRows(err) {
		return InvitationResult{}, wrap(err, "user lookup failed")
	}
	now := time.Now().UTC()
	if pending, err := c.store.PendingInvitationExists(ctx, input.OrgID, email, now); err != nil {
		return InvitationResult{}, wrap(err, "invitation lookup failed")
	} else if pending {
		return InvitationResult{}, alreadyExists(CodeDuplicateEmail, "an invitation for this email is already pending")
	}

	rawToken, err := crypto.NewRawToken()
	if err != nil {
		return InvitationResult{}, wrap(err, "token generation failed")
	}
	tokenHash, err := crypto.HashPassword(rawToken)
	if err != nil {
		return InvitationResult{}, wrap(err, "token hash failed")
	}
	invitation := model.TeamInvitation{
		ID:         c.newID(),
		BuyerOrgID: input.OrgID,
		Email:      email,
		Phone:      phone,
		Role:       input.Role,
		TokenHash:  tokenHash,
		LookupHash: crypto.HashToken(rawToken),
		InvitedBy:  input.InvitedBy,
		ExpiresAt:  now.Add(24 * time.Hour),
		CreatedAt:  now,
	}
	if err := c.store.CreateInvitation(ctx, invitation); err != nil {
		return InvitationResult{}, wrap(err, "invitation store failed")
	}

	orgName := ""
	if org, err := c.store.GetBuyerOrg(ctx, input.OrgID); err == nil {
		orgName = org.BusinessName
	}
	if phone != nil {
		c.notify(ctx, *phone, fmt.Sprintf("You are invited to join %s on CropFresh as %s. Use code %s within 24 hours to accept.", orgName, input.Role, rawToken))
	}
	c.logger.Info("team invitation created",
		zap.Int64("org_id", input.OrgID),
		zap.Int64("invitation_id", invitation.ID),
		zap.String("role", input.Role))
	return InvitationResult{InvitationID: invitation.ID, ExpiresAt: invitation.ExpiresAt, RawToken: rawToken}, nil
}

// resolveInvitation finds and verifies a live invitation by raw token.
func (c *Core) resolveInvitation(ctx context.Context, rawToken string) (model.TeamInvitation, error) {
	if rawToken == "" {
		return model.TeamInvitation{}, invalidArgument("token is required")
	}
	invitation, err := c.store.GetInvitationByLookupHash(ctx, crypto.HashToken(rawToken))
	if err != nil {
		if repository.IsNoRows(err) {
			return model.TeamInvitation{}, failedPrecondition(CodeInvitationExpired, "invitation is invalid or expired")
		}
		return model.TeamInvitation{}, wrap(err, "invitation lookup failed")
	}
	if crypto.CheckPassword(invitation.TokenHash, rawToken) != nil {
		return model.TeamInvitation{}, failedPrecondition(CodeInvitationExpired, "invitation is invalid or expired")
	}
	if invitation.Accepted {
		return model.TeamInvitation{}, failedPrecondition(CodeAlreadyAccepted, "invitation was already accepted")
	}
	if !invitation.ExpiresAt.After(time.Now().UTC()) {
		return model.TeamInvitation{}, failedPrecondition(CodeInvitationExpired, "invitation is invalid or expired")
	}
	return invitation, nil
}

type InvitationPreview struct {
	Email        string
	Role         string
	OrgID        int64
	BusinessName string
	ExpiresAt    time.Time
}

// ValidateInvitationToken lets the signup form preview the invitation
// before asking for a password.
func (c *Core) ValidateInvitationToken(ctx context.Context, rawToken string) (InvitationPreview, error) {
	invitation, err := c.resolveInvitation(ctx, rawToken)
	if err != nil {
		return InvitationPreview{}, err
	}
	preview := InvitationPreview{
		Email:     invitation.Email,
		Role:      invitation.Role,
		OrgID:     invitation.BuyerOrgID,
		ExpiresAt: invitation.ExpiresAt,
	}
	if org, err := c.store.GetBuyerOrg(ctx, invitation.BuyerOrgID); err == nil {
		preview.BusinessName = org.BusinessName
	}
	return preview, nil
}

// AcceptTeamInvitation creates the member's account, profile, and
// membership in one transaction and signs them in.
func (c *Core) AcceptTeamInvitation(ctx context.Context, rawToken, fullName, password string, ip, userAgent *string) (LoginResult, error) {
	invitation, err := c.resolveInvitation(ctx, rawToken)
	if err != nil {
		return LoginResult{}, err
	}
	name, err := validate.Name(fullName)
	if err != nil {
		return LoginResult{}, invalidArgument(err.Error())
	}
	if report := crypto.ValidatePassword(password); !report.Valid {
		e := invalidArgument("password does not meet the policy")
		e.Code = CodeWeakPassword
		e.Rules = report.Failed
		return LoginResult{}, e
	}
	if exists, err := c.store.EmailExists(ctx, invitation.Email); err != nil {
		return LoginResult{}, wrap(err, "email lookup failed")
	} else if exists {
		return LoginResult{}, alreadyExists(CodeEmailExists, "an account already exists for this email")
	}
	org, err := c.store.GetBuyerOrg(ctx, invitation.BuyerOrgID)
	if err != nil {
		return LoginResult{}, wrap(err, "organization lookup failed")
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return LoginResult{}, wrap(err, "password hash failed")
	}
	now := time.Now().UTC()
	phone := ""
	if invitation.Phone != nil {
		phone = *invitation.Phone
	}
	user := model.User{
		ID:           c.newID(),
		Phone:        phone,
		Email:        &invitation.Email,
		Role:         model.RoleBuyer,
		PasswordHash: &hash,
		IsActive:     true,
		Language:     "en",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// The member carries their own profile row so the roster and the
	// name search see them; the org stays the founder's row.
	profile := model.BuyerProfile{
		ID:           c.newID(),
		UserID:       user.ID,
		FullName:     name,
		BusinessName: org.BusinessName,
		BusinessType: org.BusinessType,
		CreatedAt:    now,
	}
	membership := model.TeamMembership{
		ID:         c.newID(),
		BuyerOrgID: invitation.BuyerOrgID,
		UserID:     user.ID,
		Role:       invitation.Role,
		Status:     model.MembershipActive,
		InvitedBy:  &invitation.InvitedBy,
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		ok, err := tx.MarkInvitationAccepted(ctx, invitation.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadyAccepted
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		if err := tx.CreateBuyerProfile(ctx, profile); err != nil {
			return err
		}
		return tx.CreateMembership(ctx, membership)
	})
	if errors.Is(err, errAlreadyAccepted) {
		return LoginResult{}, failedPrecondition(CodeAlreadyAccepted, "invitation was already accepted")
	}
	if err != nil {
		return LoginResult{}, wrap(err, "acceptance commit failed")
	}

	if err := c.store.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, wrap(err, "last-login update failed")
	}
	orgID := invitation.BuyerOrgID
	tokens, err := c.issueSession(ctx, user, "", &orgID, ip, userAgent, false)
	if err != nil {
		return LoginResult{}, wrap(err, "session issue failed")
	}
	c.logger.Info("invitation accepted",
		zap.Int64("org_id", invitation.BuyerOrgID),
		zap.Int64("user_id", user.ID),
		zap.String("role", invitation.Role))
	return LoginResult{Tokens: tokens, User: summarize(user, name)}, nil
}

type TeamPage struct {
	Items []repository.TeamMemberView
	Total int
	Page  int
	Limit int
}

// ListTeamMembers pages the org roster. Any active member may read it.
func (c *Core) ListTeamMembers(ctx context.Context, orgID, callerID int64, filter repository.MemberFilter, page, limit int) (TeamPage, error) {
	m, err := c.store.GetMembership(ctx, orgID, callerID)
	if err != nil {
		if repository.IsNoRows(err) {
			return TeamPage{}, permissionDenied(CodeUnauthorized, "not a member of this organization")
		}
		return TeamPage{}, wrap(err, "membership lookup failed")
	}
	if m.Status != model.MembershipActive {
		return TeamPage{}, permissionDenied(CodeUnauthorized, "not a member of this organization")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 50 {
		limit = 50
	}
	items, total, err := c.store.ListTeamMembers(ctx, orgID, filter, page, limit)
	if err != nil {
		return TeamPage{}, wrap(err, "member list failed")
	}
	return TeamPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// targetMembership loads a membership and pins it to the org.
func (c *Core) targetMembership(ctx context.Context, orgID, membershipID int64) (model.TeamMembership, error) {
	m, err := c.store.GetMembershipByID(ctx, membershipID)
	if err != nil {
		if repository.IsNoRows(err) {
			return model.TeamMembership{}, notFound(CodeNotFound, "team member not found")
		}
		return model.TeamMembership{}, wrap(err, "membership lookup failed")
	}
	if m.BuyerOrgID != orgID {
		return model.TeamMembership{}, notFound(CodeNotFound, "team member not found")
	}
	return m, nil
}

// UpdateTeamMemberRole changes a member's role and records the change.
// Demoting the last active admin is refused.
func (c *Core) UpdateTeamMemberRole(ctx context.Context, orgID, membershipID int64, newRole string, changedBy int64, reason *string) error {
	if !inSet(newRole, teamRoles) {
		return invalidArgument("role is not recognized")
	}
	if _, err := c.requireActiveAdmin(ctx, orgID, changedBy); err != nil {
		return err
	}
	target, err := c.targetMembership(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if target.Role == newRole {
		return nil
	}

	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if target.Role == model.TeamAdmin && target.Status == model.MembershipActive {
			admins, err := tx.CountActiveAdminsForUpdate(ctx, orgID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return failedPrecondition(CodeLastAdmin, "cannot remove the organization's last admin")
			}
		}
		if err := tx.UpdateMembershipRole(ctx, target.ID, newRole); err != nil {
			return err
		}
		return tx.CreateRoleChange(ctx, model.TeamRoleChange{
			ID:           c.newID(),
			MembershipID: target.ID,
			OldRole:      target.Role,
			NewRole:      newRole,
			ChangedBy:    changedBy,
			Reason:       reason,
			ChangedAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		return wrap(err, "role change failed")
	}
	c.logger.Info("member role changed",
		zap.Int64("org_id", orgID),
		zap.Int64("membership_id", target.ID),
		zap.String("old_role", target.Role),
		zap.String("new_role", newRole))
	return nil
}

// DeactivateTeamMember suspends a membership. Self-service and
// last-admin removals are refused.
func (c *Core) DeactivateTeamMember(ctx context.Context, orgID, membershipID, changedBy int64) error {
	caller, err := c.requireActiveAdmin(ctx, orgID, changedBy)
	if err != nil {
		return err
	}
	target, err := c.targetMembership(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if target.UserID == caller.UserID {
		return selfAction("you cannot deactivate yourself")
	}
	if target.Status == model.MembershipInactive {
		return nil
	}

	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if target.Role == model.TeamAdmin && target.Status == model.MembershipActive {
			admins, err := tx.CountActiveAdminsForUpdate(ctx, orgID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return failedPrecondition(CodeLastAdmin, "cannot remove the organization's last admin")
			}
		}
		return tx.SetMembershipStatus(ctx, target.ID, model.MembershipInactive)
	})
	if err != nil {
		return wrap(err, "deactivation failed")
	}
	c.logger.Info("member deactivated",
		zap.Int64("org_id", orgID), zap.Int64("membership_id", target.ID))
	return nil
}

// DeleteTeamMember removes a membership outright, under the same
// guards as deactivation.
func (c *Core) DeleteTeamMember(ctx context.Context, orgID, membershipID, changedBy int64) error {
	caller, err := c.requireActiveAdmin(ctx, orgID, changedBy)
	if err != nil {
		return err
	}
	target, err := c.targetMembership(ctx, orgID, membershipID)
	if err != nil {
		return err
	}
	if target.UserID == caller.UserID {
		return selfAction("you cannot remove yourself")
	}

	err = c.store.WithTx(ctx, func(tx *repository.Store) error {
		if target.Role == model.TeamAdmin && target.Status == model.MembershipActive {
			admins, err := tx.CountActiveAdminsForUpdate(ctx, orgID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return failedPrecondition(CodeLastAdmin, "cannot remove the organization's last admin")
			}
		}
		return tx.DeleteMembership(ctx, target.ID)
	})
	if err != nil {
		return wrap(err, "removal failed")
	}
	c.logger.Info("member removed",
		zap.Int64("org_id", orgID), zap.Int64("membership_id", target.ID))
	return nil
}

// ResendTeamInvitation rotates the token and restarts the 24h window.
func (c *Core) ResendTeamInvitation(ctx context.Context, orgID, invitationID, byUser int64) (InvitationResult, error) {
	if _, err := c.requireActiveAdmin(ctx, orgID, byUser); err != nil {
		return InvitationResult{}, err
	}
	invitation, err := c.store.GetInvitationByID(ctx, invitationID)
	if err != nil {
		if repository.IsNoRows(err) {
			return InvitationResult{}, notFound(CodeNotFound, "invitation not found")
		}
		return InvitationResult{}, wrap(err, "invitation lookup failed")
	}
	if invitation.BuyerOrgID != orgID {
		return InvitationResult{}, notFound(CodeNotFound, "invitation not found")
	}
	if invitation.Accepted {
		return InvitationResult{}, failedPrecondition(CodeAlreadyAccepted, "invitation was already accepted")
	}

	rawToken, err := crypto.NewRawToken()
	if err != nil {
		return InvitationResult{}, wrap(err, "token generation failed")
	}
	tokenHash, err := crypto.HashPassword(rawToken)
	if err != nil {
		return InvitationResult{}, wrap(err, "token hash failed")
	}
	expiresAt := time.Now().UTC().Add(24 * time.Hour)
	if err := c.store.ResetInvitationToken(ctx, invitation.ID, tokenHash, crypto.HashToken(rawToken), expiresAt); err != nil {
		return InvitationResult{}, wrap(err, "invitation update failed")
	}

	if invitation.Phone != nil {
		orgName := ""
		if org, err := c.store.GetBuyerOrg(ctx, orgID); err == nil {
			orgName = org.BusinessName
		}
		c.notify(ctx, *invitation.Phone, fmt.Sprintf("Reminder: join %s on CropFresh as %s. Use code %s within 24 hours.", orgName, invitation.Role, rawToken))
	}
	c.logger.Info("invitation resent",
		zap.Int64("org_id", orgID), zap.Int64("invitation_id", invitation.ID))
	return InvitationResult{InvitationID: invitation.ID, ExpiresAt: expiresAt, RawToken: rawToken}, nil
}
