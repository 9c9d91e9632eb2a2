package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreateMembership(ctx context.Context, m model.TeamMembership) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO team_memberships (id, buyer_org_id, user_id, role, status, invited_by, accepted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, m.ID, m.BuyerOrgID, m.UserID, m.Role, m.Status, m.InvitedBy, m.AcceptedAt, m.CreatedAt)
	return err
}

const membershipColumns = `id, buyer_org_id, user_id, role, status, invited_by, accepted_at, created_at, updated_at`

func scanMembership(row interface{ Scan(dest ...any) error }) (model.TeamMembership, error) {
	var m model.TeamMembership
	err := row.Scan(&m.ID, &m.BuyerOrgID, &m.UserID, &m.Role, &m.Status, &m.InvitedBy,
		&m.AcceptedAt, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *Store) GetMembership(ctx context.Context, orgID, userID int64) (model.TeamMembership, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM team_memberships
		WHERE buyer_org_id = $1 AND user_id = $2
	`, orgID, userID)
	return scanMembership(row)
}

func (s *Store) GetMembershipByID(ctx context.Context, membershipID int64) (model.TeamMembership, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM team_memberships
		WHERE id = $1
	`, membershipID)
	return scanMembership(row)
}

// GetActiveMembershipForUser resolves the organization a buyer acts
// in. The oldest active membership wins if several exist.
func (s *Store) GetActiveMembershipForUser(ctx context.Context, userID int64) (model.TeamMembership, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+membershipColumns+`
		FROM team_memberships
		WHERE user_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, userID, model.MembershipActive)
	return scanMembership(row)
}

func (s *Store) UpdateMembershipRole(ctx context.Context, membershipID int64, role string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE team_memberships SET role = $1, updated_at = now() WHERE id = $2
	`, role, membershipID)
	return err
}

func (s *Store) SetMembershipStatus(ctx context.Context, membershipID int64, status string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE team_memberships SET status = $1, updated_at = now() WHERE id = $2
	`, status, membershipID)
	return err
}

func (s *Store) DeleteMembership(ctx context.Context, membershipID int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM team_memberships WHERE id = $1`, membershipID)
	return err
}

// CountActiveAdminsForUpdate locks the org's active admin rows for the
// rest of the transaction and returns their count. Callers run the
// last-admin check against this count before mutating, so two racing
// mutations serialize on the row locks.
func (s *Store) CountActiveAdminsForUpdate(ctx context.Context, orgID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT id FROM team_memberships
			WHERE buyer_org_id = $1 AND role = $2 AND status = $3
			FOR UPDATE
		) locked
	`, orgID, model.TeamAdmin, model.MembershipActive).Scan(&count)
	return count, err
}

// TeamMemberView joins a membership with its user for listing.
type TeamMemberView struct {
	Membership model.TeamMembership
	FullName   string
	Email      string
	Phone      string
}

// MemberFilter narrows ListTeamMembers. Zero values mean no constraint.
type MemberFilter struct {
	Role   string
	Status string
	Search string
}

func (s *Store) ListTeamMembers(ctx context.Context, orgID int64, filter MemberFilter, page, limit int) ([]TeamMemberView, int, error) {
	var role, status, search *string
	if filter.Role != "" {
		role = &filter.Role
	}
	if filter.Status != "" {
		status = &filter.Status
	}
	if filter.Search != "" {
		search = &filter.Search
	}
	where := `
		FROM team_memberships m
		JOIN users u ON u.id = m.user_id
		LEFT JOIN buyer_profiles b ON b.user_id = m.user_id
		WHERE m.buyer_org_id = $1
		  AND ($2::text IS NULL OR m.role = $2)
		  AND ($3::text IS NULL OR m.status = $3)
		  AND ($4::text IS NULL OR b.full_name ILIKE '%' || $4 || '%' OR u.email ILIKE '%' || $4 || '%')
	`
	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*)`+where, orgID, role, status, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.buyer_org_id, m.user_id, m.role, m.status, m.invited_by, m.accepted_at,
			m.created_at, m.updated_at,
			COALESCE(b.full_name, ''), COALESCE(u.email, ''), u.phone
	`+where+`
		ORDER BY m.created_at ASC, m.id ASC
		LIMIT $5 OFFSET $6
	`, orgID, role, status, search, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var members []TeamMemberView
	for rows.Next() {
		var v TeamMemberView
		if err := rows.Scan(&v.Membership.ID, &v.Membership.BuyerOrgID, &v.Membership.UserID,
			&v.Membership.Role, &v.Membership.Status, &v.Membership.InvitedBy, &v.Membership.AcceptedAt,
			&v.Membership.CreatedAt, &v.Membership.UpdatedAt, &v.FullName, &v.Email, &v.Phone); err != nil {
			return nil, 0, err
		}
		members = append(members, v)
	}
	return members, total, rows.Err()
}

func (s *Store) CreateInvitation(ctx context.Context, inv model.TeamInvitation) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO team_invitations (id, buyer_org_id, email, phone, role, token_hash, lookup_hash,
			invited_by, expires_at, accepted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, $10)
	`, inv.ID, inv.BuyerOrgID, inv.Email, inv.Phone, inv.Role, inv.TokenHash, inv.LookupHash,
		inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt)
	return err
}

const invitationColumns = `id, buyer_org_id, email, phone, role, token_hash, lookup_hash, invited_by,
	expires_at, accepted, accepted_at, created_at`

func scanInvitation(row interface{ Scan(dest ...any) error }) (model.TeamInvitation, error) {
	var inv model.TeamInvitation
	err := row.Scan(&inv.ID, &inv.BuyerOrgID, &inv.Email, &inv.Phone, &inv.Role, &inv.TokenHash,
		&inv.LookupHash, &inv.InvitedBy, &inv.ExpiresAt, &inv.Accepted, &inv.AcceptedAt, &inv.CreatedAt)
	return inv, err
}

// GetInvitationByLookupHash resolves by the indexed SHA-256 column; the
// bcrypt hash stays the authoritative verifier.
func (s *Store) GetInvitationByLookupHash(ctx context.Context, lookupHash string) (model.TeamInvitation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM team_invitations
		WHERE lookup_hash = $1
	`, lookupHash)
	return scanInvitation(row)
}

func (s *Store) GetInvitationByID(ctx context.Context, invitationID int64) (model.TeamInvitation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+invitationColumns+`
		FROM team_invitations
		WHERE id = $1
	`, invitationID)
	return scanInvitation(row)
}

// PendingInvitationExists reports an unaccepted, unexpired invitation
// for the address in the org.
func (s *Store) PendingInvitationExists(ctx context.Context, orgID int64, email string, now time.Time) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM team_invitations
		WHERE buyer_org_id = $1 AND email = $2 AND accepted = false AND expires_at > $3
	`, orgID, email, now).Scan(&one)
	if err == nil {
		return true, nil
	}
	if IsNoRows(err) {
		return false, nil
	}
	return false, err
}

// MarkInvitationAccepted consumes the invitation; the accepted guard
// makes double acceptance lose the race.
func (s *Store) MarkInvitationAccepted(ctx context.Context, invitationID int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE team_invitations SET accepted = true, accepted_at = $1 WHERE id = $2 AND accepted = false
	`, at, invitationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResetInvitationToken swaps in a fresh token pair and extends expiry.
func (s *Store) ResetInvitationToken(ctx context.Context, invitationID int64, tokenHash, lookupHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE team_invitations
		SET token_hash = $1, lookup_hash = $2, expires_at = $3, accepted = false, accepted_at = NULL
		WHERE id = $4
	`, tokenHash, lookupHash, expiresAt, invitationID)
	return err
}

func (s *Store) CreateRoleChange(ctx context.Context, change model.TeamRoleChange) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO team_role_changes (id, membership_id, old_role, new_role, changed_by, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, change.ID, change.MembershipID, change.OldRole, change.NewRole, change.ChangedBy,
		change.Reason, change.ChangedAt)
	return err
}

func (s *Store) ListRoleChanges(ctx context.Context, membershipID int64) ([]model.TeamRoleChange, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, membership_id, old_role, new_role, changed_by, reason, changed_at
		FROM team_role_changes
		WHERE membership_id = $1
		ORDER BY changed_at ASC, id ASC
	`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []model.TeamRoleChange
	for rows.Next() {
		var change model.TeamRoleChange
		if err := rows.Scan(&change.ID, &change.MembershipID, &change.OldRole, &change.NewRole,
			&change.ChangedBy, &change.Reason, &change.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}

func (s *Store) PurgeInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM team_invitations WHERE accepted = false AND expires_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
