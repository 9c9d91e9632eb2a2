package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

const agentColumns = `id, user_id, full_name, employee_id, employment_type, status, start_date,
	created_by, training_completed_at, deactivated_at, deactivation_reason, created_at, updated_at`

func scanAgent(row interface{ Scan(dest ...any) error }) (model.AgentProfile, error) {
	var p model.AgentProfile
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.EmployeeID,
		&p.EmploymentType,
		&p.Status,
		&p.StartDate,
		&p.CreatedBy,
		&p.TrainingCompletedAt,
		&p.DeactivatedAt,
		&p.DeactivationReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (s *Store) CreateAgentProfile(ctx context.Context, profile model.AgentProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_profiles (id, user_id, full_name, employee_id, employment_type, status,
			start_date, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, profile.ID, profile.UserID, profile.FullName, profile.EmployeeID, profile.EmploymentType,
		profile.Status, profile.StartDate, profile.CreatedBy, profile.CreatedAt)
	return err
}

func (s *Store) GetAgentByUserID(ctx context.Context, userID int64) (model.AgentProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agent_profiles
		WHERE user_id = $1
	`, userID)
	return scanAgent(row)
}

func (s *Store) GetAgentByID(ctx context.Context, agentID int64) (model.AgentProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agent_profiles
		WHERE id = $1
	`, agentID)
	return scanAgent(row)
}

// CountAgentsByState feeds employee id generation (AGT-XX-NNN).
func (s *Store) CountAgentsByState(ctx context.Context, stateCode string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM agent_profiles WHERE employee_id LIKE 'AGT-' || $1 || '-%'
	`, stateCode).Scan(&count)
	return count, err
}

// SetAgentStatus transitions the lifecycle state when the row still
// holds the expected one. Returns false when the guard missed.
func (s *Store) SetAgentStatus(ctx context.Context, agentID int64, from, to string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_profiles SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4
	`, to, at, agentID, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteAgentTraining(ctx context.Context, agentID int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_profiles
		SET status = $1, training_completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`, model.AgentActive, at, agentID, model.AgentTraining)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeactivateAgent(ctx context.Context, agentID int64, reason string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_profiles
		SET status = $1, deactivated_at = $2, deactivation_reason = $3, updated_at = $2
		WHERE id = $4 AND status <> $1
	`, model.AgentInactive, at, reason, agentID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AgentFilter narrows ListAgents. Zero values mean no constraint.
type AgentFilter struct {
	Status         string
	EmploymentType string
	ZoneID         int64
}

func (s *Store) ListAgents(ctx context.Context, filter AgentFilter, page, limit int) ([]model.AgentProfile, int, error) {
	var zoneID *int64
	if filter.ZoneID != 0 {
		zoneID = &filter.ZoneID
	}
	var status, employment *string
	if filter.Status != "" {
		status = &filter.Status
	}
	if filter.EmploymentType != "" {
		employment = &filter.EmploymentType
	}

	var total int
	err := s.db.QueryRow(ctx, `
		SELECT count(*)
		FROM agent_profiles a
		WHERE ($1::text IS NULL OR a.status = $1)
		  AND ($2::text IS NULL OR a.employment_type = $2)
		  AND ($3::bigint IS NULL OR EXISTS (
			SELECT 1 FROM agent_zone_assignments z
			WHERE z.agent_id = a.id AND z.zone_id = $3 AND z.effective_to IS NULL))
	`, status, employment, zoneID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agent_profiles a
		WHERE ($1::text IS NULL OR a.status = $1)
		  AND ($2::text IS NULL OR a.employment_type = $2)
		  AND ($3::bigint IS NULL OR EXISTS (
			SELECT 1 FROM agent_zone_assignments z
			WHERE z.agent_id = a.id AND z.zone_id = $3 AND z.effective_to IS NULL))
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT $4 OFFSET $5
	`, status, employment, zoneID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var agents []model.AgentProfile
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, 0, err
		}
		agents = append(agents, agent)
	}
	return agents, total, rows.Err()
}

func (s *Store) CreateZoneAssignment(ctx context.Context, assignment model.AgentZoneAssignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_zone_assignments (id, agent_id, zone_id, assigned_by, effective_from, effective_to)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, assignment.ID, assignment.AgentID, assignment.ZoneID, assignment.AssignedBy,
		assignment.EffectiveFrom, assignment.EffectiveTo)
	return err
}

func (s *Store) GetCurrentZoneAssignment(ctx context.Context, agentID int64) (model.AgentZoneAssignment, error) {
	var a model.AgentZoneAssignment
	row := s.db.QueryRow(ctx, `
		SELECT id, agent_id, zone_id, assigned_by, effective_from, effective_to
		FROM agent_zone_assignments
		WHERE agent_id = $1 AND effective_to IS NULL
	`, agentID)
	err := row.Scan(&a.ID, &a.AgentID, &a.ZoneID, &a.AssignedBy, &a.EffectiveFrom, &a.EffectiveTo)
	return a, err
}

// CloseCurrentZoneAssignment ends the open assignment so exactly one
// row per agent stays open at any instant.
func (s *Store) CloseCurrentZoneAssignment(ctx context.Context, agentID int64, effectiveTo time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE agent_zone_assignments SET effective_to = $1
		WHERE agent_id = $2 AND effective_to IS NULL
	`, effectiveTo, agentID)
	return err
}
