package repository

import (
	"context"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreateZone(ctx context.Context, zone model.Zone) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO zones (id, name, type, parent_id, district_manager_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, zone.ID, zone.Name, zone.Type, zone.ParentID, zone.DistrictManagerID, zone.CreatedAt)
	return err
}

func (s *Store) GetZone(ctx context.Context, zoneID int64) (model.Zone, error) {
	var zone model.Zone
	row := s.db.QueryRow(ctx, `
		SELECT id, name, type, parent_id, district_manager_id, created_at
		FROM zones
		WHERE id = $1
	`, zoneID)
	err := row.Scan(&zone.ID, &zone.Name, &zone.Type, &zone.ParentID, &zone.DistrictManagerID, &zone.CreatedAt)
	return zone, err
}

func scanZones(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.Zone, error) {
	var zones []model.Zone
	for rows.Next() {
		var zone model.Zone
		if err := rows.Scan(&zone.ID, &zone.Name, &zone.Type, &zone.ParentID, &zone.DistrictManagerID, &zone.CreatedAt); err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

func (s *Store) ListZonesByManager(ctx context.Context, managerID int64) ([]model.Zone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, type, parent_id, district_manager_id, created_at
		FROM zones
		WHERE district_manager_id = $1
		ORDER BY name ASC
	`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

func (s *Store) ListChildZones(ctx context.Context, parentID int64) ([]model.Zone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, type, parent_id, district_manager_id, created_at
		FROM zones
		WHERE parent_id = $1
		ORDER BY name ASC
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

func (s *Store) ListRootZones(ctx context.Context) ([]model.Zone, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, type, parent_id, district_manager_id, created_at
		FROM zones
		WHERE parent_id IS NULL
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

// GetZoneAncestors walks parent links from the zone to the root,
// nearest ancestor first.
func (s *Store) GetZoneAncestors(ctx context.Context, zoneID int64) ([]model.Zone, error) {
	rows, err := s.db.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT z.*, 0 AS depth FROM zones z WHERE z.id = $1
			UNION ALL
			SELECT p.*, chain.depth + 1 FROM zones p JOIN chain ON p.id = chain.parent_id
		)
		SELECT id, name, type, parent_id, district_manager_id, created_at
		FROM chain
		WHERE depth > 0
		ORDER BY depth ASC
	`, zoneID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanZones(rows)
}

// CountZoneAssignments counts currently assigned agents per zone.
func (s *Store) CountZoneAssignments(ctx context.Context, zoneID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM agent_zone_assignments
		WHERE zone_id = $1 AND effective_to IS NULL
	`, zoneID).Scan(&count)
	return count, err
}
