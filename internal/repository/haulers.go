package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

const haulerColumns = `id, user_id, full_name, district, vehicle_type, vehicle_number, payload_capacity_kg,
	dl_number, dl_expiry, current_step, verification_status, registration_token,
	verified_by, verified_at, rejection_reason, created_at, updated_at`

func scanHauler(row interface{ Scan(dest ...any) error }) (model.HaulerProfile, error) {
	var p model.HaulerProfile
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.FullName,
		&p.District,
		&p.VehicleType,
		&p.VehicleNumber,
		&p.PayloadCapacityKg,
		&p.DLNumber,
		&p.DLExpiry,
		&p.CurrentStep,
		&p.VerificationStatus,
		&p.RegistrationToken,
		&p.VerifiedBy,
		&p.VerifiedAt,
		&p.RejectionReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func (s *Store) CreateHaulerProfile(ctx context.Context, profile model.HaulerProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hauler_profiles (id, user_id, full_name, district, vehicle_type, vehicle_number,
			payload_capacity_kg, current_step, verification_status, registration_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, profile.ID, profile.UserID, profile.FullName, profile.District, profile.VehicleType,
		profile.VehicleNumber, profile.PayloadCapacityKg, profile.CurrentStep,
		profile.VerificationStatus, profile.RegistrationToken, profile.CreatedAt)
	return err
}

func (s *Store) GetHaulerByToken(ctx context.Context, token string) (model.HaulerProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+haulerColumns+`
		FROM hauler_profiles
		WHERE registration_token = $1
	`, token)
	return scanHauler(row)
}

func (s *Store) GetHaulerByUserID(ctx context.Context, userID int64) (model.HaulerProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+haulerColumns+`
		FROM hauler_profiles
		WHERE user_id = $1
	`, userID)
	return scanHauler(row)
}

func (s *Store) GetHaulerByID(ctx context.Context, haulerID int64) (model.HaulerProfile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+haulerColumns+`
		FROM hauler_profiles
		WHERE id = $1
	`, haulerID)
	return scanHauler(row)
}

// VehicleNumberExists checks uniqueness among committed rows only;
// step-1 stubs hold placeholder numbers and are excluded.
func (s *Store) VehicleNumberExists(ctx context.Context, vehicleNumber string, excludeHaulerID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `
		SELECT 1 FROM hauler_profiles
		WHERE vehicle_number = $1 AND current_step > 1 AND id <> $2
	`, vehicleNumber, excludeHaulerID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if IsNoRows(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) SetHaulerVehicle(ctx context.Context, haulerID int64, vehicleType, vehicleNumber string, capacityKg float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE hauler_profiles
		SET vehicle_type = $1, vehicle_number = $2, payload_capacity_kg = $3, current_step = 2, updated_at = now()
		WHERE id = $4
	`, vehicleType, vehicleNumber, capacityKg, haulerID)
	return err
}

func (s *Store) SetHaulerLicense(ctx context.Context, haulerID int64, dlNumber string, dlExpiry time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE hauler_profiles
		SET dl_number = $1, dl_expiry = $2, current_step = 3, updated_at = now()
		WHERE id = $3
	`, dlNumber, dlExpiry, haulerID)
	return err
}

func (s *Store) SetHaulerStep(ctx context.Context, haulerID int64, step int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE hauler_profiles SET current_step = $1, updated_at = now() WHERE id = $2
	`, step, haulerID)
	return err
}

// SubmitHauler moves a completed registration into the review queue and
// consumes the registration token. The step guard keeps a half-finished
// registration out of the queue.
func (s *Store) SubmitHauler(ctx context.Context, haulerID int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE hauler_profiles
		SET verification_status = $1, registration_token = NULL, updated_at = now()
		WHERE id = $2 AND current_step = 4 AND verification_status = $3
	`, model.HaulerPendingVerification, haulerID, model.HaulerInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetHaulerVerification applies an approve or reject decision. The
// status guard makes racing decisions serialize: the second one matches
// zero rows.
func (s *Store) SetHaulerVerification(ctx context.Context, haulerID int64, status string, verifiedBy int64, at time.Time, reason *string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE hauler_profiles
		SET verification_status = $1, verified_by = $2, verified_at = $3, rejection_reason = $4, updated_at = $3
		WHERE id = $5 AND verification_status = $6
	`, status, verifiedBy, at, reason, haulerID, model.HaulerPendingVerification)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListPendingHaulers returns one page of the review queue, oldest
// first, with the total count for pagination.
func (s *Store) ListPendingHaulers(ctx context.Context, district *string, page, limit int) ([]model.HaulerProfile, int, error) {
	var total int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM hauler_profiles
		WHERE verification_status = $1 AND current_step = 4 AND ($2::text IS NULL OR district = $2)
	`, model.HaulerPendingVerification, district).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+haulerColumns+`
		FROM hauler_profiles
		WHERE verification_status = $1 AND current_step = 4 AND ($2::text IS NULL OR district = $2)
		ORDER BY updated_at ASC, id ASC
		LIMIT $3 OFFSET $4
	`, model.HaulerPendingVerification, district, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var haulers []model.HaulerProfile
	for rows.Next() {
		hauler, err := scanHauler(rows)
		if err != nil {
			return nil, 0, err
		}
		haulers = append(haulers, hauler)
	}
	return haulers, total, rows.Err()
}

func (s *Store) CreateHaulerDocument(ctx context.Context, doc model.HaulerDocument) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO hauler_documents (id, hauler_id, type, url, file_name, file_size, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.HaulerID, doc.Type, doc.URL, doc.FileName, doc.FileSize, doc.UploadedAt)
	return err
}

func (s *Store) ListHaulerDocuments(ctx context.Context, haulerID int64) ([]model.HaulerDocument, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, hauler_id, type, url, file_name, file_size, uploaded_at
		FROM hauler_documents
		WHERE hauler_id = $1
		ORDER BY uploaded_at ASC, id ASC
	`, haulerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []model.HaulerDocument
	for rows.Next() {
		var doc model.HaulerDocument
		if err := rows.Scan(&doc.ID, &doc.HaulerID, &doc.Type, &doc.URL, &doc.FileName, &doc.FileSize, &doc.UploadedAt); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
