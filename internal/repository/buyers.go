package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreateBuyerProfile(ctx context.Context, profile model.BuyerProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO buyer_profiles (id, user_id, full_name, business_name, business_type, gst_number,
			address, city, pin_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, profile.ID, profile.UserID, profile.FullName, profile.BusinessName, profile.BusinessType,
		profile.GSTNumber, profile.Address, profile.City, profile.PinCode, profile.CreatedAt)
	return err
}

func (s *Store) GetBuyerProfile(ctx context.Context, userID int64) (model.BuyerProfile, error) {
	var profile model.BuyerProfile
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, full_name, business_name, business_type, gst_number, address, city, pin_code,
			created_at, updated_at
		FROM buyer_profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.ID, &profile.UserID, &profile.FullName, &profile.BusinessName,
		&profile.BusinessType, &profile.GSTNumber, &profile.Address, &profile.City, &profile.PinCode,
		&profile.CreatedAt, &profile.UpdatedAt)
	return profile, err
}

// GetBuyerOrg resolves a buyer organization by its profile id.
func (s *Store) GetBuyerOrg(ctx context.Context, orgID int64) (model.BuyerProfile, error) {
	var profile model.BuyerProfile
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, full_name, business_name, business_type, gst_number, address, city, pin_code,
			created_at, updated_at
		FROM buyer_profiles
		WHERE id = $1
	`, orgID)
	err := row.Scan(&profile.ID, &profile.UserID, &profile.FullName, &profile.BusinessName,
		&profile.BusinessType, &profile.GSTNumber, &profile.Address, &profile.City, &profile.PinCode,
		&profile.CreatedAt, &profile.UpdatedAt)
	return profile, err
}

func (s *Store) CreatePaymentDetails(ctx context.Context, details model.PaymentDetails) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payment_details (id, user_id, type, upi_id, bank_account, ifsc, bank_name,
			verified, verified_at, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, details.ID, details.UserID, details.Type, details.UpiID, details.BankAccount, details.IFSC,
		details.BankName, details.Verified, details.VerifiedAt, details.Primary, details.CreatedAt)
	return err
}

// ClearPrimaryPayment demotes any existing primary row so a new one can
// take its place. Runs inside the same transaction as the insert.
func (s *Store) ClearPrimaryPayment(ctx context.Context, userID int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payment_details SET is_primary = false WHERE user_id = $1 AND is_primary = true
	`, userID)
	return err
}

func (s *Store) GetPrimaryPayment(ctx context.Context, userID int64) (model.PaymentDetails, error) {
	var details model.PaymentDetails
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, type, upi_id, bank_account, ifsc, bank_name, verified, verified_at, is_primary, created_at
		FROM payment_details
		WHERE user_id = $1 AND is_primary = true
	`, userID)
	err := row.Scan(&details.ID, &details.UserID, &details.Type, &details.UpiID, &details.BankAccount,
		&details.IFSC, &details.BankName, &details.Verified, &details.VerifiedAt, &details.Primary,
		&details.CreatedAt)
	return details, err
}

func (s *Store) MarkPaymentVerified(ctx context.Context, paymentID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE payment_details SET verified = true, verified_at = $1 WHERE id = $2
	`, at, paymentID)
	return err
}
