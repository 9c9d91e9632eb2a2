package repository

import (
	"context"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreateFarmerProfile(ctx context.Context, profile model.FarmerProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO farmer_profiles (id, user_id, full_name, district, state, village, pin_code,
			farm_size, farming_types, main_crops, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
	`, profile.ID, profile.UserID, profile.FullName, profile.District, profile.State, profile.Village,
		profile.PinCode, profile.FarmSize, profile.FarmingTypes, profile.MainCrops, profile.CreatedAt)
	return err
}

func (s *Store) GetFarmerProfile(ctx context.Context, userID int64) (model.FarmerProfile, error) {
	var profile model.FarmerProfile
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, full_name, district, state, village, pin_code, farm_size,
			farming_types, main_crops, created_at, updated_at
		FROM farmer_profiles
		WHERE user_id = $1
	`, userID)
	err := row.Scan(&profile.ID, &profile.UserID, &profile.FullName, &profile.District, &profile.State,
		&profile.Village, &profile.PinCode, &profile.FarmSize, &profile.FarmingTypes, &profile.MainCrops,
		&profile.CreatedAt, &profile.UpdatedAt)
	return profile, err
}

func (s *Store) UpdateFarmerProfile(ctx context.Context, profile model.FarmerProfile) error {
	_, err := s.db.Exec(ctx, `
		UPDATE farmer_profiles
		SET full_name = $1, district = $2, state = $3, village = $4, pin_code = $5, updated_at = now()
		WHERE user_id = $6
	`, profile.FullName, profile.District, profile.State, profile.Village, profile.PinCode, profile.UserID)
	return err
}

// SaveFarmProfile replaces the farm attributes on the profile row.
func (s *Store) SaveFarmProfile(ctx context.Context, userID int64, farmSize string, farmingTypes, mainCrops []string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE farmer_profiles
		SET farm_size = $1, farming_types = $2, main_crops = $3, updated_at = now()
		WHERE user_id = $4
	`, farmSize, farmingTypes, mainCrops, userID)
	return err
}
