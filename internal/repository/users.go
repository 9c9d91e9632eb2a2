package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

const userColumns = `id, phone, email, role, password_hash, pin_hash, temp_pin_hash, pin_expires_at,
	login_attempts, locked_until, is_active, language, last_login_at, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(dest ...any) error }) (model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&user.Email,
		&user.Role,
		&user.PasswordHash,
		&user.PinHash,
		&user.TempPinHash,
		&user.PinExpiresAt,
		&user.LoginAttempts,
		&user.LockedUntil,
		&user.IsActive,
		&user.Language,
		&user.LastLoginAt,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.DeletedAt,
	)
	return user, err
}

func (s *Store) CreateUser(ctx context.Context, user model.User) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, phone, email, role, password_hash, pin_hash, temp_pin_hash, pin_expires_at,
			login_attempts, locked_until, is_active, language, last_login_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, user.ID, user.Phone, user.Email, user.Role, user.PasswordHash, user.PinHash, user.TempPinHash,
		user.PinExpiresAt, user.LoginAttempts, user.LockedUntil, user.IsActive, user.Language,
		user.LastLoginAt, user.CreatedAt)
	return err
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, userID)
	return scanUser(row)
}

func (s *Store) GetUserByPhone(ctx context.Context, phone string) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE phone = $1 AND deleted_at IS NULL
	`, phone)
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND deleted_at IS NULL
	`, email)
	return scanUser(row)
}

// PhoneExists reports whether a live user holds the phone, regardless
// of role.
func (s *Store) PhoneExists(ctx context.Context, phone string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM users WHERE phone = $1 AND deleted_at IS NULL`, phone).Scan(&one)
	if err == nil {
		return true, nil
	}
	if IsNoRows(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM users WHERE email = $1 AND deleted_at IS NULL`, email).Scan(&one)
	if err == nil {
		return true, nil
	}
	if IsNoRows(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET last_login_at = $1, updated_at = $1 WHERE id = $2
	`, at, userID)
	return err
}

// SetLoginAttempts writes the failure counter and lockout timestamp in
// one statement. Passing nil clears the lockout.
func (s *Store) SetLoginAttempts(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET login_attempts = $1, locked_until = $2, updated_at = now() WHERE id = $3
	`, attempts, lockedUntil, userID)
	return err
}

func (s *Store) SetPassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2
	`, passwordHash, userID)
	return err
}

func (s *Store) SetPin(ctx context.Context, userID int64, pinHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users
		SET pin_hash = $1, temp_pin_hash = NULL, pin_expires_at = NULL, updated_at = now()
		WHERE id = $2
	`, pinHash, userID)
	return err
}

func (s *Store) SetTempPin(ctx context.Context, userID int64, tempPinHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET temp_pin_hash = $1, pin_expires_at = $2, updated_at = now() WHERE id = $3
	`, tempPinHash, expiresAt, userID)
	return err
}

func (s *Store) SetUserActive(ctx context.Context, userID int64, active bool) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users SET is_active = $1, updated_at = now() WHERE id = $2
	`, active, userID)
	return err
}
