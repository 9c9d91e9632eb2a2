package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreatePasswordResetToken(ctx context.Context, token model.PasswordResetToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, lookup_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, token.ID, token.UserID, token.TokenHash, token.LookupHash, token.ExpiresAt, token.CreatedAt)
	return err
}

// GetPasswordResetToken resolves by the indexed SHA-256 lookup column.
// The bcrypt token_hash stays the authoritative verifier.
func (s *Store) GetPasswordResetToken(ctx context.Context, lookupHash string) (model.PasswordResetToken, error) {
	var token model.PasswordResetToken
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, lookup_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE lookup_hash = $1
	`, lookupHash)
	err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.LookupHash,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt)
	return token, err
}

// MarkResetTokenUsed spends the token. Reports false when it was
// already spent, so racing resets serialize on the row.
func (s *Store) MarkResetTokenUsed(ctx context.Context, tokenID int64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $1 WHERE id = $2 AND used_at IS NULL
	`, at, tokenID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InvalidateUserResetTokens spends every outstanding token of the user,
// so only the newest requested link works.
func (s *Store) InvalidateUserResetTokens(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $1 WHERE user_id = $2 AND used_at IS NULL
	`, at, userID)
	return err
}

func (s *Store) PurgeResetTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM password_reset_tokens WHERE expires_at < $1 OR used_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
