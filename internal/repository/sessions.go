package repository

import (
	"context"
	"time"

	"github.com/cropfresh/cropfresh-service-auth/internal/model"
)

func (s *Store) CreateSession(ctx context.Context, session model.Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, refresh_token, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.UserID, session.TokenHash, session.RefreshToken, session.ExpiresAt,
		session.IPAddress, session.UserAgent, session.CreatedAt)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (model.Session, error) {
	var session model.Session
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, refresh_token, expires_at, ip_address, user_agent, created_at, deleted_at
		FROM sessions
		WHERE token_hash = $1
	`, tokenHash)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.RefreshToken,
		&session.ExpiresAt, &session.IPAddress, &session.UserAgent, &session.CreatedAt, &session.DeletedAt)
	return session, err
}

func (s *Store) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (model.Session, error) {
	var session model.Session
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, refresh_token, expires_at, ip_address, user_agent, created_at, deleted_at
		FROM sessions
		WHERE refresh_token = $1 AND deleted_at IS NULL
	`, refreshToken)
	err := row.Scan(&session.ID, &session.UserID, &session.TokenHash, &session.RefreshToken,
		&session.ExpiresAt, &session.IPAddress, &session.UserAgent, &session.CreatedAt, &session.DeletedAt)
	return session, err
}

// RevokeSession soft-deletes one session row.
func (s *Store) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL
	`, at, sessionID)
	return err
}

// RevokeUserSessions soft-deletes every active session of the user.
// Used for single-device login and password reset.
func (s *Store) RevokeUserSessions(ctx context.Context, userID int64, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE sessions SET deleted_at = $1 WHERE user_id = $2 AND deleted_at IS NULL
	`, at, userID)
	return err
}

func (s *Store) CountActiveSessions(ctx context.Context, userID int64, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM sessions
		WHERE user_id = $1 AND deleted_at IS NULL AND expires_at > $2
	`, userID, now).Scan(&count)
	return count, err
}

// PurgeSessions hard-deletes rows that are expired or soft-deleted
// before the cutoff. Returns the number removed.
func (s *Store) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM sessions WHERE expires_at < $1 OR deleted_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
