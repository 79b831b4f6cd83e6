package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type sessionRepository struct {
	db *sql.DB
}

// Create stores the session keyed by the hash of token; the raw token is
// never persisted.
func (r *sessionRepository) Create(ctx context.Context, session *Session, token string) error {
	if session == nil {
		return fmt.Errorf("create session: session is nil")
	}
	if session.UserID == "" {
		return fmt.Errorf("create session: user id is required")
	}
	if token == "" {
		return fmt.Errorf("create session: token is required")
	}
	if session.ExpiresAt.IsZero() {
		return fmt.Errorf("create session: expiry is required")
	}

	session.ID = ensureID(session.ID)
	if session.CreatedAt.IsZero() {
		session.CreatedAt = nowUTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions(id, user_id, token_hash, created_at, expires_at, revoked_at)
		VALUES(?, ?, ?, ?, ?, NULL)
	`, session.ID, session.UserID, HashToken(token), fmtTime(session.CreatedAt), fmtTime(session.ExpiresAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create session: %w", ErrConflict)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	var (
		session   Session
		createdAt string
		expiresAt string
		revokedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at, expires_at, revoked_at
		FROM sessions
		WHERE token_hash = ?
	`, HashToken(token)).Scan(&session.ID, &session.UserID, &createdAt, &expiresAt, &revokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}

	session.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	session.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, err
	}
	session.RevokedAt, err = parseNullableTime(revokedAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) Revoke(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET revoked_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`, fmtTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke session: rows affected: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}
