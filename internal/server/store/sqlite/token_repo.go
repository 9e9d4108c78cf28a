package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/server/store"
)

type RefreshTokenRepo struct {
	db *sql.DB
}

func NewRefreshTokenRepo(db *sql.DB) *RefreshTokenRepo {
	return &RefreshTokenRepo{db: db}
}

var _ store.RefreshTokenRepository = (*RefreshTokenRepo)(nil)

func (r *RefreshTokenRepo) Create(ctx context.Context, t *store.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES (?, ?, ?)
	`, t.Token, t.UserID, t.ExpiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (*store.RefreshToken, error) {
	t := &store.RefreshToken{}
	var expiresAt int64
	err := r.db.QueryRowContext(ctx, `
		SELECT token, user_id, expires_at FROM refresh_tokens WHERE token = ?
	`, token).Scan(&t.Token, &t.UserID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	t.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return t, nil
}

func (r *RefreshTokenRepo) Delete(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete refresh tokens for user: %w", err)
	}
	return nil
}
