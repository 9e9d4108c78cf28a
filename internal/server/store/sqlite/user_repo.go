package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatcore/internal/server/store"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

var _ store.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) Create(ctx context.Context, u *store.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, avatar_url, bio, hashed_password, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.DisplayName, u.Role, u.AvatarURL, u.Bio, u.HashedPassword, u.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("insert user: email taken")
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*store.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (*store.User, error) {
	query := fmt.Sprintf(`
		SELECT id, email, display_name, role, avatar_url, bio, hashed_password, created_at
		FROM users WHERE %s = ?
	`, column)

	u := &store.User{}
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.Role,
		&u.AvatarURL,
		&u.Bio,
		&u.HashedPassword,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	u.CreatedAt = time.Unix(0, createdAt).UTC()
	return u, nil
}
