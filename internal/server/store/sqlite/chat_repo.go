package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/server/store"
)

type ChatRepo struct {
	db *sql.DB
}

func NewChatRepo(db *sql.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var _ store.ChatRepository = (*ChatRepo)(nil)

const chatColumns = `id, participants_key, user_a, user_b, created_at, updated_at, last_sender, last_content, last_at`

func (r *ChatRepo) Create(ctx context.Context, c *store.Chat) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO chats (id, participants_key, user_a, user_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.ParticipantsKey, c.UserA, c.UserB, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *ChatRepo) GetByID(ctx context.Context, id string) (*store.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = ?`, id)
	return scanChat(row)
}

func (r *ChatRepo) FindByParticipantsKey(ctx context.Context, key string) (*store.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE participants_key = ?`, key)
	return scanChat(row)
}

func (r *ChatRepo) ListForUser(ctx context.Context, userID string) ([]*store.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE user_a = ? OR user_b = ?
		ORDER BY updated_at DESC
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var res []*store.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r *ChatRepo) SetLastMessage(ctx context.Context, chatID, sender, content string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE chats
		SET last_sender = ?, last_content = ?, last_at = ?, updated_at = ?
		WHERE id = ?
	`, sender, content, at.UnixNano(), at.UnixNano(), chatID)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*store.Chat, error) {
	c := &store.Chat{}
	var createdAt, updatedAt, lastAt int64
	err := row.Scan(
		&c.ID,
		&c.ParticipantsKey,
		&c.UserA,
		&c.UserB,
		&createdAt,
		&updatedAt,
		&c.LastSender,
		&c.LastContent,
		&lastAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	c.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if lastAt > 0 {
		c.LastAt = time.Unix(0, lastAt).UTC()
	}
	return c, nil
}
