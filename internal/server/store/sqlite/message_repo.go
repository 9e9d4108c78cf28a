package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/server/store"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ store.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, content, created_at, edited)
		VALUES (?, ?, ?, ?, ?, 0)
	`, m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	for _, reader := range m.ReadBy {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO message_reads (message_id, user_id) VALUES (?, ?)
		`, m.ID, reader); err != nil {
			return fmt.Errorf("insert message read: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	m := &domain.Message{}
	var createdAt int64
	var edited int
	err := r.db.QueryRowContext(ctx, `
		SELECT id, chat_id, sender_id, content, created_at, edited
		FROM messages WHERE id = ?
	`, id).Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &createdAt, &edited)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	m.CreatedAt = time.Unix(0, createdAt).UTC()
	m.Edited = edited != 0

	if err := r.loadReads(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MessageRepo) ListBefore(ctx context.Context, chatID string, limit int, before time.Time) ([]domain.Message, error) {
	query := `
		SELECT id, chat_id, sender_id, content, created_at, edited
		FROM messages
		WHERE chat_id = ?
	`
	args := []any{chatID}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before.UnixNano())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []domain.Message
	for rows.Next() {
		var m domain.Message
		var createdAt int64
		var edited int
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &createdAt, &edited); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.Unix(0, createdAt).UTC()
		m.Edited = edited != 0
		res = append(res, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range res {
		if err := r.loadReads(ctx, &res[i]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id, content string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, edited = 1 WHERE id = ?
	`, content, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM message_reads WHERE message_id = ?`, id); err != nil {
		return fmt.Errorf("delete message reads: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkAllRead(ctx context.Context, chatID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id)
		SELECT id, ? FROM messages WHERE chat_id = ?
	`, userID, chatID)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

func (r *MessageRepo) loadReads(ctx context.Context, m *domain.Message) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY user_id
	`, m.ID)
	if err != nil {
		return fmt.Errorf("load message reads: %w", err)
	}
	defer rows.Close()

	m.ReadBy = []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return fmt.Errorf("scan message read: %w", err)
		}
		m.ReadBy = append(m.ReadBy, uid)
	}
	return rows.Err()
}
