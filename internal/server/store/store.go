// Package store defines the persistence model of the reference harness
// server: user accounts, direct chats, messages with per-user read
// acknowledgements, and refresh tokens.
package store

import (
	"context"
	"time"

	"chatcore/internal/domain"
)

// User is a server-side account: the public identity plus credentials.
type User struct {
	domain.UserIdentity
	HashedPassword string
	CreatedAt      time.Time
}

// Chat is a direct conversation row. ParticipantsKey is the sorted
// "a_b" pair used to enforce one chat per user pair.
type Chat struct {
	ID              string
	ParticipantsKey string
	UserA           string
	UserB           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSender      string
	LastContent     string
	LastAt          time.Time
}

// Participants returns both member IDs.
func (c *Chat) Participants() []string {
	return []string{c.UserA, c.UserB}
}

// HasParticipant reports whether the user belongs to the chat.
func (c *Chat) HasParticipant(userID string) bool {
	return userID == c.UserA || userID == c.UserB
}

// Conversation converts the row to the wire representation.
func (c *Chat) Conversation() *domain.Conversation {
	conv := &domain.Conversation{
		ID:             c.ID,
		ParticipantIDs: c.Participants(),
		UpdatedAt:      c.UpdatedAt,
	}
	if c.LastContent != "" || !c.LastAt.IsZero() {
		conv.LastMessage = &domain.LastMessage{
			SenderID:  c.LastSender,
			Content:   c.LastContent,
			Timestamp: c.LastAt,
		}
	}
	return conv
}

// RefreshToken is an opaque stored refresh token; rotated on every use.
type RefreshToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
}

// ChatRepository defines persistence operations for direct chats.
type ChatRepository interface {
	Create(ctx context.Context, c *Chat) error
	GetByID(ctx context.Context, id string) (*Chat, error)
	FindByParticipantsKey(ctx context.Context, key string) (*Chat, error)
	ListForUser(ctx context.Context, userID string) ([]*Chat, error)
	SetLastMessage(ctx context.Context, chatID, sender, content string, at time.Time) error
}

// MessageRepository defines persistence operations for messages and their
// read sets.
type MessageRepository interface {
	Create(ctx context.Context, m *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	// ListBefore returns up to limit messages of the chat, newest first,
	// strictly older than before when before is non-zero.
	ListBefore(ctx context.Context, chatID string, limit int, before time.Time) ([]domain.Message, error)
	UpdateContent(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	// MarkAllRead adds the user to the read set of every message in the chat.
	MarkAllRead(ctx context.Context, chatID, userID string) error
}

// RefreshTokenRepository defines persistence for refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	Get(ctx context.Context, token string) (*RefreshToken, error)
	Delete(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID string) error
}
