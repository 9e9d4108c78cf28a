package domain

import "time"

// UserIdentity carries the identity claims of an authenticated user, as
// returned by the auth endpoints and mirrored inside a Credential.
type UserIdentity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// Credential is the access/refresh token pair plus identity claims for the
// current session. A Credential is either fully present or absent; partial
// states are never stored.
type Credential struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    int64        `json:"expires_at"` // unix seconds, from the access token exp claim
	Subject      UserIdentity `json:"subject"`
}

// Complete reports whether every required field of the credential is set.
func (c *Credential) Complete() bool {
	return c != nil && c.AccessToken != "" && c.ExpiresAt > 0 && c.Subject.ID != ""
}

// TokenPair is what the token endpoints return on login, registration and
// refresh. The refresh token may be rotated on each refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
}

// Message is a single direct-chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	Edited    bool      `json:"edited,omitempty"`
	ReadBy    []string  `json:"read_by"`
}

// ReadByUser reports whether the given user already appears in ReadBy.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// MarkReadBy adds the user to ReadBy and reports whether it was newly added.
// Read state is monotonic: entries are never removed.
func (m *Message) MarkReadBy(userID string) bool {
	if userID == "" || m.ReadByUser(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, userID)
	return true
}

// LastMessage summarizes the newest message of a conversation.
type LastMessage struct {
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a direct chat between exactly two participants. It is
// owned by the server; the client only consumes it to resolve the peer and
// to know which topic to subscribe to.
type Conversation struct {
	ID             string       `json:"id"`
	ParticipantIDs []string     `json:"participants"`
	LastMessage    *LastMessage `json:"last_message,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Peer returns the other participant's ID, or "" if selfID is not a
// participant.
func (c *Conversation) Peer(selfID string) string {
	for _, id := range c.ParticipantIDs {
		if id != selfID {
			return id
		}
	}
	return ""
}
