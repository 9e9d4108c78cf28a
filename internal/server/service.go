package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/server/store"
)

// AuthService handles registration, login, token refresh and logout for the
// harness server.
type AuthService struct {
	users      store.UserRepository
	refresh    store.RefreshTokenRepository
	tokens     *security.TokenService
	hash       *security.PasswordHasher
	refreshTTL time.Duration
}

func NewAuthService(
	users store.UserRepository,
	refresh store.RefreshTokenRepository,
	tokens *security.TokenService,
	hash *security.PasswordHasher,
	refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		refresh:    refresh,
		tokens:     tokens,
		hash:       hash,
		refreshTTL: refreshTTL,
	}
}

func (s *AuthService) Register(ctx context.Context, email, displayName, password string) (*store.User, domain.TokenPair, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, domain.TokenPair{}, fmt.Errorf("email and password are required: %w", domain.ErrInvalidInput)
	}
	if displayName == "" {
		displayName = email
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, domain.TokenPair{}, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, domain.TokenPair{}, fmt.Errorf("email already registered: %w", domain.ErrConflict)
	}

	hashed, err := s.hash.Hash(password)
	if err != nil {
		return nil, domain.TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	user := &store.User{
		UserIdentity: domain.UserIdentity{
			ID:          uuid.NewString(),
			Email:       email,
			DisplayName: displayName,
			Role:        "user",
		},
		HashedPassword: hashed,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, domain.TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return user, pair, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*store.User, domain.TokenPair, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
	if err != nil {
		return nil, domain.TokenPair{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return nil, domain.TokenPair{}, fmt.Errorf("incorrect email or password: %w", domain.ErrUnauthorized)
	}
	if err := s.hash.Verify(password, user.HashedPassword); err != nil {
		return nil, domain.TokenPair{}, fmt.Errorf("incorrect email or password: %w", domain.ErrUnauthorized)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, domain.TokenPair{}, err
	}
	return user, pair, nil
}

// RefreshPair validates and rotates a refresh token, returning a fresh pair.
// Unknown or expired tokens are an auth failure, not a transient error.
func (s *AuthService) RefreshPair(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
	stored, err := s.refresh.Get(ctx, refreshToken)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("get refresh token: %w", err)
	}
	if stored == nil {
		return domain.TokenPair{}, fmt.Errorf("unknown refresh token: %w", domain.ErrUnauthorized)
	}
	if time.Now().After(stored.ExpiresAt) {
		_ = s.refresh.Delete(ctx, refreshToken)
		return domain.TokenPair{}, fmt.Errorf("refresh token expired: %w", domain.ErrUnauthorized)
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("get user: %w", err)
	}
	if user == nil {
		return domain.TokenPair{}, fmt.Errorf("user gone: %w", domain.ErrUnauthorized)
	}

	if err := s.refresh.Delete(ctx, refreshToken); err != nil {
		return domain.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return s.issuePair(ctx, user)
}

func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.refresh.DeleteForUser(ctx, userID)
}

func (s *AuthService) issuePair(ctx context.Context, user *store.User) (domain.TokenPair, error) {
	access, err := s.tokens.Create(user.ID, user.DisplayName, user.Role)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("create access token: %w", err)
	}
	refresh := &store.RefreshToken{
		Token:     uuid.NewString(),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := s.refresh.Create(ctx, refresh); err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		TokenType:    "bearer",
	}, nil
}

// ChatService implements the direct-chat operations the client consumes.
type ChatService struct {
	chats    store.ChatRepository
	messages store.MessageRepository
	users    store.UserRepository

	MaxPageSize int
}

func NewChatService(chats store.ChatRepository, messages store.MessageRepository, users store.UserRepository, maxPageSize int) *ChatService {
	if maxPageSize <= 0 {
		maxPageSize = 200
	}
	return &ChatService{
		chats:       chats,
		messages:    messages,
		users:       users,
		MaxPageSize: maxPageSize,
	}
}

// CreateChat returns the existing direct chat between the two users or
// creates it.
func (s *ChatService) CreateChat(ctx context.Context, creatorID, participantID string) (*domain.Conversation, error) {
	if participantID == "" || participantID == creatorID {
		return nil, fmt.Errorf("participant_id is required: %w", domain.ErrInvalidInput)
	}
	peer, err := s.users.GetByID(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}
	if peer == nil {
		return nil, fmt.Errorf("participant not found: %w", domain.ErrNotFound)
	}

	ids := []string{creatorID, participantID}
	sort.Strings(ids)
	key := ids[0] + "_" + ids[1]

	existing, err := s.chats.FindByParticipantsKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find chat: %w", err)
	}
	if existing != nil {
		return existing.Conversation(), nil
	}

	chat := &store.Chat{
		ID:              uuid.NewString(),
		ParticipantsKey: key,
		UserA:           ids[0],
		UserB:           ids[1],
	}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat.Conversation(), nil
}

func (s *ChatService) ListChats(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	chats, err := s.chats.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := make([]*domain.Conversation, 0, len(chats))
	for _, c := range chats {
		res = append(res, c.Conversation())
	}
	return res, nil
}

// getChatFor loads the chat and enforces membership.
func (s *ChatService) getChatFor(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat == nil {
		return nil, fmt.Errorf("chat not found: %w", domain.ErrNotFound)
	}
	if !chat.HasParticipant(userID) {
		return nil, fmt.Errorf("not a participant: %w", domain.ErrForbidden)
	}
	return chat, nil
}

// ListMessages returns one page of history, newest first.
func (s *ChatService) ListMessages(ctx context.Context, chatID, userID string, limit int, before time.Time) ([]domain.Message, error) {
	if _, err := s.getChatFor(ctx, chatID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.MaxPageSize {
		limit = s.MaxPageSize
	}
	return s.messages.ListBefore(ctx, chatID, limit, before)
}

// CreateMessage persists a message, with the sender pre-seeded into the
// read set, and bumps the chat's last-message summary.
func (s *ChatService) CreateMessage(ctx context.Context, chatID, senderID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrInvalidInput)
	}
	if len([]rune(content)) > 5000 {
		return nil, fmt.Errorf("message content exceeds 5000 characters: %w", domain.ErrInvalidInput)
	}
	if _, err := s.getChatFor(ctx, chatID, senderID); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
		ReadBy:    []string{senderID},
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.chats.SetLastMessage(ctx, chatID, senderID, content, msg.CreatedAt); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead adds the user to the read set of every message in the chat.
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) error {
	if _, err := s.getChatFor(ctx, chatID, userID); err != nil {
		return err
	}
	return s.messages.MarkAllRead(ctx, chatID, userID)
}

func (s *ChatService) EditMessage(ctx context.Context, callerID, messageID, content string) (*domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("message content cannot be empty: %w", domain.ErrInvalidInput)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message not found: %w", domain.ErrNotFound)
	}
	if msg.SenderID != callerID {
		return nil, fmt.Errorf("only the sender may edit: %w", domain.ErrForbidden)
	}
	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return nil, err
	}
	return s.messages.GetByID(ctx, messageID)
}

func (s *ChatService) DeleteMessage(ctx context.Context, callerID, messageID string) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("message not found: %w", domain.ErrNotFound)
	}
	if msg.SenderID != callerID {
		return fmt.Errorf("only the sender may delete: %w", domain.ErrForbidden)
	}
	return s.messages.Delete(ctx, messageID)
}

// LookupUser returns a user's public identity.
func (s *ChatService) LookupUser(ctx context.Context, userID string) (*domain.UserIdentity, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user not found: %w", domain.ErrNotFound)
	}
	id := user.UserIdentity
	return &id, nil
}

// ChatFor exposes membership-checked chat lookup for the WS handler.
func (s *ChatService) ChatFor(ctx context.Context, chatID, userID string) (*store.Chat, error) {
	return s.getChatFor(ctx, chatID, userID)
}
