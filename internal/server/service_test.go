package server_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chatcore/internal/domain"
	"chatcore/internal/security"
	"chatcore/internal/server"
	"chatcore/internal/server/store"
	"chatcore/internal/server/store/sqlite"
)

type testEnv struct {
	db    *sql.DB
	auth  *server.AuthService
	chats *server.ChatService
	users store.UserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqlite.Migrate(db))

	users := sqlite.NewUserRepo(db)
	chats := sqlite.NewChatRepo(db)
	messages := sqlite.NewMessageRepo(db)
	refresh := sqlite.NewRefreshTokenRepo(db)

	tokens := security.NewTokenService("test-secret", time.Hour)
	hasher := security.NewPasswordHasher(bcrypt.MinCost)

	return &testEnv{
		db:    db,
		auth:  server.NewAuthService(users, refresh, tokens, hasher, 24*time.Hour),
		chats: server.NewChatService(chats, messages, users, 200),
		users: users,
	}
}

func (e *testEnv) register(t *testing.T, email, name string) *store.User {
	t.Helper()
	user, _, err := e.auth.Register(context.Background(), email, name, "Password1!")
	require.NoError(t, err)
	return user
}

func TestAuthServiceRegister(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		user, pair, err := env.auth.Register(ctx, "Alice@Example.com", "Alice", "Password1!")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", user.Email, "email is normalized")
		assert.Equal(t, "user", user.Role)
		assert.NotEmpty(t, user.ID)
		assert.NotEmpty(t, pair.AccessToken)
		assert.NotEmpty(t, pair.RefreshToken)
		assert.NotEqual(t, "Password1!", user.HashedPassword)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		_, _, err := env.auth.Register(ctx, "alice@example.com", "Alice2", "Password1!")
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("MissingFields", func(t *testing.T) {
		_, _, err := env.auth.Register(ctx, "", "", "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestAuthServiceLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "bob@example.com", "Bob")

	t.Run("Success", func(t *testing.T) {
		user, pair, err := env.auth.Login(ctx, "bob@example.com", "Password1!")
		require.NoError(t, err)
		assert.Equal(t, "Bob", user.DisplayName)
		assert.NotEmpty(t, pair.AccessToken)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, _, err := env.auth.Login(ctx, "bob@example.com", "nope")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		_, _, err := env.auth.Login(ctx, "ghost@example.com", "Password1!")
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})
}

func TestAuthServiceRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, pair, err := env.auth.Register(ctx, "carol@example.com", "Carol", "Password1!")
	require.NoError(t, err)

	next, err := env.auth.RefreshPair(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken, "refresh token rotates")

	// The spent token is dead.
	_, err = env.auth.RefreshPair(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	// The rotated one still works.
	_, err = env.auth.RefreshPair(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthServiceLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, pair, err := env.auth.Register(ctx, "dave@example.com", "Dave", "Password1!")
	require.NoError(t, err)

	require.NoError(t, env.auth.Logout(ctx, user.ID))
	_, err = env.auth.RefreshPair(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestChatServiceCreateChat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com", "Alice")
	bob := env.register(t, "bob@example.com", "Bob")

	t.Run("CreatesOnce", func(t *testing.T) {
		conv, err := env.chats.CreateChat(ctx, alice.ID, bob.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, conv.ParticipantIDs)

		// Same pair from the other side resolves to the same chat.
		again, err := env.chats.CreateChat(ctx, bob.ID, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, conv.ID, again.ID)
	})

	t.Run("UnknownParticipant", func(t *testing.T) {
		_, err := env.chats.CreateChat(ctx, alice.ID, "no-such-user")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SelfChatRejected", func(t *testing.T) {
		_, err := env.chats.CreateChat(ctx, alice.ID, alice.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestChatServiceMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com", "Alice")
	bob := env.register(t, "bob@example.com", "Bob")
	eve := env.register(t, "eve@example.com", "Eve")

	conv, err := env.chats.CreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, err := env.chats.CreateMessage(ctx, conv.ID, alice.ID, "hello bob")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID}, msg.ReadBy, "sender has read their own message")

	t.Run("BlankContentRejected", func(t *testing.T) {
		_, err := env.chats.CreateMessage(ctx, conv.ID, alice.ID, "   ")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("OutsiderForbidden", func(t *testing.T) {
		_, err := env.chats.CreateMessage(ctx, conv.ID, eve.ID, "let me in")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		_, err = env.chats.ListMessages(ctx, conv.ID, eve.ID, 50, time.Time{})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("LastMessageSummary", func(t *testing.T) {
		convs, err := env.chats.ListChats(ctx, bob.ID)
		require.NoError(t, err)
		require.Len(t, convs, 1)
		require.NotNil(t, convs[0].LastMessage)
		assert.Equal(t, "hello bob", convs[0].LastMessage.Content)
		assert.Equal(t, alice.ID, convs[0].LastMessage.SenderID)
	})

	t.Run("MarkRead", func(t *testing.T) {
		require.NoError(t, env.chats.MarkRead(ctx, conv.ID, bob.ID))
		msgs, err := env.chats.ListMessages(ctx, conv.ID, bob.ID, 50, time.Time{})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, msgs[0].ReadBy)

		// Marking again changes nothing.
		require.NoError(t, env.chats.MarkRead(ctx, conv.ID, bob.ID))
		again, err := env.chats.ListMessages(ctx, conv.ID, bob.ID, 50, time.Time{})
		require.NoError(t, err)
		assert.Len(t, again[0].ReadBy, 2)
	})
}

func TestChatServicePagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com", "Alice")
	bob := env.register(t, "bob@example.com", "Bob")
	conv, err := env.chats.CreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	var all []string
	for i := 0; i < 12; i++ {
		m, err := env.chats.CreateMessage(ctx, conv.ID, alice.ID, "message")
		require.NoError(t, err)
		all = append(all, m.ID)
	}

	page1, err := env.chats.ListMessages(ctx, conv.ID, alice.ID, 5, time.Time{})
	require.NoError(t, err)
	require.Len(t, page1, 5)
	assert.Equal(t, all[11], page1[0].ID, "newest first")

	page2, err := env.chats.ListMessages(ctx, conv.ID, alice.ID, 5, page1[4].CreatedAt)
	require.NoError(t, err)
	require.Len(t, page2, 5)

	page3, err := env.chats.ListMessages(ctx, conv.ID, alice.ID, 5, page2[4].CreatedAt)
	require.NoError(t, err)
	require.Len(t, page3, 2)

	seen := map[string]bool{}
	for _, p := range [][]domain.Message{page1, page2, page3} {
		for _, m := range p {
			assert.False(t, seen[m.ID], "duplicate across pages: %s", m.ID)
			seen[m.ID] = true
		}
	}
	assert.Len(t, seen, 12)
}

func TestChatServiceEditDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com", "Alice")
	bob := env.register(t, "bob@example.com", "Bob")
	conv, err := env.chats.CreateChat(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, err := env.chats.CreateMessage(ctx, conv.ID, alice.ID, "typo")
	require.NoError(t, err)

	t.Run("OnlySenderEdits", func(t *testing.T) {
		_, err := env.chats.EditMessage(ctx, bob.ID, msg.ID, "hijack")
		assert.ErrorIs(t, err, domain.ErrForbidden)

		edited, err := env.chats.EditMessage(ctx, alice.ID, msg.ID, "fixed")
		require.NoError(t, err)
		assert.Equal(t, "fixed", edited.Content)
		assert.True(t, edited.Edited)
	})

	t.Run("OnlySenderDeletes", func(t *testing.T) {
		assert.ErrorIs(t, env.chats.DeleteMessage(ctx, bob.ID, msg.ID), domain.ErrForbidden)
		require.NoError(t, env.chats.DeleteMessage(ctx, alice.ID, msg.ID))

		msgs, err := env.chats.ListMessages(ctx, conv.ID, alice.ID, 50, time.Time{})
		require.NoError(t, err)
		assert.Empty(t, msgs)
	})

	t.Run("MissingMessage", func(t *testing.T) {
		_, err := env.chats.EditMessage(ctx, alice.ID, "nope", "x")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, env.chats.DeleteMessage(ctx, alice.ID, "nope"), domain.ErrNotFound)
	})
}

func TestLookupUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.register(t, "alice@example.com", "Alice")

	id, err := env.chats.LookupUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", id.DisplayName)

	_, err = env.chats.LookupUser(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
