package rest_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain"
	"chatcore/internal/rest"
)

type staticTokens string

func (s staticTokens) ValidAccessToken(ctx context.Context) (string, error) {
	return string(s), nil
}

type failingTokens struct{}

func (failingTokens) ValidAccessToken(ctx context.Context) (string, error) {
	return "", domain.ErrUnauthorized
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "alice@example.com", body["email"])
		assert.Equal(t, "hunter2", body["password"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "acc",
			"refresh_token": "ref",
			"token_type":    "bearer",
			"user": map[string]string{
				"id":           "user-1",
				"email":        "alice@example.com",
				"display_name": "Alice",
				"role":         "user",
			},
		})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, nil, nil)
	pair, identity, err := c.Login(context.Background(), "alice@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "acc", pair.AccessToken)
	assert.Equal(t, "ref", pair.RefreshToken)
	assert.Equal(t, "Alice", identity.DisplayName)
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "incorrect email or password"})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, nil, nil)
	_, _, err := c.Login(context.Background(), "alice@example.com", "wrong")
	require.Error(t, err)

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "incorrect email or password", apiErr.Message)
	assert.True(t, domain.IsAuthError(err))
}

func TestBearerHeaderOnAuthedCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode([]domain.Conversation{})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("token-123"), nil)
	_, err := c.ListChats(context.Background())
	assert.NoError(t, err)
}

func TestAuthedCallWithoutSession(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, failingTokens{}, nil)
	_, err := c.ListChats(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.False(t, called, "request must not be sent without a token")
}

func TestListMessagesQuery(t *testing.T) {
	before := time.Date(2026, 3, 1, 12, 30, 15, 123456789, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/chat-1/messages", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "25", q.Get("limit"))
		assert.Equal(t, before.Format(time.RFC3339Nano), q.Get("before"))

		json.NewEncoder(w).Encode([]domain.Message{
			{ID: "m2", ChatID: "chat-1", Content: "newer"},
			{ID: "m1", ChatID: "chat-1", Content: "older"},
		})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("tok"), nil)
	msgs, err := c.ListMessages(context.Background(), "chat-1", 25, before)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
}

func TestListMessagesLatestPageOmitsBefore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("before"))
		json.NewEncoder(w).Encode([]domain.Message{})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("tok"), nil)
	_, err := c.ListMessages(context.Background(), "chat-1", 50, time.Time{})
	assert.NoError(t, err)
}

func TestCreateChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chats", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "peer-9", body["participant_id"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(domain.Conversation{
			ID:             "chat-1",
			ParticipantIDs: []string{"user-1", "peer-9"},
		})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("tok"), nil)
	conv, err := c.CreateChat(context.Background(), "peer-9")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", conv.ID)
	assert.Equal(t, "peer-9", conv.Peer("user-1"))
}

func TestEditAndDeleteMessage(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(domain.Message{ID: "m1", Content: "fixed", Edited: true})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("tok"), nil)

	msg, err := c.EditMessage(context.Background(), "m1", "fixed")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/messages/m1", gotPath)
	assert.True(t, msg.Edited)

	require.NoError(t, c.DeleteMessage(context.Background(), "m1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/messages/m1", gotPath)
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "old-refresh", body["refresh_token"])
		json.NewEncoder(w).Encode(domain.TokenPair{AccessToken: "new-acc", RefreshToken: "new-ref"})
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, nil, nil)
	pair, err := c.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-acc", pair.AccessToken)
	assert.Equal(t, "new-ref", pair.RefreshToken)
}

func TestServerErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := rest.NewClient(srv.URL, nil, staticTokens("tok"), nil)
	err := c.MarkRead(context.Background(), "chat-1")
	var apiErr *domain.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.NotEmpty(t, apiErr.Error())
}
