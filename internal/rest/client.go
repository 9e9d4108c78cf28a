// Package rest implements the client for the chat REST surface: auth
// exchanges, conversation listing, paginated history, and message
// mutations. Realtime traffic lives in the channel package.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"chatcore/internal/domain"
)

// TokenSource yields an access token guaranteed to be valid at call time.
// Implemented by the auth manager.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (string, error)
}

// Client talks to the chat server over HTTP. The http.Client should carry a
// cookie jar shared with the auth manager so mirrored cookies ride along.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *slog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, tokens TokenSource, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		tokens:  tokens,
		log:     logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type authResponse struct {
	domain.TokenPair
	User domain.UserIdentity `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges email/password for a token pair and identity.
func (c *Client) Login(ctx context.Context, email, password string) (domain.TokenPair, domain.UserIdentity, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &resp, false)
	if err != nil {
		return domain.TokenPair{}, domain.UserIdentity{}, err
	}
	return resp.TokenPair, resp.User, nil
}

// Register creates an account and returns the initial token pair.
func (c *Client) Register(ctx context.Context, email, displayName, password string) (domain.TokenPair, domain.UserIdentity, error) {
	var resp authResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", registerRequest{
		Email:       email,
		DisplayName: displayName,
		Password:    password,
	}, &resp, false)
	if err != nil {
		return domain.TokenPair{}, domain.UserIdentity{}, err
	}
	return resp.TokenPair, resp.User, nil
}

// Refresh exchanges a refresh token for a new pair. Implements
// auth.Refresher.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	var pair domain.TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &pair, false); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
}

// CreateChat creates (or returns the existing) direct chat with the peer.
func (c *Client) CreateChat(ctx context.Context, participantID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	body := map[string]string{"participant_id": participantID}
	if err := c.do(ctx, http.MethodPost, "/chats", body, &conv, true); err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListChats returns the caller's conversations, most recently active first.
func (c *Client) ListChats(ctx context.Context) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &convs, true); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListMessages fetches one page of history, newest first. A zero before
// means "latest page"; otherwise only messages strictly older than before
// are returned.
func (c *Client) ListMessages(ctx context.Context, chatID string, limit int, before time.Time) ([]domain.Message, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprintf("%d", limit))
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	path := fmt.Sprintf("/chats/%s/messages?%s", url.PathEscape(chatID), q.Encode())

	var msgs []domain.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs, true); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkRead marks the whole conversation read for the caller.
func (c *Client) MarkRead(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/chats/%s/read", url.PathEscape(chatID)), nil, nil, true)
}

// EditMessage replaces a message's content.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*domain.Message, error) {
	var msg domain.Message
	body := map[string]string{"content": content}
	if err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID), body, &msg, true); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil, true)
}

// LookupUser resolves a user's public identity.
func (c *Client) LookupUser(ctx context.Context, userID string) (*domain.UserIdentity, error) {
	var user domain.UserIdentity
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &user, true); err != nil {
		return nil, err
	}
	return &user, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		if c.tokens == nil {
			return domain.ErrUnauthorized
		}
		token, err := c.tokens.ValidAccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &domain.APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
