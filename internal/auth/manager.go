// Package auth owns the process-wide credential: the access/refresh token
// pair plus identity claims. It guarantees callers never observe an expired
// access token and drives the expiration warning/logout flow.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"chatcore/internal/domain"
	"chatcore/internal/event"
)

// Notification event names emitted by the Manager. Any UI layer may
// subscribe; the manager has no direct coupling to rendering.
const (
	NotifyAuthStateChanged  = "auth-state-changed"
	NotifyExpirationWarning = "token-expiration-warning"
	NotifySessionExpired    = "session-expired"
	NotifySessionExtended   = "session-extended"
)

// AuthState is the payload of NotifyAuthStateChanged. Identity is nil after
// logout or expiry.
type AuthState struct {
	Identity *domain.UserIdentity
}

// ExpirationWarning is the payload of NotifyExpirationWarning.
type ExpirationWarning struct {
	Message          string
	SecondsRemaining int64
}

// SessionNotice is the payload of NotifySessionExpired and
// NotifySessionExtended.
type SessionNotice struct {
	Message string
}

// Refresher exchanges a refresh token for a new token pair. Implemented by
// the REST client; injected after construction to break the dependency
// cycle between the two.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
}

// Options configures a Manager. Zero durations fall back to the documented
// defaults; tests shrink them.
type Options struct {
	Store   *FileStore
	Jar     http.CookieJar
	BaseURL *url.URL

	RefreshThreshold time.Duration // default 300s
	WatchdogInterval time.Duration // default 30s
	WarningThreshold time.Duration // default 180s
	LogoutGrace      time.Duration // default 3s

	// OnForceLogout runs after LogoutGrace once the session hard-expires,
	// so the caller can navigate away from authenticated views.
	OnForceLogout func()

	Now    func() time.Time
	Logger *slog.Logger
}

// Manager is the single-instance credential service. Construct one per
// process and pass it by reference.
type Manager struct {
	mu        sync.Mutex
	cred      *domain.Credential
	refresher Refresher

	store   *FileStore
	cookies *cookieMirror
	events  *event.Emitter
	wd      *watchdog

	refreshThreshold time.Duration
	logoutGrace      time.Duration
	onForceLogout    func()
	now              func() time.Time
	log              *slog.Logger
}

func NewManager(opts Options) *Manager {
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = 300 * time.Second
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = 30 * time.Second
	}
	if opts.WarningThreshold <= 0 {
		opts.WarningThreshold = 180 * time.Second
	}
	if opts.LogoutGrace <= 0 {
		opts.LogoutGrace = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	m := &Manager{
		store:            opts.Store,
		cookies:          newCookieMirror(opts.Jar, opts.BaseURL, opts.Now),
		events:           event.NewEmitter(),
		refreshThreshold: opts.RefreshThreshold,
		logoutGrace:      opts.LogoutGrace,
		onForceLogout:    opts.OnForceLogout,
		now:              opts.Now,
		log:              opts.Logger,
	}

	m.wd = newWatchdog(opts.WatchdogInterval, opts.WarningThreshold, opts.Now)
	m.wd.expiry = m.credentialExpiry
	m.wd.onWarning = m.handleWarning
	m.wd.onExpired = m.handleExpiry
	return m
}

// SetRefresher injects the token refresher (the REST client).
func (m *Manager) SetRefresher(r Refresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresher = r
}

// On registers a notification listener and returns its subscription ID.
func (m *Manager) On(name string, fn event.Handler) int { return m.events.On(name, fn) }

// Off removes a notification listener.
func (m *Manager) Off(name string, id int) { m.events.Off(name, id) }

// SetCredential installs a new credential, persists it to the state file and
// cookie pair, starts the expiration watchdog, and broadcasts the change.
func (m *Manager) SetCredential(cred domain.Credential) error {
	if !cred.Complete() {
		return fmt.Errorf("install credential: %w", domain.ErrInvalidInput)
	}

	m.mu.Lock()
	m.cred = &cred
	m.persistLocked()
	identity := cred.Subject
	m.mu.Unlock()

	m.wd.Start()
	m.events.Emit(NotifyAuthStateChanged, AuthState{Identity: &identity})
	return nil
}

// Restore rehydrates the credential from durable storage, if present and not
// already expired. Called once at process start.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}
	cred, err := m.store.Load()
	if err != nil {
		return err
	}
	if cred == nil {
		return nil
	}
	if exp, err := tokenExpiry(cred.AccessToken); err != nil || !exp.After(m.now()) {
		// A stale or undecodable stored token is no session at all.
		if clearErr := m.store.Clear(); clearErr != nil {
			m.log.Warn("clear stale credential", "error", clearErr)
		}
		return nil
	}
	return m.SetCredential(*cred)
}

// ClearCredential removes the credential from memory, storage and cookies,
// stops the watchdog, and broadcasts the change. Idempotent.
func (m *Manager) ClearCredential() {
	m.mu.Lock()
	had := m.cred != nil
	m.clearLocked()
	m.mu.Unlock()

	m.wd.Stop()
	if had {
		m.events.Emit(NotifyAuthStateChanged, AuthState{})
	}
}

// ValidAccessToken returns an access token guaranteed not to be near expiry,
// refreshing synchronously when the remaining lifetime is below the refresh
// threshold. When no valid session exists (or the refresh fails) the
// credential is cleared and domain.ErrUnauthorized is returned.
func (m *Manager) ValidAccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()

	if m.cred == nil {
		m.mu.Unlock()
		return "", domain.ErrUnauthorized
	}

	exp, err := tokenExpiry(m.cred.AccessToken)
	if err != nil {
		m.log.Warn("access token undecodable, dropping session", "error", err)
		m.mu.Unlock()
		m.expire("Your session is no longer valid. Please sign in again.")
		return "", domain.ErrUnauthorized
	}

	if exp.Sub(m.now()) >= m.refreshThreshold {
		token := m.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}

	token, err := m.refreshLocked(ctx)
	m.mu.Unlock()
	if err != nil {
		// A failed refresh is indistinguishable from hard expiry.
		m.expire("Your session has expired. Please sign in again.")
		return "", domain.ErrUnauthorized
	}
	m.wd.Start()
	return token, nil
}

// RefreshNow performs a caller-initiated refresh, typically in response to
// the expiration warning. On success the warning flag is re-armed and a
// session-extended notice is emitted.
func (m *Manager) RefreshNow(ctx context.Context) error {
	m.mu.Lock()
	if m.cred == nil {
		m.mu.Unlock()
		return domain.ErrUnauthorized
	}
	_, err := m.refreshLocked(ctx)
	m.mu.Unlock()

	if err != nil {
		m.expire("Your session has expired. Please sign in again.")
		return err
	}
	m.wd.Start()
	m.events.Emit(NotifySessionExtended, SessionNotice{Message: "Session extended."})
	return nil
}

// IsAuthenticated reports whether a credential is installed.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred != nil
}

// TokenValid reports whether the current access token exists and has not
// yet expired. No side effects.
func (m *Manager) TokenValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return false
	}
	exp, err := tokenExpiry(m.cred.AccessToken)
	return err == nil && exp.After(m.now())
}

// Identity returns a copy of the authenticated identity, or nil.
func (m *Manager) Identity() *domain.UserIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil
	}
	id := m.cred.Subject
	return &id
}

// Role returns the session role. When the primary store has not hydrated it
// falls back to the mirrored role cookie.
func (m *Manager) Role() string {
	m.mu.Lock()
	if m.cred != nil {
		role := m.cred.Subject.Role
		m.mu.Unlock()
		return role
	}
	m.mu.Unlock()
	return m.cookies.role()
}

// IsAdmin reports whether the session role is "admin".
func (m *Manager) IsAdmin() bool { return m.Role() == "admin" }

// refreshLocked exchanges the refresh token for a new pair and installs it.
// Caller holds m.mu.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if m.cred.RefreshToken == "" {
		return "", fmt.Errorf("no refresh token: %w", domain.ErrUnauthorized)
	}
	if m.refresher == nil {
		return "", fmt.Errorf("no refresher configured: %w", domain.ErrUnauthorized)
	}

	pair, err := m.refresher.Refresh(ctx, m.cred.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	exp, err := tokenExpiry(pair.AccessToken)
	if err != nil {
		return "", fmt.Errorf("refreshed token undecodable: %w", err)
	}

	m.cred.AccessToken = pair.AccessToken
	m.cred.ExpiresAt = exp.Unix()
	if pair.RefreshToken != "" {
		m.cred.RefreshToken = pair.RefreshToken
	}
	m.persistLocked()
	return m.cred.AccessToken, nil
}

func (m *Manager) persistLocked() {
	if m.store != nil {
		if err := m.store.Save(m.cred); err != nil {
			m.log.Warn("persist credential", "error", err)
		}
	}
	m.cookies.set(m.cred.AccessToken, m.cred.Subject.Role)
}

func (m *Manager) clearLocked() {
	m.cred = nil
	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			m.log.Warn("clear stored credential", "error", err)
		}
	}
	m.cookies.clear()
}

// expire drops the session and runs the expiry UX: notice first, forced
// navigation after the grace delay so the user can read it.
func (m *Manager) expire(message string) {
	m.mu.Lock()
	had := m.cred != nil
	m.clearLocked()
	m.mu.Unlock()

	m.wd.Stop()
	if !had {
		return
	}
	m.events.Emit(NotifySessionExpired, SessionNotice{Message: message})
	m.events.Emit(NotifyAuthStateChanged, AuthState{})
	if m.onForceLogout != nil {
		time.AfterFunc(m.logoutGrace, m.onForceLogout)
	}
}

// credentialExpiry is the watchdog's view of the current token expiry.
func (m *Manager) credentialExpiry() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return time.Time{}, false
	}
	exp, err := tokenExpiry(m.cred.AccessToken)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

func (m *Manager) handleWarning(remaining time.Duration) {
	secs := int64(remaining / time.Second)
	m.events.Emit(NotifyExpirationWarning, ExpirationWarning{
		Message:          "Your session is about to expire.",
		SecondsRemaining: secs,
	})
}

func (m *Manager) handleExpiry() {
	m.expire("Your session has expired. Please sign in again.")
}
