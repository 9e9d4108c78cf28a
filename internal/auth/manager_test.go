package auth_test

import (
	"context"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatcore/internal/auth"
	"chatcore/internal/domain"
	"chatcore/internal/security"
)

var tokenSvc = security.NewTokenService("test-secret", time.Hour)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TokenPair), args.Error(1)
}

func testIdentity() domain.UserIdentity {
	return domain.UserIdentity{
		ID:          "user-1",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Role:        "user",
	}
}

func mintCredential(t *testing.T, ttl time.Duration, refreshToken string) domain.Credential {
	t.Helper()
	id := testIdentity()
	access, err := tokenSvc.CreateWithTTL(id.ID, id.DisplayName, id.Role, ttl)
	require.NoError(t, err)
	cred, err := auth.NewCredential(domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
	}, id)
	require.NoError(t, err)
	return cred
}

func TestSetCredential(t *testing.T) {
	t.Run("RejectsIncomplete", func(t *testing.T) {
		m := auth.NewManager(auth.Options{})
		err := m.SetCredential(domain.Credential{AccessToken: "only-a-token"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
		assert.False(t, m.IsAuthenticated())
	})

	t.Run("InstallsAndNotifies", func(t *testing.T) {
		m := auth.NewManager(auth.Options{})

		var states []auth.AuthState
		m.On(auth.NotifyAuthStateChanged, func(payload any) {
			states = append(states, payload.(auth.AuthState))
		})

		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

		assert.True(t, m.IsAuthenticated())
		assert.True(t, m.TokenValid())
		require.NotNil(t, m.Identity())
		assert.Equal(t, "user-1", m.Identity().ID)
		assert.Equal(t, "user", m.Role())
		assert.False(t, m.IsAdmin())

		require.Len(t, states, 1)
		require.NotNil(t, states[0].Identity)
		assert.Equal(t, "Alice", states[0].Identity.DisplayName)
	})

	t.Run("MirrorsCookies", func(t *testing.T) {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)
		base, _ := url.Parse("https://chat.example.com")

		m := auth.NewManager(auth.Options{Jar: jar, BaseURL: base})
		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

		names := map[string]string{}
		for _, c := range jar.Cookies(base) {
			names[c.Name] = c.Value
		}
		assert.NotEmpty(t, names["auth_token"])
		assert.Equal(t, "user", names["auth_role"])

		m.ClearCredential()
		assert.Empty(t, jar.Cookies(base))
	})
}

func TestClearCredentialIdempotent(t *testing.T) {
	m := auth.NewManager(auth.Options{})
	require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

	changes := 0
	m.On(auth.NotifyAuthStateChanged, func(any) { changes++ })

	m.ClearCredential()
	m.ClearCredential()

	assert.False(t, m.IsAuthenticated())
	assert.Equal(t, 1, changes)
}

func TestValidAccessToken(t *testing.T) {
	t.Run("NoSession", func(t *testing.T) {
		m := auth.NewManager(auth.Options{})
		_, err := m.ValidAccessToken(context.Background())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("FreshTokenReturnedAsIs", func(t *testing.T) {
		m := auth.NewManager(auth.Options{})
		cred := mintCredential(t, time.Hour, "r1")
		require.NoError(t, m.SetCredential(cred))

		token, err := m.ValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, cred.AccessToken, token)
	})

	t.Run("NearExpiryRefreshes", func(t *testing.T) {
		clock := newFakeClock()
		m := auth.NewManager(auth.Options{
			RefreshThreshold: 5 * time.Minute,
			Now:              clock.Now,
		})
		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "old-refresh")))

		id := testIdentity()
		fresh, err := tokenSvc.CreateWithTTL(id.ID, id.DisplayName, id.Role, time.Hour)
		require.NoError(t, err)

		refresher := new(MockRefresher)
		refresher.On("Refresh", mock.Anything, "old-refresh").
			Return(&domain.TokenPair{AccessToken: fresh, RefreshToken: "new-refresh"}, nil)
		m.SetRefresher(refresher)

		// Move inside the refresh window.
		clock.Advance(57 * time.Minute)

		token, err := m.ValidAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fresh, token)
		refresher.AssertExpectations(t)

		// The rotated refresh token is the one used next time.
		clock.Advance(57 * time.Minute)
		refresher.On("Refresh", mock.Anything, "new-refresh").
			Return(nil, domain.ErrUnauthorized)
		_, err = m.ValidAccessToken(context.Background())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("RefreshFailureExpiresSession", func(t *testing.T) {
		clock := newFakeClock()
		m := auth.NewManager(auth.Options{
			RefreshThreshold: 5 * time.Minute,
			LogoutGrace:      time.Millisecond,
			Now:              clock.Now,
		})
		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

		refresher := new(MockRefresher)
		refresher.On("Refresh", mock.Anything, "r1").Return(nil, domain.ErrUnauthorized)
		m.SetRefresher(refresher)

		var mu sync.Mutex
		var expired []auth.SessionNotice
		cleared := false
		m.On(auth.NotifySessionExpired, func(payload any) {
			mu.Lock()
			expired = append(expired, payload.(auth.SessionNotice))
			mu.Unlock()
		})
		m.On(auth.NotifyAuthStateChanged, func(payload any) {
			mu.Lock()
			cleared = payload.(auth.AuthState).Identity == nil
			mu.Unlock()
		})

		clock.Advance(57 * time.Minute)
		_, err := m.ValidAccessToken(context.Background())
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.False(t, m.IsAuthenticated())

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, expired, 1)
		assert.Contains(t, expired[0].Message, "expired")
		assert.True(t, cleared)
	})
}

func TestRefreshNow(t *testing.T) {
	m := auth.NewManager(auth.Options{})
	require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

	id := testIdentity()
	fresh, err := tokenSvc.CreateWithTTL(id.ID, id.DisplayName, id.Role, 2*time.Hour)
	require.NoError(t, err)

	refresher := new(MockRefresher)
	refresher.On("Refresh", mock.Anything, "r1").
		Return(&domain.TokenPair{AccessToken: fresh}, nil)
	m.SetRefresher(refresher)

	extended := 0
	m.On(auth.NotifySessionExtended, func(any) { extended++ })

	require.NoError(t, m.RefreshNow(context.Background()))
	assert.Equal(t, 1, extended)

	token, err := m.ValidAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fresh, token)
}

func TestRestore(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		dir := t.TempDir()
		store := auth.NewFileStore(dir)

		first := auth.NewManager(auth.Options{Store: store})
		require.NoError(t, first.SetCredential(mintCredential(t, time.Hour, "r1")))

		second := auth.NewManager(auth.Options{Store: store})
		require.NoError(t, second.Restore())
		assert.True(t, second.IsAuthenticated())
		require.NotNil(t, second.Identity())
		assert.Equal(t, "user-1", second.Identity().ID)
	})

	t.Run("StaleTokenDiscarded", func(t *testing.T) {
		dir := t.TempDir()
		store := auth.NewFileStore(dir)

		cred := mintCredential(t, time.Hour, "r1")
		require.NoError(t, store.Save(&cred))

		clock := newFakeClock()
		clock.Advance(2 * time.Hour)

		m := auth.NewManager(auth.Options{Store: store, Now: clock.Now})
		require.NoError(t, m.Restore())
		assert.False(t, m.IsAuthenticated())

		// The stale file is gone, not just ignored.
		loaded, err := store.Load()
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("EmptyStore", func(t *testing.T) {
		m := auth.NewManager(auth.Options{Store: auth.NewFileStore(t.TempDir())})
		require.NoError(t, m.Restore())
		assert.False(t, m.IsAuthenticated())
	})
}

func TestWatchdog(t *testing.T) {
	t.Run("WarnsExactlyOnce", func(t *testing.T) {
		clock := newFakeClock()
		m := auth.NewManager(auth.Options{
			WatchdogInterval: 10 * time.Millisecond,
			WarningThreshold: 5 * time.Minute,
			Now:              clock.Now,
		})

		var mu sync.Mutex
		var warnings []auth.ExpirationWarning
		m.On(auth.NotifyExpirationWarning, func(payload any) {
			mu.Lock()
			warnings = append(warnings, payload.(auth.ExpirationWarning))
			mu.Unlock()
		})

		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))

		clock.Advance(56 * time.Minute)
		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(warnings) == 1
		}, time.Second, 5*time.Millisecond)

		// Further ticks inside the warning window stay quiet.
		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		require.Len(t, warnings, 1)
		assert.LessOrEqual(t, warnings[0].SecondsRemaining, int64(5*60))
	})

	t.Run("ExpiryClearsSessionAndForcesLogout", func(t *testing.T) {
		clock := newFakeClock()
		forced := make(chan struct{})
		m := auth.NewManager(auth.Options{
			WatchdogInterval: 10 * time.Millisecond,
			WarningThreshold: 5 * time.Minute,
			LogoutGrace:      time.Millisecond,
			OnForceLogout:    func() { close(forced) },
			Now:              clock.Now,
		})

		expired := make(chan auth.SessionNotice, 1)
		m.On(auth.NotifySessionExpired, func(payload any) {
			expired <- payload.(auth.SessionNotice)
		})

		require.NoError(t, m.SetCredential(mintCredential(t, time.Hour, "r1")))
		clock.Advance(2 * time.Hour)

		select {
		case notice := <-expired:
			assert.Contains(t, notice.Message, "expired")
		case <-time.After(time.Second):
			t.Fatal("expiry notice never arrived")
		}

		select {
		case <-forced:
		case <-time.After(time.Second):
			t.Fatal("forced logout never ran")
		}
		assert.False(t, m.IsAuthenticated())
	})
}
