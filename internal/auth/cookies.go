package auth

import (
	"net/http"
	"net/url"
	"time"
)

const (
	cookieToken = "auth_token"
	cookieRole  = "auth_role"

	cookieTTL = 7 * 24 * time.Hour
)

// cookieMirror keeps the token and role mirrored into the HTTP client's
// cookie jar for the API origin, so server-side role checks see them on
// every request. The role cookie is a best-effort fallback for role-gated
// redirects before the primary store has hydrated.
type cookieMirror struct {
	jar  http.CookieJar
	base *url.URL
	now  func() time.Time
}

func newCookieMirror(jar http.CookieJar, base *url.URL, now func() time.Time) *cookieMirror {
	return &cookieMirror{jar: jar, base: base, now: now}
}

func (m *cookieMirror) set(token, role string) {
	if m.jar == nil || m.base == nil {
		return
	}
	expires := m.now().Add(cookieTTL)
	secure := m.base.Scheme == "https"
	m.jar.SetCookies(m.base, []*http.Cookie{
		{Name: cookieToken, Value: token, Path: "/", Expires: expires, Secure: secure, SameSite: http.SameSiteStrictMode},
		{Name: cookieRole, Value: role, Path: "/", Expires: expires, Secure: secure, SameSite: http.SameSiteStrictMode},
	})
}

func (m *cookieMirror) clear() {
	if m.jar == nil || m.base == nil {
		return
	}
	expired := time.Unix(0, 0)
	m.jar.SetCookies(m.base, []*http.Cookie{
		{Name: cookieToken, Value: "", Path: "/", Expires: expired, MaxAge: -1},
		{Name: cookieRole, Value: "", Path: "/", Expires: expired, MaxAge: -1},
	})
}

// role returns the mirrored role cookie value, if any.
func (m *cookieMirror) role() string {
	if m.jar == nil || m.base == nil {
		return ""
	}
	for _, c := range m.jar.Cookies(m.base) {
		if c.Name == cookieRole {
			return c.Value
		}
	}
	return ""
}
