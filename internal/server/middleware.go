package server

import (
	"context"
	"net/http"
	"strings"

	"chatcore/internal/security"
)

type ctxKey string

const (
	ctxUserID   ctxKey = "user_id"
	ctxUserName ctxKey = "user_name"
	ctxUserRole ctxKey = "user_role"
)

// RequireAuth validates the bearer token and stashes the caller's identity
// in the request context.
func RequireAuth(tokens *security.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				writeError(w, http.StatusUnauthorized, "token has no subject")
				return
			}
			name, _ := claims["name"].(string)
			role, _ := claims["role"].(string)
			ctx := context.WithValue(r.Context(), ctxUserID, sub)
			ctx = context.WithValue(ctx, ctxUserName, name)
			ctx = context.WithValue(ctx, ctxUserRole, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserID).(string)
	return id
}
