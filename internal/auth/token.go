package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chatcore/internal/domain"
)

// tokenExpiry decodes the exp claim of an access token without verifying
// the signature. Verification belongs to the issuer; the client only needs
// the expiry to drive refresh and watchdog decisions. A malformed token is
// treated as "no valid session" by callers.
func tokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("decode token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no exp claim")
	}
	return exp.Time, nil
}

// NewCredential builds a complete Credential from a token pair and identity,
// decoding the access token expiry. It fails if the token cannot be decoded,
// so a partially valid credential is never installed.
func NewCredential(pair domain.TokenPair, subject domain.UserIdentity) (domain.Credential, error) {
	exp, err := tokenExpiry(pair.AccessToken)
	if err != nil {
		return domain.Credential{}, err
	}
	return domain.Credential{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    exp.Unix(),
		Subject:      subject,
	}, nil
}
