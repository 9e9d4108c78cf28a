package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the module.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("resource already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotConnected = errors.New("channel is not connected")
)

// APIError is an application error returned by a REST call, carrying the
// server-provided human-readable message for per-action user feedback.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

// IsAuthError reports whether err indicates a rejected or expired session.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrUnauthorized) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 401
}
