package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain specific errors for authentication and the resource adapter.
var (
	ErrAuthenticationFailure = errors.New("authentication failed")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidToken          = errors.New("invalid token")
	ErrSessionExpired        = errors.New("session expired")
	ErrRefreshFailure        = errors.New("token refresh failed")
	ErrNoSession             = errors.New("no active session")
	ErrInvalidField          = errors.New("invalid field value")
	ErrMissingIdentifier     = errors.New("record identifier missing")
	ErrUnknownResource       = errors.New("unknown resource")
)

// HTTPError is returned for any non-2xx backend response.
type HTTPError struct {
	Status  int
	Body    []byte
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend responded %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend responded %d %s", e.Status, http.StatusText(e.Status))
}

// StatusOf reports the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// FieldError names the field that failed validation.
type FieldError struct {
	Resource string
	Field    string
	Value    any
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: unsupported value %v", e.Resource, e.Field, e.Value)
}

func (e *FieldError) Unwrap() error { return ErrInvalidField }
