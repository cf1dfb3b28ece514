package cloudapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an API failure by its HTTP status family
type ErrorKind string

const (
	ErrUnauthorized ErrorKind = "unauthorized"
	ErrNotFound     ErrorKind = "not_found"
	ErrConflict     ErrorKind = "conflict"
	ErrLocked       ErrorKind = "locked"
	ErrRateLimited  ErrorKind = "rate_limited"
	ErrServerError  ErrorKind = "server_error"
	ErrHTTP         ErrorKind = "http_error"
	ErrTransport    ErrorKind = "transport_error"
)

// APIError is a failed provider API call, carrying the originating HTTP
// status and raw body where one was received. Transport failures have
// StatusCode 0 and an empty Body.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("cloud API error %s (status %d): %s", e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("cloud API error %s: %v", e.Kind, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classify maps an HTTP status code to the error taxonomy
func classify(statusCode int, body string) *APIError {
	kind := ErrHTTP
	switch {
	case statusCode == 401:
		kind = ErrUnauthorized
	case statusCode == 404:
		kind = ErrNotFound
	case statusCode == 409:
		kind = ErrConflict
	case statusCode == 423:
		kind = ErrLocked
	case statusCode == 429:
		kind = ErrRateLimited
	case statusCode >= 500:
		kind = ErrServerError
	}
	return &APIError{Kind: kind, StatusCode: statusCode, Body: body}
}

// IsNotFound reports whether err is an API not-found error
func IsNotFound(err error) bool {
	return hasKind(err, ErrNotFound)
}

// IsConflict reports whether err is an API conflict error
func IsConflict(err error) bool {
	return hasKind(err, ErrConflict)
}

// IsUnauthorized reports whether err is an API unauthorized error
func IsUnauthorized(err error) bool {
	return hasKind(err, ErrUnauthorized)
}

func hasKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}
