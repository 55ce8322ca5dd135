package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the typed error taxonomy shared across the engine, the web
// navigator, and the security envelope.
type ErrorKind string

const (
	ErrInvalidRequest        ErrorKind = "invalid_request"
	ErrRateLimitExceeded     ErrorKind = "rate_limit_exceeded"
	ErrMethodUnavailable     ErrorKind = "method_unavailable"
	ErrTimeout               ErrorKind = "timeout"
	ErrUnauthorized          ErrorKind = "unauthorized"
	ErrInvalidToken          ErrorKind = "invalid_token"
	ErrCrossTenantAccess     ErrorKind = "cross_tenant_access"
	ErrInvalidInput          ErrorKind = "invalid_input"
	ErrDomainNotFound        ErrorKind = "domain_not_found"
	ErrHTTPError             ErrorKind = "http_error"
	ErrContentTooLarge       ErrorKind = "content_too_large"
	ErrRobotsDisallow        ErrorKind = "robots_disallow"
	ErrMaliciousContent      ErrorKind = "malicious_content"
	ErrDependencyUnavailable ErrorKind = "dependency_unavailable"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	Kind       ErrorKind
	Message    string
	StatusCode int // upstream HTTP status, when the error came off the wire
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with a kind and a formatted message.
func WrapError(kind ErrorKind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// HTTPError creates a typed error for a non-success upstream status.
func HTTPError(status int, format string, args ...any) *Error {
	return &Error{Kind: ErrHTTPError, Message: fmt.Sprintf(format, args...), StatusCode: status}
}

// KindOf extracts the ErrorKind from err, or "" if it is not a typed error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a typed error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
