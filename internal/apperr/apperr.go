// Package apperr defines the platform error taxonomy. Every error that
// crosses a component boundary is classified by Kind, which drives HTTP
// status mapping, retry behavior, and warning downgrades.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for callers.
type Kind string

const (
	// KindValidation means bad input or a violated constraint. Do not retry.
	KindValidation Kind = "validation"

	// KindNotFound means the referenced entity does not exist (or is
	// soft-deleted, which reads the same from outside).
	KindNotFound Kind = "not_found"

	// KindConflict means a unique violation or disallowed state transition.
	KindConflict Kind = "conflict"

	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"

	// KindRateLimited and KindQuotaExceeded map to 429; the caller may
	// retry after the attached Retry-After hint.
	KindRateLimited   Kind = "rate_limited"
	KindQuotaExceeded Kind = "quota_exceeded"

	// KindProviderTimeout and KindProviderUnavailable are transient
	// upstream failures the router may fail over.
	KindProviderTimeout     Kind = "provider_timeout"
	KindProviderUnavailable Kind = "provider_unavailable"

	// KindProviderError means the upstream returned bad content. Surfaced
	// to the client after one internal retry.
	KindProviderError Kind = "provider_error"

	// KindInternal is everything else. The message is sanitized before it
	// reaches a client; the full chain is logged.
	KindInternal Kind = "internal"
)

// Error is a classified platform error.
type Error struct {
	Kind Kind

	// Code is a stable machine-readable code, e.g. DUPLICATE_DOCUMENT_CONTENT.
	Code string

	// Message is safe to show to a client.
	Message string

	// Details carries structured context for client-side validation
	// errors only; it is dropped for every other kind.
	Details map[string]any

	// RetryAfter is a hint for RateLimited / QuotaExceeded responses.
	RetryAfter time.Duration

	cause error
}

// New creates a classified error with a stable code and client-safe message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. The cause is preserved for logging
// and errors.Is/As but never shown to clients.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// WithDetails attaches structured details and returns the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithRetryAfter attaches a retry hint and returns the error.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the Kind from an error chain. Unclassified errors are
// internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from an error chain, or "INTERNAL".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "INTERNAL"
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code the gateway returns.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindRateLimited, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindProviderTimeout, KindProviderUnavailable, KindProviderError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the router may retry or fail over this error.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProviderTimeout, KindProviderUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// Sanitized returns the client-facing message for an error chain.
// Internal errors collapse to a generic message; everything else keeps
// its classified message.
func Sanitized(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}
