package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failure modes that can surface from the
// pipeline, the model client, and the reminder scheduler.
type ErrorKind string

const (
	// ErrInvalidImage indicates an image payload with unrecognized bytes.
	ErrInvalidImage ErrorKind = "invalid_image"
	// ErrNoUsableInput indicates that every analysis component failed.
	ErrNoUsableInput ErrorKind = "no_usable_input"
	// ErrTimeout indicates a network call or stage exceeded its deadline.
	ErrTimeout ErrorKind = "timeout"
	// ErrRunTimeout indicates the overall pipeline run exceeded its deadline.
	ErrRunTimeout ErrorKind = "run_timeout"
	// ErrRateLimited indicates the model provider signalled rate limiting.
	ErrRateLimited ErrorKind = "rate_limited"
	// ErrFetchError indicates the content fetcher could not retrieve a URL.
	ErrFetchError ErrorKind = "fetch_error"
	// ErrAuthError indicates the provider rejected credentials. Fatal, never retried.
	ErrAuthError ErrorKind = "auth_error"
	// ErrMalformedResponse indicates the model returned a payload that failed
	// schema validation even after one corrective re-prompt.
	ErrMalformedResponse ErrorKind = "malformed_response"
	// ErrInvalidAgentConfig indicates an agent registration that failed validation.
	ErrInvalidAgentConfig ErrorKind = "invalid_agent_config"
	// ErrDelivery indicates a notification channel send failure.
	ErrDelivery ErrorKind = "delivery_error"
)

// Retryable reports whether a failure of this kind may be retried locally.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrTimeout, ErrRateLimited, ErrFetchError, ErrDelivery:
		return true
	default:
		return false
	}
}

// KindError is an error tagged with an ErrorKind so callers can branch on
// the taxonomy without string matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

// NewKindError wraps err with the given kind.
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// Errorf builds a KindError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, walking wrapped errors.
// Returns the empty kind when err carries no taxonomy tag.
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ""
}

// IsRetryable reports whether err is tagged with a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
