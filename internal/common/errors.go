// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("not found")

	// ErrRateLimitExceeded indicates the per-minute budget for a provider is
	// spent. Recoverable via the fallback chain or caller backoff.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrProviderUnavailable indicates a provider call failed. Terminal only
	// once the fallback chain is exhausted.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrValidationFailed indicates the extracted record failed domain
	// validation. Terminal for the current message and user-facing.
	ErrValidationFailed = errors.New("validation failed")

	// ErrRegistrationFailed indicates the transaction sink rejected a record.
	// Non-fatal: auto-registration downgrades to a pending confirmation.
	ErrRegistrationFailed = errors.New("registration failed")

	// ErrStorageDegraded indicates a meter or cache backend error. Always
	// absorbed locally; never surfaced to the end user.
	ErrStorageDegraded = errors.New("storage degraded")

	// ErrUnsupportedOperation indicates a provider does not advertise the
	// requested operation capability.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrMissingConfig indicates required configuration is absent.
	ErrMissingConfig = errors.New("missing configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// UserMessage extracts the user-facing message from an error chain, or
// returns the fallback when the chain carries none.
func UserMessage(err error, fallback string) string {
	var userErr *UserError
	if errors.As(err, &userErr) {
		return userErr.UserMessage
	}
	return fallback
}

// RetryableError wraps an error with retry-specific metadata.
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimitExceeded) ||
		errors.Is(err, ErrStorageDegraded) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
