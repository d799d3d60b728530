package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain layer operations.
var (
	// ErrNotFound indicates that a requested entity was not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the provided input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrSuspended is returned by storage while the database is suspended.
	// Callers must not block on it; the work is retried after Resume.
	ErrSuspended = errors.New("storage suspended")
)

// ValidationError represents a validation error with detailed field information.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a formatted error message for the validation error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// RetryableError marks a transient failure (network, rate limit, 5xx).
// The failed work stays queued and is attempted again on a later cycle.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// UnsupportedError is returned when a provider lacks an optional capability.
type UnsupportedError struct {
	Provider   ProviderKind
	Capability string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
}

// AuthError reports rejected credentials. Sync for the account halts until
// credentials are updated and the account is resumed.
type AuthError struct {
	AccountID string
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("account %s: authentication failed: %v", e.AccountID, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CorruptionError reports a remote item that could not be mapped.
// The item is skipped; the rest of the page is still applied.
type CorruptionError struct {
	ItemID string
	Err    error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupt item %q: %v", e.ItemID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// IsRetryable reports whether err (or anything it wraps) is a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsUnsupported reports whether err is an UnsupportedError.
func IsUnsupported(err error) bool {
	var ue *UnsupportedError
	return errors.As(err, &ue)
}

// IsAuthFailure reports whether err is an AuthError.
func IsAuthFailure(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsCorruption reports whether err is a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return errors.As(err, &ce)
}
