package monitor

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotReady is returned by refreshes that need an authenticated
// upstream session when none is available.
var ErrNotReady = errors.New("upstream session not initialized")

// AuthError means the upstream rejected the credentials, or could not
// be reached, for every attempt of an initialization.
type AuthError struct {
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream authentication failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a transient failure to read device states.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching device states: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SerializationError is raised when a snapshot cannot be encoded for
// fingerprinting.
type SerializationError struct {
	Device string
	Err    error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serializing state of device %q: %v", e.Device, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// IsRetryable reports whether a later attempt may succeed.
// Fetch failures and timeouts are retryable; authentication failures
// and cancellation are not retried within the same cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var serErr *SerializationError
	if errors.As(err, &serErr) {
		return false
	}
	return true
}
