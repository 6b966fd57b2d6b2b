package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEntityNotFound indicates the entity referenced by an event or
	// request no longer exists.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrExecutionNotFound indicates the execution id does not match a
	// stored record in the expected state.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidStreamKey indicates a malformed stream key.
	ErrInvalidStreamKey = errors.New("invalid stream key")

	// ErrInvalidConsumerName indicates a malformed consumer group or name.
	ErrInvalidConsumerName = errors.New("invalid consumer name")
)

// RateLimitedError indicates the local rate budget rejected the call.
// Callers should abandon the attempt and defer to a later trigger.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %v", e.RetryAfter)
}

// RateLimited wraps a budget rejection.
func RateLimited(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}

// RemoteThrottledError indicates the remote API signaled throttling
// out-of-band and bounded retries did not clear it.
type RemoteThrottledError struct {
	Err error
}

func (e *RemoteThrottledError) Error() string {
	return fmt.Sprintf("remote throttled: %v", e.Err)
}

func (e *RemoteThrottledError) Unwrap() error {
	return e.Err
}

// RemoteThrottled wraps a server-signaled throttling failure.
func RemoteThrottled(err error) error {
	return &RemoteThrottledError{Err: err}
}
