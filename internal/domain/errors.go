package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing draft, event or parent on an operation
	// that requires one. Propagated to the caller, never retried silently.
	ErrNotFound = errors.New("not found")

	// ErrValidation signals a rejected input (self-invite, malformed email
	// and the like) before any state was mutated.
	ErrValidation = errors.New("validation failed")
)

// RateLimitedError carries a server-supplied cooldown for outbound mail.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// InstanceResult reports the outcome of one instance in a recurrence
// fan-out. Partial failures are surfaced this way instead of aborting the
// whole series.
type InstanceResult struct {
	EventID string
	Err     error
}
