/*
errors.go - Centralized error types for the XP engine

ERROR CATEGORIES:
  1. Request errors - unauthorized caller, unknown action, missing user
  2. Ledger errors - invalid events, storage write failures
  3. Collection errors - a domain fetch failed for a user run

USAGE:
  Callers wrap these with context and test with errors.Is:

    if errors.Is(err, xp.ErrWriteFailed) { ... }

SEE ALSO:
  - ledger.go: returns ErrInvalidEvent / ErrWriteFailed
  - activity/collector.go: returns ErrCollectFailed
  - api/handlers.go: maps sentinels to HTTP status codes
*/
package xp

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when there is no valid caller identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnknownAction is returned when a request names no defined operation.
	ErrUnknownAction = errors.New("invalid action")

	// ErrUserRequired is returned when an operation has no target user.
	ErrUserRequired = errors.New("user id required")

	// ErrInvalidEvent is returned when an event fails validation before insert.
	ErrInvalidEvent = errors.New("invalid ledger event")

	// ErrWriteFailed is returned when an event insert, aggregate upsert, or
	// badge insert fails. Fatal for that user's run.
	ErrWriteFailed = errors.New("ledger write failed")

	// ErrCollectFailed is returned when any activity domain cannot be read.
	// A partial bundle would under-count, so the whole run fails.
	ErrCollectFailed = errors.New("activity collection failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// EventError describes which event in a batch was rejected and why.
type EventError struct {
	Index    int
	SourceID string
	Reason   string
}

func (e *EventError) Error() string {
	if e.SourceID != "" {
		return fmt.Sprintf("event %d (%s): %s", e.Index, e.SourceID, e.Reason)
	}
	return fmt.Sprintf("event %d: %s", e.Index, e.Reason)
}

func (e *EventError) Unwrap() error { return ErrInvalidEvent }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnknownAction) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrInvalidEvent)
}
