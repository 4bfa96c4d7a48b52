/*
errors.go - Centralized error types for the scheduling engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers wrap these with context via fmt.Errorf("...: %w", err).

ERROR CATEGORIES:
  1. Input errors - Malformed or contradictory caller input (422)
  2. Lookup errors - Referenced entity does not exist (404)
  3. Coordination errors - Concurrent auto-assign run, failed placement

  Core computations (detection, utilization, ranking) never fail on bad
  windows: an invalid or unresolvable window produces an empty result.

USAGE:
    if errors.Is(err, generic.ErrInvalidInput) {
        // 422
    }

SEE ALSO:
  - factory/resource.go: Raises InvalidInputError for catalog writes
  - api/handlers.go: Maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned when caller input is malformed or contradictory.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEntityNotFound is returned when a referenced entity doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidWindow is returned by NewWindow when end does not follow start.
	ErrInvalidWindow = errors.New("invalid window: end must be after start")

	// ErrRunInProgress is returned when another auto-assign run holds the lock.
	ErrRunInProgress = errors.New("auto-assign run already in progress")

	// ErrPlacementFailed aborts a task's transaction when a placement that
	// should have succeeded after rescheduling still conflicts.
	ErrPlacementFailed = errors.New("placement failed after rescheduling")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// NewInvalidInput is a shorthand for &InvalidInputError{...}.
func NewInvalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// NotFoundError identifies the missing entity.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrEntityNotFound
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidWindow)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsConflict returns true if the error indicates a coordination conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRunInProgress)
}
