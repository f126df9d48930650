// Package store implements Conductor's durable state model: goals, tasks,
// agent runs, agent events and goal history, with the status transition
// tables, dependency validation and the atomic goal-completion check
// enforced at the store boundary.
package store

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify errors with errors.Is; pkg/api maps
// them to HTTP status codes (ErrNotFound -> 404, ErrValidation -> 400).
var (
	// ErrNotFound is returned when a requested Goal/Task/AgentRun does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrValidation is returned for bad input: an illegal status
	// transition, a depends_on id outside the goal, or a dependency cycle.
	ErrValidation = errors.New("store: validation failed")

	// ErrConflict is returned when a write loses a race it cannot silently ignore,
	// e.g. creating a second non-terminal AgentRun for a task that already has one.
	ErrConflict = errors.New("store: conflict")
)

// validationErrorf wraps ErrValidation with a formatted message.
func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}

func notFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func conflictErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConflict}, args...)...)
}
