// Package saga sequences a Saga's steps and drives ordered compensation on
// failure: steps execute in ascending order, and completed steps are
// compensated in strictly descending order when a later step fails.
package saga

import (
	"errors"
)

// ErrNotFound is returned by a Store when no saga matches the lookup.
var ErrNotFound = errors.New("saga: not found")

// ErrAlreadyActive names a saga id already held in the in-process active
// set. Orchestrator.track replaces such an entry and does not return it.
var ErrAlreadyActive = errors.New("saga: already active")

// ErrNoCurrentStep is returned when an operation expects a current step
// but the saga has none (past the last step, or empty).
var ErrNoCurrentStep = errors.New("saga: no current step")
