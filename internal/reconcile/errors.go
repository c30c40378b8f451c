package reconcile

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is returned when a batch drives the correlator into
// a state its transition table forbids. It signals a producer bug: the run
// is aborted and nothing from the batch may be applied.
//
//	if errors.Is(err, reconcile.ErrInvariantViolation) {
//	    // drop the batch, report the producer
//	}
var ErrInvariantViolation = errors.New("invariant violation")

// InvariantError describes which event collided with which prior change.
type InvariantError struct {
	Event   Event
	Prior   Change
	Message string
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s: %s collides with %s", ErrInvariantViolation, e.Message, e.Event, e.Prior)
}

// Unwrap lets errors.Is match ErrInvariantViolation.
func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// IsFatal returns true if the error must abort the reconciliation run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
