// Package event defines the completable event abstraction: a unit of
// asynchronous work paired with an absolute deadline and a single-assignment
// completion handle that resolves exactly once to success, failure, or
// cancellation.
package event

import (
	"fmt"
	"time"
)

// Event is one outstanding asynchronous operation. Implementations pair the
// work's deadline with a Completion handle; the reaper and the dispatcher
// only ever touch events through this interface.
type Event interface {
	// ID uniquely identifies the event.
	ID() string

	// Kind names the event type, used in diagnostics and timeout errors.
	Kind() string

	// Deadline is the absolute time after which a still-pending event is
	// considered timed out.
	Deadline() time.Time

	// Completion returns the event's single-assignment completion handle.
	Completion() *Completion
}

// TimeoutError is the failure value delivered to an event whose deadline
// passed before it completed.
type TimeoutError struct {
	Kind    string
	ID      string
	Overrun time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s could not be completed within its timeout", e.Kind, e.ID)
}
