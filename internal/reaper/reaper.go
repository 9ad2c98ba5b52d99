// Package reaper tracks outstanding completable events and guarantees that
// none of them can remain pending forever: events past their deadline are
// force-failed with a timeout, and shutdown cancels everything outstanding.
package reaper

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/seantiz/tether/internal/event"
)

// ErrNilEvent is returned by Add when given a nil event.
var ErrNilEvent = errors.New("event to track must be non-nil")

// ErrNilEvents is returned by ReapIncomplete when given a nil collection.
var ErrNilEvents = errors.New("events to reap must be non-nil")

// Reaper holds the set of tracked events. It has no locking of its own: all
// mutating calls must come from a single driver goroutine (the dispatcher
// loop). The completion handles it touches may be resolved concurrently by
// other goroutines; losing that race is a benign no-op.
type Reaper struct {
	logger  *slog.Logger
	tracked []event.Event
}

// New creates a reaper with no tracked events.
func New(logger *slog.Logger) *Reaper {
	return &Reaper{logger: logger}
}

// Add registers an event for later completion or expiry. The event's handle
// may already be terminal; it will simply be pruned on the next sweep. The
// caller must not add the same event twice.
func (r *Reaper) Add(e event.Event) error {
	if e == nil {
		return ErrNilEvent
	}
	r.tracked = append(r.tracked, e)
	return nil
}

// ReapExpiredAndCompleted sweeps the tracked set in two phases. First, every
// tracked event that is not yet terminal and whose deadline has passed is
// force-failed with a TimeoutError. Second, every event whose handle is now
// terminal is removed from tracking, including events that completed on
// their own between sweeps. Events still pending and within deadline stay
// tracked for the next sweep.
//
// Call this at regular intervals; the reaper does no timing of its own.
func (r *Reaper) ReapExpiredAndCompleted(now time.Time) {
	r.logger.Debug("reaping expired events", "tracked", len(r.tracked))

	for _, e := range r.tracked {
		c := e.Completion()
		if c.IsDone() || !now.After(e.Deadline()) {
			continue
		}
		overrun := now.Sub(e.Deadline())
		err := &event.TimeoutError{Kind: e.Kind(), ID: e.ID(), Overrun: overrun}
		// The handle may have resolved between the check above and this
		// call; Fail loses the race and the first resolution stands.
		if c.Fail(err) {
			r.logger.Debug("completed event exceptionally since it expired",
				"kind", e.Kind(),
				"id", e.ID(),
				"overrun_ms", overrun.Milliseconds(),
			)
		}
	}

	r.tracked = slices.DeleteFunc(r.tracked, func(e event.Event) bool {
		return e.Completion().IsDone()
	})
	if len(r.tracked) == 0 {
		r.tracked = nil
	}
}

// ReapIncomplete cancels every tracked event that is not yet terminal and
// clears the tracked set, then cancels every not-yet-terminal event in the
// given collection (events still sitting in an intake queue, never added).
// Deadlines are ignored: this runs when the owner is closing and nothing
// should be left pending. The collection is not retained or mutated.
func (r *Reaper) ReapIncomplete(events []event.Event) error {
	if events == nil {
		return ErrNilEvents
	}

	r.logger.Debug("reaping incomplete events",
		"tracked", len(r.tracked),
		"queued", len(events),
	)

	for _, e := range r.tracked {
		r.cancel(e)
	}
	r.tracked = nil

	for _, e := range events {
		r.cancel(e)
	}
	return nil
}

func (r *Reaper) cancel(e event.Event) {
	if e.Completion().Cancel() {
		r.logger.Debug("cancelled event since the owner is closing",
			"kind", e.Kind(),
			"id", e.ID(),
		)
	}
}

// Size returns the number of currently tracked events. Diagnostics only.
func (r *Reaper) Size() int {
	return len(r.tracked)
}
