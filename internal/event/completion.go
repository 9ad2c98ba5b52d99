package event

import (
	"errors"
	"sync/atomic"
)

// ErrCancelled is the terminal error of a cancelled completion.
var ErrCancelled = errors.New("operation cancelled")

// State is the tagged state of a completion handle.
type State int32

// Completion states. Pending is the only non-terminal state; exactly one
// transition out of it ever succeeds.
const (
	StatePending State = iota
	StateSucceeded
	StateFailed
	StateCancelled
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Completion is a single-assignment completion slot. It starts pending and
// transitions exactly once to succeeded, failed, or cancelled; the transition
// is a compare-and-set out of pending, so concurrent resolvers race safely
// and losers observe false. The first resolution always wins and is never
// overwritten.
//
// Value and Err must only be read after the Done channel is closed (or from
// the on-done hook); the winning resolver writes them before closing Done.
type Completion struct {
	state  atomic.Int32
	done   chan struct{}
	value  any
	err    error
	onDone func(*Completion)
}

// NewCompletion returns a new pending completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// NotifyOnDone registers fn to run exactly once, on the goroutine that wins
// the resolution race, after the terminal result is readable. It must be
// called before the completion is shared with other goroutines.
func (c *Completion) NotifyOnDone(fn func(*Completion)) {
	c.onDone = fn
}

// Succeed resolves the completion with a value. Returns false if the
// completion was already terminal.
func (c *Completion) Succeed(value any) bool {
	return c.resolve(StateSucceeded, value, nil)
}

// Fail resolves the completion with an error. Returns false if the
// completion was already terminal.
func (c *Completion) Fail(err error) bool {
	return c.resolve(StateFailed, nil, err)
}

// Cancel resolves the completion as cancelled. Cancellation is a request to
// interrupt the underlying work; it is honored cooperatively via the on-done
// hook (which cancels the work's context). Returns false if the completion
// was already terminal.
func (c *Completion) Cancel() bool {
	return c.resolve(StateCancelled, nil, ErrCancelled)
}

func (c *Completion) resolve(target State, value any, err error) bool {
	if !c.state.CompareAndSwap(int32(StatePending), int32(target)) {
		return false
	}
	c.value = value
	c.err = err
	close(c.done)
	if c.onDone != nil {
		c.onDone(c)
	}
	return true
}

// State returns the current state. Side-effect-free and safe to call from
// any goroutine.
func (c *Completion) State() State {
	return State(c.state.Load())
}

// IsDone reports whether the completion has reached a terminal state.
func (c *Completion) IsDone() bool {
	return c.State() != StatePending
}

// Done returns a channel closed once the completion is terminal and its
// result is readable.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Value returns the success value. Only valid after Done is closed.
func (c *Completion) Value() any {
	return c.value
}

// Err returns the terminal error: nil for success, ErrCancelled for
// cancellation. Only valid after Done is closed.
func (c *Completion) Err() error {
	return c.err
}
