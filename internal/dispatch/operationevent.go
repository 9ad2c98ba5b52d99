package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/tether/internal/event"
	"github.com/seantiz/tether/internal/model"
)

// operationEvent pairs an operation record with its completion handle and
// deadline. It is the event.Event implementation tracked by the reaper.
//
// The execution context is derived from the deadline and cancelled by the
// completion's on-done hook, so a force-failed or cancelled operation has
// its in-flight handler interrupted cooperatively.
type operationEvent struct {
	deadline   time.Time
	completion *event.Completion
	ctx        context.Context
	cancel     context.CancelFunc

	// seq numbers the operation's persisted status transitions.
	seq atomic.Int32

	// mu guards op and lastStatus; they are written by the driver goroutine
	// and by whichever goroutine wins the completion race.
	mu         sync.Mutex
	op         *model.Operation
	lastStatus string
}

func newOperationEvent(op *model.Operation, deadline time.Time) *operationEvent {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	return &operationEvent{
		deadline:   deadline,
		completion: event.NewCompletion(),
		ctx:        ctx,
		cancel:     cancel,
		op:         op,
		lastStatus: op.Status,
	}
}

func (e *operationEvent) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.op.ID
}

func (e *operationEvent) Kind() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.op.Kind
}

func (e *operationEvent) Deadline() time.Time { return e.deadline }

func (e *operationEvent) Completion() *event.Completion { return e.completion }

// nextSeq returns the next transition sequence number, starting at 0.
func (e *operationEvent) nextSeq() int {
	return int(e.seq.Add(1) - 1)
}
