package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/tether/internal/event"
	"github.com/seantiz/tether/internal/handler"
	"github.com/seantiz/tether/internal/model"
	"github.com/seantiz/tether/internal/reaper"
	"github.com/seantiz/tether/internal/store"
)

// Defaults for Options fields left zero.
const (
	DefaultSweepInterval = 250 * time.Millisecond
	DefaultTimeout       = 30 * time.Second
	DefaultQueueCapacity = 1024
)

// ErrClosed is returned by Submit after Close has begun.
var ErrClosed = errors.New("dispatcher is closed")

// ErrQueueFull is returned by Submit when the intake queue is at capacity.
// The operation record is persisted as failed before Submit returns.
var ErrQueueFull = errors.New("intake queue is full")

// Options configures a Dispatcher.
type Options struct {
	// SweepInterval is how often the reaper sweeps tracked operations.
	SweepInterval time.Duration

	// DefaultTimeout applies to operations submitted without their own.
	DefaultTimeout time.Duration

	// QueueCapacity bounds the intake queue.
	QueueCapacity int
}

func (o Options) withDefaults() Options {
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	return o
}

// Dispatcher owns the operation lifecycle: intake, execution, expiry, and
// shutdown cancellation. All reaper calls happen on its single driver
// goroutine; completion handles resolve concurrently from handler goroutines
// and API cancellations, which the handles tolerate by design.
type Dispatcher struct {
	store    store.Store
	registry *handler.Registry
	logger   *slog.Logger
	reaper   *reaper.Reaper
	broker   *StatusBroker
	opts     Options

	intake chan *operationEvent

	// mu serializes Submit against the closed flag so no event can slip
	// into the intake queue after Close has drained it.
	mu     sync.RWMutex
	closed bool

	liveMu sync.Mutex
	live   map[string]*operationEvent

	// tracked mirrors reaper.Size() for lock-free reads off the driver
	// goroutine (the reaper itself is single-driver only).
	tracked atomic.Int64

	wg       sync.WaitGroup
	quit     chan struct{}
	loopDone chan struct{}
	started  atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a dispatcher. Call Start to begin processing and Close to shut
// down.
func New(s store.Store, reg *handler.Registry, logger *slog.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		store:    s,
		registry: reg,
		logger:   logger,
		reaper:   reaper.New(logger),
		broker:   NewStatusBroker(),
		opts:     opts,
		intake:   make(chan *operationEvent, opts.QueueCapacity),
		live:     make(map[string]*operationEvent),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Broker returns the dispatcher's status broker for SSE subscription.
func (d *Dispatcher) Broker() *StatusBroker {
	return d.broker
}

// Start launches the driver goroutine. It is safe to call once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.run()
	})
}

// Submit persists a pending operation record, builds its completable event,
// and enqueues it for the driver. The operation's deadline is computed here:
// now plus its timeout (or the configured default). Returns ErrClosed after
// shutdown has begun and ErrQueueFull when the intake queue is saturated; in
// the latter case the record is persisted as failed.
func (d *Dispatcher) Submit(ctx context.Context, op *model.Operation) error {
	timeout := d.opts.DefaultTimeout
	if op.TimeoutMS != nil && *op.TimeoutMS > 0 {
		timeout = time.Duration(*op.TimeoutMS) * time.Millisecond
	}

	now := time.Now().UTC()
	op.Status = model.StatusPending
	op.CreatedAt = now
	op.Deadline = now.Add(timeout)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	if err := d.store.CreateOperation(ctx, op); err != nil {
		return fmt.Errorf("create operation: %w", err)
	}

	ev := newOperationEvent(op, op.Deadline)
	if err := d.store.InsertTransition(ctx, op.ID, ev.nextSeq(), "", model.StatusPending, "submitted"); err != nil {
		d.logger.Error("record transition", "operation_id", op.ID, "error", err)
	}

	ev.completion.NotifyOnDone(d.finish(ev))

	d.liveMu.Lock()
	d.live[op.ID] = ev
	d.liveMu.Unlock()

	select {
	case d.intake <- ev:
		operationsSubmitted.WithLabelValues(op.Kind).Inc()
		intakeDepth.Set(float64(len(d.intake)))
		return nil
	default:
		// Queue saturated. Failing the handle routes through the normal
		// terminal path, so the record and metrics stay consistent.
		ev.completion.Fail(ErrQueueFull)
		return ErrQueueFull
	}
}

// Cancel requests cancellation of a live operation. Returns false if the
// operation is unknown or already terminal. Cancelling an already-resolved
// operation is a no-op.
func (d *Dispatcher) Cancel(id string) bool {
	d.liveMu.Lock()
	ev, ok := d.live[id]
	d.liveMu.Unlock()
	if !ok {
		return false
	}
	return ev.completion.Cancel()
}

// TrackedEvents returns the number of events currently tracked by the
// reaper. Diagnostics only.
func (d *Dispatcher) TrackedEvents() int {
	return int(d.tracked.Load())
}

// QueueDepth returns the number of operations waiting in the intake queue.
func (d *Dispatcher) QueueDepth() int {
	return len(d.intake)
}

// Close stops the driver, cancels every outstanding operation — both those
// tracked by the reaper and those still sitting in the intake queue — and
// waits for in-flight handler goroutines to return. Safe to call more than
// once.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()

		close(d.quit)
		if d.started.Load() {
			<-d.loopDone
		}

		// Events still in the queue were never tracked; hand them to the
		// reaper alongside the tracked set.
		queued := make([]event.Event, 0, len(d.intake))
		for {
			select {
			case ev := <-d.intake:
				queued = append(queued, ev)
			default:
				if err := d.reaper.ReapIncomplete(queued); err != nil {
					d.logger.Error("reap incomplete events", "error", err)
				}
				d.tracked.Store(0)
				d.wg.Wait()
				d.logger.Info("dispatcher closed", "queued_cancelled", len(queued))
				return
			}
		}
	})
}

// run is the driver loop. It is the only goroutine that touches the reaper.
func (d *Dispatcher) run() {
	defer close(d.loopDone)

	ticker := time.NewTicker(d.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.quit:
			return
		case ev := <-d.intake:
			d.launch(ev)
		case <-ticker.C:
			d.reaper.ReapExpiredAndCompleted(time.Now())
			d.tracked.Store(int64(d.reaper.Size()))
			reaperTracked.Set(float64(d.reaper.Size()))
			sweepsTotal.Inc()
		}
	}
}

// launch registers an event with the reaper and starts handler execution on
// a worker goroutine.
func (d *Dispatcher) launch(ev *operationEvent) {
	intakeDepth.Set(float64(len(d.intake)))

	if err := d.reaper.Add(ev); err != nil {
		d.logger.Error("track event", "operation_id", ev.ID(), "error", err)
		return
	}
	d.tracked.Store(int64(d.reaper.Size()))
	reaperTracked.Set(float64(d.reaper.Size()))

	if ev.completion.IsDone() {
		// Cancelled while queued; the next sweep prunes it.
		return
	}

	h, err := d.registry.Resolve(ev.Kind())
	if err != nil {
		ev.completion.Fail(err)
		return
	}

	spec := d.markRunning(ev)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		res, err := h.Execute(ev.ctx, spec)
		if err != nil {
			ev.completion.Fail(err)
			return
		}
		ev.completion.Succeed(res)
	}()
}

// markRunning transitions the operation to running and returns the spec for
// handler execution.
func (d *Dispatcher) markRunning(ev *operationEvent) handler.OperationSpec {
	now := time.Now().UTC()

	ev.mu.Lock()
	from := ev.lastStatus
	ev.op.Status = model.StatusRunning
	ev.op.StartedAt = &now
	ev.lastStatus = model.StatusRunning
	spec := handler.OperationSpec{
		ID:       ev.op.ID,
		Kind:     ev.op.Kind,
		Payload:  ev.op.Payload,
		Deadline: ev.deadline,
	}
	id := ev.op.ID
	ev.mu.Unlock()

	ctx := context.Background()
	if err := d.store.UpdateOperationStatus(ctx, id, model.StatusRunning); err != nil {
		d.logger.Error("mark operation running", "operation_id", id, "error", err)
	}
	if err := d.store.InsertTransition(ctx, id, ev.nextSeq(), from, model.StatusRunning, ""); err != nil {
		d.logger.Error("record transition", "operation_id", id, "error", err)
	}
	d.broker.Publish(id, model.StatusRunning)

	return spec
}

// finish builds the on-done hook for an event. The hook runs exactly once on
// whichever goroutine wins the completion race: a handler goroutine on
// success or failure, the driver during a sweep or shutdown, or an API
// goroutine on cancellation. It interrupts any in-flight execution, persists
// the terminal record, and publishes the final status.
func (d *Dispatcher) finish(ev *operationEvent) func(*event.Completion) {
	return func(c *event.Completion) {
		ev.cancel()

		now := time.Now().UTC()

		ev.mu.Lock()
		from := ev.lastStatus
		ev.op.FinishedAt = &now
		if ev.op.StartedAt != nil {
			durationMS := int(now.Sub(*ev.op.StartedAt).Milliseconds())
			ev.op.DurationMS = &durationMS
		}

		switch c.State() {
		case event.StateSucceeded:
			ev.op.Status = model.StatusSucceeded
			if res, ok := c.Value().(handler.OperationResult); ok {
				ev.op.Result = res.Output
				code := res.Code
				ev.op.Code = &code
			}
		case event.StateFailed:
			var te *event.TimeoutError
			if errors.As(c.Err(), &te) {
				ev.op.Status = model.StatusExpired
				overrunMS := int(te.Overrun.Milliseconds())
				ev.op.OverrunMS = &overrunMS
			} else {
				ev.op.Status = model.StatusFailed
			}
			ev.op.Error = c.Err().Error()
		case event.StateCancelled:
			// Expected during shutdown; not an error.
			ev.op.Status = model.StatusCancelled
		}

		ev.lastStatus = ev.op.Status
		final := *ev.op
		ev.mu.Unlock()

		ctx := context.Background()
		if err := d.store.UpdateOperation(ctx, &final); err != nil {
			d.logger.Error("persist operation result", "operation_id", final.ID, "error", err)
		}
		if err := d.store.InsertTransition(ctx, final.ID, ev.nextSeq(), from, final.Status, final.Error); err != nil {
			d.logger.Error("record transition", "operation_id", final.ID, "error", err)
		}

		d.liveMu.Lock()
		delete(d.live, final.ID)
		d.liveMu.Unlock()

		d.broker.Publish(final.ID, final.Status)
		d.broker.Close(final.ID)

		operationsCompleted.WithLabelValues(final.Kind, final.Status).Inc()
		if final.DurationMS != nil {
			operationDuration.WithLabelValues(final.Kind).Observe(float64(*final.DurationMS) / 1000)
		}
	}
}
