package dispatch

import "sync"

// subscriberBufferSize is the channel buffer for each status subscriber.
// Updates are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// StatusBroker fans out per-operation status updates to subscribers.
// It is safe for concurrent use.
//
// Closed topics are retained as markers so that late subscribers (those
// subscribing after an operation finishes) receive a closed channel instead
// of blocking forever. Each marker is a few bytes, which is acceptable for
// the expected operation volume.
type StatusBroker struct {
	mu     sync.Mutex
	topics map[string]*statusTopic
}

type statusTopic struct {
	subs   map[int]chan string
	nextID int
	closed bool
}

// NewStatusBroker creates a new status broker.
func NewStatusBroker() *StatusBroker {
	return &StatusBroker{
		topics: make(map[string]*statusTopic),
	}
}

// Subscribe returns a channel that receives status updates for the given
// operation and an unsubscribe function. If the operation has already
// finished (Close was called), the returned channel is immediately closed.
func (b *StatusBroker) Subscribe(operationID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		t = &statusTopic{subs: make(map[int]chan string)}
		b.topics[operationID] = t
	}

	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends a status update to all subscribers of the given operation.
// Updates are dropped for subscribers whose buffers are full.
func (b *StatusBroker) Publish(operationID string, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- status:
		default:
			// Drop update for slow subscribers to avoid blocking completion.
		}
	}
}

// Close signals that no more updates will be published for the given
// operation. All subscriber channels are closed and future Subscribe calls
// return a closed channel.
func (b *StatusBroker) Close(operationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[operationID]
	if !ok {
		// Create a closed marker so late subscribers get a closed channel.
		b.topics[operationID] = &statusTopic{subs: make(map[int]chan string), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
