package engine

import (
	"sync"

	"github.com/roach88/tablet/internal/datastore"
)

// commitQueue is a thread-safe FIFO of commit events waiting to be applied
// to the scheduler's timers.
//
// Datastore listeners run under the commit lock, so the scheduler's
// listener only enqueues. The queue is unbounded so a commit never blocks
// on the scheduler.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type commitQueue struct {
	mu     sync.Mutex
	events []datastore.CommitEvent
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newCommitQueue() *commitQueue {
	return &commitQueue{
		events: make([]datastore.CommitEvent, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *commitQueue) Enqueue(e datastore.CommitEvent) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (CommitEvent{}, false) if queue is empty.
func (q *commitQueue) TryDequeue() (datastore.CommitEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return datastore.CommitEvent{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain row slices.
	q.events[0] = datastore.CommitEvent{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *commitQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *commitQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
func (q *commitQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *commitQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
