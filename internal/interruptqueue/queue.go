// Package interruptqueue buffers UI-originated events that arrive while a
// turn cannot act on them immediately (mid-stream, mid-tool-call), so they
// can be applied once the turn reaches a safe write-cycle boundary.
package interruptqueue

import "sync"

// Queue is a mutex-guarded FIFO of deferred events. A single precisely-scoped
// buffer like this doesn't warrant a third-party queue library — the whole
// contract is "defer now, flush later, preserve order".
type Queue struct {
	mu      sync.Mutex
	pending []any
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// DeferOrHandle either runs immediate synchronously (when the queue is empty
// and nothing is pending ahead of event) or appends event to the back of the
// queue for a later FlushAll. Ordering is preserved: once anything is queued,
// subsequent events queue too rather than jumping ahead of pending work.
func (q *Queue) DeferOrHandle(event any, immediate func()) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		immediate()
		return
	}
	q.pending = append(q.pending, event)
	q.mu.Unlock()
}

// Defer unconditionally appends event to the queue.
func (q *Queue) Defer(event any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, event)
}

// FlushAll drains the queue in FIFO order, passing each event to handle.
func (q *Queue) FlushAll(handle func(event any)) {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, event := range drained {
		handle(event)
	}
}

// Len returns the number of events currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
