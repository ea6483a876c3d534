package kv

import (
	"context"
	"sync"
)

// WriteQueue serializes calls to a write function so that at most one
// is in flight at a time, coalescing concurrent callers onto whichever
// write is currently pending or about to start. The state manager
// (whose batches also carry the dirty connection rows), the schedule
// manager, and the queue manager each hold one, all backed by this
// single implementation since every call site is "serialize batches
// written to the same KV driver."
type WriteQueue struct {
	mu      sync.Mutex
	pending *pendingWrite
}

type pendingWrite struct {
	done chan struct{}
	err  error
}

// Do runs fn when no write is pending on this queue. If a write is
// already pending when Do is called, the new caller does not run its fn
// at all: it waits for the pending write and returns that write's
// result. Coalescing of dirty notifications happens before Do, in the
// state manager's save timer; Do only sees the write that timer issues.
func (q *WriteQueue) Do(ctx context.Context, fn func(context.Context) error) error {
	q.mu.Lock()
	if q.pending != nil {
		p := q.pending
		q.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p := &pendingWrite{done: make(chan struct{})}
	q.pending = p
	q.mu.Unlock()

	err := fn(ctx)

	q.mu.Lock()
	if q.pending == p {
		q.pending = nil
	}
	q.mu.Unlock()

	p.err = err
	close(p.done)
	return err
}
