package seda

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fxsml/goroute/exchange"
)

var (
	// ErrQueueFull is returned by Offer when a bounded queue is at capacity.
	ErrQueueFull = errors.New("seda: queue full")
	// ErrQueueClosed is returned when the queue no longer accepts or yields exchanges.
	ErrQueueClosed = errors.New("seda: queue closed")
)

// Queue is a FIFO hand-off of exchanges between producers and workers.
// A capacity of 0 makes the queue unbounded.
type Queue struct {
	capacity int

	mu      sync.Mutex
	items   []*exchange.Exchange
	closed  bool
	changed chan struct{}
}

// NewQueue creates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: max(capacity, 0),
		changed:  make(chan struct{}),
	}
}

// notify wakes all waiters. Must be called with mu held.
func (q *Queue) notify() {
	close(q.changed)
	q.changed = make(chan struct{})
}

func (q *Queue) full() bool {
	return q.capacity > 0 && len(q.items) >= q.capacity
}

// Offer enqueues ex without blocking.
func (q *Queue) Offer(ex *exchange.Exchange) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.full() {
		return ErrQueueFull
	}
	q.items = append(q.items, ex)
	q.notify()
	return nil
}

// Put enqueues ex, waiting for space while the queue is full.
func (q *Queue) Put(ctx context.Context, ex *exchange.Exchange) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if !q.full() {
			q.items = append(q.items, ex)
			q.notify()
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Poll dequeues the oldest exchange, waiting up to timeout. It returns nil
// without error on timeout and ErrQueueClosed once the queue is closed and
// empty.
func (q *Queue) Poll(ctx context.Context, timeout time.Duration) (*exchange.Exchange, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ex := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.notify()
			q.mu.Unlock()
			return ex, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close rejects further exchanges. Queued exchanges can still be polled or drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.notify()
	}
}

// Drain removes and returns all queued exchanges.
func (q *Queue) Drain() []*exchange.Exchange {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if len(items) > 0 {
		q.notify()
	}
	return items
}

// CloseAndDrain closes the queue and removes all queued exchanges in one
// step, so no worker dequeues an exchange in between.
func (q *Queue) CloseAndDrain() []*exchange.Exchange {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	if !q.closed || len(items) > 0 {
		q.closed = true
		q.notify()
	}
	return items
}

// Reopen accepts exchanges again after Close.
func (q *Queue) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.closed = false
		q.notify()
	}
}

// Len returns the number of queued exchanges.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the queue capacity, 0 meaning unbounded.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Closed reports whether the queue rejects new exchanges.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
