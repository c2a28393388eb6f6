// Package queue provides an unbounded, order-preserving FIFO queue used to
// decouple broker message callbacks from downstream consumers. The broker
// callback must enqueue and return fast; the consumer drains at its own
// pace without ever blocking the producer.
package queue

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO for a single logical consumer fed by one or
// more producers. Pop blocks until an item arrives, the context is
// cancelled, or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	signal chan struct{}
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
	}
}

// Push appends an item. Push never blocks. Pushing to a closed queue is a
// no-op so late broker callbacks during teardown are harmless.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest item, blocking until one is
// available. Returns false if the context is cancelled or the queue is
// closed and drained.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, false
		}

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.signal:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes any blocked Pop. Items already
// queued remain poppable until drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}
