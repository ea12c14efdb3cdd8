package relay

import (
	"context"
	"sync"
)

// Queue is a bounded FIFO with context-aware blocking operations. Unlike a
// buffered channel it lets a consumer inspect the head without removing it.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	// changed is closed and replaced on every mutation to wake waiters
	changed chan struct{}
}

// NewQueue creates a queue holding at most capacity items
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
	}
}

func (q *Queue[T]) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends v, blocking while the queue is full
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	for {
		q.mu.Lock()
		if len(q.items) < q.capacity {
			q.items = append(q.items, v)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Peek returns the head without removing it, blocking while the queue is empty
func (q *Queue[T]) Peek(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.mu.Unlock()
			return v, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Take removes and returns the head, blocking while the queue is empty
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.popLocked()
			q.mu.Unlock()
			return v, nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-wait:
		}
	}
}

// Pop removes and returns the head without blocking
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

func (q *Queue[T]) popLocked() T {
	var zero T
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.broadcast()
	return v
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the capacity
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// Remaining returns the number of free slots
func (q *Queue[T]) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.items)
}
