// Package queue implements a bounded, order-preserving, thread-safe FIFO
// with blocking, timed-blocking, and non-blocking push/pop operations.
//
// Capacity exhaustion is backpressure, not an error: Push blocks only while
// the queue is full, Pop blocks only while it is empty. Deadlines are
// absolute, so retry loops can carry one deadline across several calls.
package queue

import (
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a closed queue. Pop drains buffered
// items before reporting it.
var ErrClosed = errors.New("queue: closed")

// ErrTimeout is returned by deadline operations when the deadline passes
// while the queue is still full (push) or empty (pop).
var ErrTimeout = errors.New("queue: deadline exceeded")

// Queue is a bounded FIFO of T. Create instances with New; the zero value is
// not usable.
type Queue[T any] struct {
	ch   chan T
	done chan struct{}
	once sync.Once
}

// New creates a queue holding at most capacity items. It panics when
// capacity is not positive.
func New[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("queue: capacity must be positive")
	}

	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// Cap returns the fixed capacity of the queue.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Len returns the number of items currently buffered.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Push appends v, blocking while the queue is full. It returns ErrClosed
// once the queue is closed.
func (q *Queue[T]) Push(v T) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrClosed
	}
}

// TryPush appends v without blocking. It returns false when the queue is
// full or closed.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// PushDeadline appends v, blocking until space is available, the queue is
// closed, or the absolute deadline passes.
func (q *Queue[T]) PushDeadline(v T, deadline time.Time) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	// Fast path before arming a timer.
	select {
	case q.ch <- v:
		return nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case q.ch <- v:
		return nil
	case <-q.done:
		return ErrClosed
	case <-timer.C:
		return ErrTimeout
	}
}

// Pop removes and returns the oldest item, blocking while the queue is
// empty. After Close it keeps returning buffered items until the queue is
// drained, then reports ErrClosed.
func (q *Queue[T]) Pop() (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-q.done:
		return q.drain()
	}
}

// TryPop removes and returns the oldest item without blocking. ok is false
// when the queue is empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// PopDeadline removes and returns the oldest item, blocking until one is
// available, the queue is closed and drained, or the absolute deadline
// passes.
func (q *Queue[T]) PopDeadline(deadline time.Time) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	default:
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case v := <-q.ch:
		return v, nil
	case <-q.done:
		return q.drain()
	case <-timer.C:
		var zero T
		return zero, ErrTimeout
	}
}

func (q *Queue[T]) drain() (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	default:
		var zero T
		return zero, ErrClosed
	}
}

// Close marks the queue closed: pending and future pushes fail with
// ErrClosed, pops drain the remaining items and then fail with ErrClosed.
// Close is idempotent and safe to call from any goroutine.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}
