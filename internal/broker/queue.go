package broker

import (
	"context"
	"sync"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
)

// ErrQueueClosed is returned by Push and Pop once a queue is closed.
var ErrQueueClosed = herrors.New(herrors.ErrCategoryInternal, herrors.CodeClosed, "queue closed")

// Queue is an unbounded FIFO safe for many producers and consumers.
// Push never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds one token while items may be waiting
	ready chan struct{}
	done  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends v.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Pop removes the oldest item, waiting until one is available, the queue
// is closed and drained, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				// pass the token on to the next waiting consumer
				q.signal()
			}
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of waiting items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
