package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Push after the consumer has gone away.
var ErrQueueClosed = errors.New("queue closed")

// ErrQueueDrained is returned by Pop once the producer has finished and
// every queued item has been taken.
var ErrQueueDrained = errors.New("queue drained")

// Overflow selects what Push does when the queue is full.
type Overflow string

const (
	// OverflowDropOldest discards the oldest item to make room.
	OverflowDropOldest Overflow = "drop-oldest"
	// OverflowBlock waits for the consumer.
	OverflowBlock Overflow = "block"
)

// DefaultQueueSize is the capacity used when none is configured.
const DefaultQueueSize = 64

// ParseOverflow converts a configuration value. Empty means drop-oldest.
func ParseOverflow(s string) (Overflow, error) {
	switch Overflow(s) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, nil
	case OverflowBlock:
		return OverflowBlock, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Queue is a bounded single-producer single-consumer queue.
//
// The consumer closes the queue when it stops; the producer then gets
// ErrQueueClosed instead of blocking forever. The producer calls Finish
// after its last Push; the consumer then drains what is left.
type Queue[T any] struct {
	items    chan T
	overflow Overflow
	done     chan struct{}
	once     sync.Once
	finished chan struct{}
	finOnce  sync.Once
	dropped  atomic.Int64
}

// NewQueue returns a queue holding up to size items.
func NewQueue[T any](size int, overflow Overflow) *Queue[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if overflow == "" {
		overflow = OverflowDropOldest
	}
	return &Queue[T]{
		items:    make(chan T, size),
		overflow: overflow,
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Push adds v. With OverflowDropOldest it never waits; with OverflowBlock it
// waits until there is room, ctx is done or the queue is closed.
func (q *Queue[T]) Push(ctx context.Context, v T) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	if q.overflow == OverflowBlock {
		select {
		case q.items <- v:
			return nil
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case q.items <- v:
			return nil
		default:
		}
		// Full: make room. The consumer may win the race, which is fine.
		select {
		case <-q.items:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop removes the oldest item, waiting until one is available or ctx is
// done. After Finish it returns ErrQueueDrained once the queue is empty.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-q.items:
		return v, nil
	case <-q.finished:
		// No more pushes; anything still buffered is delivered first.
		select {
		case v := <-q.items:
			return v, nil
		default:
			return zero, ErrQueueDrained
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Finish marks the producer as done. It is safe to call more than once.
func (q *Queue[T]) Finish() {
	q.finOnce.Do(func() { close(q.finished) })
}

// Close marks the consumer as gone. It is safe to call more than once.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Dropped returns how many items were discarded to make room.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
