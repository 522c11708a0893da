package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/corvusec/magpie/pkg/metrics"
	"github.com/corvusec/magpie/pkg/types"
)

// ErrClosed is returned by Enqueue once the queue is closed, and by
// Dequeue once it is closed and fully drained.
var ErrClosed = errors.New("queue closed")

// Queue is the bounded buffer between the listener and the worker pool.
// A full queue blocks the producer, so backpressure propagates into the
// update loop instead of dropping events.
type Queue struct {
	ch        chan types.DocumentEvent
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue with the given capacity. Capacities below one are
// raised to one.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan types.DocumentEvent, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue adds an event, blocking while the buffer is full. It returns
// ctx.Err() when the context ends first and ErrClosed after Close. An
// enqueue racing Close may still be accepted; such events are delivered
// during the drain.
func (q *Queue) Enqueue(ctx context.Context, ev types.DocumentEvent) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}

	select {
	case q.ch <- ev:
		metrics.QueueEnqueued.Inc()
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest event, blocking while the queue is empty.
// After Close it keeps returning buffered events until the queue is empty,
// then reports ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (types.DocumentEvent, error) {
	select {
	case ev := <-q.ch:
		metrics.QueueDequeued.Inc()
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return ev, nil
	case <-ctx.Done():
		return types.DocumentEvent{}, ctx.Err()
	case <-q.done:
		// Drain whatever is still buffered before reporting closed.
		select {
		case ev := <-q.ch:
			metrics.QueueDequeued.Inc()
			metrics.QueueDepth.Set(float64(len(q.ch)))
			return ev, nil
		default:
			return types.DocumentEvent{}, ErrClosed
		}
	}
}

// Close stops accepting new events. Safe to call more than once. Buffered
// events remain dequeueable.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len reports the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap reports the buffer capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
