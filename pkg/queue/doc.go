/*
Package queue provides the bounded job buffer between the update listener
and the worker pool.

# Architecture

	listener ──Enqueue──▶ ┌─────────────────────┐ ──Dequeue──▶ workers
	 (blocks when full)   │ chan DocumentEvent  │   (blocks when empty)
	                      │ capacity Q          │
	                      └─────────────────────┘
	                             Close(): stop intake, drain remainder

The buffer is a plain channel; what the type adds is the close protocol.
Close stops intake immediately but buffered events stay dequeueable, so a
shutting-down service finishes the work it already accepted. Only after
the buffer empties does Dequeue report ErrClosed, which is the workers'
signal to exit.

Backpressure is deliberate: a full queue blocks the listener's update
handler rather than dropping documents. Durable dedup makes a missed
document permanent, a slow one merely late.

# Core Components

Queue:
  - New(capacity): a fixed-size buffer, capacity validated by config
  - Enqueue: blocks when full; fails with ErrClosed after Close, or the
    context error when the caller gives up first
  - Dequeue: blocks when empty; after Close it drains the remainder,
    then reports ErrClosed
  - Close: idempotent; stops intake, never discards accepted events
  - Len / Cap: depth for logs and the drain decision

ErrClosed:
  - The single sentinel both sides branch on
  - For workers it means "no more work ever", the clean exit signal

# Usage

	q := queue.New(cfg.QueueCapacity)

	// listener side
	if err := q.Enqueue(ctx, ev); err != nil {
		return err // shutting down or caller cancelled
	}

	// worker side
	for {
		ev, err := q.Dequeue(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return // drained and closed
		}
		if err != nil {
			return // context cancelled
		}
		process(ev)
	}

# Design Patterns

Channel With a Close Protocol:
  - The channel carries the data; a done channel carries the decision
  - Close-then-drain gives shutdown its ordering guarantee without locks
    around the hot path

Block, Don't Drop:
  - The only overflow behavior is waiting
  - Loss needs an explicit decision by the caller (a cancelled context),
    never a silent policy in the buffer

# Monitoring

  - magpie_queue_depth: sustained high values mean workers cannot keep
    up with the channel's posting rate
  - magpie_queue_enqueued_total vs magpie_queue_dequeued_total: the gap
    is the depth and should stay small

# See Also

  - pkg/pipeline for the worker loop consuming this buffer
  - pkg/supervisor for when Close is called during shutdown
*/
package queue
