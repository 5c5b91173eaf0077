package ingest

import "context"

// Queue is a bounded FIFO between the subscriber and the writer. Put blocks
// when the queue is full, which stalls the MQTT receive path; the broker's
// QoS 2 redelivery provides the retry. Nothing is dropped at this boundary.
type Queue[T any] struct {
	ch chan T
}

func NewQueue[T any](size int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, size)}
}

// Put appends an item, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryGet removes the oldest item without blocking.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case item := <-q.ch:
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the current queue depth.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}
