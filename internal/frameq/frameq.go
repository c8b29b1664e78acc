// Package frameq provides the bounded, drop-when-full queues that connect
// the pipeline stages. Dropping instead of blocking is the backpressure
// policy: a slow stage costs frames, never latency.
package frameq

// Capacity is the depth of every inter-stage queue.
const Capacity = 2

// Queue is a fixed-capacity queue with non-blocking put and get.
type Queue[T any] struct {
	ch chan T
}

// New creates a queue with the given capacity.
func New[T any](capacity int) *Queue[T] {
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPut enqueues v if there is room and reports whether it was accepted.
// It never blocks; the caller owns v (and must release it) when false.
func (q *Queue[T]) TryPut(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// TryGet dequeues the oldest item if one is available. It never blocks.
func (q *Queue[T]) TryGet() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Drain removes every queued item, calling release on each. It is used at
// shutdown so no writer can be stuck against a full queue and no Mat leaks.
func (q *Queue[T]) Drain(release func(T)) {
	for {
		v, ok := q.TryGet()
		if !ok {
			return
		}
		if release != nil {
			release(v)
		}
	}
}
