package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Ring is a fixed size queue with a read index (base) and a write index (top)
// modulo s. Push never blocks: when the ring is full the oldest unread item is
// overwritten. Pop never blocks either: it reports false when the ring is
// empty. Consumers are expected to poll on their own tick.
type Ring[T any] struct {
	name string

	// s is the number of slots. It is one larger than the capacity so that
	// a full ring (top one behind base) can be told apart from an empty
	// ring (top equal to base).
	s int

	// content always has length s. Slots outside [base, top) hold the zero
	// value so that popped items are not retained.
	content []T

	// base is the index of the oldest unread item.
	base int

	// top is the index the next pushed item will be written to.
	top int

	// overflows counts the items lost to overwrite.
	overflows uint64

	overflowCounter prometheus.Counter

	mu sync.Mutex
}

// RingOption configures optional behaviour of a Ring.
type RingOption[T any] func(r *Ring[T])

// WithOverflowCounter mirrors every overwrite of an unread item into the given
// counter.
func WithOverflowCounter[T any](c prometheus.Counter) RingOption[T] {
	return func(r *Ring[T]) {
		r.overflowCounter = c
	}
}

// NewRing creates a ring able to hold capacity items. A capacity below one is
// raised to one.
func NewRing[T any](name string, capacity int, opts ...RingOption[T]) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}

	r := &Ring[T]{
		name:    name,
		s:       capacity + 1,
		content: make([]T, capacity+1),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Name returns the name the ring was created with.
func (r *Ring[T]) Name() string {
	return r.name
}

// Cap returns the number of items the ring can hold.
func (r *Ring[T]) Cap() int {
	return r.s - 1
}

// Len returns the number of unread items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sizeUnsafe()
}

// sizeUnsafe computes the number of unread items.
//
// NOTE: the caller must hold mu.
func (r *Ring[T]) sizeUnsafe() int {
	if r.top >= r.base {
		return r.top - r.base
	}

	return r.top + (r.s - r.base)
}

// Push appends an item. If the ring is full the oldest unread item is dropped
// and the overflow count is bumped.
func (r *Ring[T]) Push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.content[r.top] = item
	r.top = (r.top + 1) % r.s

	if r.top != r.base {
		return
	}

	// The write index caught up with the read index. Drop the oldest unread
	// item so one slot stays free.
	var zero T
	r.base = (r.base + 1) % r.s
	r.content[r.top] = zero
	r.overflows++

	if r.overflowCounter != nil {
		r.overflowCounter.Inc()
	}

	log.Debugf("Queue %s full, oldest item overwritten (overflows=%d)",
		r.name, r.overflows)
}

// Pop removes and returns the oldest unread item. The second return value is
// false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.base == r.top {
		return zero, false
	}

	item := r.content[r.base]
	r.content[r.base] = zero
	r.base = (r.base + 1) % r.s

	return item, true
}

// Overflows returns how many unread items have been lost to overwrite since
// the ring was created.
func (r *Ring[T]) Overflows() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.overflows
}

// Reset drops all unread items. The overflow count is kept.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.content {
		r.content[i] = zero
	}
	r.base = 0
	r.top = 0
}
