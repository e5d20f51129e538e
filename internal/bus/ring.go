// Package bus provides the lock-free inter-thread handoff primitives.
package bus

import "sync/atomic"

// Ring is a bounded single-producer single-consumer ring. Exactly one
// goroutine may push and exactly one may pop; neither blocks.
type Ring[T any] struct {
	mask uint64
	buf  []T

	_    [56]byte
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
}

// NewRing allocates a ring with capacity rounded up to a power of two.
func NewRing[T any](capacity int) *Ring[T] {
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	return &Ring[T]{mask: n - 1, buf: make([]T, n)}
}

// TryPush enqueues v. Returns false when the ring is full.
func (r *Ring[T]) TryPush(v T) bool {
	tail := r.tail.Load()
	if tail-r.head.Load() > r.mask {
		return false
	}
	r.buf[tail&r.mask] = v
	r.tail.Store(tail + 1)
	return true
}

// TryPop dequeues the oldest element. Returns false when empty.
func (r *Ring[T]) TryPop() (T, bool) {
	head := r.head.Load()
	if head == r.tail.Load() {
		var zero T
		return zero, false
	}
	v := r.buf[head&r.mask]
	var zero T
	r.buf[head&r.mask] = zero
	r.head.Store(head + 1)
	return v, true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
