package bus

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrEmpty is returned when a reader has consumed every published element.
	ErrEmpty = errors.New("multicast ring empty")
	// ErrLagged is returned when the writer overwrote elements the reader
	// had not consumed. The reader is repositioned at the oldest retained
	// element; the consumer must resynchronize via snapshot.
	ErrLagged = errors.New("multicast reader lagged")
)

type mcSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// Multicast is a single-writer broadcast ring. Readers advance independent
// cursors; a slow reader never blocks the writer but may miss elements.
type Multicast[T any] struct {
	mask  uint64
	slots []mcSlot[T]
	next  atomic.Uint64
}

// NewMulticast allocates a broadcast ring with capacity rounded up to a
// power of two.
func NewMulticast[T any](capacity int) *Multicast[T] {
	n := uint64(1)
	for n < uint64(capacity) {
		n <<= 1
	}
	return &Multicast[T]{mask: n - 1, slots: make([]mcSlot[T], n)}
}

// Publish writes v to the next slot, overwriting the oldest element.
// Only one goroutine may publish.
func (m *Multicast[T]) Publish(v T) {
	seq := m.next.Load()
	slot := &m.slots[seq&m.mask]
	slot.seq.Store(0) // mark in-flight so lagged readers cannot read a torn value
	slot.val = v
	slot.seq.Store(seq + 1)
	m.next.Store(seq + 1)
}

// Sequence returns the next sequence number to be published.
func (m *Multicast[T]) Sequence() uint64 {
	return m.next.Load()
}

// NewReader creates a cursor positioned at the next published element.
func (m *Multicast[T]) NewReader() *Reader[T] {
	return &Reader[T]{m: m, next: m.next.Load()}
}

// Reader is an independent consumer cursor over a Multicast ring.
type Reader[T any] struct {
	m    *Multicast[T]
	next uint64
}

// Poll returns the next element. ErrEmpty means fully caught up; ErrLagged
// means the writer wrapped past this cursor, which was repositioned to the
// oldest retained element.
func (r *Reader[T]) Poll() (T, error) {
	var zero T
	published := r.m.next.Load()
	if r.next == published {
		return zero, ErrEmpty
	}
	if published-r.next > r.m.mask+1 {
		r.next = published - r.m.mask - 1
		return zero, ErrLagged
	}
	slot := &r.m.slots[r.next&r.m.mask]
	if slot.seq.Load() != r.next+1 {
		// Writer is mid-overwrite on this slot.
		r.next = r.m.next.Load() - r.m.mask - 1
		return zero, ErrLagged
	}
	v := slot.val
	if slot.seq.Load() != r.next+1 {
		r.next = r.m.next.Load() - r.m.mask - 1
		return zero, ErrLagged
	}
	r.next++
	return v, nil
}

// Lag returns how many published elements this reader has not yet consumed.
func (r *Reader[T]) Lag() uint64 {
	return r.m.next.Load() - r.next
}
