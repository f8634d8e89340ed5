// Package ring implements the lock-free single-producer/single-consumer
// ring buffer that hands fixed-size records between pipeline stages
// (spec §4.1, component C1).
//
// Design, adapted from the teacher's LMAX-disruptor ring buffer
// (order-matching-engine/internal/disruptor/ring_buffer.go) but narrowed
// from multi-producer CAS coordination to single-producer/single-consumer:
// spec §4.1 only requires SPSC, so the producer side needs no CAS loop —
// a single atomic release-store of writeSeq is sufficient, and that's
// the whole point of choosing SPSC over MPSC (no contention, one fewer
// memory barrier per operation).
//
// Memory model: writeSeq and readSeq live on separate cache lines
// (padded to 128 bytes apart, per spec §4.1) to eliminate false sharing
// between the producer and consumer cores. Publication is a release
// store of writeSeq by the producer and an acquire load of writeSeq by
// the consumer (and symmetrically for readSeq); Go's sync/atomic loads
// and stores provide sequentially consistent ordering, which is at
// least as strong as the acquire/release the spec requires.
package ring

import "sync/atomic"

// cacheLinePad is sized comfortably past a 64-byte cache line so that
// adjacent hot fields never share a line even on wide-prefetch CPUs.
type cacheLinePad [16]uint64

// Ring is a fixed-capacity, power-of-two, lock-free SPSC ring buffer of T.
type Ring[T any] struct {
	mask uint64
	buf  []T

	_        cacheLinePad
	writeSeq atomic.Uint64
	_        cacheLinePad
	readSeq  atomic.Uint64
	_        cacheLinePad
}

// New creates a Ring with the given capacity, which must be a positive
// power of two (spec §4.1). It panics otherwise, matching the teacher's
// NewRingBuffer fail-fast-on-misconfiguration behavior — this is a
// construction-time programmer error, not a runtime condition to recover
// from.
func New[T any](capacity uint64) *Ring[T] {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a positive power of two")
	}
	return &Ring[T]{
		mask: capacity - 1,
		buf:  make([]T, capacity),
	}
}

// Capacity returns the number of slots in the ring.
func (r *Ring[T]) Capacity() uint64 {
	return r.mask + 1
}

// Len returns the number of elements currently queued.
func (r *Ring[T]) Len() uint64 {
	return r.writeSeq.Load() - r.readSeq.Load()
}

// Empty reports whether the ring has no queued elements.
func (r *Ring[T]) Empty() bool {
	return r.readSeq.Load() == r.writeSeq.Load()
}

// Full reports whether the ring has no free slots.
func (r *Ring[T]) Full() bool {
	return r.writeSeq.Load()-r.readSeq.Load() == r.Capacity()
}

// TryWrite attempts to enqueue value. It returns false without side
// effect if the ring is full. Producer-only; must not be called
// concurrently from more than one goroutine.
func (r *Ring[T]) TryWrite(value T) bool {
	w := r.writeSeq.Load()
	if w-r.readSeq.Load() == r.Capacity() {
		return false
	}
	r.buf[w&r.mask] = value
	// Release: the slot write above must be visible to the consumer
	// before it observes this sequence advance.
	r.writeSeq.Store(w + 1)
	return true
}

// TryRead attempts to dequeue the next value into out. It returns false
// without side effect if the ring is empty. Consumer-only; must not be
// called concurrently from more than one goroutine.
func (r *Ring[T]) TryRead(out *T) bool {
	rd := r.readSeq.Load()
	if rd == r.writeSeq.Load() {
		return false
	}
	*out = r.buf[rd&r.mask]
	r.readSeq.Store(rd + 1)
	return true
}

// Peek returns the next value without advancing the read cursor. The
// second return value is false if the ring is empty.
func (r *Ring[T]) Peek() (T, bool) {
	rd := r.readSeq.Load()
	if rd == r.writeSeq.Load() {
		var zero T
		return zero, false
	}
	return r.buf[rd&r.mask], true
}

// WriteBatch writes as many elements of values as fit and returns the
// count actually written.
func (r *Ring[T]) WriteBatch(values []T) int {
	w := r.writeSeq.Load()
	free := r.Capacity() - (w - r.readSeq.Load())
	n := uint64(len(values))
	if n > free {
		n = free
	}
	for i := uint64(0); i < n; i++ {
		r.buf[(w+i)&r.mask] = values[i]
	}
	if n > 0 {
		r.writeSeq.Store(w + n)
	}
	return int(n)
}

// ReadBatch reads as many elements as are available, up to len(out), and
// returns the count actually read.
func (r *Ring[T]) ReadBatch(out []T) int {
	rd := r.readSeq.Load()
	avail := r.writeSeq.Load() - rd
	n := uint64(len(out))
	if n > avail {
		n = avail
	}
	for i := uint64(0); i < n; i++ {
		out[i] = r.buf[(rd+i)&r.mask]
	}
	if n > 0 {
		r.readSeq.Store(rd + n)
	}
	return int(n)
}

// Clear resets both sequence counters. Defined only when no producer or
// consumer goroutine is concurrently active (spec §4.1).
func (r *Ring[T]) Clear() {
	r.writeSeq.Store(0)
	r.readSeq.Store(0)
}
