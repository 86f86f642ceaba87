package containers

import (
	"sync/atomic"
)

const cacheLine = 64

// mpscSlot couples a payload with its sequence stamp. The sequence number
// is the ticket that decides which side may touch the slot next.
type mpscSlot[T any] struct {
	seq atomic.Uint64
	val T
}

// MPSCQueue is a bounded lockfree queue for many producers and a single
// consumer, using sequence-stamped slots. Producers reserve a position
// with a fetch-and-increment and publish by bumping the slot's sequence;
// the consumer reclaims slots the same way. Capacity must be a power of
// two so positions can be masked instead of divided.
type MPSCQueue[T any] struct {
	mask uint64
	buf  []mpscSlot[T]

	_    [cacheLine]byte
	head atomic.Uint64 // consumer side
	_    [cacheLine - 8]byte
	tail atomic.Uint64 // producer side
	_    [cacheLine - 8]byte
}

func NewMPSCQueue[T any](capacity int) *MPSCQueue[T] {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("containers: MPSCQueue capacity must be a power of two and >= 2")
	}
	q := &MPSCQueue[T]{
		mask: uint64(capacity - 1),
		buf:  make([]mpscSlot[T], capacity),
	}
	for i := range q.buf {
		q.buf[i].seq.Store(uint64(i))
	}
	return q
}

// Enqueue publishes a value. Returns false if the queue is full.
// Safe for concurrent producers.
func (q *MPSCQueue[T]) Enqueue(v T) bool {
	for {
		pos := q.tail.Load()
		slot := &q.buf[pos&q.mask]
		seq := slot.seq.Load()

		switch {
		case seq == pos:
			if q.tail.CompareAndSwap(pos, pos+1) {
				slot.val = v
				slot.seq.Store(pos + 1)
				return true
			}
		case seq < pos:
			// consumer has not reclaimed the slot, queue is full
			return false
		}
		// another producer claimed pos, retry
	}
}

// Dequeue removes the front value. Must only be called from the single
// consumer.
func (q *MPSCQueue[T]) Dequeue() (T, bool) {
	var zero T
	pos := q.head.Load()
	slot := &q.buf[pos&q.mask]

	if slot.seq.Load() != pos+1 {
		return zero, false
	}

	v := slot.val
	slot.val = zero
	slot.seq.Store(pos + q.mask + 1)
	q.head.Store(pos + 1)
	return v, true
}

// Len is an approximation: racing producers may make it stale by the time
// it returns. Emptiness observed by the sole consumer is exact.
func (q *MPSCQueue[T]) Len() int {
	tail := q.tail.Load()
	head := q.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}
