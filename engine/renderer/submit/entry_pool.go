package submit

import (
	"runtime"
	"sync/atomic"

	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// MaxQueuedCommandBuffers bounds the number of in-flight submissions. It
// is the capacity of the entry pool and of both worker queues, so a
// producer that outruns the GPU by more than this many entries stalls in
// Acquire until the pipeline drains.
const MaxQueuedCommandBuffers = 32

// SubmitEntry carries exactly one of a command-list submission or a
// present through the two-stage pipeline, together with the post-issue
// result and an optional status handle. Entries are borrowed from the
// pool and belong to exactly one owner at a time.
type SubmitEntry struct {
	Result  gpu.Result
	Status  *gpu.SubmitStatus
	Submit  gpu.SubmitInfo
	Present gpu.PresentInfo

	idx uint32
}

// freeSlot is one cell of the pool's lockfree free-list ring.
type freeSlot struct {
	seq atomic.Uint64
	idx uint32
}

// EntryPool is a fixed-capacity pool of SubmitEntry slots backed by a
// contiguous array. The free-list transports indices into that array
// through a sequence-stamped ring, so acquire and release are lockfree
// from any thread.
type EntryPool struct {
	entries []SubmitEntry

	mask  uint64
	slots []freeSlot

	_    [cachePad]byte
	head atomic.Uint64
	_    [cachePad - 8]byte
	tail atomic.Uint64
	_    [cachePad - 8]byte
}

const cachePad = 64

// NewEntryPool creates a pool of size pre-allocated entries. size must be
// a power of two.
func NewEntryPool(size int) *EntryPool {
	if size < 2 || size&(size-1) != 0 {
		panic("submit: EntryPool size must be a power of two and >= 2")
	}

	p := &EntryPool{
		entries: make([]SubmitEntry, size),
		mask:    uint64(size - 1),
		slots:   make([]freeSlot, size),
	}
	for i := range p.entries {
		p.entries[i].idx = uint32(i)
	}
	// start with every entry on the free-list
	for i := range p.slots {
		p.slots[i].idx = uint32(i)
		p.slots[i].seq.Store(uint64(i) + 1)
	}
	p.tail.Store(uint64(size))
	return p
}

// Acquire returns a zeroed entry, spinning while the pool is empty. The
// pool only runs empty when producers are more than the pool size ahead
// of the finish worker.
func (p *EntryPool) Acquire() *SubmitEntry {
	for {
		pos := p.head.Load()
		slot := &p.slots[pos&p.mask]
		seq := slot.seq.Load()

		if seq == pos+1 {
			if p.head.CompareAndSwap(pos, pos+1) {
				idx := slot.idx
				slot.seq.Store(pos + p.mask + 1)

				entry := &p.entries[idx]
				*entry = SubmitEntry{idx: idx}
				return entry
			}
			continue
		}

		if seq <= pos {
			// pool is empty, wait for a release
			runtime.Gosched()
		}
	}
}

// Release returns an entry to the pool. Every acquired entry must be
// released exactly once.
func (p *EntryPool) Release(entry *SubmitEntry) {
	idx := entry.idx

	for {
		pos := p.tail.Load()
		slot := &p.slots[pos&p.mask]
		seq := slot.seq.Load()

		if seq == pos {
			if p.tail.CompareAndSwap(pos, pos+1) {
				slot.idx = idx
				slot.seq.Store(pos + 1)
				return
			}
			continue
		}

		// a release racing another release on a full ring cannot happen
		// while acquire/release stay balanced
		runtime.Gosched()
	}
}

// Available reports how many entries are currently on the free-list.
func (p *EntryPool) Available() int {
	tail := p.tail.Load()
	head := p.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}
