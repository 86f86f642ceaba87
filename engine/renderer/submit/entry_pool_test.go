package submit

import (
	"sync"
	"testing"

	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// TestEntryPoolZeroesOnAcquire verifies stale fields from a previous
// occupant never leak into a new entry.
func TestEntryPoolZeroesOnAcquire(t *testing.T) {
	pool := NewEntryPool(4)

	entry := pool.Acquire()
	entry.Result = gpu.ErrorDeviceLost
	entry.Status = gpu.NewSubmitStatus()
	entry.Present.FrameID = 42
	pool.Release(entry)

	for i := 0; i < 4; i++ {
		e := pool.Acquire()
		defer pool.Release(e)
		if e.Result != gpu.Success || e.Status != nil || e.Present.FrameID != 0 || e.Present.Presenter != nil {
			t.Fatalf("acquired entry carries stale state: %+v", e)
		}
	}
}

// TestEntryPoolBalance acquires and releases from many goroutines and
// verifies no slot is ever held by two owners and the counts balance.
func TestEntryPoolBalance(t *testing.T) {
	const size = 8
	const workers = 16
	const iterations = 5000

	pool := NewEntryPool(size)

	var mu sync.Mutex
	held := make(map[uint32]bool, size)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				entry := pool.Acquire()

				mu.Lock()
				if held[entry.idx] {
					mu.Unlock()
					t.Errorf("slot %d acquired while already held", entry.idx)
					return
				}
				held[entry.idx] = true
				mu.Unlock()

				entry.Present.FrameID = uint64(i)

				mu.Lock()
				held[entry.idx] = false
				mu.Unlock()

				pool.Release(entry)
			}
		}()
	}
	wg.Wait()

	if pool.Available() != size {
		t.Errorf("pool should be full again, Available() = %d, want %d", pool.Available(), size)
	}
}
