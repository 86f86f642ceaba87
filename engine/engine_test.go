package engine_test

import (
	"testing"
	"time"

	"github.com/spaghettifunk/prisma/engine"
	"github.com/spaghettifunk/prisma/testbed"
)

// TestSimulatedFrameLoop pushes a handful of frames through the full
// stack: producer, submission queue, pacer and stub backend.
func TestSimulatedFrameLoop(t *testing.T) {
	sim := testbed.NewSim(200*time.Microsecond, 2, "")
	backend := testbed.NewStubBackend(500*time.Microsecond, 0.1)
	presenter := testbed.NewStubPresenter()

	e, err := engine.New(sim, backend, presenter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	const frames = 30
	for i := 0; i < frames; i++ {
		if err := e.Frame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	if err := e.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := presenter.Presents(); got != frames {
		t.Errorf("presents: got %d, want %d", got, frames)
	}

	if e.Queue().LastError().String() != "SUCCESS" {
		t.Errorf("last error: %s", e.Queue().LastError())
	}
}
