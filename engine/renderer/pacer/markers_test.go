package pacer

import (
	"testing"
	"time"
)

// driveFrame pushes one full frame lifecycle through the pacer's hooks,
// the way the frame loop and the two queue workers would.
func driveFrame(p *FramePacer, frameID uint64, cmdLists int) {
	p.StartFrame(frameID)
	for i := 0; i < cmdLists; i++ {
		p.OnSubmitCmdList()
	}
	p.OnSubmitPresent(frameID)
	for i := 0; i < cmdLists; i++ {
		p.OnFinishCmdList()
		p.OnFinishGpuActivity()
	}
	p.OnFinishPresent(frameID)
	p.EndFrame(frameID)
}

// TestTimelinePublication verifies every hook bumps its timeline
// counter to the frame it processed.
func TestTimelinePublication(t *testing.T) {
	p := New("max-frame-latency", 0, 3)
	timeline := p.MarkersStorage().Timeline()

	base := uint64(MaxSwapChainBuffers)
	for f := base + 1; f <= base+20; f++ {
		driveFrame(p, f, 2)

		if got := timeline.CpuFinished.Load(); got != f {
			t.Fatalf("frame %d: timeline.CpuFinished = %d", f, got)
		}
		if got := timeline.GpuStart.Load(); got != f {
			t.Fatalf("frame %d: timeline.GpuStart = %d", f, got)
		}
		if got := timeline.GpuFinished.Load(); got != f {
			t.Fatalf("frame %d: timeline.GpuFinished = %d", f, got)
		}
		if got := timeline.FrameFinished.Load(); got != f {
			t.Fatalf("frame %d: timeline.FrameFinished = %d", f, got)
		}
	}
}

// TestRepeatPresentIsIgnored verifies frame id zero from the finish
// worker leaves the timeline untouched.
func TestRepeatPresentIsIgnored(t *testing.T) {
	p := New("max-frame-latency", 0, 3)
	timeline := p.MarkersStorage().Timeline()

	driveFrame(p, MaxSwapChainBuffers+1, 1)
	before := timeline.GpuFinished.Load()

	p.OnFinishPresent(0)

	if got := timeline.GpuFinished.Load(); got != before {
		t.Errorf("repeat present advanced the timeline: %d -> %d", before, got)
	}
}

// TestFrameStartGuard verifies start/end registrations for frames at or
// behind frameFinished are dropped.
func TestFrameStartGuard(t *testing.T) {
	storage := &LatencyMarkersStorage{}
	storage.timeline.FrameFinished.Store(10)

	storage.RegisterFrameStart(10)
	if !storage.ConstMarkers(10).Start.IsZero() {
		t.Error("RegisterFrameStart wrote markers for an already finished frame")
	}

	storage.RegisterFrameEnd(9)
	if storage.timeline.FrameFinished.Load() != 10 {
		t.Error("RegisterFrameEnd moved frameFinished backwards")
	}

	storage.RegisterFrameStart(11)
	if storage.ConstMarkers(11).Start.IsZero() {
		t.Error("RegisterFrameStart dropped a legitimate frame")
	}
}

// TestMarkerSequences verifies gpuSubmit/gpuRun/gpuReady collect one
// entry per command list and are reset for the following frame.
func TestMarkerSequences(t *testing.T) {
	p := New("max-frame-latency", 0, 3)

	first := uint64(MaxSwapChainBuffers + 1)
	driveFrame(p, first, 3)

	m := p.MarkersStorage().ConstMarkers(first)
	if len(m.GpuSubmit) != 3 || len(m.GpuRun) != 3 {
		t.Errorf("sequences: submit=%d run=%d, want 3 each", len(m.GpuSubmit), len(m.GpuRun))
	}
	// the next frame's gpuReady is seeded with the last active instant
	next := p.MarkersStorage().ConstMarkers(first + 1)
	if len(next.GpuReady) != 1 {
		t.Errorf("next frame gpuReady seed: got %d entries, want 1", len(next.GpuReady))
	}
	if len(next.GpuSubmit) != 0 || len(next.GpuRun) != 0 {
		t.Errorf("next frame sequences not cleared: submit=%d run=%d", len(next.GpuSubmit), len(next.GpuRun))
	}
}

// TestPresentOnlyFrame verifies a frame without command lists still
// closes its GPU timeline.
func TestPresentOnlyFrame(t *testing.T) {
	p := New("max-frame-latency", 0, 3)
	timeline := p.MarkersStorage().Timeline()

	first := uint64(MaxSwapChainBuffers + 1)
	p.StartFrame(first)
	p.OnSubmitPresent(first)
	p.OnFinishPresent(first)
	p.EndFrame(first)

	if timeline.GpuStart.Load() != first || timeline.GpuFinished.Load() != first {
		t.Errorf("present-only frame did not close the gpu timeline: start=%d finished=%d",
			timeline.GpuStart.Load(), timeline.GpuFinished.Load())
	}

	m := p.MarkersStorage().ConstMarkers(first)
	if m.GpuStart != 0 || m.GpuFinished != 0 {
		t.Errorf("present-only frame should report zero gpu time, got start=%d finished=%d",
			m.GpuStart, m.GpuFinished)
	}
}

// TestReaderWindow verifies the reader walks the most recent finished
// frames in order.
func TestReaderWindow(t *testing.T) {
	p := New("max-frame-latency", 0, 3)

	base := uint64(MaxSwapChainBuffers)
	for f := base + 1; f <= base+30; f++ {
		driveFrame(p, f, 1)
	}

	reader := p.MarkersStorage().Reader(5)
	count := 0
	var last time.Time
	for {
		m, ok := reader.GetNext()
		if !ok {
			break
		}
		if !last.IsZero() && m.Start.Before(last) {
			t.Error("reader returned frames out of order")
		}
		last = m.Start
		count++
	}

	if count != 5 {
		t.Errorf("reader returned %d frames, want 5", count)
	}
}
