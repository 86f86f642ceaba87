package pacer

import (
	"testing"
	"time"
)

// seedHistory fills the storage with a synthetic run of finished frames
// so the low-latency prediction has data: every frame took gpuTime on
// the GPU and overlapped submits by overlap.
func seedHistory(storage *LatencyMarkersStorage, lastFinished uint64, gpuTimeUS int32, overlapUS int32, now time.Time) {
	for f := lastFinished - gpuTimeWindow; f <= lastFinished; f++ {
		m := storage.getMarkers(f)
		m.Start = now
		m.GpuStart = 0
		m.GpuFinished = gpuTimeUS

		m.GpuSubmit = []time.Time{now.Add(1 * time.Millisecond)}
		m.GpuReady = []time.Time{now.Add(1*time.Millisecond + time.Duration(overlapUS)*time.Microsecond)}
		m.GpuRun = []time.Time{now.Add(3 * time.Millisecond)}
		m.GpuLastActive = now.Add(5 * time.Millisecond)
	}
	storage.timeline.GpuFinished.Store(lastFinished)
}

// measureStartFrame seeds a fresh mode with the synthetic history and
// measures how long StartFrame stalls.
func measureStartFrame(t *testing.T, offsetUS int32, gpuTimeUS int32) time.Duration {
	t.Helper()

	storage := &LatencyMarkersStorage{}
	mode := NewLowLatencyMode(storage, offsetUS)

	frameID := uint64(MaxSwapChainBuffers + 14)
	seedHistory(storage, frameID-1, gpuTimeUS, 200, time.Now())
	mode.fenceGpuStart.Signal(frameID - 1)

	begin := time.Now()
	mode.StartFrame(frameID)
	return time.Since(begin)
}

// TestDelayStaysBounded verifies the computed stall never exceeds the
// 20 ms safety valve, even with an absurd gpu time history.
func TestDelayStaysBounded(t *testing.T) {
	elapsed := measureStartFrame(t, 0, 500000)

	if elapsed > 25*time.Millisecond {
		t.Errorf("StartFrame stalled %v, want <= ~20ms", elapsed)
	}
}

// TestDelayNeverNegative verifies a history demanding an immediate
// start does not stall the frame.
func TestDelayNeverNegative(t *testing.T) {
	// gpu is basically idle, the raw delay computes negative
	elapsed := measureStartFrame(t, -10000, 100)

	if elapsed > 5*time.Millisecond {
		t.Errorf("StartFrame stalled %v on a negative delay, want ~0", elapsed)
	}
}

// TestDelayShiftsWithOffset verifies the low-latency offset moves the
// stall by roughly its value.
func TestDelayShiftsWithOffset(t *testing.T) {
	// base: 5000 (gpu) + 5000 (prediction) - 2000 (tail) - 1000
	// (submit offset) = ~7ms
	base := measureStartFrame(t, 0, 5000)
	shifted := measureStartFrame(t, 5000, 5000)

	if base < 3*time.Millisecond || base > 12*time.Millisecond {
		t.Fatalf("base stall %v outside the expected ~7ms window", base)
	}

	diff := shifted - base
	if diff < 2*time.Millisecond || diff > 9*time.Millisecond {
		t.Errorf("offset of 5000us shifted the stall by %v, want ~5ms", diff)
	}
}

// TestNoDelayWithoutHistory verifies the mode backs off entirely while
// the marker history is still warming up.
func TestNoDelayWithoutHistory(t *testing.T) {
	storage := &LatencyMarkersStorage{}
	mode := NewLowLatencyMode(storage, 0)

	frameID := uint64(MaxSwapChainBuffers + 1)
	mode.fenceGpuStart.Signal(frameID - 1)

	begin := time.Now()
	mode.StartFrame(frameID)
	if elapsed := time.Since(begin); elapsed > 5*time.Millisecond {
		t.Errorf("StartFrame stalled %v with no history, want ~0", elapsed)
	}
}

// TestOffsetIsClamped verifies construction clamps the offset knob.
func TestOffsetIsClamped(t *testing.T) {
	mode := NewLowLatencyMode(&LatencyMarkersStorage{}, 99999)
	if mode.lowLatencyOffset != 10000 {
		t.Errorf("offset: got %d, want 10000", mode.lowLatencyOffset)
	}

	mode = NewLowLatencyMode(&LatencyMarkersStorage{}, -99999)
	if mode.lowLatencyOffset != -10000 {
		t.Errorf("offset: got %d, want -10000", mode.lowLatencyOffset)
	}
}

// TestGpuTimePrediction verifies the prediction is the mean over the
// recent window and zero while warming up.
func TestGpuTimePrediction(t *testing.T) {
	storage := &LatencyMarkersStorage{}
	mode := NewLowLatencyMode(storage, 0)

	if got := mode.gpuTimePrediction(); got != 0 {
		t.Errorf("prediction without history: got %d, want 0", got)
	}

	lastFinished := uint64(MaxSwapChainBuffers + gpuTimeWindow)
	seedHistory(storage, lastFinished, 5000, 200, time.Now())

	if got := mode.gpuTimePrediction(); got != 5000 {
		t.Errorf("prediction: got %d, want 5000", got)
	}
}
