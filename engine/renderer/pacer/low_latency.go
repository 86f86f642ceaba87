package pacer

import (
	"math"
	"time"

	"github.com/spaghettifunk/prisma/engine/core"
)

// maxStartDelay is the safety valve against pathological predictions: a
// frame start is never delayed by more than this, in microseconds.
const maxStartDelay = 20000

// gpuTimeWindow is how many recent frames the GPU-time prediction
// averages over. GPU running times are steady enough that a short mean
// smooths scene-change spikes without lagging behind load changes.
const gpuTimeWindow = 7

// LowLatencyMode delays each frame's CPU start so that the GPU's
// predicted finish time lands on a target deadline, adapting to measured
// GPU time and CPU/GPU overlap. Effective in the GPU-limit, cheap in the
// CPU-limit. Optimized for VRR and immediate present modes.
//
// CPU times are intentionally not smoothed: basing them on the last
// frame only gave the best results so far.
type LowLatencyMode struct {
	modeCommon

	lowLatencyOffset int32
	lastStart        time.Time
}

func NewLowLatencyMode(storage *LatencyMarkersStorage, lowLatencyOffset int32) *LowLatencyMode {
	if lowLatencyOffset > 10000 {
		lowLatencyOffset = 10000
	}
	if lowLatencyOffset < -10000 {
		lowLatencyOffset = -10000
	}

	core.LogInfo("using low latency offset: %d", lowLatencyOffset)

	return &LowLatencyMode{
		modeCommon:       newModeCommon(ModeLowLatency, storage, 2),
		lowLatencyOffset: lowLatencyOffset,
		lastStart:        time.Now(),
	}
}

func (m *LowLatencyMode) StartFrame(frameID uint64) {
	if frameID == 0 {
		return
	}

	m.fenceGpuStart.Wait(frameID - 1)
	now := time.Now()

	// estimate the optimal overlap of cpu and gpu work via
	// min(gpuReady - gpuSubmit). Note the difference may be negative.

	id := m.storage.Timeline().GpuFinished.Load()
	if id <= MaxSwapChainBuffers+1 {
		return
	}

	markers := m.storage.ConstMarkers(id)
	bestIndex := 0
	bestDiff := int64(math.MaxInt64)
	numLoop := min(len(markers.GpuReady), len(markers.GpuSubmit), len(markers.GpuRun))
	if numLoop == 0 {
		return
	}

	for i := 0; i < numLoop; i++ {
		diff := markers.GpuReady[i].Sub(markers.GpuSubmit[i]).Microseconds()
		if diff < bestDiff {
			bestDiff = diff
			bestIndex = i
		}
	}

	// estimate the target gpu finishing time for this frame and
	// calculate backwards when this frame should start

	gpuTime := m.gpuTimePrediction()
	markersPrev := m.storage.ConstMarkers(frameID - 1)
	targetGpuFinish := markersPrev.Start.Add(
		time.Duration(int64(markersPrev.GpuStart)+2*int64(gpuTime)) * time.Microsecond)

	if id == frameID-1 {
		targetGpuFinish = markers.Start.Add(
			time.Duration(int64(markers.GpuFinished)+int64(gpuTime)) * time.Microsecond)
	}

	// expected gpu tail after the best submit
	gpuTail := markers.GpuLastActive.Sub(markers.GpuRun[bestIndex])
	targetGpuSync2 := targetGpuFinish.Add(-gpuTail)

	targetGpuSync := targetGpuSync2.Sub(now).Microseconds()
	delay := targetGpuSync -
		markers.GpuSubmit[bestIndex].Sub(markers.Start).Microseconds() +
		int64(m.lowLatencyOffset)

	// account for the fps limit and ensure we won't sleep too long,
	// just in case

	frametime := now.Sub(m.lastStart).Microseconds()
	frametimeDiff := max(int64(0), int64(m.fpsLimitFrametime.Load())-frametime)
	delay = max(delay, frametimeDiff)
	delay = max(0, min(delay, maxStartDelay))

	nextStart := now.Add(time.Duration(delay) * time.Microsecond)
	core.SleepUntil(nextStart)

	m.lastStart = nextStart
}

// gpuTimePrediction is the mean of (gpuFinished - gpuStart) over the last
// gpuTimeWindow finished frames, or zero while not enough frames exist.
func (m *LowLatencyMode) gpuTimePrediction() int32 {
	id := m.storage.Timeline().GpuFinished.Load()
	if id < MaxSwapChainBuffers+gpuTimeWindow {
		return 0
	}

	totalGpuTime := int32(0)
	for i := 0; i < gpuTimeWindow; i++ {
		markers := m.storage.ConstMarkers(id)
		totalGpuTime += markers.GpuFinished - markers.GpuStart
		id--
	}

	return totalGpuTime / gpuTimeWindow
}
