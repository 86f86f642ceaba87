package pacer

import (
	"sync/atomic"

	"github.com/spaghettifunk/prisma/engine/sync"
)

// ModeKind selects the pacing strategy.
type ModeKind int

const (
	// ModeMaxFrameLatency lets the CPU run ahead of the GPU by up to
	// the configured number of frames.
	ModeMaxFrameLatency ModeKind = iota
	// ModeLowLatency delays each frame start so the GPU's predicted
	// finish lands on a target deadline.
	ModeLowLatency
	// ModeMinLatency serialises CPU and GPU work for minimal input lag
	// at the cost of throughput.
	ModeMinLatency
)

func (k ModeKind) String() string {
	switch k {
	case ModeMaxFrameLatency:
		return "max-frame-latency"
	case ModeLowLatency:
		return "low-latency"
	case ModeMinLatency:
		return "min-latency"
	}
	return "unknown"
}

// Mode is one frame pacing strategy. The pacer drives it from the frame
// loop (Wait/StartFrame/EndFrame) and from the queue workers
// (SignalGpuStart/FinishRender/Signal).
type Mode interface {
	Kind() ModeKind

	// Wait gates the frame loop on the completion of an older frame.
	Wait(frameID uint64)
	// StartFrame may additionally stall the frame loop if the CPU gets
	// too far ahead.
	StartFrame(frameID uint64)
	EndFrame(frameID uint64)

	// SignalGpuStart publishes that frame frameID's first command list
	// started executing on the GPU.
	SignalGpuStart(frameID uint64)
	// FinishRender publishes that frame frameID's GPU work completed.
	FinishRender(frameID uint64)
	// Signal publishes that frame frameID fully went through the
	// pipeline, unblocking Wait.
	Signal(frameID uint64)

	SetTargetFrameRate(frameRate float64)
}

// modeCommon carries the fences and knobs shared by all pacing modes.
type modeCommon struct {
	kind    ModeKind
	storage *LatencyMarkersStorage

	fenceGpuStart      *sync.Fence
	fenceGpuFinished   *sync.Fence
	fenceFrameFinished *sync.Fence

	maxFrameLatency   uint64
	fpsLimitFrametime atomic.Int32
}

func newModeCommon(kind ModeKind, storage *LatencyMarkersStorage, maxFrameLatency uint64) modeCommon {
	if maxFrameLatency == 0 {
		maxFrameLatency = 1
	}
	m := modeCommon{
		kind:               kind,
		storage:            storage,
		fenceGpuStart:      sync.NewFence(),
		fenceGpuFinished:   sync.NewFence(),
		fenceFrameFinished: sync.NewFence(),
		maxFrameLatency:    maxFrameLatency,
	}
	// frame ids start past the reserved swap-chain window; pre-signal
	// the fences so the first real frames never wait on frames that
	// do not exist
	m.fenceGpuStart.Signal(MaxSwapChainBuffers)
	m.fenceGpuFinished.Signal(MaxSwapChainBuffers)
	m.fenceFrameFinished.Signal(MaxSwapChainBuffers)
	return m
}

func (m *modeCommon) Kind() ModeKind {
	return m.kind
}

func (m *modeCommon) Wait(frameID uint64) {
	if frameID > m.maxFrameLatency {
		m.fenceFrameFinished.Wait(frameID - m.maxFrameLatency)
	}
}

func (m *modeCommon) StartFrame(frameID uint64) {}

func (m *modeCommon) EndFrame(frameID uint64) {}

func (m *modeCommon) SignalGpuStart(frameID uint64) {
	m.fenceGpuStart.Signal(frameID)
}

func (m *modeCommon) FinishRender(frameID uint64) {
	m.fenceGpuFinished.Signal(frameID)
}

func (m *modeCommon) Signal(frameID uint64) {
	m.fenceFrameFinished.Signal(frameID)
}

// SetTargetFrameRate installs the minimum frame interval, in
// microseconds, that StartFrame folds into its delay.
func (m *modeCommon) SetTargetFrameRate(frameRate float64) {
	interval := int32(0)
	if frameRate > 0.0 {
		interval = int32(1000000.0 / frameRate)
	}
	m.fpsLimitFrametime.Store(interval)
}

// MaxFrameLatencyMode is the classic pacing: the only throttle is the
// frame-latency fence in Wait.
type MaxFrameLatencyMode struct {
	modeCommon
}

func NewMaxFrameLatencyMode(storage *LatencyMarkersStorage, maxFrameLatency uint64) *MaxFrameLatencyMode {
	return &MaxFrameLatencyMode{
		modeCommon: newModeCommon(ModeMaxFrameLatency, storage, maxFrameLatency),
	}
}
