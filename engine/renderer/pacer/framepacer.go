package pacer

import (
	"strings"
	"time"

	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/submit"
)

// FramePacer manages the CPU-GPU synchronization of the frame loop.
//
// GPUs render frames asynchronously to the CPU-side work in order to
// improve throughput. Aligning the CPU work to chosen time points tunes
// the characteristics of the video presentation, like smoothness and
// latency.
//
// The front-end increments the frame id when it submits a present; the
// pacer interprets a present(frameID) and the preceding command-list
// submits as belonging to the same frame.
type FramePacer struct {
	storage LatencyMarkersStorage
	mode    Mode

	lastSubmitFrameID   uint64
	lastFinishedFrameID uint64
}

// New creates a pacer with the strategy named by framePace. Unknown or
// empty strings fall back to low-latency.
func New(framePace string, lowLatencyOffset int32, maxFrameLatency uint64) *FramePacer {
	p := &FramePacer{
		lastSubmitFrameID:   MaxSwapChainBuffers,
		lastFinishedFrameID: MaxSwapChainBuffers,
	}

	kind := ModeLowLatency
	switch {
	case strings.Contains(framePace, "max-frame-latency"):
		kind = ModeMaxFrameLatency
	case strings.Contains(framePace, "low-latency"):
		kind = ModeLowLatency
	case strings.Contains(framePace, "min-latency"):
		kind = ModeMinLatency
	}

	core.LogInfo("frame pace: %s", kind.String())

	switch kind {
	case ModeMaxFrameLatency:
		p.mode = NewMaxFrameLatencyMode(&p.storage, maxFrameLatency)
	case ModeLowLatency:
		p.mode = NewLowLatencyMode(&p.storage, lowLatencyOffset)
	case ModeMinLatency:
		p.mode = NewMinLatencyMode(&p.storage)
	}

	return p
}

// StartFrame gates the frame loop: it waits for the rendering of a
// previous frame, typically the one before last, and in low-latency mode
// sleeps some more if the CPU gets too far ahead.
func (p *FramePacer) StartFrame(frameID uint64) {
	p.mode.Wait(frameID)
	p.mode.StartFrame(frameID)
	p.storage.RegisterFrameStart(frameID)
}

// EndFrame records that the frame has been displayed to the screen.
func (p *FramePacer) EndFrame(frameID uint64) {
	p.storage.RegisterFrameEnd(frameID)
	p.mode.EndFrame(frameID)
}

// OnSubmitCmdList records one command-list submission for the frame
// currently being translated. Runs on the submit worker.
func (p *FramePacer) OnSubmitCmdList() {
	m := p.storage.getMarkers(p.lastSubmitFrameID + 1)
	m.GpuSubmit = append(m.GpuSubmit, time.Now())
}

// OnSubmitPresent records that the translation of frameID is finished.
// Runs on the submit worker.
func (p *FramePacer) OnSubmitPresent(frameID uint64) {
	now := time.Now()
	p.lastSubmitFrameID = frameID

	m := p.storage.getMarkers(frameID)
	m.CpuFinished = int32(now.Sub(m.Start).Microseconds())
	p.storage.timeline.CpuFinished.Store(frameID)

	next := p.storage.getMarkers(frameID + 1)
	next.GpuSubmit = next.GpuSubmit[:0]
}

// OnFinishCmdList records that the GPU executed one more command list of
// the frame after the last finished one. Runs on the finish worker.
func (p *FramePacer) OnFinishCmdList() {
	now := time.Now()
	m := p.storage.getMarkers(p.lastFinishedFrameID + 1)
	m.GpuRun = append(m.GpuRun, now)

	if len(m.GpuRun) == 1 {
		m.GpuStart = int32(now.Sub(m.Start).Microseconds())
		p.storage.timeline.GpuStart.Store(p.lastFinishedFrameID + 1)
		p.mode.SignalGpuStart(p.lastFinishedFrameID + 1)
	}
}

// OnFinishGpuActivity records the instant the finish worker released the
// resources of a command list. Runs on the finish worker.
func (p *FramePacer) OnFinishGpuActivity() {
	now := time.Now()
	m := p.storage.getMarkers(p.lastFinishedFrameID + 1)
	m.GpuReady = append(m.GpuReady, now)
	m.GpuLastActive = now
}

// OnFinishPresent records that frameID's present went through the finish
// worker, closing the frame's GPU timeline. Runs on the finish worker.
func (p *FramePacer) OnFinishPresent(frameID uint64) {
	// frameID == 0 means a repeated present of the previous frame
	if frameID == 0 {
		return
	}

	p.lastFinishedFrameID = frameID

	m := p.storage.getMarkers(frameID)
	next := p.storage.getMarkers(frameID + 1)
	m.GpuFinished = int32(m.GpuLastActive.Sub(m.Start).Microseconds())
	next.GpuRun = next.GpuRun[:0]
	next.GpuReady = next.GpuReady[:0]
	next.GpuReady = append(next.GpuReady, m.GpuLastActive)

	if len(m.GpuRun) == 0 {
		m.GpuStart = 0
		m.GpuFinished = 0
		p.storage.timeline.GpuStart.Store(frameID)
		p.mode.SignalGpuStart(frameID)
	}

	p.storage.timeline.GpuFinished.Store(frameID)
	p.mode.FinishRender(frameID)
	p.mode.Signal(frameID)
}

// QueueHooks adapts the pacer's event callbacks to the submission
// queue's worker-side hook points.
func (p *FramePacer) QueueHooks() submit.PacerHooks {
	return submit.PacerHooks{
		SubmitCmdList:     p.OnSubmitCmdList,
		SubmitPresent:     p.OnSubmitPresent,
		FinishCmdList:     p.OnFinishCmdList,
		FinishGpuActivity: p.OnFinishGpuActivity,
		FinishPresent:     p.OnFinishPresent,
	}
}

func (p *FramePacer) Kind() ModeKind {
	return p.mode.Kind()
}

// SetTargetFrameRate installs the frame-rate cap the pacing modes fold
// into their delay computation.
func (p *FramePacer) SetTargetFrameRate(frameRate float64) {
	p.mode.SetTargetFrameRate(frameRate)
}

// MarkersStorage exposes the per-frame latency markers, e.g. for metrics.
func (p *FramePacer) MarkersStorage() *LatencyMarkersStorage {
	return &p.storage
}
