// Package testbed exercises the submission pipeline without real GPU
// hardware. Its stub backend models GPU execution with short sleeps and
// jittered timings so the frame pacer has something to chew on.
package testbed

import (
	"sync/atomic"
	"time"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/prisma/engine"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// StubCommandList pretends to be GPU work that takes gpuTime to execute.
type StubCommandList struct {
	gpuTime time.Duration

	submitted atomic.Bool
	resets    atomic.Uint64
}

func (s *StubCommandList) Submit() gpu.Result {
	s.submitted.Store(true)
	return gpu.Success
}

func (s *StubCommandList) SynchronizeFence() gpu.Result {
	// models the GPU crunching through the batch
	time.Sleep(s.gpuTime)
	return gpu.Success
}

func (s *StubCommandList) NotifyObjects() {}

func (s *StubCommandList) Reset() {
	s.submitted.Store(false)
	s.resets.Add(1)
}

// StubBackend implements engine.Backend with simulated timings.
type StubBackend struct {
	rng *rand.Rand

	// mean simulated GPU time per command list
	GpuTime time.Duration
	// jitter fraction applied to GpuTime, e.g. 0.2 for +-20%
	Jitter float64

	recycled atomic.Uint64
	idles    atomic.Uint64
}

func NewStubBackend(gpuTime time.Duration, jitter float64) *StubBackend {
	return &StubBackend{
		rng:     rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
		GpuTime: gpuTime,
		Jitter:  jitter,
	}
}

func (b *StubBackend) WaitForIdle() {
	b.idles.Add(1)
}

func (b *StubBackend) RecycleCommandList(cmd gpu.CommandList) {
	b.recycled.Add(1)
}

func (b *StubBackend) AcquireCommandList() (gpu.CommandList, error) {
	gpuTime := b.GpuTime
	if b.Jitter > 0 {
		spread := 1.0 + b.Jitter*(2.0*b.rng.Float64()-1.0)
		gpuTime = time.Duration(float64(gpuTime) * spread)
	}
	return &StubCommandList{gpuTime: gpuTime}, nil
}

// StubPresenter counts presents and forwards frame signals.
type StubPresenter struct {
	frameSignal func(gpu.Result, gpu.PresentMode, uint64)
	presents    atomic.Uint64
}

func NewStubPresenter() *StubPresenter {
	return &StubPresenter{}
}

func (p *StubPresenter) SetFrameSignal(fn func(gpu.Result, gpu.PresentMode, uint64)) {
	p.frameSignal = fn
}

func (p *StubPresenter) PresentImage(mode gpu.PresentMode, frameID uint64) gpu.Result {
	p.presents.Add(1)
	return gpu.Success
}

func (p *StubPresenter) SignalFrame(result gpu.Result, mode gpu.PresentMode, frameID uint64) {
	if p.frameSignal != nil {
		p.frameSignal(result, mode, frameID)
	}
}

func (p *StubPresenter) Presents() uint64 {
	return p.presents.Load()
}

type simState struct {
	rng *rand.Rand

	// mean simulated CPU translation time per frame
	cpuTime time.Duration
	// command lists recorded per frame
	cmdListsPerFrame int

	framesRecorded uint64
}

// NewSim builds a producer that simulates a translation front-end:
// each frame burns some CPU time and records a few command lists.
func NewSim(cpuTime time.Duration, cmdListsPerFrame int, optionsPath string) *engine.Producer {
	state := &simState{
		rng:              rand.New(rand.NewSource(uint64(time.Now().UnixNano()) + 1)),
		cpuTime:          cpuTime,
		cmdListsPerFrame: cmdListsPerFrame,
	}

	return &engine.Producer{
		ApplicationConfig: &engine.ApplicationConfig{
			Name:        "prisma-testbed",
			StartWidth:  1280,
			StartHeight: 720,
			OptionsPath: optionsPath,
		},
		State:        state,
		FnInitialize: state.initialize,
		FnRecordFrame: func(frameID uint64, acquire engine.AcquireCommandList) ([]gpu.CommandList, error) {
			return state.recordFrame(frameID, acquire)
		},
		FnShutdown: state.shutdown,
	}
}

func (s *simState) initialize() error {
	core.LogInfo("testbed: simulating %d command lists per frame, ~%s cpu time", s.cmdListsPerFrame, s.cpuTime)
	return nil
}

func (s *simState) recordFrame(frameID uint64, acquire engine.AcquireCommandList) ([]gpu.CommandList, error) {
	// burn jittered CPU time as a stand-in for translation work
	jitter := 0.75 + 0.5*s.rng.Float64()
	core.SleepFor(time.Duration(float64(s.cpuTime) * jitter))

	cmds := make([]gpu.CommandList, 0, s.cmdListsPerFrame)
	for i := 0; i < s.cmdListsPerFrame; i++ {
		cmd, err := acquire()
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}

	s.framesRecorded++
	return cmds, nil
}

func (s *simState) shutdown() error {
	core.LogInfo("testbed: recorded %d frames", s.framesRecorded)
	return nil
}
