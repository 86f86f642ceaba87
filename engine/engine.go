package engine

import (
	"fmt"

	"github.com/spaghettifunk/prisma/engine/config"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
	"github.com/spaghettifunk/prisma/engine/renderer/pacer"
	"github.com/spaghettifunk/prisma/engine/renderer/submit"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Backend is the slice of the GPU backend the engine needs on top of
// what the submission queue consumes.
type Backend interface {
	gpu.Device
	AcquireCommandList() (gpu.CommandList, error)
}

// Engine wires the options, the GPU backend, the submission queue and
// the frame pacer into a frame loop driven by a Producer.
type Engine struct {
	currentStage Stage
	producer     *Producer
	isRunning    bool

	backend   Backend
	presenter gpu.Presenter

	options *config.Options
	watcher *config.Watcher

	queue   *submit.SubmissionQueue
	pacer   *pacer.FramePacer
	limiter *pacer.FpsLimiter

	clock    *core.Clock
	lastTime float64

	frameID     uint64
	lastGpuIdle uint64
}

func New(p *Producer, backend Backend, presenter gpu.Presenter) (*Engine, error) {
	if p.FnRecordFrame == nil {
		return nil, fmt.Errorf("producer has no record-frame callback")
	}

	opts, err := config.Load(p.ApplicationConfig.OptionsPath)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	return &Engine{
		currentStage: EngineStageUninitialized,
		producer:     p,
		backend:      backend,
		presenter:    presenter,
		options:      opts,
		clock:        core.NewClock(),
		isRunning:    true,
		lastTime:     0,
		// frame ids below this belong to the reserved swap-chain window
		frameID: pacer.MaxSwapChainBuffers,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	e.pacer = pacer.New(e.options.FramePace, e.options.LowLatencyOffset, e.options.MaxFrameLatency)
	e.pacer.SetTargetFrameRate(e.options.TargetFrameRate)

	e.limiter = pacer.NewFpsLimiter()
	e.limiter.SetTargetFrameRate(e.options.TargetFrameRate)

	e.queue = submit.NewSubmissionQueue(e.backend, nil, e.pacer.QueueHooks())

	// a frame is over once its present went through the finish worker
	if fp, ok := e.presenter.(interface {
		SetFrameSignal(func(gpu.Result, gpu.PresentMode, uint64))
	}); ok {
		fp.SetFrameSignal(func(result gpu.Result, mode gpu.PresentMode, frameID uint64) {
			e.pacer.EndFrame(frameID)
		})
	}

	// apply runtime-safe option changes without a restart
	if e.producer.ApplicationConfig.OptionsPath != "" {
		watcher, err := config.Watch(e.producer.ApplicationConfig.OptionsPath, func(opts *config.Options) {
			e.pacer.SetTargetFrameRate(opts.TargetFrameRate)
			e.limiter.SetTargetFrameRate(opts.TargetFrameRate)
		})
		if err != nil {
			core.LogWarn("options watching disabled: %s", err.Error())
		} else {
			e.watcher = watcher
		}
	}

	if e.producer.FnInitialize != nil {
		if err := e.producer.FnInitialize(); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Frame runs one iteration of the loop: pace, record, submit, present.
func (e *Engine) Frame() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}

	e.frameID++

	// the low-latency pacer folds the frame-rate cap into its own
	// delay; everything else uses the plain limiter
	if e.pacer.Kind() != pacer.ModeLowLatency {
		e.limiter.Delay()
	}

	e.pacer.StartFrame(e.frameID)

	cmds, err := e.producer.FnRecordFrame(e.frameID, e.backend.AcquireCommandList)
	if err != nil {
		return err
	}

	for _, cmd := range cmds {
		e.queue.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	}

	e.queue.Present(gpu.PresentInfo{
		Presenter:   e.presenter,
		PresentMode: gpu.PresentModeImmediate,
		FrameID:     e.frameID,
	}, nil)

	if lastError := e.queue.LastError(); lastError == gpu.ErrorDeviceLost {
		return fmt.Errorf("device lost, stopping frame loop")
	}

	e.clock.Update()
	elapsed := e.clock.Elapsed() / 1e9
	e.clock.Start()
	if e.frameID > pacer.MaxSwapChainBuffers+1 {
		core.MetricsUpdate(elapsed)
		e.updateLatencyMetrics(elapsed)
	}

	return nil
}

// updateLatencyMetrics derives per-frame latency figures from the most
// recently finished frame's markers.
func (e *Engine) updateLatencyMetrics(elapsed float64) {
	storage := e.pacer.MarkersStorage()
	// only read markers both counters have published
	id := storage.Timeline().GpuFinished.Load()
	if ff := storage.Timeline().FrameFinished.Load(); ff < id {
		id = ff
	}
	if id == 0 {
		return
	}
	m := storage.ConstMarkers(id)

	idle := e.queue.GpuIdleTicks()
	idlePercent := 0.0
	if elapsed > 0 {
		idlePercent = float64(idle-e.lastGpuIdle) / (elapsed * 1e6) * 100.0
	}
	e.lastGpuIdle = idle

	core.MetricsUpdateLatency(
		float64(m.PresentFinished)/1000.0,
		float64(m.GpuFinished-m.GpuStart)/1000.0,
		idlePercent)
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()

	for e.isRunning {
		if err := e.Frame(); err != nil {
			core.LogError(err.Error())
			return e.Shutdown()
		}
	}
	return nil
}

// Queue exposes the submission queue, e.g. for host-driven submissions
// guarded by LockDeviceQueue.
func (e *Engine) Queue() *submit.SubmissionQueue {
	return e.queue
}

// Pacer exposes the frame pacer, e.g. for reading latency markers.
func (e *Engine) Pacer() *pacer.FramePacer {
	return e.pacer
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn(err.Error())
		}
	}

	if e.queue != nil {
		e.queue.WaitForIdle()
		if err := e.queue.Shutdown(); err != nil {
			return err
		}
	}

	if e.producer.FnShutdown != nil {
		return e.producer.FnShutdown()
	}
	return nil
}
