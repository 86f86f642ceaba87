package core

import (
	"sync"

	"github.com/spaghettifunk/prisma/engine/containers"
)

const AVG_COUNT int = 30

type MetricsState struct {
	MStimes            *containers.RingQueue[float64]
	MStotal            float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64

	// latency figures fed from the frame pacer, in milliseconds
	RenderLatency  float64
	GpuTime        float64
	GpuIdlePercent float64
}

var onceMetrics sync.Once
var metricsState *MetricsState = nil

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metricsState = &MetricsState{
			MStimes: containers.NewRingQueue[float64](AVG_COUNT),
		}
	})
	return nil
}

func MetricsUpdate(frame_elapsed_time float64) {
	// Calculate frame ms average over a sliding window
	frame_ms := (frame_elapsed_time * 1000.0)
	if metricsState.MStimes.IsFull() {
		old, _ := metricsState.MStimes.Dequeue()
		metricsState.MStotal -= old
	}
	metricsState.MStimes.Enqueue(frame_ms)
	metricsState.MStotal += frame_ms

	if metricsState.MStimes.IsFull() {
		metricsState.MSavg = metricsState.MStotal / float64(AVG_COUNT)
	}

	// Calculate Frames per second.
	metricsState.AccumulatedFrameMS += frame_ms
	if metricsState.AccumulatedFrameMS > 1000 {
		metricsState.FPS = float64(metricsState.Frames)
		metricsState.AccumulatedFrameMS -= 1000
		metricsState.Frames = 0
	}

	// Count all Frames.
	metricsState.Frames++
}

// MetricsUpdateLatency records the pacer-derived per-frame figures.
func MetricsUpdateLatency(renderLatencyMS, gpuTimeMS, gpuIdlePercent float64) {
	metricsState.RenderLatency = renderLatencyMS
	metricsState.GpuTime = gpuTimeMS
	metricsState.GpuIdlePercent = gpuIdlePercent
}

func MetricsFPS() float64 {
	return metricsState.FPS
}

func MetricsFrameTime() float64 {
	return metricsState.MSavg
}

func MetricsFrame() (float64, float64) {
	return metricsState.FPS, metricsState.MSavg
}

func MetricsLatency() (float64, float64, float64) {
	return metricsState.RenderLatency, metricsState.GpuTime, metricsState.GpuIdlePercent
}
