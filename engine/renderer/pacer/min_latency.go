package pacer

// MinLatencyMode starts a frame only once the previous frame's GPU work
// has fully completed, serialising CPU and GPU. Input lag is as small as
// it gets, throughput suffers accordingly. Mostly useful for latency
// measurements and very CPU-light workloads.
type MinLatencyMode struct {
	modeCommon
}

func NewMinLatencyMode(storage *LatencyMarkersStorage) *MinLatencyMode {
	return &MinLatencyMode{
		modeCommon: newModeCommon(ModeMinLatency, storage, 1),
	}
}

func (m *MinLatencyMode) StartFrame(frameID uint64) {
	if frameID == 0 {
		return
	}
	m.fenceGpuFinished.Wait(frameID - 1)
}
