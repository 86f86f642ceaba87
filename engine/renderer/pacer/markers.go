package pacer

import (
	"sync/atomic"
	"time"
)

// MaxSwapChainBuffers is the number of initial frames reserved for the
// swap-chain to fill up. Frame ids at or below this value never have
// meaningful latency data.
const MaxSwapChainBuffers = 16

// numMarkers sizes the markers ring. Frame ids map into it by simple
// modulo; they are expected to monotonically increase by one, and the
// ring is large enough that a reader never falls behind the producer.
const numMarkers = 128

// LatencyMarkers records the timing of one frame's lifecycle. The scalar
// fields are microsecond offsets from Start; the slices collect one
// timestamp per command-list submission, per finish-worker completion and
// per post-notify instant within the frame.
type LatencyMarkers struct {
	Start time.Time
	End   time.Time

	CpuFinished     int32
	GpuStart        int32
	GpuFinished     int32
	PresentFinished int32

	GpuReady  []time.Time
	GpuSubmit []time.Time
	GpuRun    []time.Time

	GpuLastActive time.Time
}

// LatencyMarkersTimeline stores which marker field is accessible for
// which frame. A reader that observed a counter >= f may safely read the
// corresponding field of frame f's markers.
type LatencyMarkersTimeline struct {
	CpuFinished   atomic.Uint64
	GpuStart      atomic.Uint64
	GpuFinished   atomic.Uint64
	FrameFinished atomic.Uint64
}

// LatencyMarkersStorage is a ring of per-frame markers plus the timeline
// counters that publish them across threads.
type LatencyMarkersStorage struct {
	markers  [numMarkers]LatencyMarkers
	timeline LatencyMarkersTimeline
}

func (s *LatencyMarkersStorage) RegisterFrameStart(frameID uint64) {
	// repeated presents come in with a frame id we already finished
	if frameID <= s.timeline.FrameFinished.Load() {
		return
	}

	markers := s.getMarkers(frameID)
	markers.Start = time.Now()
}

func (s *LatencyMarkersStorage) RegisterFrameEnd(frameID uint64) {
	if frameID <= s.timeline.FrameFinished.Load() {
		return
	}

	now := time.Now()

	markers := s.getMarkers(frameID)
	markers.PresentFinished = int32(now.Sub(markers.Start).Microseconds())
	markers.End = now

	s.timeline.FrameFinished.Store(frameID)
}

func (s *LatencyMarkersStorage) Timeline() *LatencyMarkersTimeline {
	return &s.timeline
}

// ConstMarkers exposes the markers of a frame for reading. Only fields
// whose timeline counter has been observed >= frameID may be touched.
func (s *LatencyMarkersStorage) ConstMarkers(frameID uint64) *LatencyMarkers {
	return &s.markers[frameID%numMarkers]
}

func (s *LatencyMarkersStorage) getMarkers(frameID uint64) *LatencyMarkers {
	return &s.markers[frameID%numMarkers]
}

// Reader returns an iterator over the markers of the last numEntries
// finished frames.
func (s *LatencyMarkersStorage) Reader(numEntries uint32) LatencyMarkersReader {
	r := LatencyMarkersReader{storage: s}
	if s.timeline.FrameFinished.Load() > uint64(numEntries)+MaxSwapChainBuffers {
		r.index = s.timeline.FrameFinished.Load() - uint64(numEntries) + 1
	}
	return r
}

type LatencyMarkersReader struct {
	storage *LatencyMarkersStorage
	index   uint64
}

func (r *LatencyMarkersReader) GetNext() (*LatencyMarkers, bool) {
	if r.index > r.storage.timeline.FrameFinished.Load() {
		return nil, false
	}

	result := &r.storage.markers[r.index%numMarkers]
	r.index++
	return result, true
}
