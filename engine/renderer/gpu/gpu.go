package gpu

import "sync/atomic"

// CommandList is an opaque batch of GPU commands prepared by the
// translation front-end. It owns GPU resources that are released through
// NotifyObjects and Reset once the GPU is done with them.
type CommandList interface {
	// Submit issues the recorded commands to the device queue.
	Submit() Result
	// SynchronizeFence blocks until the GPU has executed the batch.
	SynchronizeFence() Result
	// NotifyObjects releases resources and wakes threads sleeping on them.
	NotifyObjects()
	// Reset returns the command list to its recording-ready state.
	Reset()
}

// Presenter is the swap-chain binding of a window surface.
type Presenter interface {
	// PresentImage queues the current image for presentation.
	PresentImage(mode PresentMode, frameID uint64) Result
	// SignalFrame notifies the presenter that a present attempt completed.
	SignalFrame(result Result, mode PresentMode, frameID uint64)
}

// Device is the slice of the device the submission queue needs.
type Device interface {
	// WaitForIdle drains all in-flight GPU work.
	WaitForIdle()
	// RecycleCommandList hands a fully reset command list back for reuse.
	RecycleCommandList(cmd CommandList)
}

// QueueCallback fires when the internal submission worker acquires
// (entered=true) and releases (entered=false) the device queue, and
// likewise on LockDeviceQueue/UnlockDeviceQueue.
type QueueCallback func(entered bool)

// SubmitInfo carries the parameters of a command list submission.
type SubmitInfo struct {
	CmdList CommandList
}

// PresentInfo carries the parameters of a swap-chain present.
type PresentInfo struct {
	Presenter   Presenter
	PresentMode PresentMode
	FrameID     uint64
}

// SubmitStatus reports the fate of one asynchronous submission. The queue
// stores a non-owning reference; lifetime is the caller's responsibility.
type SubmitStatus struct {
	result atomic.Int32
}

func NewSubmitStatus() *SubmitStatus {
	s := &SubmitStatus{}
	s.result.Store(int32(NotReady))
	return s
}

func (s *SubmitStatus) Result() Result {
	return Result(s.result.Load())
}

// SetResult publishes the outcome of the submission. Written once by the
// submit worker.
func (s *SubmitStatus) SetResult(r Result) {
	s.result.Store(int32(r))
}
