package submit

import (
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/prisma/engine/containers"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
	"github.com/spaghettifunk/prisma/engine/sync"
)

// PacerHooks are the queue-side event callbacks of the frame pacer. The
// submit hooks run on the submit worker, the finish hooks on the finish
// worker. All of them are optional.
type PacerHooks struct {
	SubmitCmdList     func()
	SubmitPresent     func(frameID uint64)
	FinishCmdList     func()
	FinishGpuActivity func()
	FinishPresent     func(frameID uint64)
}

// SubmissionQueue moves command buffers from translation threads to the
// GPU through two worker stages. The submit worker issues entries to the
// device queue, the finish worker waits on their fences, signals frame
// completion and recycles the entry.
type SubmissionQueue struct {
	device   gpu.Device
	callback gpu.QueueCallback
	hooks    PacerHooks

	lastError atomic.Int32
	stopped   atomic.Bool
	gpuIdle   atomic.Uint64

	mutexQueue gosync.Mutex

	finishSync         *sync.AtomicSignal
	finishSyncIsFilled *sync.AtomicSignal
	finishSyncIsEmpty  *sync.AtomicSignal
	submitSyncIsEmpty  *sync.AtomicSignal
	submitSync         *sync.AtomicSignal
	appendSync         *sync.AtomicSignal

	submitQueue *containers.MPSCQueue[*SubmitEntry]
	finishQueue *containers.SPSCQueue[*SubmitEntry]
	entryPool   *EntryPool

	workers gosync.WaitGroup
}

func NewSubmissionQueue(device gpu.Device, callback gpu.QueueCallback, hooks PacerHooks) *SubmissionQueue {
	q := &SubmissionQueue{
		device:   device,
		callback: callback,
		hooks:    hooks,

		finishSync:         sync.NewAtomicSignal("finish_sync", false),
		finishSyncIsFilled: sync.NewAtomicSignal("finish_sync_is_filled", false),
		finishSyncIsEmpty:  sync.NewAtomicSignal("finish_sync_is_empty", true),
		submitSyncIsEmpty:  sync.NewAtomicSignal("submit_sync_is_empty", true),
		submitSync:         sync.NewAtomicSignal("submit_sync", false),
		appendSync:         sync.NewAtomicSignal("append_sync", false),

		submitQueue: containers.NewMPSCQueue[*SubmitEntry](MaxQueuedCommandBuffers),
		finishQueue: containers.NewSPSCQueue[*SubmitEntry](MaxQueuedCommandBuffers),
		entryPool:   NewEntryPool(MaxQueuedCommandBuffers),
	}
	q.lastError.Store(int32(gpu.Success))

	q.workers.Add(2)
	go q.submitCmdLists()
	go q.finishCmdLists()

	return q
}

// GpuIdleTicks returns the accumulated time in microseconds the finish
// worker spent starved for work. Monotonically increasing; evaluate it
// periodically to estimate GPU load.
func (q *SubmissionQueue) GpuIdleTicks() uint64 {
	return q.gpuIdle.Load()
}

// LastError returns the last error observed during asynchronous command
// submission or fence synchronization.
func (q *SubmissionQueue) LastError() gpu.Result {
	return gpu.Result(q.lastError.Load())
}

// Submit queues a command list for submission on the dedicated submission
// worker and returns immediately. status, if non-nil, is set to NotReady
// now and to the GPU result once the submission was attempted.
func (q *SubmissionQueue) Submit(submitInfo gpu.SubmitInfo, status *gpu.SubmitStatus) {
	entry := q.entryPool.Acquire()
	entry.Status = status
	entry.Submit = submitInfo

	q.append(entry, status)
}

// Present queues a swap-chain present. Same return semantics as Submit.
func (q *SubmissionQueue) Present(presentInfo gpu.PresentInfo, status *gpu.SubmitStatus) {
	entry := q.entryPool.Acquire()
	entry.Status = status
	entry.Present = presentInfo

	q.append(entry, status)
}

func (q *SubmissionQueue) append(entry *SubmitEntry, status *gpu.SubmitStatus) {
	if status != nil {
		status.SetResult(gpu.NotReady)
	}

	// cannot fail: the pool and the queue have the same capacity
	q.submitQueue.Enqueue(entry)
	q.submitSyncIsEmpty.Clear()
	q.appendSync.SignalOne()
}

// SynchronizeSubmission blocks until the result of the given submission
// becomes available, or until the queue is stopped.
func (q *SubmissionQueue) SynchronizeSubmission(status *gpu.SubmitStatus) {
	for status.Result() == gpu.NotReady && !q.stopped.Load() {
		q.submitSync.Wait()
	}
}

// Synchronize blocks until all pending command lists have been handed to
// the GPU.
func (q *SubmissionQueue) Synchronize() {
	for !q.stopped.Load() && q.submitQueue.Len() > 0 {
		q.submitSyncIsEmpty.Wait()
	}
}

// SynchronizeUntil blocks until pred becomes true, rechecking on every
// finish-worker wakeup. Useful to wait for the GPU without busy-waiting.
func (q *SubmissionQueue) SynchronizeUntil(pred func() bool) {
	for !q.stopped.Load() && !pred() {
		q.finishSync.Wait()
	}
}

// WaitForIdle blocks until both worker queues are observed empty.
func (q *SubmissionQueue) WaitForIdle() {
	for !q.stopped.Load() && q.submitQueue.Len() > 0 {
		q.submitSyncIsEmpty.Wait()
	}

	for !q.stopped.Load() && q.finishQueue.Len() > 0 {
		q.finishSyncIsEmpty.Wait()
	}
}

// LockDeviceQueue serialises external GPU submissions with the internal
// submission worker. Needed when the host submits its own command
// buffers to the device queue.
func (q *SubmissionQueue) LockDeviceQueue() {
	q.mutexQueue.Lock()

	if q.callback != nil {
		q.callback(true)
	}
}

// UnlockDeviceQueue releases the device queue again.
func (q *SubmissionQueue) UnlockDeviceQueue() {
	if q.callback != nil {
		q.callback(false)
	}

	q.mutexQueue.Unlock()
}

// Shutdown stops both workers and waits for them to exit. Pending entries
// are abandoned; a caller blocked in SynchronizeSubmission is woken and
// bails out via the stopped flag.
func (q *SubmissionQueue) Shutdown() error {
	q.stopped.Store(true)

	q.finishSyncIsFilled.SignalOne()
	q.finishSyncIsEmpty.SignalOne()
	q.submitSyncIsEmpty.SignalAll()
	q.appendSync.SignalOne()
	q.submitSync.SignalAll()
	q.finishSync.SignalAll()

	q.workers.Wait()
	return nil
}

func (q *SubmissionQueue) submitCmdLists() {
	defer q.workers.Done()

	for !q.stopped.Load() {
		var entry *SubmitEntry
		for !q.stopped.Load() {
			if e, ok := q.submitQueue.Dequeue(); ok {
				entry = e
				break
			}
			q.appendSync.Wait()
		}

		if q.stopped.Load() {
			return
		}

		isPresent := entry.Present.Presenter != nil

		if q.LastError() != gpu.ErrorDeviceLost {
			q.mutexQueue.Lock()

			if q.callback != nil {
				q.callback(true)
			}

			if entry.Submit.CmdList != nil {
				entry.Result = entry.Submit.CmdList.Submit()
				if q.hooks.SubmitCmdList != nil {
					q.hooks.SubmitCmdList()
				}
			} else if isPresent {
				entry.Result = entry.Present.Presenter.PresentImage(entry.Present.PresentMode, entry.Present.FrameID)
				if q.hooks.SubmitPresent != nil {
					q.hooks.SubmitPresent(entry.Present.FrameID)
				}
			}

			if q.callback != nil {
				q.callback(false)
			}

			q.mutexQueue.Unlock()
		} else {
			// don't submit anything after device loss
			// so that drivers get a chance to recover
			entry.Result = gpu.ErrorDeviceLost
		}

		if entry.Status != nil {
			entry.Status.SetResult(entry.Result)
		}

		doForward := entry.Result == gpu.Success ||
			(isPresent && entry.Result != gpu.ErrorDeviceLost)

		if doForward {
			q.finishQueue.Enqueue(entry)
			q.finishSyncIsEmpty.Clear()
			q.finishSyncIsFilled.SignalOne()
		} else {
			core.LogError("SubmissionQueue: command submission failed: %s", entry.Result.String())
			q.lastError.Store(int32(entry.Result))

			if entry.Result != gpu.ErrorDeviceLost {
				q.device.WaitForIdle()
			}

			q.entryPool.Release(entry)
		}

		if q.submitQueue.Len() == 0 {
			q.submitSyncIsEmpty.SignalAll()
		}

		q.submitSync.SignalOne()
	}
}

func (q *SubmissionQueue) finishCmdLists() {
	defer q.workers.Done()

	for !q.stopped.Load() {
		var entry *SubmitEntry
		for !q.stopped.Load() {
			if e, ok := q.finishQueue.Dequeue(); ok {
				entry = e
				break
			}
			t0 := time.Now()
			q.finishSyncIsFilled.Wait()
			q.gpuIdle.Add(uint64(time.Since(t0).Microseconds()))
		}

		if q.stopped.Load() {
			return
		}

		if entry.Submit.CmdList != nil {
			status := q.LastError()

			if status != gpu.ErrorDeviceLost {
				status = entry.Submit.CmdList.SynchronizeFence()
				if q.hooks.FinishCmdList != nil {
					q.hooks.FinishCmdList()
				}
			}

			if status != gpu.Success {
				q.lastError.Store(int32(status))

				if status != gpu.ErrorDeviceLost {
					q.device.WaitForIdle()
				}
			}
		} else if entry.Present.Presenter != nil {
			// Signal the frame and then immediately drop the reference.
			// The front-end may want to destroy the presenter right after.
			entry.Present.Presenter.SignalFrame(entry.Result, entry.Present.PresentMode, entry.Present.FrameID)
			frameID := entry.Present.FrameID
			entry.Present.Presenter = nil

			if q.hooks.FinishPresent != nil {
				q.hooks.FinishPresent(frameID)
			}
		}

		// Release resources and signal events, then immediately wake up
		// any thread that's currently waiting on a resource in order to
		// reduce delays as much as possible.
		if entry.Submit.CmdList != nil {
			entry.Submit.CmdList.NotifyObjects()

			if q.hooks.FinishGpuActivity != nil {
				q.hooks.FinishGpuActivity()
			}
		}

		if q.finishQueue.Len() == 0 {
			q.finishSyncIsEmpty.SignalOne()
		}

		q.finishSync.SignalAll()

		// free the command list and associated objects now
		if entry.Submit.CmdList != nil {
			entry.Submit.CmdList.Reset()
			q.device.RecycleCommandList(entry.Submit.CmdList)
		}

		q.entryPool.Release(entry)
	}
}
