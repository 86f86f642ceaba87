package submit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// fakeCmdList is a scriptable gpu.CommandList recording every call.
type fakeCmdList struct {
	submitResult gpu.Result
	fenceResult  gpu.Result
	fenceDelay   time.Duration
	fenceGate    chan struct{}
	onNotify     func()

	order *callOrder

	submits  atomic.Int32
	syncs    atomic.Int32
	notifies atomic.Int32
	resets   atomic.Int32
}

func (f *fakeCmdList) Submit() gpu.Result {
	f.submits.Add(1)
	if f.order != nil {
		f.order.record(f)
	}
	return f.submitResult
}

func (f *fakeCmdList) SynchronizeFence() gpu.Result {
	f.syncs.Add(1)
	if f.fenceGate != nil {
		<-f.fenceGate
	}
	if f.fenceDelay > 0 {
		time.Sleep(f.fenceDelay)
	}
	return f.fenceResult
}

func (f *fakeCmdList) NotifyObjects() {
	f.notifies.Add(1)
	if f.onNotify != nil {
		f.onNotify()
	}
}

func (f *fakeCmdList) Reset() { f.resets.Add(1) }

type callOrder struct {
	mu    sync.Mutex
	calls []*fakeCmdList
}

func (o *callOrder) record(c *fakeCmdList) {
	o.mu.Lock()
	o.calls = append(o.calls, c)
	o.mu.Unlock()
}

type fakeDevice struct {
	idleWaits atomic.Int32

	mu       sync.Mutex
	recycled []gpu.CommandList
}

func (d *fakeDevice) WaitForIdle() { d.idleWaits.Add(1) }

func (d *fakeDevice) RecycleCommandList(cmd gpu.CommandList) {
	d.mu.Lock()
	d.recycled = append(d.recycled, cmd)
	d.mu.Unlock()
}

func (d *fakeDevice) recycledCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.recycled)
}

type frameSignal struct {
	result  gpu.Result
	mode    gpu.PresentMode
	frameID uint64
}

type fakePresenter struct {
	presentResult gpu.Result
	signals       chan frameSignal
}

func newFakePresenter(result gpu.Result) *fakePresenter {
	return &fakePresenter{
		presentResult: result,
		signals:       make(chan frameSignal, 16),
	}
}

func (p *fakePresenter) PresentImage(mode gpu.PresentMode, frameID uint64) gpu.Result {
	return p.presentResult
}

func (p *fakePresenter) SignalFrame(result gpu.Result, mode gpu.PresentMode, frameID uint64) {
	p.signals <- frameSignal{result: result, mode: mode, frameID: frameID}
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestHappyPath runs two submissions and a present through the pipeline
// and verifies every downstream call fires exactly once.
func TestHappyPath(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	cmdA := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success, fenceDelay: time.Millisecond}
	cmdB := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success, fenceDelay: time.Millisecond}
	presenter := newFakePresenter(gpu.Success)

	sA := gpu.NewSubmitStatus()
	sB := gpu.NewSubmitStatus()
	sP := gpu.NewSubmitStatus()

	q.Submit(gpu.SubmitInfo{CmdList: cmdA}, sA)
	q.Submit(gpu.SubmitInfo{CmdList: cmdB}, sB)
	q.Present(gpu.PresentInfo{Presenter: presenter, PresentMode: gpu.PresentModeFifo, FrameID: 17}, sP)

	q.SynchronizeSubmission(sA)
	q.SynchronizeSubmission(sB)
	q.SynchronizeSubmission(sP)

	if sA.Result() != gpu.Success || sB.Result() != gpu.Success || sP.Result() != gpu.Success {
		t.Errorf("results: A=%s B=%s P=%s, want all SUCCESS", sA.Result(), sB.Result(), sP.Result())
	}

	select {
	case sig := <-presenter.signals:
		if sig.result != gpu.Success || sig.frameID != 17 {
			t.Errorf("signal frame: got (%s, %d), want (SUCCESS, 17)", sig.result, sig.frameID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("presenter never received its frame signal")
	}

	waitUntil(t, 5*time.Second, "both command lists recycled", func() bool {
		return device.recycledCount() == 2
	})

	if cmdA.resets.Load() != 1 || cmdB.resets.Load() != 1 {
		t.Errorf("resets: A=%d B=%d, want 1 each", cmdA.resets.Load(), cmdB.resets.Load())
	}
	if cmdA.notifies.Load() != 1 || cmdB.notifies.Load() != 1 {
		t.Errorf("notifies: A=%d B=%d, want 1 each", cmdA.notifies.Load(), cmdB.notifies.Load())
	}

	q.WaitForIdle()
	if q.LastError() != gpu.Success {
		t.Errorf("last error: got %s, want SUCCESS", q.LastError())
	}
}

// TestTransientSubmitError verifies a failed submission drains the
// device, records the error and never reaches the finish worker.
func TestTransientSubmitError(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	cmdA := &fakeCmdList{submitResult: gpu.ErrorOutOfDeviceMemory}
	sA := gpu.NewSubmitStatus()

	q.Submit(gpu.SubmitInfo{CmdList: cmdA}, sA)
	q.SynchronizeSubmission(sA)

	if sA.Result() != gpu.ErrorOutOfDeviceMemory {
		t.Errorf("status: got %s, want ERROR_OUT_OF_DEVICE_MEMORY", sA.Result())
	}

	waitUntil(t, 5*time.Second, "device drain", func() bool {
		return device.idleWaits.Load() == 1
	})
	if q.LastError() != gpu.ErrorOutOfDeviceMemory {
		t.Errorf("last error: got %s, want ERROR_OUT_OF_DEVICE_MEMORY", q.LastError())
	}

	// not forwarded: the finish stage never touches the command list
	if cmdA.syncs.Load() != 0 || cmdA.notifies.Load() != 0 || cmdA.resets.Load() != 0 {
		t.Errorf("failed submission reached the finish worker: syncs=%d notifies=%d resets=%d",
			cmdA.syncs.Load(), cmdA.notifies.Load(), cmdA.resets.Load())
	}

	// the slot went back to the pool
	waitUntil(t, 5*time.Second, "slot released", func() bool {
		return q.entryPool.Available() == MaxQueuedCommandBuffers
	})
}

// TestDeviceLostOnSubmit verifies the queue bypasses the GPU entirely
// once the device is lost, without draining.
func TestDeviceLostOnSubmit(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	cmdA := &fakeCmdList{submitResult: gpu.ErrorDeviceLost}
	cmdB := &fakeCmdList{submitResult: gpu.Success}
	sA := gpu.NewSubmitStatus()
	sB := gpu.NewSubmitStatus()

	q.Submit(gpu.SubmitInfo{CmdList: cmdA}, sA)
	q.SynchronizeSubmission(sA)

	waitUntil(t, 5*time.Second, "device loss to be recorded", func() bool {
		return q.LastError() == gpu.ErrorDeviceLost
	})

	q.Submit(gpu.SubmitInfo{CmdList: cmdB}, sB)
	q.SynchronizeSubmission(sB)

	if sA.Result() != gpu.ErrorDeviceLost || sB.Result() != gpu.ErrorDeviceLost {
		t.Errorf("results: A=%s B=%s, want both ERROR_DEVICE_LOST", sA.Result(), sB.Result())
	}

	// no drain after device loss, and B never touched the GPU
	if device.idleWaits.Load() != 0 {
		t.Errorf("device drained %d times after device loss, want 0", device.idleWaits.Load())
	}
	if cmdB.submits.Load() != 0 {
		t.Error("command list B was submitted after device loss")
	}
	if cmdA.syncs.Load() != 0 || cmdB.syncs.Load() != 0 {
		t.Error("a lost submission reached the finish worker")
	}
}

// TestPresentErrorIsForwarded verifies a non-fatal present error still
// reaches the finish worker so the presenter gets its frame signal.
func TestPresentErrorIsForwarded(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	presenter := newFakePresenter(gpu.ErrorOutOfDate)
	sP := gpu.NewSubmitStatus()

	q.Present(gpu.PresentInfo{Presenter: presenter, PresentMode: gpu.PresentModeFifo, FrameID: 3}, sP)
	q.SynchronizeSubmission(sP)

	if sP.Result() != gpu.ErrorOutOfDate {
		t.Errorf("status: got %s, want ERROR_OUT_OF_DATE", sP.Result())
	}

	select {
	case sig := <-presenter.signals:
		if sig.result != gpu.ErrorOutOfDate || sig.frameID != 3 {
			t.Errorf("signal frame: got (%s, %d), want (ERROR_OUT_OF_DATE, 3)", sig.result, sig.frameID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("presenter never received its frame signal")
	}

	// present errors do not escalate the queue's error state
	if q.LastError() != gpu.Success {
		t.Errorf("last error: got %s, want SUCCESS", q.LastError())
	}
	if device.idleWaits.Load() != 0 {
		t.Errorf("device drained on a present error, want no drain")
	}
}

// TestSubmitOrderWithinProducer verifies submissions from one thread
// reach the GPU in enqueue order.
func TestSubmitOrderWithinProducer(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	order := &callOrder{}
	cmds := make([]*fakeCmdList, 20)
	for i := range cmds {
		cmds[i] = &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success, order: order}
		q.Submit(gpu.SubmitInfo{CmdList: cmds[i]}, nil)
	}

	q.Synchronize()
	waitUntil(t, 5*time.Second, "all submissions issued", func() bool {
		order.mu.Lock()
		defer order.mu.Unlock()
		return len(order.calls) == len(cmds)
	})

	order.mu.Lock()
	defer order.mu.Unlock()
	for i := range cmds {
		if order.calls[i] != cmds[i] {
			t.Fatalf("submission %d issued out of order", i)
		}
	}
}

// TestWaitForIdleDrainsBothStages verifies both queues are empty once
// WaitForIdle returns and no new work was admitted.
func TestWaitForIdleDrainsBothStages(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	for i := 0; i < 10; i++ {
		cmd := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success, fenceDelay: time.Millisecond}
		q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	}

	q.WaitForIdle()

	if q.submitQueue.Len() != 0 || q.finishQueue.Len() != 0 {
		t.Errorf("queues not empty after WaitForIdle: submit=%d finish=%d",
			q.submitQueue.Len(), q.finishQueue.Len())
	}
}

// TestGpuIdleTicksMonotonic verifies the idle counter only ever grows.
func TestGpuIdleTicksMonotonic(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	// let the finish worker starve a little
	time.Sleep(20 * time.Millisecond)
	cmd := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success}
	q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	q.WaitForIdle()

	first := q.GpuIdleTicks()

	time.Sleep(20 * time.Millisecond)
	cmd = &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success}
	q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	q.WaitForIdle()

	waitUntil(t, 5*time.Second, "idle ticks to grow", func() bool {
		return q.GpuIdleTicks() > first
	})
}

// TestSynchronizeUntil verifies the predicate is polled on finish-worker
// wakeups.
func TestSynchronizeUntil(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})
	defer q.Shutdown()

	var notified atomic.Int32
	waiterDone := make(chan struct{})
	go func() {
		q.SynchronizeUntil(func() bool {
			return notified.Load() >= 3
		})
		close(waiterDone)
	}()

	// NotifyObjects runs before the finish worker broadcasts, so the
	// waiter observes the count on the matching wakeup
	for i := 0; i < 3; i++ {
		cmd := &fakeCmdList{
			submitResult: gpu.Success,
			fenceResult:  gpu.Success,
			onNotify:     func() { notified.Add(1) },
		}
		q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	}

	select {
	case <-waiterDone:
	case <-time.After(5 * time.Second):
		t.Fatal("SynchronizeUntil never observed the predicate")
	}
}

// TestLockDeviceQueueCallback verifies the callback fires on both edges.
func TestLockDeviceQueueCallback(t *testing.T) {
	var edges []bool
	var mu sync.Mutex
	callback := func(entered bool) {
		mu.Lock()
		edges = append(edges, entered)
		mu.Unlock()
	}

	device := &fakeDevice{}
	q := NewSubmissionQueue(device, callback, PacerHooks{})
	defer q.Shutdown()

	q.LockDeviceQueue()
	q.UnlockDeviceQueue()

	mu.Lock()
	defer mu.Unlock()
	if len(edges) != 2 || edges[0] != true || edges[1] != false {
		t.Errorf("callback edges: got %v, want [true false]", edges)
	}
}

// TestShutdownWithBlockedPipeline verifies both workers exit even with
// entries in flight behind a gated fence.
func TestShutdownWithBlockedPipeline(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})

	gate := make(chan struct{})
	for i := 0; i < 10; i++ {
		cmd := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success, fenceGate: gate}
		q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	}

	shutdownDone := make(chan struct{})
	go func() {
		q.Shutdown()
		close(shutdownDone)
	}()

	// release the GPU stub so the finish worker can observe stopped
	close(gate)

	select {
	case <-shutdownDone:
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not exit on shutdown")
	}
}

// TestSynchronizeSubmissionBailsOutOnShutdown verifies a caller blocked
// on a submission that will never complete is released by Shutdown.
func TestSynchronizeSubmissionBailsOutOnShutdown(t *testing.T) {
	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, PacerHooks{})

	status := gpu.NewSubmitStatus()

	released := make(chan struct{})
	go func() {
		// never submitted anywhere, the result stays NotReady
		q.SynchronizeSubmission(status)
		close(released)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("SynchronizeSubmission stayed blocked through shutdown")
	}
}

// TestPacerHooksFire verifies the worker-side hook points run for both
// submissions and presents.
func TestPacerHooksFire(t *testing.T) {
	var submitCmd, submitPresent, finishCmd, finishActivity, finishPresent atomic.Int32

	hooks := PacerHooks{
		SubmitCmdList:     func() { submitCmd.Add(1) },
		SubmitPresent:     func(frameID uint64) { submitPresent.Add(1) },
		FinishCmdList:     func() { finishCmd.Add(1) },
		FinishGpuActivity: func() { finishActivity.Add(1) },
		FinishPresent:     func(frameID uint64) { finishPresent.Add(1) },
	}

	device := &fakeDevice{}
	q := NewSubmissionQueue(device, nil, hooks)
	defer q.Shutdown()

	cmd := &fakeCmdList{submitResult: gpu.Success, fenceResult: gpu.Success}
	presenter := newFakePresenter(gpu.Success)

	q.Submit(gpu.SubmitInfo{CmdList: cmd}, nil)
	q.Present(gpu.PresentInfo{Presenter: presenter, PresentMode: gpu.PresentModeFifo, FrameID: 1}, nil)

	<-presenter.signals
	waitUntil(t, 5*time.Second, "all hooks to fire", func() bool {
		return submitCmd.Load() == 1 && submitPresent.Load() == 1 &&
			finishCmd.Load() == 1 && finishActivity.Load() == 1 && finishPresent.Load() == 1
	})
}
