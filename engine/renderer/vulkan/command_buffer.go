package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandList wraps one primary command buffer together with the
// fence guarding its execution and the completion callbacks of the
// resources it references. It is the gpu.CommandList of this backend.
type VulkanCommandList struct {
	Handle vk.CommandBuffer
	Fence  *VulkanFence
	State  VulkanCommandBufferState

	context *VulkanContext
	pool    vk.CommandPool

	mu        sync.Mutex
	completed []func()
}

func NewVulkanCommandList(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandList, error) {
	cmd := &VulkanCommandList{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
		pool:    pool,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffer")
		core.LogError(err.Error())
		return nil, err
	}
	cmd.Handle = buffers[0]

	fence, err := NewFence(context, false)
	if err != nil {
		return nil, err
	}
	cmd.Fence = fence
	cmd.State = COMMAND_BUFFER_STATE_READY

	return cmd, nil
}

func (v *VulkanCommandList) Begin() error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandList) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

// OnComplete registers fn to run once the GPU finished executing this
// command list. Used by resource owners to learn when their objects are
// safe to touch again.
func (v *VulkanCommandList) OnComplete(fn func()) {
	v.mu.Lock()
	v.completed = append(v.completed, fn)
	v.mu.Unlock()
}

// Submit issues the recorded commands to the graphics queue, guarded by
// the command list's own fence.
func (v *VulkanCommandList) Submit() gpu.Result {
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	res := vk.QueueSubmit(v.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, v.Fence.Handle)
	if res != vk.Success {
		core.LogError("queue submit failed: %s", VulkanResultString(res, false))
		return ResultFromVk(res)
	}

	v.State = COMMAND_BUFFER_STATE_SUBMITTED
	return gpu.Success
}

// SynchronizeFence blocks until the GPU has executed the batch.
func (v *VulkanCommandList) SynchronizeFence() gpu.Result {
	res := v.Fence.FenceWaitResult(v.context, math.MaxUint64)
	return ResultFromVk(res)
}

// NotifyObjects releases resources and wakes any thread sleeping on
// them.
func (v *VulkanCommandList) NotifyObjects() {
	v.mu.Lock()
	completed := v.completed
	v.completed = nil
	v.mu.Unlock()

	for _, fn := range completed {
		fn()
	}
}

// Reset returns the command list to its recording-ready state.
func (v *VulkanCommandList) Reset() {
	if res := vk.ResetCommandBuffer(v.Handle, 0); res != vk.Success {
		core.LogWarn("failed to reset command buffer: %s", VulkanResultString(res, false))
	}
	if err := v.Fence.FenceReset(v.context); err != nil {
		core.LogWarn(err.Error())
	}
	v.State = COMMAND_BUFFER_STATE_READY
}

func (v *VulkanCommandList) Free() {
	v.Fence.FenceDestroy(v.context)
	vk.FreeCommandBuffers(v.context.Device.LogicalDevice, v.pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}
