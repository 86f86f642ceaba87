package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
)

// FrameSignalFunc is invoked by the finish worker once a present attempt
// for frameID completed with the given result.
type FrameSignalFunc func(result gpu.Result, mode gpu.PresentMode, frameID uint64)

// VulkanPresenter binds the window surface's swapchain and implements
// gpu.Presenter. PresentImage runs on the submission worker with the
// device queue held; SignalFrame runs on the finish worker.
type VulkanPresenter struct {
	PresenterID string

	context *VulkanContext

	handle      vk.Swapchain
	imageFormat vk.SurfaceFormat
	imageCount  uint32
	images      []vk.Image

	acquireSemaphore vk.Semaphore
	imageIndex       uint32

	mu          sync.Mutex
	frameSignal FrameSignalFunc

	width  uint32
	height uint32
}

func NewVulkanPresenter(context *VulkanContext, width, height uint32) (*VulkanPresenter, error) {
	p := &VulkanPresenter{
		PresenterID: uuid.New().String(),
		context:     context,
		width:       width,
		height:      height,
	}

	if err := p.createSwapchain(); err != nil {
		return nil, err
	}

	semaphoreInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreInfo, context.Allocator, &semaphore); res != vk.Success {
		err := fmt.Errorf("failed to create acquire semaphore")
		core.LogError(err.Error())
		return nil, err
	}
	p.acquireSemaphore = semaphore

	core.LogInfo("Presenter %s created.", p.PresenterID)
	return p, nil
}

// SetFrameSignal installs the callback fired from SignalFrame. The
// front-end uses it to learn when a frame is done presenting.
func (p *VulkanPresenter) SetFrameSignal(fn FrameSignalFunc) {
	p.mu.Lock()
	p.frameSignal = fn
	p.mu.Unlock()
}

// PresentImage queues the current image for presentation and acquires
// the next one.
func (p *VulkanPresenter) PresentImage(mode gpu.PresentMode, frameID uint64) gpu.Result {
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{p.handle},
		PImageIndices:  []uint32{p.imageIndex},
		PResults:       nil,
	}

	result := vk.QueuePresent(p.context.Device.PresentQueue, &presentInfo)
	if result == vk.ErrorOutOfDate {
		// the surface changed under us, the front-end has to recreate
		// the swapchain before the next present
		core.LogWarn("presenter %s: swapchain out of date", p.PresenterID)
		return gpu.ErrorOutOfDate
	} else if result != vk.Success && result != vk.Suboptimal {
		core.LogError("failed to present swap chain image: %s", VulkanResultString(result, false))
		return ResultFromVk(result)
	}

	var imageIndex uint32
	acquire := vk.AcquireNextImage(p.context.Device.LogicalDevice, p.handle,
		math.MaxUint64, p.acquireSemaphore, vk.NullFence, &imageIndex)
	if acquire != vk.Success && acquire != vk.Suboptimal {
		return ResultFromVk(acquire)
	}
	p.imageIndex = imageIndex

	return gpu.Success
}

// SignalFrame notifies the front-end that a present attempt completed.
func (p *VulkanPresenter) SignalFrame(result gpu.Result, mode gpu.PresentMode, frameID uint64) {
	p.mu.Lock()
	fn := p.frameSignal
	p.mu.Unlock()

	if fn != nil {
		fn(result, mode, frameID)
	}
}

// Recreate destroys and recreates the swapchain, e.g. after a resize or
// an out-of-date present.
func (p *VulkanPresenter) Recreate(width, height uint32) error {
	p.destroySwapchain()
	p.width = width
	p.height = height
	return p.createSwapchain()
}

func (p *VulkanPresenter) Destroy() {
	p.destroySwapchain()
	vk.DestroySemaphore(p.context.Device.LogicalDevice, p.acquireSemaphore, p.context.Allocator)
}

func (p *VulkanPresenter) createSwapchain() error {
	context := p.context

	swapchainExtent := vk.Extent2D{
		Width:  p.width,
		Height: p.height,
	}

	// Choose a swap surface format.
	found := false
	for i := 0; i < int(context.Device.SwapchainSupport.FormatCount); i++ {
		format := context.Device.SwapchainSupport.Formats[i]
		// Preferred formats
		if format.Format == vk.FormatB8g8r8a8Unorm &&
			format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			p.imageFormat = format
			found = true
		}
	}

	if !found {
		p.imageFormat = context.Device.SwapchainSupport.Formats[0]
	}

	// Prefer immediate and mailbox over fifo, latency beats tearing
	// protection for this layer.
	presentMode := vk.PresentModeFifo
	for i := 0; i < int(context.Device.SwapchainSupport.PresentModeCount); i++ {
		mode := context.Device.SwapchainSupport.PresentModes[i]
		if mode == vk.PresentModeImmediate {
			presentMode = mode
			break
		}
		if mode == vk.PresentModeMailbox {
			presentMode = mode
		}
	}

	// Swapchain extent
	if context.Device.SwapchainSupport.Capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = context.Device.SwapchainSupport.Capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	minExtent := context.Device.SwapchainSupport.Capabilities.MinImageExtent
	maxExtent := context.Device.SwapchainSupport.Capabilities.MaxImageExtent
	swapchainExtent.Width = clamp(swapchainExtent.Width, minExtent.Width, maxExtent.Width)
	swapchainExtent.Height = clamp(swapchainExtent.Height, minExtent.Height, maxExtent.Height)

	imageCount := context.Device.SwapchainSupport.Capabilities.MinImageCount + 1
	if context.Device.SwapchainSupport.Capabilities.MaxImageCount > 0 && imageCount > context.Device.SwapchainSupport.Capabilities.MaxImageCount {
		imageCount = context.Device.SwapchainSupport.Capabilities.MaxImageCount
	}

	// Swapchain create info
	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      p.imageFormat.Format,
		ImageColorSpace:  p.imageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	// Setup the queue family indices
	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		queueFamilyIndices := []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = queueFamilyIndices
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
		swapchainCreateInfo.QueueFamilyIndexCount = 0
		swapchainCreateInfo.PQueueFamilyIndices = nil
	}

	swapchainCreateInfo.PreTransform = context.Device.SwapchainSupport.Capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = presentMode
	swapchainCreateInfo.Clipped = vk.True
	swapchainCreateInfo.OldSwapchain = vk.NullSwapchain

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		err := fmt.Errorf("failed to create swapchain")
		core.LogError(err.Error())
		return err
	}
	p.handle = swapchainHandle

	// Images
	p.imageCount = 0
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, p.handle, &p.imageCount, nil); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images")
		core.LogError(err.Error())
		return err
	}
	p.images = make([]vk.Image, p.imageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, p.handle, &p.imageCount, p.images); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images")
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Swapchain created successfully.")
	return nil
}

func (p *VulkanPresenter) destroySwapchain() {
	vk.DeviceWaitIdle(p.context.Device.LogicalDevice)

	// The images are owned by the swapchain and are destroyed with it.
	vk.DestroySwapchain(p.context.Device.LogicalDevice, p.handle, p.context.Allocator)
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
