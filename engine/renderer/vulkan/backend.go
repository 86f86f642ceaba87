package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prisma/engine/core"
	"github.com/spaghettifunk/prisma/engine/platform"
	"github.com/spaghettifunk/prisma/engine/renderer/gpu"
	"github.com/spaghettifunk/prisma/engine/renderer/submit"
)

// VulkanRenderer is the real GPU backend. It owns the instance, device
// and command-list recycler and implements gpu.Device for the
// submission queue.
type VulkanRenderer struct {
	platform *platform.Platform
	context  *VulkanContext

	// command lists recycled by the finish worker, ready for reuse
	recycled chan *VulkanCommandList

	debug bool
}

func New(p *platform.Platform) *VulkanRenderer {
	return &VulkanRenderer{
		platform: p,
		context: &VulkanContext{
			Allocator: nil,
		},
		recycled: make(chan *VulkanCommandList, submit.MaxQueuedCommandBuffers),
		debug:    true,
	}
}

func (vr *VulkanRenderer) Initialize(appName string) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		core.LogFatal("GetInstanceProcAddress is nil")
		return fmt.Errorf("GetInstanceProcAddress is nil")
	}
	vk.SetGetInstanceProcAddr(procAddr)

	if err := vk.Init(); err != nil {
		core.LogFatal("failed to initialize vk: %s", err)
		return err
	}

	// TODO: custom allocator.
	vr.context.Allocator = nil
	vr.context.ContextID = uuid.New().String()

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("Prisma Engine"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	// Obtain a list of required extensions
	required_extensions := []string{"VK_KHR_surface"} // Generic surface extension
	en := vr.platform.GetRequiredExtensionNames()
	required_extensions = append(required_extensions, en...)

	if runtime.GOOS == "darwin" {
		required_extensions = append(required_extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}

	if vr.debug {
		required_extensions = append(required_extensions, vk.ExtDebugReportExtensionName)
	}

	createInfo.EnabledExtensionCount = uint32(len(required_extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(required_extensions)

	// Validation layers should only be enabled on non-release builds.
	required_validation_layer_names := []string{}
	if vr.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		required_validation_layer_names = []string{"VK_LAYER_KHRONOS_validation"}

		if runtime.GOOS == "darwin" {
			createInfo.Flags |= 1
		}

		// Obtain a list of available validation layers
		var available_layer_count uint32
		if res := vk.EnumerateInstanceLayerProperties(&available_layer_count, nil); res != vk.Success {
			return fmt.Errorf("failed to enumerate instance layer properties")
		}

		available_layers := make([]vk.LayerProperties, available_layer_count)
		if res := vk.EnumerateInstanceLayerProperties(&available_layer_count, available_layers); res != vk.Success {
			return fmt.Errorf("failed to enumerate instance layer properties")
		}

		// Verify all required layers are available.
		for i := range required_validation_layer_names {
			found := false
			for j := range available_layers {
				available_layers[j].Deref()
				end := FindFirstZeroInByteArray(available_layers[j].LayerName[:])
				if required_validation_layer_names[i] == vk.ToString(available_layers[j].LayerName[:end+1]) {
					found = true
					break
				}
			}

			if !found {
				core.LogWarn("validation layer %s is missing, disabling validation", required_validation_layer_names[i])
				required_validation_layer_names = nil
				break
			}
		}
	}

	createInfo.EnabledLayerCount = uint32(len(required_validation_layer_names))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(required_validation_layer_names)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}

	core.LogInfo("Vulkan Instance created (context %s).", vr.context.ContextID)

	if vr.debug && len(required_validation_layer_names) > 0 {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
			PNext:       nil,
		}

		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogError("vk.CreateDebugReportCallback failed with %s", err)
			return err
		}
		vr.context.debugMessenger = dbg
	}

	// Surface
	core.LogDebug("Creating Vulkan surface...")
	surface, err := vr.platform.Window.CreateWindowSurface(vr.context.Instance, nil)
	if err != nil {
		core.LogFatal("Vulkan surface creation failed.")
		return err
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)

	// Device
	vr.context.Device = &VulkanDevice{
		GraphicsQueueIndex: -1,
		PresentQueueIndex:  -1,
	}
	if err := DeviceCreate(vr.context); err != nil {
		return err
	}

	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	close(vr.recycled)
	for cmd := range vr.recycled {
		cmd.Free()
	}

	DeviceDestroy(vr.context)

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, nil)
	}

	vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
	return nil
}

// WaitForIdle drains all in-flight GPU work.
func (vr *VulkanRenderer) WaitForIdle() {
	if res := vk.DeviceWaitIdle(vr.context.Device.LogicalDevice); res != vk.Success {
		core.LogError("device wait idle failed: %s", VulkanResultString(res, false))
	}
}

// AcquireCommandList returns a recycled command list or allocates a new
// one from the graphics pool.
func (vr *VulkanRenderer) AcquireCommandList() (gpu.CommandList, error) {
	select {
	case cmd := <-vr.recycled:
		return cmd, nil
	default:
		return NewVulkanCommandList(vr.context, vr.context.Device.GraphicsCommandPool)
	}
}

// RecycleCommandList hands a fully reset command list back for reuse.
// Called by the finish worker.
func (vr *VulkanRenderer) RecycleCommandList(cmd gpu.CommandList) {
	vcmd, ok := cmd.(*VulkanCommandList)
	if !ok {
		return
	}

	select {
	case vr.recycled <- vcmd:
	default:
		// recycler full, free outright
		vcmd.Free()
	}
}

// NewPresenter creates the swap-chain bound presenter for the window
// surface of this backend.
func (vr *VulkanRenderer) NewPresenter(width, height uint32) (*VulkanPresenter, error) {
	return NewVulkanPresenter(vr.context, width, height)
}

func (vr *VulkanRenderer) Context() *VulkanContext {
	return vr.context
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] %s", pLayerPrefix, pMessage)
	default:
		core.LogWarn("[%s] %s", pLayerPrefix, pMessage)
	}
	return vk.False
}
