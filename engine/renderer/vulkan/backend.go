package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/containers"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// VulkanRenderer is the device backend. It owns the instance, the headless
// device and a ring of host-visible staging buffers that uploads are fed
// through.
type VulkanRenderer struct {
	context     *VulkanContext
	stagingRing *containers.RingQueue[*VulkanBuffer]

	debug bool
}

func New() *VulkanRenderer {
	return &VulkanRenderer{
		context: &VulkanContext{
			Allocator: nil,
			Locks:     NewVulkanLockPool(),
		},
		debug: true,
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

	// Setup Vulkan instance.
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(appName),
		PEngineName:        VulkanSafeString("GPUScene"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	requiredExtensions := []string{}
	if runtime.GOOS == "darwin" {
		requiredExtensions = append(requiredExtensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		createInfo.Flags |= 1
	}
	if vr.debug {
		requiredExtensions = append(requiredExtensions, vk.ExtDebugReportExtensionName)
	}
	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(requiredExtensions)

	requiredValidationLayerNames := []string{}
	if vr.debug {
		core.LogInfo("Validation layers enabled. Enumerating...")
		requiredValidationLayerNames = []string{"VK_LAYER_KHRONOS_validation"}

		var availableLayerCount uint32
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
			return fmt.Errorf("failed to enumerate instance layers")
		}
		availableLayers := make([]vk.LayerProperties, availableLayerCount)
		if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
			return fmt.Errorf("failed to enumerate instance layers")
		}

		for i := range requiredValidationLayerNames {
			found := false
			for j := range availableLayers {
				availableLayers[j].Deref()
				end := FindFirstZeroInByteArray(availableLayers[j].LayerName[:])
				if requiredValidationLayerNames[i] == vk.ToString(availableLayers[j].LayerName[:end+1]) {
					found = true
					break
				}
			}
			if !found {
				core.LogWarn("validation layer %s is missing; continuing without validation", requiredValidationLayerNames[i])
				requiredValidationLayerNames = nil
				break
			}
		}
	}
	createInfo.EnabledLayerCount = uint32(len(requiredValidationLayerNames))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(requiredValidationLayerNames)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		err := fmt.Errorf("failed in creating the Vulkan Instance with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("Vulkan Instance created.")

	if vr.debug && len(requiredValidationLayerNames) > 0 {
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
		core.LogDebug("Vulkan debugger created.")
	}

	// Device creation
	if err := DeviceCreate(vr.context); err != nil {
		core.LogError("Failed to create device!")
		return err
	}
	vr.context.Locks.SetQueueFamily(uint32(vr.context.Device.TransferQueueIndex))

	fence, err := NewFence(vr.context, false)
	if err != nil {
		return err
	}
	vr.context.TransferFence = fence

	// Staging ring
	vr.stagingRing = containers.NewRingQueue[*VulkanBuffer](VULKAN_STAGING_RING_DEPTH)
	for i := 0; i < VULKAN_STAGING_RING_DEPTH; i++ {
		staging, err := NewVulkanBuffer(vr.context, VULKAN_STAGING_BUFFER_SIZE_BYTES,
			vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
			uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		if err := vr.stagingRing.Enqueue(staging); err != nil {
			return err
		}
	}

	core.LogInfo("Vulkan renderer initialized.")
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	if vr.context.Device != nil && vr.context.Device.LogicalDevice != nil {
		vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)
	}

	if vr.stagingRing != nil {
		for !vr.stagingRing.IsEmpty() {
			staging, err := vr.stagingRing.Dequeue()
			if err != nil {
				break
			}
			staging.Destroy(vr.context)
		}
		vr.stagingRing = nil
	}
	if vr.context.TransferFence != nil {
		vr.context.TransferFence.Destroy(vr.context)
		vr.context.TransferFence = nil
	}

	DeviceDestroy(vr.context)

	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
	}
	if vr.context.Instance != nil {
		vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)
		vr.context.Instance = nil
	}
	return nil
}

func (vr *VulkanRenderer) RenderBufferCreate(name string, bufferType metadata.RenderBufferType, capacity uint64) (*metadata.RenderBuffer, error) {
	var usage vk.BufferUsageFlags
	var memoryFlags uint32
	switch bufferType {
	case metadata.RENDERBUFFER_TYPE_STORAGE:
		usage = vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
		memoryFlags = uint32(vk.MemoryPropertyDeviceLocalBit)
	case metadata.RENDERBUFFER_TYPE_STAGING:
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
		memoryFlags = uint32(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	case metadata.RENDERBUFFER_TYPE_READ:
		usage = vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)
		memoryFlags = uint32(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	default:
		return nil, fmt.Errorf("unsupported buffer type %d for buffer %s", bufferType, name)
	}

	var internal *VulkanBuffer
	err := vr.context.Locks.SafeCall(BufferManagement, func() error {
		var err error
		internal, err = NewVulkanBuffer(vr.context, capacity*VULKAN_FLOAT4_SIZE_BYTES, usage, memoryFlags)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &metadata.RenderBuffer{
		Name:             name,
		RenderBufferType: bufferType,
		TotalSize:        capacity,
		State:            metadata.RENDERBUFFER_STATE_READABLE,
		InternalData:     internal,
	}, nil
}

func (vr *VulkanRenderer) RenderBufferDestroy(buffer *metadata.RenderBuffer) {
	if buffer == nil || buffer.InternalData == nil {
		return
	}
	internal := buffer.InternalData.(*VulkanBuffer)
	vr.context.Locks.SafeCall(BufferManagement, func() error {
		internal.Destroy(vr.context)
		return nil
	})
	buffer.InternalData = nil
}

func (vr *VulkanRenderer) RenderBufferResize(buffer *metadata.RenderBuffer, newCapacity uint64) error {
	if newCapacity <= buffer.TotalSize {
		return fmt.Errorf("buffer %s: resize requires a larger capacity (%d <= %d)",
			buffer.Name, newCapacity, buffer.TotalSize)
	}
	internal := buffer.InternalData.(*VulkanBuffer)
	device := vr.context.Device
	err := vr.context.Locks.SafeQueueCall(uint32(device.TransferQueueIndex), func() error {
		return internal.Resize(vr.context, device.TransferCommandPool, device.TransferQueue,
			newCapacity*VULKAN_FLOAT4_SIZE_BYTES)
	})
	if err != nil {
		return err
	}
	buffer.TotalSize = newCapacity
	return nil
}

func (vr *VulkanRenderer) RenderBufferLoadRange(buffer *metadata.RenderBuffer, offset uint64, data []math.Vec4) error {
	if len(data) == 0 {
		return nil
	}
	if offset+uint64(len(data)) > buffer.TotalSize {
		return fmt.Errorf("buffer %s: load range [%d, %d) out of bounds (capacity %d)",
			buffer.Name, offset, offset+uint64(len(data)), buffer.TotalSize)
	}

	raw := vec4ToBytes(data)
	internal := buffer.InternalData.(*VulkanBuffer)
	device := vr.context.Device

	staging, transient, err := vr.acquireStaging(uint64(len(raw)))
	if err != nil {
		return err
	}
	defer vr.releaseStaging(staging, transient)

	if err := staging.LoadData(vr.context, 0, raw); err != nil {
		return err
	}
	return vr.context.Locks.SafeQueueCall(uint32(device.TransferQueueIndex), func() error {
		return staging.CopyTo(vr.context, device.TransferCommandPool, device.TransferQueue,
			0, internal, offset*VULKAN_FLOAT4_SIZE_BYTES, uint64(len(raw)))
	})
}

func (vr *VulkanRenderer) RenderBufferReadRange(buffer *metadata.RenderBuffer, offset, count uint64) ([]math.Vec4, error) {
	if offset+count > buffer.TotalSize {
		return nil, fmt.Errorf("buffer %s: read range [%d, %d) out of bounds (capacity %d)",
			buffer.Name, offset, offset+count, buffer.TotalSize)
	}
	internal := buffer.InternalData.(*VulkanBuffer)
	device := vr.context.Device
	sizeBytes := count * VULKAN_FLOAT4_SIZE_BYTES

	readBuffer, err := NewVulkanBuffer(vr.context, sizeBytes,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}
	defer readBuffer.Destroy(vr.context)

	err = vr.context.Locks.SafeQueueCall(uint32(device.TransferQueueIndex), func() error {
		return internal.CopyTo(vr.context, device.TransferCommandPool, device.TransferQueue,
			offset*VULKAN_FLOAT4_SIZE_BYTES, readBuffer, 0, sizeBytes)
	})
	if err != nil {
		return nil, err
	}

	raw, err := readBuffer.ReadData(vr.context, 0, sizeBytes)
	if err != nil {
		return nil, err
	}
	return bytesToVec4(raw), nil
}

func (vr *VulkanRenderer) RenderBufferCopyRange(source *metadata.RenderBuffer, sourceOffset uint64, dest *metadata.RenderBuffer, destOffset uint64, count uint64) error {
	if sourceOffset+count > source.TotalSize {
		return fmt.Errorf("buffer %s: copy source range out of bounds", source.Name)
	}
	if destOffset+count > dest.TotalSize {
		return fmt.Errorf("buffer %s: copy dest range out of bounds", dest.Name)
	}
	sourceInternal := source.InternalData.(*VulkanBuffer)
	destInternal := dest.InternalData.(*VulkanBuffer)
	device := vr.context.Device
	return vr.context.Locks.SafeQueueCall(uint32(device.TransferQueueIndex), func() error {
		return sourceInternal.CopyTo(vr.context, device.TransferCommandPool, device.TransferQueue,
			sourceOffset*VULKAN_FLOAT4_SIZE_BYTES, destInternal,
			destOffset*VULKAN_FLOAT4_SIZE_BYTES, count*VULKAN_FLOAT4_SIZE_BYTES)
	})
}

func (vr *VulkanRenderer) RenderBufferTransition(buffer *metadata.RenderBuffer, newState metadata.RenderBufferState) {
	if buffer.State == newState {
		return
	}
	internal := buffer.InternalData.(*VulkanBuffer)
	device := vr.context.Device

	srcAccess, srcStage := accessForState(buffer.State)
	dstAccess, dstStage := accessForState(newState)

	err := vr.context.Locks.SafeQueueCall(uint32(device.TransferQueueIndex), func() error {
		cb, err := AllocateAndBeginSingleUse(vr.context, device.TransferCommandPool)
		if err != nil {
			return err
		}
		barrier := vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              internal.Handle,
			Offset:              0,
			Size:                vk.DeviceSize(internal.TotalSizeBytes),
		}
		vk.CmdPipelineBarrier(cb.Handle, srcStage, dstStage, 0,
			0, nil, 1, []vk.BufferMemoryBarrier{barrier}, 0, nil)
		return cb.EndSingleUse(vr.context, device.TransferCommandPool, device.TransferQueue)
	})
	if err != nil {
		core.LogError("failed to transition buffer %s: %s", buffer.Name, err.Error())
		return
	}
	buffer.State = newState
}

func (vr *VulkanRenderer) IsMultithreaded() bool {
	return true
}

// acquireStaging hands out a ring buffer when the payload fits, otherwise a
// transient buffer sized for the request.
func (vr *VulkanRenderer) acquireStaging(sizeBytes uint64) (*VulkanBuffer, bool, error) {
	if sizeBytes <= VULKAN_STAGING_BUFFER_SIZE_BYTES {
		staging, err := vr.stagingRing.Dequeue()
		if err == nil {
			return staging, false, nil
		}
	}
	staging, err := NewVulkanBuffer(vr.context, sizeBytes,
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, false, err
	}
	return staging, true, nil
}

func (vr *VulkanRenderer) releaseStaging(staging *VulkanBuffer, transient bool) {
	if transient {
		staging.Destroy(vr.context)
		return
	}
	if err := vr.stagingRing.Enqueue(staging); err != nil {
		staging.Destroy(vr.context)
	}
}

func accessForState(state metadata.RenderBufferState) (vk.AccessFlags, vk.PipelineStageFlags) {
	switch state {
	case metadata.RENDERBUFFER_STATE_WRITABLE:
		return vk.AccessFlags(vk.AccessShaderWriteBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	case metadata.RENDERBUFFER_STATE_COPY_DEST:
		return vk.AccessFlags(vk.AccessTransferWriteBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	default:
		return vk.AccessFlags(vk.AccessShaderReadBit), vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit)
	}
}

func vec4ToBytes(data []math.Vec4) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*int(VULKAN_FLOAT4_SIZE_BYTES))
}

func bytesToVec4(raw []byte) []math.Vec4 {
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*math.Vec4)(unsafe.Pointer(&raw[0])), len(raw)/int(VULKAN_FLOAT4_SIZE_BYTES))
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] %s", pLayerPrefix, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] %s", pLayerPrefix, pMessage)
	default:
		core.LogDebug("[%s] %s", pLayerPrefix, pMessage)
	}
	return vk.Bool32(vk.False)
}
