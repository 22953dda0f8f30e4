package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice     vk.PhysicalDevice
	LogicalDevice      vk.Device
	GraphicsQueueIndex int32
	ComputeQueueIndex  int32
	TransferQueueIndex int32

	GraphicsQueue vk.Queue
	ComputeQueue  vk.Queue
	TransferQueue vk.Queue

	TransferCommandPool vk.CommandPool

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     vk.PhysicalDeviceMemoryProperties
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics bool
	Compute  bool
	Transfer bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	ComputeFamilyIndex  int32
	TransferFamilyIndex int32
}

// DeviceCreate selects a physical device with graphics, compute and
// transfer queues, creates the logical device and the transfer command
// pool. No surface is involved; the backend is headless.
func DeviceCreate(context *VulkanContext) error {
	if err := selectPhysicalDevice(context); err != nil {
		return err
	}

	core.LogInfo("Creating logical device...")

	device := context.Device

	// NOTE: Do not create additional queues for shared indices.
	computeSharesGraphicsQueue := device.GraphicsQueueIndex == device.ComputeQueueIndex
	transferSharesGraphicsQueue := device.GraphicsQueueIndex == device.TransferQueueIndex

	indices := []uint32{uint32(device.GraphicsQueueIndex)}
	if !computeSharesGraphicsQueue {
		indices = append(indices, uint32(device.ComputeQueueIndex))
	}
	if !transferSharesGraphicsQueue && device.TransferQueueIndex != device.ComputeQueueIndex {
		indices = append(indices, uint32(device.TransferQueueIndex))
	}

	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i := range indices {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: indices[i],
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueCreateInfos)),
		PQueueCreateInfos:    queueCreateInfos,
	}

	var logicalDevice vk.Device
	if res := vk.CreateDevice(device.PhysicalDevice, &deviceCreateInfo, context.Allocator, &logicalDevice); res != vk.Success {
		err := fmt.Errorf("failed to create logical device with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	device.LogicalDevice = logicalDevice
	core.LogInfo("Logical device created.")

	var graphicsQueue, computeQueue, transferQueue vk.Queue
	vk.GetDeviceQueue(device.LogicalDevice, uint32(device.GraphicsQueueIndex), 0, &graphicsQueue)
	vk.GetDeviceQueue(device.LogicalDevice, uint32(device.ComputeQueueIndex), 0, &computeQueue)
	vk.GetDeviceQueue(device.LogicalDevice, uint32(device.TransferQueueIndex), 0, &transferQueue)
	device.GraphicsQueue = graphicsQueue
	device.ComputeQueue = computeQueue
	device.TransferQueue = transferQueue
	core.LogInfo("Queues obtained.")

	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.TransferQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool); res != vk.Success {
		err := fmt.Errorf("failed to create transfer command pool")
		core.LogError(err.Error())
		return err
	}
	device.TransferCommandPool = pool
	core.LogInfo("Transfer command pool created.")

	return nil
}

func DeviceDestroy(context *VulkanContext) {
	device := context.Device
	if device == nil {
		return
	}

	if device.TransferCommandPool != vk.NullCommandPool {
		vk.DestroyCommandPool(device.LogicalDevice, device.TransferCommandPool, context.Allocator)
		device.TransferCommandPool = vk.NullCommandPool
	}

	core.LogInfo("Destroying logical device...")
	if device.LogicalDevice != nil {
		vk.DestroyDevice(device.LogicalDevice, context.Allocator)
		device.LogicalDevice = nil
	}

	device.PhysicalDevice = nil
	device.GraphicsQueueIndex = -1
	device.ComputeQueueIndex = -1
	device.TransferQueueIndex = -1
}

func selectPhysicalDevice(context *VulkanContext) error {
	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return fmt.Errorf("failed to enumerate physical devices")
	}
	if physicalDeviceCount == 0 {
		err := fmt.Errorf("no devices which support Vulkan were found")
		core.LogError(err.Error())
		return err
	}

	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return fmt.Errorf("failed to enumerate physical devices")
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics: true,
		Compute:  true,
		Transfer: true,
	}

	for _, candidate := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(candidate, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(candidate, &features)
		features.Deref()

		var memory vk.PhysicalDeviceMemoryProperties
		vk.GetPhysicalDeviceMemoryProperties(candidate, &memory)
		memory.Deref()

		queueInfo, ok := deviceMeetsRequirements(candidate, &requirements)
		if !ok {
			continue
		}

		end := FindFirstZeroInByteArray(properties.DeviceName[:])
		core.LogInfo("Selected device: `%s`.", string(properties.DeviceName[:end]))

		context.Device = &VulkanDevice{
			PhysicalDevice:     candidate,
			GraphicsQueueIndex: queueInfo.GraphicsFamilyIndex,
			ComputeQueueIndex:  queueInfo.ComputeFamilyIndex,
			TransferQueueIndex: queueInfo.TransferFamilyIndex,
			Properties:         properties,
			Features:           features,
			Memory:             memory,
		}
		return nil
	}

	err := fmt.Errorf("no physical devices were found which meet the requirements")
	core.LogError(err.Error())
	return err
}

func deviceMeetsRequirements(device vk.PhysicalDevice, requirements *VulkanPhysicalDeviceRequirements) (*VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	queueInfo := &VulkanPhysicalDeviceQueueFamilyInfo{
		GraphicsFamilyIndex: -1,
		ComputeFamilyIndex:  -1,
		TransferFamilyIndex: -1,
	}

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	// Prefer a dedicated transfer queue: the one supporting transfer with
	// the fewest other capabilities.
	minTransferScore := 255
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		transferScore := 0

		if flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
			queueInfo.GraphicsFamilyIndex = int32(i)
			transferScore++
		}
		if flags&vk.QueueFlags(vk.QueueComputeBit) != 0 {
			queueInfo.ComputeFamilyIndex = int32(i)
			transferScore++
		}
		if flags&vk.QueueFlags(vk.QueueTransferBit) != 0 {
			if transferScore <= minTransferScore {
				minTransferScore = transferScore
				queueInfo.TransferFamilyIndex = int32(i)
			}
		}
	}

	if requirements.Graphics && queueInfo.GraphicsFamilyIndex == -1 {
		return nil, false
	}
	if requirements.Compute && queueInfo.ComputeFamilyIndex == -1 {
		return nil, false
	}
	if requirements.Transfer && queueInfo.TransferFamilyIndex == -1 {
		return nil, false
	}
	return queueInfo, true
}
