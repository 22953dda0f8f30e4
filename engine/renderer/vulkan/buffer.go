package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	// Size of the allocation in bytes.
	TotalSizeBytes      uint64
	Usage               vk.BufferUsageFlags
	MemoryPropertyFlags uint32
	MemoryIndex         int32
}

func NewVulkanBuffer(context *VulkanContext, sizeBytes uint64, usage vk.BufferUsageFlags, memoryPropertyFlags uint32) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		TotalSizeBytes:      sizeBytes,
		Usage:               usage,
		MemoryPropertyFlags: memoryPropertyFlags,
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(sizeBytes),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create buffer with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	buffer.Handle = handle

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &requirements)
	requirements.Deref()

	buffer.MemoryIndex = context.FindMemoryIndex(requirements.MemoryTypeBits, memoryPropertyFlags)
	if buffer.MemoryIndex == -1 {
		err := fmt.Errorf("unable to create buffer: required memory type not found")
		core.LogError(err.Error())
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(buffer.MemoryIndex),
	}

	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		err := fmt.Errorf("unable to allocate buffer memory with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
		return nil, err
	}
	buffer.Memory = memory

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		err := fmt.Errorf("unable to bind buffer memory with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		buffer.Destroy(context)
		return nil, err
	}

	return buffer, nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	b.TotalSizeBytes = 0
}

// LoadData copies data into a host-visible buffer through a map.
func (b *VulkanBuffer) LoadData(context *VulkanContext, offsetBytes uint64, data []byte) error {
	var ptr unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offsetBytes), vk.DeviceSize(len(data)), 0, &ptr); res != vk.Success {
		err := fmt.Errorf("unable to map buffer memory with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return err
	}
	vk.Memcopy(ptr, data)
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	return nil
}

// ReadData copies out of a host-visible buffer through a map.
func (b *VulkanBuffer) ReadData(context *VulkanContext, offsetBytes, sizeBytes uint64) ([]byte, error) {
	var ptr unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offsetBytes), vk.DeviceSize(sizeBytes), 0, &ptr); res != vk.Success {
		err := fmt.Errorf("unable to map buffer memory with error `%s`", VulkanResultString(res, true))
		core.LogError(err.Error())
		return nil, err
	}
	out := make([]byte, sizeBytes)
	copy(out, unsafe.Slice((*byte)(ptr), sizeBytes))
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	return out, nil
}

// CopyTo records and submits a single-use transfer copying a range of this
// buffer into dest.
func (b *VulkanBuffer) CopyTo(context *VulkanContext, pool vk.CommandPool, queue vk.Queue,
	sourceOffsetBytes uint64, dest *VulkanBuffer, destOffsetBytes, sizeBytes uint64) error {

	cb, err := AllocateAndBeginSingleUse(context, pool)
	if err != nil {
		return err
	}

	copyRegion := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(sourceOffsetBytes),
		DstOffset: vk.DeviceSize(destOffsetBytes),
		Size:      vk.DeviceSize(sizeBytes),
	}
	vk.CmdCopyBuffer(cb.Handle, b.Handle, dest.Handle, 1, []vk.BufferCopy{copyRegion})

	return cb.EndSingleUse(context, pool, queue)
}

// Resize reallocates the buffer at the new size and copies the old contents
// over. Offsets into the buffer stay valid.
func (b *VulkanBuffer) Resize(context *VulkanContext, pool vk.CommandPool, queue vk.Queue, newSizeBytes uint64) error {
	if newSizeBytes <= b.TotalSizeBytes {
		return fmt.Errorf("buffer resize requires a larger size (%d <= %d)", newSizeBytes, b.TotalSizeBytes)
	}

	grown, err := NewVulkanBuffer(context, newSizeBytes, b.Usage, b.MemoryPropertyFlags)
	if err != nil {
		return err
	}
	if err := b.CopyTo(context, pool, queue, 0, grown, 0, b.TotalSizeBytes); err != nil {
		grown.Destroy(context)
		return err
	}

	old := *b
	*b = *grown
	old.Destroy(context)
	return nil
}
