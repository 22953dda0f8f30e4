package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	// Command buffer state.
	State VulkanCommandBufferState
}

func NewVulkanCommandBuffer(
	context *VulkanContext,
	pool vk.CommandPool,
	isPrimary bool,
) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State: COMMAND_BUFFER_STATE_NOT_ALLOCATED,
	}

	level := vk.CommandBufferLevelPrimary
	if !isPrimary {
		level = vk.CommandBufferLevelSecondary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
		PNext:              nil,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffer")
		core.LogError(err.Error())
		return nil, err
	}
	vCommandBuffer.Handle = handles[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY

	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(
	context *VulkanContext,
	pool vk.CommandPool) {
	vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isSimultaneousUse bool) error {
	vBeginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isSimultaneousUse {
		vBeginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, vBeginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING

	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer")
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

/**
 * Allocates and begins recording to a fresh single-use command buffer.
 */
func AllocateAndBeginSingleUse(
	context *VulkanContext,
	pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false); err != nil {
		return nil, err
	}
	return cb, nil
}

/**
 * Ends recording, submits to the queue gated by the transfer fence, waits for
 * the copy to land and frees the provided command buffer.
 */
func (v *VulkanCommandBuffer) EndSingleUse(
	context *VulkanContext,
	pool vk.CommandPool,
	queue vk.Queue) error {
	// End the command buffer.
	if err := v.End(); err != nil {
		return err
	}

	fence := context.TransferFence
	if err := fence.Reset(context); err != nil {
		return err
	}

	// Submit the queue
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{v.Handle},
	}

	if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle); res != vk.Success {
		err := fmt.Errorf("failed submit info to queue")
		core.LogError(err.Error())
		return err
	}

	// Wait for it to finish
	if err := fence.Wait(context, VULKAN_TRANSFER_FENCE_TIMEOUT_NS); err != nil {
		core.LogError(err.Error())
		return err
	}

	// Free the command buffer.
	v.Free(context, pool)

	return nil
}
