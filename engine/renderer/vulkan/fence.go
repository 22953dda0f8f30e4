package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

/**
 * @brief Maximum time a transfer submission may take before the wait gives up.
 */
const VULKAN_TRANSFER_FENCE_TIMEOUT_NS uint64 = 1e9

// VulkanFence gates buffer transfer submissions so the staging memory can be
// recycled once the copy has landed.
type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		err := fmt.Errorf("failed to create transfer fence")
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// Wait blocks until the fence signals or timeoutNs elapses. The returned
// error names the device condition so a failed transfer surfaces to the
// caller instead of only the log.
func (vf *VulkanFence) Wait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	switch res := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs); res {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		return fmt.Errorf("transfer fence wait timed out after %dns", timeoutNs)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("transfer fence wait failed: device lost")
	case vk.ErrorOutOfHostMemory:
		return fmt.Errorf("transfer fence wait failed: out of host memory")
	case vk.ErrorOutOfDeviceMemory:
		return fmt.Errorf("transfer fence wait failed: out of device memory")
	default:
		return fmt.Errorf("transfer fence wait failed: result %d", res)
	}
}

// Reset rearms a signaled fence for the next submission.
func (vf *VulkanFence) Reset(context *VulkanContext) error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		err := fmt.Errorf("failed to reset transfer fence")
		core.LogError(err.Error())
		return err
	}
	vf.IsSignaled = false
	return nil
}
