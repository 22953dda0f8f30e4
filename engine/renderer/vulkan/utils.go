package vulkan

import (
	vk "github.com/goki/vulkan"
)

func VulkanResultString(result vk.Result, getExtended bool) string {
	// From: https://www.khronos.org/registry/vulkan/specs/1.3-extensions/man/html/VkResult.html
	switch result {
	default:
		fallthrough
	case vk.Success:
		return ConditionalOperator(!getExtended, "VK_SUCCESS", "VK_SUCCESS Command successfully completed")
	case vk.NotReady:
		return ConditionalOperator(!getExtended, "VK_NOT_READY", "VK_NOT_READY A fence or query has not yet completed")
	case vk.Timeout:
		return ConditionalOperator(!getExtended, "VK_TIMEOUT", "VK_TIMEOUT A wait operation has not completed in the specified time")
	case vk.Incomplete:
		return ConditionalOperator(!getExtended, "VK_INCOMPLETE", "VK_INCOMPLETE A return array was too small for the result")
	case vk.ErrorOutOfHostMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_HOST_MEMORY", "VK_ERROR_OUT_OF_HOST_MEMORY A host memory allocation has failed.")
	case vk.ErrorOutOfDeviceMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_DEVICE_MEMORY", "VK_ERROR_OUT_OF_DEVICE_MEMORY A device memory allocation has failed.")
	case vk.ErrorInitializationFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_INITIALIZATION_FAILED", "VK_ERROR_INITIALIZATION_FAILED Initialization of an object could not be completed for implementation-specific reasons.")
	case vk.ErrorDeviceLost:
		return ConditionalOperator(!getExtended, "VK_ERROR_DEVICE_LOST", "VK_ERROR_DEVICE_LOST The logical or physical device has been lost. See Lost Device")
	case vk.ErrorMemoryMapFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_MEMORY_MAP_FAILED", "VK_ERROR_MEMORY_MAP_FAILED Mapping of a memory object has failed.")
	case vk.ErrorLayerNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_LAYER_NOT_PRESENT", "VK_ERROR_LAYER_NOT_PRESENT A requested layer is not present or could not be loaded.")
	case vk.ErrorExtensionNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_EXTENSION_NOT_PRESENT", "VK_ERROR_EXTENSION_NOT_PRESENT A requested extension is not supported.")
	case vk.ErrorFeatureNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_FEATURE_NOT_PRESENT", "VK_ERROR_FEATURE_NOT_PRESENT A requested feature is not supported.")
	case vk.ErrorIncompatibleDriver:
		return ConditionalOperator(!getExtended, "VK_ERROR_INCOMPATIBLE_DRIVER", "VK_ERROR_INCOMPATIBLE_DRIVER The requested version of Vulkan is not supported by the driver or is otherwise incompatible for implementation-specific reasons.")
	case vk.ErrorTooManyObjects:
		return ConditionalOperator(!getExtended, "VK_ERROR_TOO_MANY_OBJECTS", "VK_ERROR_TOO_MANY_OBJECTS Too many objects of the type have already been created.")
	case vk.ErrorFragmentedPool:
		return ConditionalOperator(!getExtended, "VK_ERROR_FRAGMENTED_POOL", "VK_ERROR_FRAGMENTED_POOL A pool allocation has failed due to fragmentation of the pool's memory.")
	case vk.ErrorOutOfPoolMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_POOL_MEMORY", "VK_ERROR_OUT_OF_POOL_MEMORY A pool memory allocation has failed.")
	case vk.ErrorInvalidExternalHandle:
		return ConditionalOperator(!getExtended, "VK_ERROR_INVALID_EXTERNAL_HANDLE", "VK_ERROR_INVALID_EXTERNAL_HANDLE An external handle is not a valid handle of the specified type.")
	case vk.ErrorFragmentation:
		return ConditionalOperator(!getExtended, "VK_ERROR_FRAGMENTATION", "VK_ERROR_FRAGMENTATION A descriptor pool creation has failed due to fragmentation.")
	case vk.ErrorInvalidDeviceAddress:
		return ConditionalOperator(!getExtended, "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT", "VK_ERROR_INVALID_DEVICE_ADDRESS_EXT A buffer creation failed because the requested address is not available.")
	case vk.ErrorUnknown:
		return ConditionalOperator(!getExtended, "VK_ERROR_UNKNOWN", "VK_ERROR_UNKNOWN An unknown error has occurred; either the application has provided invalid input, or an implementation failure has occurred.")
	}
}

func VulkanResultIsSuccess(result vk.Result) bool {
	switch result {
	default:
		fallthrough
	case vk.Success, vk.NotReady, vk.Timeout, vk.EventSet, vk.EventReset,
		vk.Incomplete, vk.Suboptimal, vk.ThreadIdle, vk.ThreadDone,
		vk.OperationDeferred, vk.OperationNotDeferred, vk.PipelineCompileRequired:
		return true
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorInitializationFailed,
		vk.ErrorDeviceLost, vk.ErrorMemoryMapFailed, vk.ErrorLayerNotPresent,
		vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent, vk.ErrorIncompatibleDriver,
		vk.ErrorTooManyObjects, vk.ErrorFormatNotSupported, vk.ErrorFragmentedPool,
		vk.ErrorOutOfPoolMemory, vk.ErrorInvalidExternalHandle,
		vk.ErrorFragmentation, vk.ErrorInvalidDeviceAddress,
		vk.ErrorUnknown:
		return false
	}
}

func ConditionalOperator(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	for i := range list {
		list[i] = VulkanSafeString(list[i])
	}
	return list
}

func FindFirstZeroInByteArray(arr []byte) int {
	end := 0
	for i, b := range arr {
		if b == 0 {
			end = i
			break
		}
	}
	return end
}
