package vulkan

/**
 * @brief Size of one buffer element, a float4.
 */
const VULKAN_FLOAT4_SIZE_BYTES uint64 = 16

/**
 * @brief Size of one staging buffer in the upload ring, in bytes.
 * @todo TODO: make configurable
 */
const VULKAN_STAGING_BUFFER_SIZE_BYTES uint64 = 4 * 1024 * 1024

/**
 * @brief Number of staging buffers kept in the upload ring.
 * @todo TODO: make configurable
 */
const VULKAN_STAGING_RING_DEPTH = 4
