package metadata

import (
	stdmath "math"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
)

type RenderBufferType int

const (
	/** @brief Buffer use is unknown. Default, but usually invalid. */
	RENDERBUFFER_TYPE_UNKNOWN RenderBufferType = iota
	/** @brief Buffer is used for data storage, addressable by compute. */
	RENDERBUFFER_TYPE_STORAGE
	/** @brief Buffer is used for staging purposes (i.e. from host-visible to device-local memory) */
	RENDERBUFFER_TYPE_STAGING
	/** @brief Buffer is used for reading purposes (i.e copy to from device local, then read) */
	RENDERBUFFER_TYPE_READ
)

// Resource state of a buffer as seen by the GPU. Transitions are issued by
// the read/write access scope.
type RenderBufferState int

const (
	/** @brief Readable by culling/shading passes. The default state. */
	RENDERBUFFER_STATE_READABLE RenderBufferState = iota
	/** @brief Writable by upload copies and compute writes. */
	RENDERBUFFER_STATE_WRITABLE
	/** @brief Destination of a transfer. */
	RENDERBUFFER_STATE_COPY_DEST
)

// RenderBuffer is a device buffer of float4 elements. TotalSize is an
// element count, not bytes. Data is the host mirror; backends that own real
// device memory keep their handles in InternalData.
type RenderBuffer struct {
	Name             string
	RenderBufferType RenderBufferType
	TotalSize        uint64
	State            RenderBufferState
	Data             []math.Vec4
	InternalData     interface{}
}

// Float32FromBits reinterprets an integer as the float occupying the same
// lane, for packing ids and offsets into float4 storage.
func Float32FromBits(bits uint32) float32 {
	return stdmath.Float32frombits(bits)
}

// Float32Bits is the inverse of Float32FromBits.
func Float32Bits(f float32) uint32 {
	return stdmath.Float32bits(f)
}
