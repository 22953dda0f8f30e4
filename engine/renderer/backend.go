package renderer

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// RendererBackend is the device contract the GPU scene drives. Capacities,
// offsets and counts are in float4 elements.
type RendererBackend interface {
	Initialize(appName string) error
	Shutdown() error

	RenderBufferCreate(name string, bufferType metadata.RenderBufferType, capacity uint64) (*metadata.RenderBuffer, error)
	RenderBufferDestroy(buffer *metadata.RenderBuffer)
	// RenderBufferResize grows a buffer, preserving its contents. Shrinking
	// is not supported; slot offsets must stay valid.
	RenderBufferResize(buffer *metadata.RenderBuffer, newCapacity uint64) error
	RenderBufferLoadRange(buffer *metadata.RenderBuffer, offset uint64, data []math.Vec4) error
	RenderBufferReadRange(buffer *metadata.RenderBuffer, offset, count uint64) ([]math.Vec4, error)
	RenderBufferCopyRange(source *metadata.RenderBuffer, sourceOffset uint64, dest *metadata.RenderBuffer, destOffset uint64, count uint64) error
	// RenderBufferTransition issues the resource-state transition for the
	// buffer. Must not be called while work targeting the buffer is in
	// flight.
	RenderBufferTransition(buffer *metadata.RenderBuffer, newState metadata.RenderBufferState)

	IsMultithreaded() bool
}
