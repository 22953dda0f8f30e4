package host

import (
	"fmt"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// HostBackend keeps all "device" buffers in host memory. It is the backend
// for headless runs and for tests, and is the reference behavior the Vulkan
// backend must match.
//
// Buffers are tracked by identity, not by name: a resize that reallocates
// (an instance restride, for example) briefly holds two buffers with the
// same name.
type HostBackend struct {
	buffers []*metadata.RenderBuffer
}

func New() *HostBackend {
	return &HostBackend{}
}

func (hb *HostBackend) Initialize(appName string) error {
	core.LogInfo("host renderer backend initialized for %s", appName)
	return nil
}

func (hb *HostBackend) Shutdown() error {
	hb.buffers = nil
	return nil
}

func (hb *HostBackend) RenderBufferCreate(name string, bufferType metadata.RenderBufferType, capacity uint64) (*metadata.RenderBuffer, error) {
	buffer := &metadata.RenderBuffer{
		Name:             name,
		RenderBufferType: bufferType,
		TotalSize:        capacity,
		State:            metadata.RENDERBUFFER_STATE_READABLE,
		Data:             make([]math.Vec4, capacity),
	}
	hb.buffers = append(hb.buffers, buffer)
	return buffer, nil
}

func (hb *HostBackend) RenderBufferDestroy(buffer *metadata.RenderBuffer) {
	if buffer == nil {
		return
	}
	for i, b := range hb.buffers {
		if b == buffer {
			hb.buffers = append(hb.buffers[:i], hb.buffers[i+1:]...)
			break
		}
	}
	buffer.Data = nil
}

// NumBuffers reports how many buffers are currently alive.
func (hb *HostBackend) NumBuffers() int {
	return len(hb.buffers)
}

func (hb *HostBackend) RenderBufferResize(buffer *metadata.RenderBuffer, newCapacity uint64) error {
	if newCapacity <= buffer.TotalSize {
		return fmt.Errorf("buffer %s: resize requires a larger capacity (%d <= %d)",
			buffer.Name, newCapacity, buffer.TotalSize)
	}
	data := make([]math.Vec4, newCapacity)
	copy(data, buffer.Data)
	buffer.Data = data
	buffer.TotalSize = newCapacity
	return nil
}

func (hb *HostBackend) RenderBufferLoadRange(buffer *metadata.RenderBuffer, offset uint64, data []math.Vec4) error {
	if offset+uint64(len(data)) > buffer.TotalSize {
		return fmt.Errorf("buffer %s: load range [%d, %d) out of bounds (capacity %d)",
			buffer.Name, offset, offset+uint64(len(data)), buffer.TotalSize)
	}
	copy(buffer.Data[offset:], data)
	return nil
}

func (hb *HostBackend) RenderBufferReadRange(buffer *metadata.RenderBuffer, offset, count uint64) ([]math.Vec4, error) {
	if offset+count > buffer.TotalSize {
		return nil, fmt.Errorf("buffer %s: read range [%d, %d) out of bounds (capacity %d)",
			buffer.Name, offset, offset+count, buffer.TotalSize)
	}
	out := make([]math.Vec4, count)
	copy(out, buffer.Data[offset:offset+count])
	return out, nil
}

func (hb *HostBackend) RenderBufferCopyRange(source *metadata.RenderBuffer, sourceOffset uint64, dest *metadata.RenderBuffer, destOffset uint64, count uint64) error {
	if sourceOffset+count > source.TotalSize {
		return fmt.Errorf("buffer %s: copy source range out of bounds", source.Name)
	}
	if destOffset+count > dest.TotalSize {
		return fmt.Errorf("buffer %s: copy dest range out of bounds", dest.Name)
	}
	copy(dest.Data[destOffset:destOffset+count], source.Data[sourceOffset:sourceOffset+count])
	return nil
}

func (hb *HostBackend) RenderBufferTransition(buffer *metadata.RenderBuffer, newState metadata.RenderBufferState) {
	buffer.State = newState
}

func (hb *HostBackend) IsMultithreaded() bool {
	return true
}
