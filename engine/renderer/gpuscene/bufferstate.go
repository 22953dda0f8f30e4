package gpuscene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/config"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

const (
	GPU_SCENE_PRIMITIVE_BUFFER_NAME        = "gpu_scene_primitive_data"
	GPU_SCENE_INSTANCE_DATA_BUFFER_NAME    = "gpu_scene_instance_data"
	GPU_SCENE_INSTANCE_PAYLOAD_BUFFER_NAME = "gpu_scene_instance_payload_data"
	GPU_SCENE_INSTANCE_BOUNDS_BUFFER_NAME  = "gpu_scene_instance_bounds"
	GPU_SCENE_LIGHTMAP_BUFFER_NAME         = "gpu_scene_lightmap_data"
)

// bufferState is the snapshot of all scene buffers plus the capacities, in
// slots, they were sized for. Capacities only ever grow.
type bufferState struct {
	primitiveDataBuffer       *metadata.RenderBuffer
	instanceSceneDataBuffer   *metadata.RenderBuffer
	instancePayloadDataBuffer *metadata.RenderBuffer
	instanceBoundsBuffer      *metadata.RenderBuffer
	lightmapDataBuffer        *metadata.RenderBuffer

	primitiveCapacity       uint32
	instanceDataCapacity    uint32
	instancePayloadCapacity uint32
	lightmapDataCapacity    uint32

	// resizedFlags records which buffers grew during the last update, for
	// callers that cache descriptor sets keyed on the buffer.
	resizedFlags bufferResizedFlags
}

type bufferResizedFlags uint32

const (
	BUFFER_RESIZED_FLAG_PRIMITIVE bufferResizedFlags = 1 << iota
	BUFFER_RESIZED_FLAG_INSTANCE_DATA
	BUFFER_RESIZED_FLAG_INSTANCE_PAYLOAD
	BUFFER_RESIZED_FLAG_INSTANCE_BOUNDS
	BUFFER_RESIZED_FLAG_LIGHTMAP
)

// requiredCapacity rounds the needed slot count up to a power of two and
// applies the configured floor. The result never shrinks below current.
func requiredCapacity(needed, current, floor uint32) uint32 {
	capacity := math.RoundUpToPowerOfTwo(needed)
	capacity = math.Max(capacity, floor)
	return math.Max(capacity, current)
}

func (bs *bufferState) initialize(backend renderer.RendererBackend, primitiveFloor, instanceFloor, payloadFloor, lightmapFloor uint32) error {
	bs.primitiveCapacity = math.RoundUpToPowerOfTwo(primitiveFloor)
	bs.instanceDataCapacity = math.RoundUpToPowerOfTwo(instanceFloor)
	bs.instancePayloadCapacity = math.RoundUpToPowerOfTwo(payloadFloor)
	bs.lightmapDataCapacity = math.RoundUpToPowerOfTwo(lightmapFloor)

	var err error
	bs.primitiveDataBuffer, err = backend.RenderBufferCreate(GPU_SCENE_PRIMITIVE_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(bs.primitiveCapacity*metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S))
	if err != nil {
		return err
	}
	bs.instanceSceneDataBuffer, err = backend.RenderBufferCreate(GPU_SCENE_INSTANCE_DATA_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(bs.instanceDataCapacity*metadata.INSTANCE_DATA_NUM_SOA_FLOAT4S))
	if err != nil {
		return err
	}
	bs.instancePayloadDataBuffer, err = backend.RenderBufferCreate(GPU_SCENE_INSTANCE_PAYLOAD_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(bs.instancePayloadCapacity))
	if err != nil {
		return err
	}
	bs.instanceBoundsBuffer, err = backend.RenderBufferCreate(GPU_SCENE_INSTANCE_BOUNDS_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(bs.instanceDataCapacity*metadata.INSTANCE_BOUNDS_STRIDE_FLOAT4S))
	if err != nil {
		return err
	}
	bs.lightmapDataBuffer, err = backend.RenderBufferCreate(GPU_SCENE_LIGHTMAP_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(bs.lightmapDataCapacity*metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S))
	return err
}

func (bs *bufferState) shutdown(backend renderer.RendererBackend) {
	for _, buffer := range []*metadata.RenderBuffer{
		bs.primitiveDataBuffer,
		bs.instanceSceneDataBuffer,
		bs.instancePayloadDataBuffer,
		bs.instanceBoundsBuffer,
		bs.lightmapDataBuffer,
	} {
		if buffer != nil {
			backend.RenderBufferDestroy(buffer)
		}
	}
	*bs = bufferState{}
}

// update grows whatever buffers the new slot watermarks demand. Existing
// contents survive every grow; the instance scene data buffer additionally
// restrides its SOA arrays when the per-array capacity changes.
func (bs *bufferState) update(backend renderer.RendererBackend, cfg *config.RendererConfig,
	numPrimitiveSlots, numInstanceSlots, numPayloadSlots, numLightmapSlots uint32) error {

	bs.resizedFlags = 0

	primitiveCapacity := requiredCapacity(numPrimitiveSlots, bs.primitiveCapacity, cfg.MinPrimitiveCapacity)
	if primitiveCapacity != bs.primitiveCapacity {
		if err := bs.growPlain(backend, bs.primitiveDataBuffer,
			uint64(primitiveCapacity*metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S)); err != nil {
			return err
		}
		bs.primitiveCapacity = primitiveCapacity
		bs.resizedFlags |= BUFFER_RESIZED_FLAG_PRIMITIVE
	}

	instanceCapacity := requiredCapacity(numInstanceSlots, bs.instanceDataCapacity, cfg.MinInstanceDataCapacity)
	if instanceCapacity != bs.instanceDataCapacity {
		if err := bs.restrideInstanceData(backend, instanceCapacity); err != nil {
			return err
		}
		if err := bs.growPlain(backend, bs.instanceBoundsBuffer,
			uint64(instanceCapacity*metadata.INSTANCE_BOUNDS_STRIDE_FLOAT4S)); err != nil {
			return err
		}
		bs.instanceDataCapacity = instanceCapacity
		bs.resizedFlags |= BUFFER_RESIZED_FLAG_INSTANCE_DATA | BUFFER_RESIZED_FLAG_INSTANCE_BOUNDS
	}

	payloadCapacity := requiredCapacity(numPayloadSlots, bs.instancePayloadCapacity, cfg.MinInstancePayloadCapacity)
	if payloadCapacity != bs.instancePayloadCapacity {
		if err := bs.growPlain(backend, bs.instancePayloadDataBuffer, uint64(payloadCapacity)); err != nil {
			return err
		}
		bs.instancePayloadCapacity = payloadCapacity
		bs.resizedFlags |= BUFFER_RESIZED_FLAG_INSTANCE_PAYLOAD
	}

	lightmapCapacity := requiredCapacity(numLightmapSlots, bs.lightmapDataCapacity, cfg.MinLightmapDataCapacity)
	if lightmapCapacity != bs.lightmapDataCapacity {
		if err := bs.growPlain(backend, bs.lightmapDataBuffer,
			uint64(lightmapCapacity*metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S)); err != nil {
			return err
		}
		bs.lightmapDataCapacity = lightmapCapacity
		bs.resizedFlags |= BUFFER_RESIZED_FLAG_LIGHTMAP
	}

	return nil
}

func (bs *bufferState) growPlain(backend renderer.RendererBackend, buffer *metadata.RenderBuffer, newSize uint64) error {
	if err := backend.RenderBufferResize(buffer, newSize); err != nil {
		core.LogError("failed to resize buffer %s to %d float4s: %s", buffer.Name, newSize, err.Error())
		return err
	}
	fireBufferResized(buffer.Name, newSize)
	return nil
}

// restrideInstanceData moves the SOA arrays apart when the per-array
// capacity grows. A straight grow would leave array k's data at the old
// stride; instead each array is copied into its new position in a fresh
// buffer, old data first so lower arrays are not clobbered.
func (bs *bufferState) restrideInstanceData(backend renderer.RendererBackend, newCapacity uint32) error {
	oldCapacity := bs.instanceDataCapacity
	oldBuffer := bs.instanceSceneDataBuffer

	newBuffer, err := backend.RenderBufferCreate(GPU_SCENE_INSTANCE_DATA_BUFFER_NAME,
		metadata.RENDERBUFFER_TYPE_STORAGE, uint64(newCapacity*metadata.INSTANCE_DATA_NUM_SOA_FLOAT4S))
	if err != nil {
		return err
	}

	for s := uint32(0); s < metadata.INSTANCE_DATA_NUM_SOA_FLOAT4S; s++ {
		if err := backend.RenderBufferCopyRange(oldBuffer, uint64(s*oldCapacity),
			newBuffer, uint64(s*newCapacity), uint64(oldCapacity)); err != nil {
			backend.RenderBufferDestroy(newBuffer)
			return err
		}
	}

	backend.RenderBufferDestroy(oldBuffer)
	bs.instanceSceneDataBuffer = newBuffer
	fireBufferResized(newBuffer.Name, newBuffer.TotalSize)
	return nil
}

func fireBufferResized(name string, newSize uint64) {
	core.MetricsBufferResized()
	context := core.EventContext{}
	context.Data.C[0] = name
	context.Data.U64[0] = newSize
	core.EventFire(core.EVENT_CODE_BUFFER_RESIZED, nil, context)
	core.LogDebug("buffer %s grown to %d float4s", name, newSize)
}

// bindings returns the writable buffer set handed to GPU write delegates.
func (bs *bufferState) bindings() metadata.WritableBufferBindings {
	return metadata.WritableBufferBindings{
		PrimitiveDataBuffer:        bs.primitiveDataBuffer,
		InstanceSceneDataBuffer:    bs.instanceSceneDataBuffer,
		InstancePayloadDataBuffer:  bs.instancePayloadDataBuffer,
		InstanceBoundsBuffer:       bs.instanceBoundsBuffer,
		InstanceSceneDataSOAStride: bs.instanceDataCapacity,
	}
}
