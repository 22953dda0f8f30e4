package scene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// PrimitiveRenderData is the CPU-side source a primitive uploads from:
// transform, bounds, per-instance records, lightmap entries, and an optional
// GPU write declaration for primitives whose final data is computed by a
// compute pass.
type PrimitiveRenderData struct {
	LocalToWorld     math.Mat4
	PrevLocalToWorld math.Mat4
	LocalBounds      math.Extents3D

	Instances []metadata.InstanceSourceData
	Lightmaps []metadata.LightmapData

	WritePass     metadata.GPUWritePass
	WriteDelegate metadata.GPUWriteDelegate
}

// CombinedInstanceFlags returns the union of the optional-channel flags of
// all instances. Payload stride is primitive-uniform, so every instance of
// the primitive reserves the channels any of them uses.
func (p *PrimitiveRenderData) CombinedInstanceFlags() uint32 {
	var flags uint32
	for i := range p.Instances {
		flags |= p.Instances[i].Flags
	}
	return flags
}

// PayloadStride returns the per-instance payload stride in float4s.
func (p *PrimitiveRenderData) PayloadStride() uint32 {
	return metadata.PayloadStrideForFlags(p.CombinedInstanceFlags())
}

// PrimitiveSceneInfo is a primitive's bookkeeping inside the scene: its
// stable id, its source data, and the GPU scene slots currently assigned to
// it. Slot fields hold INVALID_SLOT_OFFSET until the first upload.
type PrimitiveSceneInfo struct {
	ID   uint32
	Data *PrimitiveRenderData

	InstanceSceneDataOffset   uint32
	InstancePayloadDataOffset uint32
	InstancePayloadDataStride uint32
	LightmapDataOffset        uint32
	LastUpdateFrame           uint32

	// Slot counts currently reserved, so re-uploads can detect when a
	// primitive's instance count changed and its ranges must move.
	AllocatedInstanceSlots uint32
	AllocatedPayloadSlots  uint32
	AllocatedLightmapSlots uint32
}

func newPrimitiveSceneInfo(id uint32, data *PrimitiveRenderData) *PrimitiveSceneInfo {
	return &PrimitiveSceneInfo{
		ID:                        id,
		Data:                      data,
		InstanceSceneDataOffset:   metadata.INVALID_SLOT_OFFSET,
		InstancePayloadDataOffset: metadata.INVALID_SLOT_OFFSET,
		LightmapDataOffset:        metadata.INVALID_SLOT_OFFSET,
	}
}

// NewInstanceSourceData builds an instance record with the given transform
// and flags. A random id is generated when the RANDOM_ID channel is
// requested.
func NewInstanceSourceData(localToPrimitive math.Mat4, flags uint32) metadata.InstanceSourceData {
	data := metadata.InstanceSourceData{
		LocalToPrimitive:     localToPrimitive,
		PrevLocalToPrimitive: localToPrimitive,
		Flags:                flags,
	}
	if flags&metadata.INSTANCE_DATA_FLAG_RANDOM_ID != 0 {
		data.RandomID = math.RandomFloat32()
	}
	return data
}
