package metadata

import (
	"github.com/google/uuid"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
)

/** @brief Sentinel for "no primitive". */
const INVALID_PRIMITIVE_ID uint32 = 0xFFFFFFFF

/** @brief Sentinel for "no slot allocated". */
const INVALID_SLOT_OFFSET uint32 = 0xFFFFFFFF

// Per-instance optional payload channels. The set bits determine which
// float4 channels follow the instance in the payload buffer and therefore
// the payload stride of the owning primitive.
const (
	INSTANCE_DATA_FLAG_DYNAMIC_DATA        uint32 = 1 << 0
	INSTANCE_DATA_FLAG_LIGHTSHADOW_UV_BIAS uint32 = 1 << 1
	INSTANCE_DATA_FLAG_CUSTOM_DATA         uint32 = 1 << 2
	INSTANCE_DATA_FLAG_HIERARCHY_OFFSET    uint32 = 1 << 3
	INSTANCE_DATA_FLAG_LOCAL_BOUNDS        uint32 = 1 << 4
	INSTANCE_DATA_FLAG_RANDOM_ID           uint32 = 1 << 5
	INSTANCE_DATA_FLAG_EDITOR_DATA         uint32 = 1 << 6
)

// Fixed float4 strides of the packed records.
const (
	/** @brief float4s per primitive in the primitive data buffer. */
	PRIMITIVE_DATA_STRIDE_FLOAT4S uint32 = 8
	/** @brief SOA float4 arrays per instance in the instance scene data buffer. */
	INSTANCE_DATA_NUM_SOA_FLOAT4S uint32 = 4
	/** @brief float4s per instance in the instance bounds buffer. */
	INSTANCE_BOUNDS_STRIDE_FLOAT4S uint32 = 2
	/** @brief float4s per lightmap entry in the lightmap data buffer. */
	LIGHTMAP_DATA_STRIDE_FLOAT4S uint32 = 2
)

// PayloadStrideForFlags computes the per-instance payload stride, in
// float4s, from the set of present optional channels. Channel order is
// fixed: hierarchy/editor/random id, local bounds, previous transform,
// light/shadow UV bias, custom data.
func PayloadStrideForFlags(flags uint32) uint32 {
	var stride uint32
	if flags&(INSTANCE_DATA_FLAG_HIERARCHY_OFFSET|INSTANCE_DATA_FLAG_EDITOR_DATA|INSTANCE_DATA_FLAG_RANDOM_ID) != 0 {
		stride += 1
	}
	if flags&INSTANCE_DATA_FLAG_LOCAL_BOUNDS != 0 {
		stride += 2
	}
	if flags&INSTANCE_DATA_FLAG_DYNAMIC_DATA != 0 {
		stride += 3
	}
	if flags&INSTANCE_DATA_FLAG_LIGHTSHADOW_UV_BIAS != 0 {
		stride += 1
	}
	if flags&INSTANCE_DATA_FLAG_CUSTOM_DATA != 0 {
		stride += 1
	}
	return stride
}

// Dirty state of a persistent primitive, accumulated between updates.
type PrimitiveDirtyFlags uint32

const (
	PRIMITIVE_DIRTY_FLAG_TRANSFORM PrimitiveDirtyFlags = 1 << 0
	PRIMITIVE_DIRTY_FLAG_INSTANCES PrimitiveDirtyFlags = 1 << 1
	PRIMITIVE_DIRTY_FLAG_PAYLOAD   PrimitiveDirtyFlags = 1 << 2
	PRIMITIVE_DIRTY_FLAG_LIGHTMAP  PrimitiveDirtyFlags = 1 << 3
	// The primitive's only change is its stable id, e.g. after a scene
	// compaction. Instance data is untouched; only the id binding in the
	// instance buffer needs patching.
	PRIMITIVE_DIRTY_FLAG_CHANGED_ID PrimitiveDirtyFlags = 1 << 4
	PRIMITIVE_DIRTY_FLAG_ADDED      PrimitiveDirtyFlags = 1 << 5

	PRIMITIVE_DIRTY_FLAG_ALL = PRIMITIVE_DIRTY_FLAG_TRANSFORM |
		PRIMITIVE_DIRTY_FLAG_INSTANCES |
		PRIMITIVE_DIRTY_FLAG_PAYLOAD |
		PRIMITIVE_DIRTY_FLAG_LIGHTMAP
)

/**
 * @brief Ordered GPU write passes. A primitive whose final data is computed
 * by a compute pass declares the pass it depends on; NONE means the write
 * has no GPU dependency and runs immediately after upload.
 */
type GPUWritePass int

const (
	GPU_WRITE_PASS_NONE GPUWritePass = iota
	GPU_WRITE_PASS_PRE_OPAQUE
	GPU_WRITE_PASS_POST_OPAQUE
	GPU_WRITE_PASS_MAX
)

func (p GPUWritePass) String() string {
	switch p {
	case GPU_WRITE_PASS_NONE:
		return "None"
	case GPU_WRITE_PASS_PRE_OPAQUE:
		return "PreOpaque"
	case GPU_WRITE_PASS_POST_OPAQUE:
		return "PostOpaque"
	}
	return "Invalid"
}

// WritableBufferBindings is the set of writable GPU scene buffers a write
// delegate may target.
type WritableBufferBindings struct {
	PrimitiveDataBuffer       *RenderBuffer
	InstanceSceneDataBuffer   *RenderBuffer
	InstancePayloadDataBuffer *RenderBuffer
	InstanceBoundsBuffer      *RenderBuffer
	/** @brief Row pitch of the instance scene data SOA arrays, in float4s. */
	InstanceSceneDataSOAStride uint32
}

// GPUWriteParams is handed to a write delegate when its pass executes.
type GPUWriteParams struct {
	View                    uuid.UUID
	PrimitiveID             uint32
	InstanceSceneDataOffset uint32
	Buffers                 WritableBufferBindings
}

/** @brief Callback writing a primitive's final GPU data. */
type GPUWriteDelegate func(params *GPUWriteParams)

// InstanceSourceData is the CPU-side view of one instance, as provided by a
// scene proxy or a dynamic primitive registration.
type InstanceSourceData struct {
	LocalToPrimitive     math.Mat4
	PrevLocalToPrimitive math.Mat4
	LightShadowUVBias    math.Vec4
	CustomData           math.Vec4
	LocalBounds          math.Extents3D
	HierarchyOffset      uint32
	EditorData           float32
	RandomID             float32
	Flags                uint32
}

// PrimitiveShaderData is the unpacked form of one primitive buffer record.
type PrimitiveShaderData struct {
	LocalToWorld  math.Mat4
	BoundsOrigin  math.Vec3
	BoundsRadius  float32
	BoundsExtents math.Vec3
	Flags         uint32

	InstanceSceneDataOffset   uint32
	NumInstances              uint32
	InstancePayloadDataOffset uint32
	InstancePayloadDataStride uint32

	LightmapDataIndex uint32
	LightmapCount     uint32
	PrimitiveID       uint32
	LastUpdateFrame   uint32
}

// Pack writes the record into out, which must hold
// PRIMITIVE_DATA_STRIDE_FLOAT4S float4s.
func (d *PrimitiveShaderData) Pack(out []math.Vec4) {
	out[0] = d.LocalToWorld.Row(0)
	out[1] = d.LocalToWorld.Row(1)
	out[2] = d.LocalToWorld.Row(2)
	out[3] = d.LocalToWorld.Row(3)
	out[4] = math.Vec4{X: d.BoundsOrigin.X, Y: d.BoundsOrigin.Y, Z: d.BoundsOrigin.Z, W: d.BoundsRadius}
	out[5] = math.Vec4{X: d.BoundsExtents.X, Y: d.BoundsExtents.Y, Z: d.BoundsExtents.Z, W: Float32FromBits(d.Flags)}
	out[6] = math.Vec4{
		X: Float32FromBits(d.InstanceSceneDataOffset),
		Y: Float32FromBits(d.NumInstances),
		Z: Float32FromBits(d.InstancePayloadDataOffset),
		W: Float32FromBits(d.InstancePayloadDataStride),
	}
	out[7] = math.Vec4{
		X: Float32FromBits(d.LightmapDataIndex),
		Y: Float32FromBits(d.LightmapCount),
		Z: Float32FromBits(d.PrimitiveID),
		W: Float32FromBits(d.LastUpdateFrame),
	}
}

// PrimitiveUploadInfoHeader carries only the counts of an upload item. It is
// what the sequential offset pass reads; the counts must exactly match what
// the full queries later produce for the same item.
type PrimitiveUploadInfoHeader struct {
	PrimitiveID uint32
	/** @brief Instances to upload. Zero for changed-id-only primitives. */
	NumInstanceUploads int
	/** @brief Payload float4s to upload. */
	NumInstancePayloadDataUploads int
	/** @brief Lightmap entries to upload. */
	LightmapUploadCount int
	/**
	 * @brief Instances whose id binding must be patched without touching
	 * the rest of their data. Non-zero only for changed-id-only primitives.
	 */
	NumInstanceIDPatches int
}

// PrimitiveUploadInfo is the full (expensive) upload record.
type PrimitiveUploadInfo struct {
	Header PrimitiveUploadInfoHeader
	Data   PrimitiveShaderData
}

// InstanceUploadInfo is the full per-instance source view of one item.
type InstanceUploadInfo struct {
	PrimitiveID               uint32
	InstanceSceneDataOffset   uint32
	InstancePayloadDataOffset uint32
	InstancePayloadDataStride uint32
	InstanceFlags             uint32
	LastUpdateFrame           uint32
	Instances                 []InstanceSourceData
}

// LightmapData is one lightmap buffer entry.
type LightmapData struct {
	UVScaleBias      math.Vec4
	CoefficientScale math.Vec4
}

// Pack writes the entry into out, which must hold
// LIGHTMAP_DATA_STRIDE_FLOAT4S float4s.
func (l *LightmapData) Pack(out []math.Vec4) {
	out[0] = l.UVScaleBias
	out[1] = l.CoefficientScale
}

// LightMapUploadInfo is the lightmap source view of one item.
type LightMapUploadInfo struct {
	LightmapDataOffset uint32
	Data               []LightmapData
}
