package gpuscene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/config"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/host"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

// newTestGPUScene builds a GPU scene over the host backend with small
// capacity floors so growth paths are easy to hit.
func newTestGPUScene(t *testing.T) (*GPUScene, *scene.Scene, *host.HostBackend) {
	t.Helper()
	core.MetricsInitialize()

	backend := host.New()
	require.NoError(t, backend.Initialize("gpuscene-test"))

	sc := scene.NewScene()
	cfg := &config.RendererConfig{
		Backend:                    "host",
		InstanceUploadBatchSize:    4,
		ParallelUpdateThreshold:    1 << 30,
		MinPrimitiveCapacity:       8,
		MinInstanceDataCapacity:    8,
		MinInstancePayloadCapacity: 8,
		MinLightmapDataCapacity:    4,
	}
	gs, err := NewGPUScene(backend, sc, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(gs.Shutdown)
	return gs, sc, backend
}

func instancedData(numInstances int, flags uint32) *scene.PrimitiveRenderData {
	data := &scene.PrimitiveRenderData{
		LocalToWorld: math.NewMat4Translation(math.Vec3{X: 10}),
		LocalBounds: math.Extents3D{
			Min: math.Vec3{X: -1, Y: -1, Z: -1},
			Max: math.Vec3{X: 1, Y: 1, Z: 1},
		},
	}
	data.PrevLocalToWorld = data.LocalToWorld
	for i := 0; i < numInstances; i++ {
		inst := scene.NewInstanceSourceData(math.NewMat4Translation(math.Vec3{Y: float32(i)}), flags)
		inst.CustomData = math.Vec4{X: float32(i) + 0.5}
		data.Instances = append(data.Instances, inst)
	}
	return data
}

// runFrame drives one frame the way the renderer system does: update into a
// fresh graph, close the frame, then execute the recorded passes.
func runFrame(t *testing.T, gs *GPUScene, backend *host.HostBackend) {
	t.Helper()
	builder := renderer.NewGraphBuilder(backend)
	require.NoError(t, gs.BeginFrame())
	require.NoError(t, gs.Update(builder))
	require.NoError(t, gs.EndFrame(builder))
	require.NoError(t, builder.Execute())
}

func TestGPUScene_FrameScope(t *testing.T) {
	assert := assert.New(t)
	gs, _, backend := newTestGPUScene(t)
	builder := renderer.NewGraphBuilder(backend)

	assert.ErrorIs(gs.Update(builder), core.ErrFrameNotStarted)
	assert.ErrorIs(gs.EndFrame(builder), core.ErrFrameNotStarted)

	require.NoError(t, gs.BeginFrame())
	assert.ErrorIs(gs.BeginFrame(), core.ErrFrameAlreadyStarted)
	assert.Equal(uint32(1), gs.FrameNumber())
	require.NoError(t, gs.EndFrame(builder))
}

func TestGPUScene_UpdateUploadsPrimitiveAndInstances(t *testing.T) {
	assert := assert.New(t)
	gs, sc, backend := newTestGPUScene(t)

	data := instancedData(2, metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA)
	data.Lightmaps = []metadata.LightmapData{{UVScaleBias: math.Vec4{X: 1, Y: 2}}}
	info := sc.AddPrimitive(data)
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	assert.Equal(1, gs.NumPendingUpdates())

	runFrame(t, gs, backend)

	assert.Equal(0, gs.NumPendingUpdates())
	assert.Equal(uint32(2), info.AllocatedInstanceSlots)
	assert.Equal(uint32(1), info.InstancePayloadDataStride)
	assert.Equal(uint32(1), info.LastUpdateFrame)
	assert.NotEqual(metadata.INVALID_SLOT_OFFSET, info.InstanceSceneDataOffset)
	assert.NotEqual(metadata.INVALID_SLOT_OFFSET, info.InstancePayloadDataOffset)
	assert.NotEqual(metadata.INVALID_SLOT_OFFSET, info.LightmapDataOffset)

	// The packed primitive record.
	stride := uint64(metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S)
	rec, err := backend.RenderBufferReadRange(gs.PrimitiveDataBuffer(), uint64(info.ID)*stride, stride)
	require.NoError(t, err)
	assert.Equal(data.LocalToWorld.Row(0), rec[0])
	assert.Equal(data.LocalToWorld.Row(3), rec[3])
	assert.InDelta(10.0, float64(rec[4].X), 1e-5)
	assert.InDelta(float64(math.Vec3Length(math.Vec3{X: 1, Y: 1, Z: 1})), float64(rec[4].W), 1e-5)
	assert.Equal(info.InstanceSceneDataOffset, metadata.Float32Bits(rec[6].X))
	assert.Equal(uint32(2), metadata.Float32Bits(rec[6].Y))
	assert.Equal(info.InstancePayloadDataOffset, metadata.Float32Bits(rec[6].Z))
	assert.Equal(uint32(1), metadata.Float32Bits(rec[6].W))
	assert.Equal(info.LightmapDataOffset, metadata.Float32Bits(rec[7].X))
	assert.Equal(uint32(1), metadata.Float32Bits(rec[7].Y))
	assert.Equal(info.ID, metadata.Float32Bits(rec[7].Z))
	assert.Equal(uint32(1), metadata.Float32Bits(rec[7].W))

	// Instance SOA arrays: header in array zero, transform rows after.
	soa := uint64(gs.InstanceSceneDataSOAStride())
	base := uint64(info.InstanceSceneDataOffset)
	for j := uint64(0); j < 2; j++ {
		hdr, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), base+j, 1)
		require.NoError(t, err)
		assert.Equal(info.ID, metadata.Float32Bits(hdr[0].X))
		assert.Equal(metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA, metadata.Float32Bits(hdr[0].Y))
		assert.Equal(uint32(1), metadata.Float32Bits(hdr[0].Z))
		assert.Equal(info.InstancePayloadDataOffset+uint32(j), metadata.Float32Bits(hdr[0].W))

		row, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), soa+base+j, 1)
		require.NoError(t, err)
		assert.Equal(data.Instances[j].LocalToPrimitive.Row(0), row[0])
	}

	// Payload channel: one custom-data float4 per instance.
	pay, err := backend.RenderBufferReadRange(gs.buffers.instancePayloadDataBuffer,
		uint64(info.InstancePayloadDataOffset), 2)
	require.NoError(t, err)
	assert.Equal(math.Vec4{X: 0.5}, pay[0])
	assert.Equal(math.Vec4{X: 1.5}, pay[1])

	// Lightmap entry.
	lm, err := backend.RenderBufferReadRange(gs.LightmapDataBuffer(),
		uint64(info.LightmapDataOffset)*uint64(metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S), 2)
	require.NoError(t, err)
	assert.Equal(math.Vec4{X: 1, Y: 2}, lm[0])
}

func TestGPUScene_RepeatedDirtyFlagsAccumulate(t *testing.T) {
	gs, sc, _ := newTestGPUScene(t)

	info := sc.AddPrimitive(instancedData(1, 0))
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_TRANSFORM)
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_INSTANCES)

	assert.Equal(t, 1, gs.NumPendingUpdates())
	assert.Equal(t,
		metadata.PRIMITIVE_DIRTY_FLAG_TRANSFORM|metadata.PRIMITIVE_DIRTY_FLAG_INSTANCES,
		gs.pendingUpdates[0].dirty)
}

func TestGPUScene_InstanceCountChangeReassignsSlots(t *testing.T) {
	assert := assert.New(t)
	gs, sc, backend := newTestGPUScene(t)

	data := instancedData(2, 0)
	info := sc.AddPrimitive(data)
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	runFrame(t, gs, backend)

	assert.Equal(uint32(2), info.AllocatedInstanceSlots)
	assert.Equal(uint32(2), gs.instanceSceneDataAllocator.NumAllocated())

	data.Instances = append(data.Instances,
		scene.NewInstanceSourceData(math.NewMat4Identity(), 0),
		scene.NewInstanceSourceData(math.NewMat4Identity(), 0))
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_INSTANCES)
	runFrame(t, gs, backend)

	assert.Equal(uint32(4), info.AllocatedInstanceSlots)
	assert.Equal(uint32(4), gs.instanceSceneDataAllocator.NumAllocated())
	assert.Equal(uint32(2), info.LastUpdateFrame)
}

func TestGPUScene_ChangedIDPatchesHeadersWithoutReupload(t *testing.T) {
	assert := assert.New(t)
	gs, sc, backend := newTestGPUScene(t)

	first := sc.AddPrimitive(instancedData(1, 0))
	second := sc.AddPrimitive(instancedData(2, 0))
	gs.AddPrimitiveToUpdate(first, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	gs.AddPrimitiveToUpdate(second, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	runFrame(t, gs, backend)

	// Remove the first primitive and compact; the second takes over id 0
	// while keeping its instance slots.
	removed, err := sc.RemovePrimitive(0)
	require.NoError(t, err)
	gs.ReleasePrimitiveSlots(removed)
	changes := sc.Compact()
	require.Equal(t, []scene.IDChange{{OldID: 1, NewID: 0}}, changes)

	moved := sc.GetPrimitive(0)
	require.Same(t, second, moved)
	offsetBefore := moved.InstanceSceneDataOffset
	allocatedBefore := gs.instanceSceneDataAllocator.NumAllocated()

	// Poison a transform row on the device; an id-only patch must not
	// rewrite it.
	soa := uint64(gs.InstanceSceneDataSOAStride())
	base := uint64(offsetBefore)
	sentinel := []math.Vec4{{X: 123}}
	require.NoError(t, backend.RenderBufferLoadRange(gs.InstanceSceneDataBuffer(), soa+base, sentinel))

	gs.AddPrimitiveToUpdate(moved, metadata.PRIMITIVE_DIRTY_FLAG_CHANGED_ID)
	runFrame(t, gs, backend)

	assert.Equal(offsetBefore, moved.InstanceSceneDataOffset)
	assert.Equal(allocatedBefore, gs.instanceSceneDataAllocator.NumAllocated())

	// Array zero carries the new id and frame.
	for j := uint64(0); j < 2; j++ {
		hdr, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), base+j, 1)
		require.NoError(t, err)
		assert.Equal(uint32(0), metadata.Float32Bits(hdr[0].X))
		assert.Equal(uint32(2), metadata.Float32Bits(hdr[0].Z))
	}

	// The poisoned transform row survived.
	row, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), soa+base, 1)
	require.NoError(t, err)
	assert.Equal(math.Vec4{X: 123}, row[0])

	// The primitive record landed at the new id.
	stride := uint64(metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S)
	rec, err := backend.RenderBufferReadRange(gs.PrimitiveDataBuffer(), 0, stride)
	require.NoError(t, err)
	assert.Equal(uint32(0), metadata.Float32Bits(rec[7].Z))
	assert.Equal(offsetBefore, metadata.Float32Bits(rec[6].X))
}

func TestGPUScene_GrowthPreservesUploadedData(t *testing.T) {
	assert := assert.New(t)
	gs, sc, backend := newTestGPUScene(t)

	small := sc.AddPrimitive(instancedData(2, 0))
	gs.AddPrimitiveToUpdate(small, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	runFrame(t, gs, backend)
	assert.Equal(uint32(8), gs.InstanceSceneDataSOAStride())

	// Ten more instances push the watermark past the capacity; the SOA
	// arrays restride into a fresh buffer.
	big := sc.AddPrimitive(instancedData(10, 0))
	gs.AddPrimitiveToUpdate(big, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	runFrame(t, gs, backend)

	assert.Equal(uint32(16), gs.InstanceSceneDataSOAStride())
	assert.NotZero(gs.buffers.resizedFlags & BUFFER_RESIZED_FLAG_INSTANCE_DATA)

	soa := uint64(gs.InstanceSceneDataSOAStride())
	base := uint64(small.InstanceSceneDataOffset)

	hdr, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), base, 1)
	require.NoError(t, err)
	assert.Equal(small.ID, metadata.Float32Bits(hdr[0].X))

	row, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), soa+base, 1)
	require.NoError(t, err)
	assert.Equal(small.Data.Instances[0].LocalToPrimitive.Row(0), row[0])

	hdr, err = backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(),
		uint64(big.InstanceSceneDataOffset)+9, 1)
	require.NoError(t, err)
	assert.Equal(big.ID, metadata.Float32Bits(hdr[0].X))
}

func TestGPUScene_ReleasePrimitiveSlotsDropsPendingUpdate(t *testing.T) {
	assert := assert.New(t)
	gs, sc, backend := newTestGPUScene(t)

	info := sc.AddPrimitive(instancedData(2, metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA))
	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	runFrame(t, gs, backend)

	gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_TRANSFORM)
	assert.Equal(1, gs.NumPendingUpdates())

	gs.ReleasePrimitiveSlots(info)

	assert.Equal(0, gs.NumPendingUpdates())
	assert.Equal(metadata.INVALID_SLOT_OFFSET, info.InstanceSceneDataOffset)
	assert.Equal(metadata.INVALID_SLOT_OFFSET, info.InstancePayloadDataOffset)
	assert.Zero(info.AllocatedInstanceSlots)
	assert.Zero(gs.instanceSceneDataAllocator.NumAllocated())
	assert.Zero(gs.instancePayloadDataAllocator.NumAllocated())
}

func TestGPUScene_DynamicViewUploadAndDeferredWrite(t *testing.T) {
	assert := assert.New(t)
	gs, _, backend := newTestGPUScene(t)

	builder := renderer.NewGraphBuilder(backend)
	require.NoError(t, gs.BeginFrame())

	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()

	// One primitive with no explicit instances (gets the synthetic identity
	// instance) and one whose final data comes from a post-opaque write.
	empty := &scene.PrimitiveRenderData{
		LocalToWorld: math.NewMat4Identity(),
		LocalBounds:  math.Extents3D{Min: math.Vec3{X: -1, Y: -1, Z: -1}, Max: math.Vec3{X: 1, Y: 1, Z: 1}},
	}
	view.Collector.Add(empty)

	var captured metadata.GPUWriteParams
	written := instancedData(2, metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA)
	written.WritePass = metadata.GPU_WRITE_PASS_POST_OPAQUE
	written.WriteDelegate = func(params *metadata.GPUWriteParams) { captured = *params }
	view.Collector.Add(written)

	require.NoError(t, gs.UploadDynamicPrimitiveShaderDataForView(builder, view))

	assert.True(view.Collector.committed)
	assert.Same(gs.InstanceSceneDataBuffer(), view.Bindings.InstanceSceneDataBuffer)
	assert.Equal(gs.InstanceSceneDataSOAStride(), view.Bindings.InstanceSceneDataSOAStride)
	assert.False(gs.HasPendingGPUWritePass(metadata.GPU_WRITE_PASS_PRE_OPAQUE))
	assert.True(gs.HasPendingGPUWritePass(metadata.GPU_WRITE_PASS_POST_OPAQUE))

	// Only the written primitive's record is still not finalized.
	base, _ := view.Collector.PrimitiveIDRange()
	assert.False(gs.HasPendingGPUWrite(base))
	assert.True(gs.HasPendingGPUWrite(base + 1))

	gs.ExecuteDeferredGPUWritePass(builder, metadata.GPU_WRITE_PASS_POST_OPAQUE)
	assert.False(gs.HasPendingGPUWrite(base + 1))
	require.NoError(t, gs.EndFrame(builder))
	require.NoError(t, builder.Execute())

	base, count := view.Collector.PrimitiveIDRange()
	assert.Equal(uint32(2), count)
	assert.Equal(view.ID, captured.View)
	assert.Equal(base+1, captured.PrimitiveID)
	assert.Equal(view.Collector.infos[1].instanceSceneDataOffset, captured.InstanceSceneDataOffset)
	assert.True(view.Collector.IsPrimitiveProcessed(0))
	assert.True(view.Collector.IsPrimitiveProcessed(1))

	// The synthetic instance landed with an identity transform.
	soa := uint64(gs.InstanceSceneDataSOAStride())
	slot := uint64(view.Collector.infos[0].instanceSceneDataOffset)
	hdr, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), slot, 1)
	require.NoError(t, err)
	assert.Equal(base, metadata.Float32Bits(hdr[0].X))
	row, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), soa+slot, 1)
	require.NoError(t, err)
	assert.Equal(math.Vec4{X: 1}, row[0])

	ctx.Release()
	assert.Zero(gs.instanceSceneDataAllocator.NumAllocated())
	assert.Zero(gs.instancePayloadDataAllocator.NumAllocated())
}

func TestGPUScene_RunsWithoutPersistentScene(t *testing.T) {
	assert := assert.New(t)
	core.MetricsInitialize()

	backend := host.New()
	require.NoError(t, backend.Initialize("gpuscene-sceneless-test"))
	cfg := &config.RendererConfig{
		Backend:                    "host",
		InstanceUploadBatchSize:    4,
		ParallelUpdateThreshold:    1 << 30,
		MinPrimitiveCapacity:       8,
		MinInstanceDataCapacity:    8,
		MinInstancePayloadCapacity: 8,
		MinLightmapDataCapacity:    4,
	}
	gs, err := NewGPUScene(backend, nil, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(gs.Shutdown)

	builder := renderer.NewGraphBuilder(backend)
	require.NoError(t, gs.BeginFrame())
	require.NoError(t, gs.Update(builder))

	// Dynamic ids start at zero when no persistent scene exists.
	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()
	view.Collector.Add(dynamicData(2, metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA))
	require.NoError(t, gs.UploadDynamicPrimitiveShaderDataForView(builder, view))

	base, count := view.Collector.PrimitiveIDRange()
	assert.Equal(uint32(0), base)
	assert.Equal(uint32(1), count)

	require.NoError(t, gs.EndFrame(builder))
	require.NoError(t, builder.Execute())
	ctx.Release()
}
