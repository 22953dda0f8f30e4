package gpuscene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

func dynamicData(numInstances int, flags uint32) *scene.PrimitiveRenderData {
	data := &scene.PrimitiveRenderData{
		LocalToWorld: math.NewMat4Identity(),
		LocalBounds:  math.Extents3D{Min: math.Vec3{X: -1, Y: -1, Z: -1}, Max: math.Vec3{X: 1, Y: 1, Z: 1}},
	}
	for i := 0; i < numInstances; i++ {
		data.Instances = append(data.Instances, scene.NewInstanceSourceData(math.NewMat4Identity(), flags))
	}
	return data
}

func TestDynamicPrimitiveCollector_CommitLaysOutContiguousRanges(t *testing.T) {
	assert := assert.New(t)
	gs, sc, _ := newTestGPUScene(t)

	// Persistent primitives occupy the low id range; dynamic ids start past
	// the scene's capacity.
	sc.AddPrimitive(dynamicData(1, 0))
	sc.AddPrimitive(dynamicData(1, 0))

	require.NoError(t, gs.BeginFrame())
	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()

	view.Collector.Add(dynamicData(2, metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA))
	view.Collector.Add(dynamicData(0, 0))
	view.Collector.Add(dynamicData(3, 0))
	assert.Equal(3, view.Collector.NumPrimitives())

	view.Collector.Commit()

	base, count := view.Collector.PrimitiveIDRange()
	assert.Equal(uint32(2), base)
	assert.Equal(uint32(3), count)

	// 2 + 1 (synthetic) + 3 instances, contiguous from one allocation.
	infos := view.Collector.infos
	assert.Equal(1, infos[1].numInstances)
	assert.Equal(infos[0].instanceSceneDataOffset+2, infos[1].instanceSceneDataOffset)
	assert.Equal(infos[1].instanceSceneDataOffset+1, infos[2].instanceSceneDataOffset)
	assert.Equal(uint32(6), view.Collector.instanceRange.count)

	// Only the first primitive carries payload (previous-transform channel).
	assert.Equal(uint32(3), infos[0].instancePayloadDataStride)
	assert.NotEqual(metadata.INVALID_SLOT_OFFSET, infos[0].instancePayloadDataOffset)
	assert.Equal(metadata.INVALID_SLOT_OFFSET, infos[1].instancePayloadDataOffset)
	assert.Equal(uint32(6), view.Collector.payloadRange.count)

	assert.Equal(uint32(6), gs.instanceSceneDataAllocator.NumAllocated())
	assert.Equal(uint32(6), gs.instancePayloadDataAllocator.NumAllocated())
}

func TestDynamicPrimitiveCollector_ContractViolations(t *testing.T) {
	gs, _, _ := newTestGPUScene(t)
	require.NoError(t, gs.BeginFrame())

	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()
	view.Collector.Add(dynamicData(1, 0))
	view.Collector.Commit()

	assert.Panics(t, func() { view.Collector.Add(dynamicData(1, 0)) })
	assert.Panics(t, func() { view.Collector.Commit() })
}

func TestDynamicPrimitiveCollector_EmptyCommit(t *testing.T) {
	assert := assert.New(t)
	gs, _, _ := newTestGPUScene(t)
	require.NoError(t, gs.BeginFrame())

	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()
	view.Collector.Commit()

	assert.Zero(view.Collector.NumPrimitives())
	assert.Zero(gs.instanceSceneDataAllocator.NumAllocated())
	assert.False(view.Collector.IsPrimitiveProcessed(0))
}

func TestDynamicRenderDataContext_ReleaseReturnsAllSlots(t *testing.T) {
	assert := assert.New(t)
	gs, _, _ := newTestGPUScene(t)
	require.NoError(t, gs.BeginFrame())

	ctx := NewDynamicRenderDataContext(gs)
	for i := 0; i < 3; i++ {
		view := ctx.NewView()
		view.Collector.Add(dynamicData(2, metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA))
		view.Collector.Commit()
	}
	assert.Equal(uint32(6), gs.instanceSceneDataAllocator.NumAllocated())
	assert.Len(ctx.Views(), 3)

	ctx.Release()
	assert.Zero(gs.instanceSceneDataAllocator.NumAllocated())
	assert.Zero(gs.instancePayloadDataAllocator.NumAllocated())

	// Releasing twice is harmless; creating views afterwards is not.
	ctx.Release()
	assert.Panics(func() { ctx.NewView() })
}

func TestDynamicPrimitiveIDs_AdvanceAcrossCollectors(t *testing.T) {
	assert := assert.New(t)
	gs, _, _ := newTestGPUScene(t)
	require.NoError(t, gs.BeginFrame())

	ctx := NewDynamicRenderDataContext(gs)
	a := ctx.NewView()
	a.Collector.Add(dynamicData(1, 0))
	a.Collector.Commit()
	b := ctx.NewView()
	b.Collector.Add(dynamicData(1, 0))
	b.Collector.Commit()

	baseA, _ := a.Collector.PrimitiveIDRange()
	baseB, _ := b.Collector.PrimitiveIDRange()
	assert.Equal(baseA+1, baseB)
}
