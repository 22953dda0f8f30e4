package gpuscene

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/host"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// goroutineDispatcher fans every batch out to its own goroutine, the worst
// case for the packing phase's concurrency assumptions.
type goroutineDispatcher struct{}

func (goroutineDispatcher) RunBatches(numBatches int, fn func(batchIndex int)) {
	var wg sync.WaitGroup
	wg.Add(numBatches)
	for i := 0; i < numBatches; i++ {
		go func(b int) {
			defer wg.Done()
			fn(b)
		}(i)
	}
	wg.Wait()
}

func TestUpload_ParallelPackingMatchesSerial(t *testing.T) {
	assert := assert.New(t)

	readInstanceHeaders := func(t *testing.T, gs *GPUScene, backend *host.HostBackend,
		offset uint32, count int) []math.Vec4 {
		t.Helper()
		out, err := backend.RenderBufferReadRange(gs.InstanceSceneDataBuffer(), uint64(offset), uint64(count))
		require.NoError(t, err)
		return out
	}

	upload := func(t *testing.T, parallel bool) ([]math.Vec4, uint32) {
		t.Helper()
		gs, sc, backend := newTestGPUScene(t)
		if parallel {
			gs.cfg.ParallelUpdatesEnabled = true
			gs.cfg.ParallelUpdateThreshold = 1
			gs.cfg.InstanceUploadBatchSize = 3
			gs.dispatcher = goroutineDispatcher{}
		}

		// Several primitives with uneven instance counts so batches split
		// mid-primitive.
		for _, n := range []int{5, 1, 7, 2} {
			info := sc.AddPrimitive(instancedData(n, metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA))
			gs.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
		}
		runFrame(t, gs, backend)

		first := sc.GetPrimitive(0)
		headers := readInstanceHeaders(t, gs, backend, 0, 15)
		return headers, first.InstancePayloadDataOffset
	}

	serialHeaders, _ := upload(t, false)
	parallelHeaders, _ := upload(t, true)
	assert.Equal(serialHeaders, parallelHeaders)

	// Sanity: the headers actually carry data, item by item.
	wantIDs := []uint32{0, 0, 0, 0, 0, 1, 2, 2, 2, 2, 2, 2, 2, 3, 3}
	for slot, want := range wantIDs {
		assert.Equal(want, metadata.Float32Bits(serialHeaders[slot].X), "slot %d", slot)
	}
}

// divergingAdapter reports two instances in the header phase but three in
// the full query, which the packing phase must refuse.
type divergingAdapter struct{}

func (divergingAdapter) NumPrimitivesToUpload() int                        { return 1 }
func (divergingAdapter) GetItemPrimitiveIDs() []uint32                     { return []uint32{0} }
func (divergingAdapter) GetLightMapInfo(int, *metadata.LightMapUploadInfo) {}
func (divergingAdapter) GetWriteDeclaration(int) (metadata.GPUWritePass, metadata.GPUWriteDelegate) {
	return metadata.GPU_WRITE_PASS_NONE, nil
}

func (divergingAdapter) GetPrimitiveInfoHeader(_ int, header *metadata.PrimitiveUploadInfoHeader) {
	*header = metadata.PrimitiveUploadInfoHeader{PrimitiveID: 0, NumInstanceUploads: 2}
}

func (divergingAdapter) GetPrimitiveInfo(_ int, info *metadata.PrimitiveUploadInfo) {
	info.Header = metadata.PrimitiveUploadInfoHeader{PrimitiveID: 0, NumInstanceUploads: 3}
}

func (divergingAdapter) GetInstanceInfo(_ int, info *metadata.InstanceUploadInfo) {
	info.Instances = make([]metadata.InstanceSourceData, 3)
}

func TestUpload_DivergingHeaderIsRefused(t *testing.T) {
	gs, _, backend := newTestGPUScene(t)
	builder := renderer.NewGraphBuilder(backend)

	assert.Panics(t, func() {
		gs.uploadGeneral(divergingAdapter{}, builder, uuid.Nil, nil)
	})
}

func TestPackInstancePayload_ChannelOrder(t *testing.T) {
	assert := assert.New(t)

	src := &metadata.InstanceSourceData{
		PrevLocalToPrimitive: math.NewMat4Translation(math.Vec3{X: 3}),
		LightShadowUVBias:    math.Vec4{X: 0.25, Y: 0.5},
		CustomData:           math.Vec4{W: 9},
		LocalBounds:          math.Extents3D{Min: math.Vec3{X: -2}, Max: math.Vec3{X: 2}},
		HierarchyOffset:      7,
		RandomID:             0.125,
	}
	flags := metadata.INSTANCE_DATA_FLAG_RANDOM_ID |
		metadata.INSTANCE_DATA_FLAG_LOCAL_BOUNDS |
		metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA |
		metadata.INSTANCE_DATA_FLAG_LIGHTSHADOW_UV_BIAS |
		metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA

	stride := metadata.PayloadStrideForFlags(flags)
	assert.Equal(uint32(8), stride)

	out := make([]math.Vec4, stride)
	packInstancePayload(src, flags, out)

	// Channel order is fixed: id/editor, bounds, previous transform, UV
	// bias, custom data.
	assert.Equal(uint32(7), metadata.Float32Bits(out[0].X))
	assert.Equal(float32(0.125), out[0].Z)
	assert.Equal(math.Vec4{}, out[1])     // bounds center
	assert.Equal(math.Vec4{X: 2}, out[2]) // bounds half extent
	assert.Equal(src.PrevLocalToPrimitive.Row(0), out[3])
	assert.Equal(src.PrevLocalToPrimitive.Row(2), out[5])
	assert.Equal(math.Vec4{X: 0.25, Y: 0.5}, out[6])
	assert.Equal(math.Vec4{W: 9}, out[7])
}

func TestPackInstanceHeader_BitCasts(t *testing.T) {
	assert := assert.New(t)

	hdr := packInstanceHeader(42, metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA, 7, metadata.INVALID_SLOT_OFFSET)
	assert.Equal(uint32(42), metadata.Float32Bits(hdr.X))
	assert.Equal(metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA, metadata.Float32Bits(hdr.Y))
	assert.Equal(uint32(7), metadata.Float32Bits(hdr.Z))
	assert.Equal(metadata.INVALID_SLOT_OFFSET, metadata.Float32Bits(hdr.W))
}
