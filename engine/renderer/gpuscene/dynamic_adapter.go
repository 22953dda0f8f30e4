package gpuscene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// dynamicPrimitiveUploadAdapter sources upload items from a committed
// collector. Primitive ids are already offset past the persistent arena by
// Commit, so they never collide with scene primitives.
type dynamicPrimitiveUploadAdapter struct {
	collector   *DynamicPrimitiveCollector
	ids         []uint32
	frameNumber uint32
}

func newDynamicPrimitiveUploadAdapter(collector *DynamicPrimitiveCollector, frameNumber uint32) *dynamicPrimitiveUploadAdapter {
	core.Assert(collector.committed, "dynamic upload requires a committed collector")
	ids := make([]uint32, len(collector.pending))
	for i := range ids {
		ids[i] = collector.basePrimitiveID + uint32(i)
	}
	return &dynamicPrimitiveUploadAdapter{
		collector:   collector,
		ids:         ids,
		frameNumber: frameNumber,
	}
}

func (a *dynamicPrimitiveUploadAdapter) NumPrimitivesToUpload() int {
	return len(a.collector.pending)
}

func (a *dynamicPrimitiveUploadAdapter) GetItemPrimitiveIDs() []uint32 {
	return a.ids
}

func (a *dynamicPrimitiveUploadAdapter) GetPrimitiveInfoHeader(itemIndex int, header *metadata.PrimitiveUploadInfoHeader) {
	info := &a.collector.infos[itemIndex]
	data := a.collector.pending[itemIndex]
	*header = metadata.PrimitiveUploadInfoHeader{
		PrimitiveID:                   a.ids[itemIndex],
		NumInstanceUploads:            info.numInstances,
		NumInstancePayloadDataUploads: info.numInstances * int(info.instancePayloadDataStride),
		LightmapUploadCount:           len(data.Lightmaps),
	}
}

func (a *dynamicPrimitiveUploadAdapter) GetPrimitiveInfo(itemIndex int, info *metadata.PrimitiveUploadInfo) {
	prim := &a.collector.infos[itemIndex]
	data := a.collector.pending[itemIndex]
	a.GetPrimitiveInfoHeader(itemIndex, &info.Header)

	bounds := worldBounds(data)
	info.Data = metadata.PrimitiveShaderData{
		LocalToWorld:  data.LocalToWorld,
		BoundsOrigin:  bounds.Center(),
		BoundsRadius:  math.Vec3Length(bounds.HalfExtent()),
		BoundsExtents: bounds.HalfExtent(),
		Flags:         data.CombinedInstanceFlags(),

		InstanceSceneDataOffset:   prim.instanceSceneDataOffset,
		NumInstances:              uint32(prim.numInstances),
		InstancePayloadDataOffset: prim.instancePayloadDataOffset,
		InstancePayloadDataStride: prim.instancePayloadDataStride,

		LightmapDataIndex: prim.lightmapDataOffset,
		LightmapCount:     uint32(len(data.Lightmaps)),
		PrimitiveID:       a.ids[itemIndex],
		LastUpdateFrame:   a.frameNumber,
	}
}

func (a *dynamicPrimitiveUploadAdapter) GetInstanceInfo(itemIndex int, info *metadata.InstanceUploadInfo) {
	prim := &a.collector.infos[itemIndex]
	data := a.collector.pending[itemIndex]
	*info = metadata.InstanceUploadInfo{
		PrimitiveID:               a.ids[itemIndex],
		InstanceSceneDataOffset:   prim.instanceSceneDataOffset,
		InstancePayloadDataOffset: prim.instancePayloadDataOffset,
		InstancePayloadDataStride: prim.instancePayloadDataStride,
		InstanceFlags:             data.CombinedInstanceFlags(),
		LastUpdateFrame:           a.frameNumber,
		Instances:                 data.Instances,
	}
	if len(data.Instances) == 0 {
		// The synthetic identity instance registered at commit time.
		info.Instances = []metadata.InstanceSourceData{{
			LocalToPrimitive:     math.NewMat4Identity(),
			PrevLocalToPrimitive: math.NewMat4Identity(),
		}}
	}
}

func (a *dynamicPrimitiveUploadAdapter) GetLightMapInfo(itemIndex int, info *metadata.LightMapUploadInfo) {
	prim := &a.collector.infos[itemIndex]
	data := a.collector.pending[itemIndex]
	info.LightmapDataOffset = prim.lightmapDataOffset
	info.Data = data.Lightmaps
}

func (a *dynamicPrimitiveUploadAdapter) GetWriteDeclaration(itemIndex int) (metadata.GPUWritePass, metadata.GPUWriteDelegate) {
	data := a.collector.pending[itemIndex]
	return data.WritePass, data.WriteDelegate
}
