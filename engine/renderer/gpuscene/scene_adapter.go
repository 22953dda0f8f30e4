package gpuscene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

type sceneUploadItem struct {
	info  *scene.PrimitiveSceneInfo
	dirty metadata.PrimitiveDirtyFlags
}

// scenePrimitiveUploadAdapter sources upload items from the persistent
// scene's dirty primitives. Slot allocation has already happened by the
// time the adapter is built; it only reads.
type scenePrimitiveUploadAdapter struct {
	items       []sceneUploadItem
	ids         []uint32
	frameNumber uint32
}

func newScenePrimitiveUploadAdapter(items []sceneUploadItem, frameNumber uint32) *scenePrimitiveUploadAdapter {
	ids := make([]uint32, len(items))
	for i, item := range items {
		ids[i] = item.info.ID
	}
	return &scenePrimitiveUploadAdapter{
		items:       items,
		ids:         ids,
		frameNumber: frameNumber,
	}
}

// isIDOnlyChange reports whether the item's only change is its stable id,
// in which case instances are left untouched and just the id binding is
// patched.
func (a *scenePrimitiveUploadAdapter) isIDOnlyChange(itemIndex int) bool {
	return a.items[itemIndex].dirty == metadata.PRIMITIVE_DIRTY_FLAG_CHANGED_ID
}

func (a *scenePrimitiveUploadAdapter) NumPrimitivesToUpload() int {
	return len(a.items)
}

func (a *scenePrimitiveUploadAdapter) GetItemPrimitiveIDs() []uint32 {
	return a.ids
}

func (a *scenePrimitiveUploadAdapter) GetPrimitiveInfoHeader(itemIndex int, header *metadata.PrimitiveUploadInfoHeader) {
	item := a.items[itemIndex]
	*header = metadata.PrimitiveUploadInfoHeader{PrimitiveID: item.info.ID}
	if a.isIDOnlyChange(itemIndex) {
		header.NumInstanceIDPatches = len(item.info.Data.Instances)
		return
	}
	numInstances := len(item.info.Data.Instances)
	header.NumInstanceUploads = numInstances
	header.NumInstancePayloadDataUploads = numInstances * int(item.info.InstancePayloadDataStride)
	header.LightmapUploadCount = len(item.info.Data.Lightmaps)
}

func (a *scenePrimitiveUploadAdapter) GetPrimitiveInfo(itemIndex int, info *metadata.PrimitiveUploadInfo) {
	item := a.items[itemIndex]
	a.GetPrimitiveInfoHeader(itemIndex, &info.Header)
	info.Data = packPrimitiveShaderData(item.info, a.frameNumber)
}

func (a *scenePrimitiveUploadAdapter) GetInstanceInfo(itemIndex int, info *metadata.InstanceUploadInfo) {
	item := a.items[itemIndex]
	*info = metadata.InstanceUploadInfo{
		PrimitiveID:               item.info.ID,
		InstanceSceneDataOffset:   item.info.InstanceSceneDataOffset,
		InstancePayloadDataOffset: item.info.InstancePayloadDataOffset,
		InstancePayloadDataStride: item.info.InstancePayloadDataStride,
		InstanceFlags:             item.info.Data.CombinedInstanceFlags(),
		LastUpdateFrame:           a.frameNumber,
	}
	if !a.isIDOnlyChange(itemIndex) {
		info.Instances = item.info.Data.Instances
	}
}

func (a *scenePrimitiveUploadAdapter) GetLightMapInfo(itemIndex int, info *metadata.LightMapUploadInfo) {
	item := a.items[itemIndex]
	info.LightmapDataOffset = item.info.LightmapDataOffset
	if a.isIDOnlyChange(itemIndex) {
		info.Data = nil
		return
	}
	info.Data = item.info.Data.Lightmaps
}

func (a *scenePrimitiveUploadAdapter) GetWriteDeclaration(itemIndex int) (metadata.GPUWritePass, metadata.GPUWriteDelegate) {
	data := a.items[itemIndex].info.Data
	return data.WritePass, data.WriteDelegate
}

// packPrimitiveShaderData builds the packed primitive record from scene
// bookkeeping.
func packPrimitiveShaderData(info *scene.PrimitiveSceneInfo, frameNumber uint32) metadata.PrimitiveShaderData {
	data := info.Data
	bounds := worldBounds(data)
	core.Assertf(len(data.Instances) == 0 || info.InstanceSceneDataOffset != metadata.INVALID_SLOT_OFFSET,
		"primitive %d has instances but no instance slots", info.ID)
	return metadata.PrimitiveShaderData{
		LocalToWorld:  data.LocalToWorld,
		BoundsOrigin:  bounds.Center(),
		BoundsRadius:  math.Vec3Length(bounds.HalfExtent()),
		BoundsExtents: bounds.HalfExtent(),
		Flags:         data.CombinedInstanceFlags(),

		InstanceSceneDataOffset:   info.InstanceSceneDataOffset,
		NumInstances:              uint32(len(data.Instances)),
		InstancePayloadDataOffset: info.InstancePayloadDataOffset,
		InstancePayloadDataStride: info.InstancePayloadDataStride,

		LightmapDataIndex: info.LightmapDataOffset,
		LightmapCount:     uint32(len(data.Lightmaps)),
		PrimitiveID:       info.ID,
		LastUpdateFrame:   frameNumber,
	}
}

func worldBounds(data *scene.PrimitiveRenderData) math.Extents3D {
	min := data.LocalToWorld.TransformPosition(data.LocalBounds.Min)
	max := data.LocalToWorld.TransformPosition(data.LocalBounds.Max)
	// Transformed corners may swap under rotation or negative scale.
	if min.X > max.X {
		min.X, max.X = max.X, min.X
	}
	if min.Y > max.Y {
		min.Y, max.Y = max.Y, min.Y
	}
	if min.Z > max.Z {
		min.Z, max.Z = max.Z, min.Z
	}
	return math.Extents3D{Min: min, Max: max}
}
