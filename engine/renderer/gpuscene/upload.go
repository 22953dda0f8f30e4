package gpuscene

import (
	"github.com/google/uuid"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// itemTransfer is the per-item record the transfer pass replays: where each
// staged range lives in staging and where it lands in the device buffers.
type itemTransfer struct {
	primitiveID uint32

	instanceDeviceOffset uint32
	instanceUploadOffset int
	numInstances         int

	payloadDeviceOffset uint32
	payloadUploadOffset int
	payloadCount        int

	lightmapDeviceOffset uint32
	lightmapUploadOffset int
	lightmapCount        int

	idPatchUploadOffset int
	idPatchCount        int
}

// uploadGeneral drives the shared upload pipeline for one adapter. It runs
// in two phases: a sequential pass over the cheap headers that lays out
// staging and device ranges, then a packing pass over the full item data
// that may fan out to workers. The packed staging is then replayed into the
// device buffers by a recorded graph pass, inside a write access scope.
//
// collector is non-nil for dynamic uploads and receives per-item processed
// notifications once the item's data, including any deferred GPU write, has
// landed.
func (gs *GPUScene) uploadGeneral(adapter UploadDataSourceAdapter, builder *renderer.GraphBuilder,
	viewID uuid.UUID, collector *DynamicPrimitiveCollector) {

	numItems := adapter.NumPrimitivesToUpload()
	if numItems == 0 {
		return
	}

	// Phase one: headers only, in item order. Counts recorded here are a
	// contract; the packing phase asserts the full data agrees.
	headers := make([]metadata.PrimitiveUploadInfoHeader, numItems)
	plan := make([]itemTransfer, numItems)
	totalInstances := 0
	totalPayload := 0
	totalLightmaps := 0
	totalIDPatches := 0
	for i := 0; i < numItems; i++ {
		adapter.GetPrimitiveInfoHeader(i, &headers[i])
		plan[i] = itemTransfer{
			primitiveID:          headers[i].PrimitiveID,
			instanceUploadOffset: totalInstances,
			numInstances:         headers[i].NumInstanceUploads,
			payloadUploadOffset:  totalPayload,
			payloadCount:         headers[i].NumInstancePayloadDataUploads,
			lightmapUploadOffset: totalLightmaps,
			lightmapCount:        headers[i].LightmapUploadCount,
			idPatchUploadOffset:  totalIDPatches,
			idPatchCount:         headers[i].NumInstanceIDPatches,
		}
		totalInstances += headers[i].NumInstanceUploads
		totalPayload += headers[i].NumInstancePayloadDataUploads
		totalLightmaps += headers[i].LightmapUploadCount
		totalIDPatches += headers[i].NumInstanceIDPatches
	}

	primitiveStride := int(metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S)
	primitiveStaging := make([]math.Vec4, numItems*primitiveStride)
	// SOA-major so each array's run per primitive is one contiguous copy.
	instanceStaging := make([]math.Vec4, int(metadata.INSTANCE_DATA_NUM_SOA_FLOAT4S)*totalInstances)
	boundsStaging := make([]math.Vec4, totalInstances*int(metadata.INSTANCE_BOUNDS_STRIDE_FLOAT4S))
	payloadStaging := make([]math.Vec4, totalPayload)
	lightmapStaging := make([]math.Vec4, totalLightmaps*int(metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S))
	idPatchStaging := make([]math.Vec4, totalIDPatches)

	// Phase two: full data. Item-level work (primitive records, lightmaps,
	// id patches) and instance-level work batch independently.
	packItems := func(b itemBatch) {
		for i := b.first; i < b.first+b.count; i++ {
			var info metadata.PrimitiveUploadInfo
			adapter.GetPrimitiveInfo(i, &info)
			core.Assertf(info.Header == headers[i],
				"upload item %d header diverged between phases", i)
			info.Data.Pack(primitiveStaging[i*primitiveStride : (i+1)*primitiveStride])

			if plan[i].idPatchCount > 0 {
				gs.packIDPatches(adapter, i, plan, idPatchStaging)
			} else if plan[i].numInstances > 0 {
				// Device offsets come from the full instance info; record
				// them here so instance batches only touch staging.
				var inst metadata.InstanceUploadInfo
				adapter.GetInstanceInfo(i, &inst)
				plan[i].instanceDeviceOffset = inst.InstanceSceneDataOffset
				plan[i].payloadDeviceOffset = inst.InstancePayloadDataOffset
			}

			if plan[i].lightmapCount > 0 {
				var lm metadata.LightMapUploadInfo
				adapter.GetLightMapInfo(i, &lm)
				core.Assertf(len(lm.Data) == plan[i].lightmapCount,
					"upload item %d lightmap count diverged between phases", i)
				plan[i].lightmapDeviceOffset = lm.LightmapDataOffset
				stride := int(metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S)
				for j := range lm.Data {
					slot := (plan[i].lightmapUploadOffset + j) * stride
					lm.Data[j].Pack(lightmapStaging[slot : slot+stride])
				}
			}
		}
	}

	packInstances := func(b uploadBatch) {
		item := b.firstItem
		first := b.firstInstance
		remaining := b.numInstances
		for remaining > 0 {
			count := plan[item].numInstances - first
			if count > remaining {
				count = remaining
			}
			if count > 0 {
				gs.packInstanceRange(adapter, item, first, count, plan,
					totalInstances, instanceStaging, boundsStaging, payloadStaging)
				remaining -= count
			}
			item++
			first = 0
		}
	}

	itemBatches := buildItemBatches(numItems, gs.cfg.InstanceUploadBatchSize)
	instanceCounts := make([]int, numItems)
	for i := range plan {
		instanceCounts[i] = plan[i].numInstances
	}
	instanceBatches := buildInstanceUploadBatches(instanceCounts, gs.cfg.InstanceUploadBatchSize)

	if gs.cfg.ParallelUpdatesEnabled && totalInstances >= gs.cfg.ParallelUpdateThreshold {
		gs.dispatcher.RunBatches(len(itemBatches), func(b int) { packItems(itemBatches[b]) })
		gs.dispatcher.RunBatches(len(instanceBatches), func(b int) { packInstances(instanceBatches[b]) })
	} else {
		for _, b := range itemBatches {
			packItems(b)
		}
		for _, b := range instanceBatches {
			packInstances(b)
		}
	}

	// Replay staging into the device buffers, inside a write scope so the
	// buffers are transitioned around the copies.
	gs.access.beginWrite(gs, builder, false)
	builder.AddPass("gpu_scene_upload", func(backend renderer.RendererBackend) error {
		return gs.transferStaging(backend, plan,
			primitiveStaging, instanceStaging, boundsStaging, payloadStaging, lightmapStaging, idPatchStaging,
			totalInstances)
	})
	gs.recordWriteDelegates(adapter, builder, viewID, collector, plan)
	gs.access.endWrite(gs, builder)

	core.MetricsUploadCounts(numItems, totalInstances, totalPayload)
}

// packInstanceRange stages count instances of one item, starting at the
// item-local index first. Safe to call concurrently for disjoint ranges.
func (gs *GPUScene) packInstanceRange(adapter UploadDataSourceAdapter, item, first, count int,
	plan []itemTransfer, totalInstances int,
	instanceStaging, boundsStaging, payloadStaging []math.Vec4) {

	var info metadata.InstanceUploadInfo
	adapter.GetInstanceInfo(item, &info)
	core.Assertf(len(info.Instances) == plan[item].numInstances,
		"upload item %d instance count diverged between phases", item)

	t := &plan[item]
	stride := info.InstancePayloadDataStride

	for j := first; j < first+count; j++ {
		src := &info.Instances[j]
		slot := t.instanceUploadOffset + j

		payloadOffset := metadata.INVALID_SLOT_OFFSET
		if stride > 0 {
			payloadOffset = info.InstancePayloadDataOffset + uint32(j)*stride
		}
		instanceStaging[slot] = packInstanceHeader(info.PrimitiveID, info.InstanceFlags,
			info.LastUpdateFrame, payloadOffset)
		for row := 0; row < 3; row++ {
			instanceStaging[(row+1)*totalInstances+slot] = src.LocalToPrimitive.Row(row)
		}

		center := src.LocalBounds.Center()
		extent := src.LocalBounds.HalfExtent()
		boundsStaging[slot*2] = math.Vec4{X: center.X, Y: center.Y, Z: center.Z}
		boundsStaging[slot*2+1] = math.Vec4{X: extent.X, Y: extent.Y, Z: extent.Z}

		if stride > 0 {
			out := payloadStaging[t.payloadUploadOffset+j*int(stride):][:stride]
			packInstancePayload(src, info.InstanceFlags, out)
		}
	}
}

// packIDPatches stages replacement header float4s for a changed-id-only
// item; only SOA array zero is rewritten on the device.
func (gs *GPUScene) packIDPatches(adapter UploadDataSourceAdapter, item int,
	plan []itemTransfer, idPatchStaging []math.Vec4) {

	var info metadata.InstanceUploadInfo
	adapter.GetInstanceInfo(item, &info)

	t := &plan[item]
	t.instanceDeviceOffset = info.InstanceSceneDataOffset
	stride := info.InstancePayloadDataStride
	for j := 0; j < t.idPatchCount; j++ {
		payloadOffset := metadata.INVALID_SLOT_OFFSET
		if stride > 0 {
			payloadOffset = info.InstancePayloadDataOffset + uint32(j)*stride
		}
		idPatchStaging[t.idPatchUploadOffset+j] = packInstanceHeader(info.PrimitiveID,
			info.InstanceFlags, info.LastUpdateFrame, payloadOffset)
	}
}

// transferStaging replays the staged ranges into the device buffers.
func (gs *GPUScene) transferStaging(backend renderer.RendererBackend, plan []itemTransfer,
	primitiveStaging, instanceStaging, boundsStaging, payloadStaging, lightmapStaging, idPatchStaging []math.Vec4,
	totalInstances int) error {

	bs := &gs.buffers
	primitiveStride := int(metadata.PRIMITIVE_DATA_STRIDE_FLOAT4S)
	boundsStride := int(metadata.INSTANCE_BOUNDS_STRIDE_FLOAT4S)
	lightmapStride := int(metadata.LIGHTMAP_DATA_STRIDE_FLOAT4S)
	soaStride := uint64(bs.instanceDataCapacity)

	for i := range plan {
		t := &plan[i]

		src := primitiveStaging[i*primitiveStride : (i+1)*primitiveStride]
		if err := backend.RenderBufferLoadRange(bs.primitiveDataBuffer,
			uint64(t.primitiveID)*uint64(primitiveStride), src); err != nil {
			return err
		}

		if t.numInstances > 0 {
			for s := 0; s < int(metadata.INSTANCE_DATA_NUM_SOA_FLOAT4S); s++ {
				run := instanceStaging[s*totalInstances+t.instanceUploadOffset:][:t.numInstances]
				if err := backend.RenderBufferLoadRange(bs.instanceSceneDataBuffer,
					uint64(s)*soaStride+uint64(t.instanceDeviceOffset), run); err != nil {
					return err
				}
			}
			boundsRun := boundsStaging[t.instanceUploadOffset*boundsStride:][:t.numInstances*boundsStride]
			if err := backend.RenderBufferLoadRange(bs.instanceBoundsBuffer,
				uint64(t.instanceDeviceOffset)*uint64(boundsStride), boundsRun); err != nil {
				return err
			}
		}

		if t.payloadCount > 0 {
			run := payloadStaging[t.payloadUploadOffset:][:t.payloadCount]
			if err := backend.RenderBufferLoadRange(bs.instancePayloadDataBuffer,
				uint64(t.payloadDeviceOffset), run); err != nil {
				return err
			}
		}

		if t.lightmapCount > 0 {
			run := lightmapStaging[t.lightmapUploadOffset*lightmapStride:][:t.lightmapCount*lightmapStride]
			if err := backend.RenderBufferLoadRange(bs.lightmapDataBuffer,
				uint64(t.lightmapDeviceOffset)*uint64(lightmapStride), run); err != nil {
				return err
			}
		}

		if t.idPatchCount > 0 {
			run := idPatchStaging[t.idPatchUploadOffset:][:t.idPatchCount]
			if err := backend.RenderBufferLoadRange(bs.instanceSceneDataBuffer,
				uint64(t.instanceDeviceOffset), run); err != nil {
				return err
			}
		}
	}
	return nil
}

// recordWriteDelegates routes every item's write declaration: immediate
// delegates run in a pass right after the upload copies, deferred ones are
// parked until their pass executes. A declaration for a pass that already
// ran this frame falls back to immediate. Dynamic items with no delegate
// are marked processed as soon as the copies land.
func (gs *GPUScene) recordWriteDelegates(adapter UploadDataSourceAdapter, builder *renderer.GraphBuilder,
	viewID uuid.UUID, collector *DynamicPrimitiveCollector, plan []itemTransfer) {

	type immediateWrite struct {
		item  int
		write deferredGPUWrite
	}
	var immediate []immediateWrite
	var uploadedOnly []int

	for i := range plan {
		pass, delegate := adapter.GetWriteDeclaration(i)
		if delegate == nil {
			if collector != nil {
				uploadedOnly = append(uploadedOnly, i)
			}
			continue
		}

		itemIndex := i
		write := deferredGPUWrite{
			viewID:                  viewID,
			primitiveID:             plan[i].primitiveID,
			instanceSceneDataOffset: plan[i].instanceDeviceOffset,
			delegate:                delegate,
		}
		if collector != nil {
			write.onExecuted = func() { collector.markProcessed(itemIndex) }
		}

		// A declared pass that already executed this frame cannot be
		// deferred any more; the delegate runs right after the upload
		// lands, same as an undeclared pass.
		if pass == metadata.GPU_WRITE_PASS_NONE || pass <= gs.deferred.lastExecuted {
			immediate = append(immediate, immediateWrite{item: itemIndex, write: write})
		} else {
			gs.deferred.enqueue(pass, write)
		}
	}

	if len(immediate) == 0 && len(uploadedOnly) == 0 {
		return
	}

	builder.AddPass("gpu_scene_immediate_writes", func(backend renderer.RendererBackend) error {
		bindings := gs.buffers.bindings()
		for _, iw := range immediate {
			params := metadata.GPUWriteParams{
				View:                    iw.write.viewID,
				PrimitiveID:             iw.write.primitiveID,
				InstanceSceneDataOffset: iw.write.instanceSceneDataOffset,
				Buffers:                 bindings,
			}
			iw.write.delegate(&params)
			if iw.write.onExecuted != nil {
				iw.write.onExecuted()
			}
		}
		if collector != nil {
			for _, item := range uploadedOnly {
				collector.markProcessed(item)
			}
		}
		return nil
	})
}

// packInstanceHeader builds the first SOA float4 of an instance: its owning
// primitive id, the channel flags, the last update frame, and where its
// payload starts.
func packInstanceHeader(primitiveID, flags, lastUpdateFrame, payloadOffset uint32) math.Vec4 {
	return math.Vec4{
		X: metadata.Float32FromBits(primitiveID),
		Y: metadata.Float32FromBits(flags),
		Z: metadata.Float32FromBits(lastUpdateFrame),
		W: metadata.Float32FromBits(payloadOffset),
	}
}

// packInstancePayload writes the instance's optional channels in fixed
// channel order. flags is the primitive-wide channel union so the layout is
// uniform across the primitive's instances.
func packInstancePayload(src *metadata.InstanceSourceData, flags uint32, out []math.Vec4) {
	n := 0
	if flags&(metadata.INSTANCE_DATA_FLAG_HIERARCHY_OFFSET|metadata.INSTANCE_DATA_FLAG_EDITOR_DATA|metadata.INSTANCE_DATA_FLAG_RANDOM_ID) != 0 {
		out[n] = math.Vec4{
			X: metadata.Float32FromBits(src.HierarchyOffset),
			Y: src.EditorData,
			Z: src.RandomID,
		}
		n++
	}
	if flags&metadata.INSTANCE_DATA_FLAG_LOCAL_BOUNDS != 0 {
		center := src.LocalBounds.Center()
		extent := src.LocalBounds.HalfExtent()
		out[n] = math.Vec4{X: center.X, Y: center.Y, Z: center.Z}
		out[n+1] = math.Vec4{X: extent.X, Y: extent.Y, Z: extent.Z}
		n += 2
	}
	if flags&metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA != 0 {
		out[n] = src.PrevLocalToPrimitive.Row(0)
		out[n+1] = src.PrevLocalToPrimitive.Row(1)
		out[n+2] = src.PrevLocalToPrimitive.Row(2)
		n += 3
	}
	if flags&metadata.INSTANCE_DATA_FLAG_LIGHTSHADOW_UV_BIAS != 0 {
		out[n] = src.LightShadowUVBias
		n++
	}
	if flags&metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA != 0 {
		out[n] = src.CustomData
		n++
	}
}
