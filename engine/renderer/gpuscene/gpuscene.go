package gpuscene

import (
	"time"

	"github.com/google/uuid"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/config"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/containers"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

// GPUScene owns the device-resident mirror of the scene: the primitive,
// instance, payload, bounds and lightmap buffers, the slot allocators that
// place data in them, and the upload pipeline that moves dirty data over.
// Persistent primitives keep their id and slots across frames; dynamic
// primitives get ids past the persistent range, valid for one frame.
//
// All methods must be called from the render thread. Only the packing
// phase inside Update fans out to workers.
type GPUScene struct {
	backend    renderer.RendererBackend
	scene      *scene.Scene
	cfg        *config.RendererConfig
	dispatcher BatchDispatcher

	buffers  bufferState
	access   accessState
	deferred deferredWriteQueues

	instanceSceneDataAllocator   *containers.RangeAllocator
	instancePayloadDataAllocator *containers.RangeAllocator
	lightmapDataAllocator        *containers.RangeAllocator

	pendingUpdates []sceneUploadItem
	pendingIndex   map[uint32]int

	frameNumber  uint32
	frameStarted bool

	// Next dynamic primitive id; reset past the persistent range each frame.
	dynamicPrimitiveIDNext uint32
}

func NewGPUScene(backend renderer.RendererBackend, sc *scene.Scene, cfg *config.RendererConfig, dispatcher BatchDispatcher) (*GPUScene, error) {
	if dispatcher == nil {
		dispatcher = serialDispatcher{}
	}
	gs := &GPUScene{
		backend:    backend,
		scene:      sc,
		cfg:        cfg,
		dispatcher: dispatcher,

		instanceSceneDataAllocator:   containers.NewRangeAllocator(),
		instancePayloadDataAllocator: containers.NewRangeAllocator(),
		lightmapDataAllocator:        containers.NewRangeAllocator(),

		pendingIndex: make(map[uint32]int),
	}
	if err := gs.buffers.initialize(backend,
		cfg.MinPrimitiveCapacity, cfg.MinInstanceDataCapacity,
		cfg.MinInstancePayloadCapacity, cfg.MinLightmapDataCapacity); err != nil {
		core.LogError("failed to create GPU scene buffers: %s", err.Error())
		return nil, err
	}
	core.LogInfo("GPU scene created (primitives=%d instances=%d payload=%d lightmaps=%d)",
		gs.buffers.primitiveCapacity, gs.buffers.instanceDataCapacity,
		gs.buffers.instancePayloadCapacity, gs.buffers.lightmapDataCapacity)
	return gs, nil
}

func (gs *GPUScene) Shutdown() {
	gs.buffers.shutdown(gs.backend)
	gs.pendingUpdates = nil
	gs.pendingIndex = nil
	core.LogInfo("GPU scene shut down")
}

// BeginFrame opens a new frame. Deferred write queues restart empty and the
// dynamic id range restarts past the persistent primitives.
func (gs *GPUScene) BeginFrame() error {
	if gs.frameStarted {
		return core.ErrFrameAlreadyStarted
	}
	gs.frameStarted = true
	gs.frameNumber++
	gs.deferred.reset()
	gs.dynamicPrimitiveIDNext = gs.persistentPrimitiveCapacity()
	return nil
}

// persistentPrimitiveCapacity is the persistent slot count, or zero when
// the GPU scene runs without a persistent scene and everything is dynamic.
func (gs *GPUScene) persistentPrimitiveCapacity() uint32 {
	if gs.scene == nil {
		return 0
	}
	return uint32(gs.scene.PrimitiveCapacity())
}

// EndFrame closes the frame. Deferred writes that no pass picked up are
// flushed so their delegates always run within the frame they were queued.
func (gs *GPUScene) EndFrame(builder *renderer.GraphBuilder) error {
	if !gs.frameStarted {
		return core.ErrFrameNotStarted
	}
	if pending := gs.deferred.numPending(); pending > 0 {
		core.LogWarn("%d deferred GPU writes not picked up by any pass; flushing at frame end", pending)
		gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_MAX-1, gs, builder)
	}
	gs.frameStarted = false
	return nil
}

func (gs *GPUScene) FrameNumber() uint32 {
	return gs.frameNumber
}

// AddPrimitiveToUpdate queues a persistent primitive for the next Update.
// Repeated calls for the same primitive accumulate dirty flags.
func (gs *GPUScene) AddPrimitiveToUpdate(info *scene.PrimitiveSceneInfo, dirty metadata.PrimitiveDirtyFlags) {
	core.Assert(info != nil, "AddPrimitiveToUpdate: nil primitive")
	if index, ok := gs.pendingIndex[info.ID]; ok {
		gs.pendingUpdates[index].dirty |= dirty
		return
	}
	gs.pendingIndex[info.ID] = len(gs.pendingUpdates)
	gs.pendingUpdates = append(gs.pendingUpdates, sceneUploadItem{info: info, dirty: dirty})
}

// NumPendingUpdates reports how many persistent primitives are queued.
func (gs *GPUScene) NumPendingUpdates() int {
	return len(gs.pendingUpdates)
}

// Update uploads every queued persistent primitive: slots are (re)assigned
// where counts changed, buffers grown to the new watermarks, and the dirty
// data staged and copied. The queue is drained whether or not anything was
// dirty enough to move.
func (gs *GPUScene) Update(builder *renderer.GraphBuilder) error {
	if !gs.frameStarted {
		return core.ErrFrameNotStarted
	}
	started := time.Now()

	if len(gs.pendingUpdates) > 0 {
		for i := range gs.pendingUpdates {
			gs.updatePrimitiveSlots(gs.pendingUpdates[i].info, gs.pendingUpdates[i].dirty)
		}
	}

	if err := gs.updateBufferCapacities(builder); err != nil {
		return err
	}

	if len(gs.pendingUpdates) > 0 {
		adapter := newScenePrimitiveUploadAdapter(gs.pendingUpdates, gs.frameNumber)
		gs.uploadGeneral(adapter, builder, uuid.Nil, nil)

		for i := range gs.pendingUpdates {
			gs.pendingUpdates[i].info.LastUpdateFrame = gs.frameNumber
		}
		gs.pendingUpdates = gs.pendingUpdates[:0]
		for id := range gs.pendingIndex {
			delete(gs.pendingIndex, id)
		}
	}

	core.MetricsUpdate(time.Since(started).Seconds())
	return nil
}

// UploadDynamicPrimitiveShaderDataForView commits the view's collector if
// needed and uploads its primitives. The view's buffer bindings are
// refreshed afterwards, since the upload may have grown buffers.
func (gs *GPUScene) UploadDynamicPrimitiveShaderDataForView(builder *renderer.GraphBuilder, view *View) error {
	if !gs.frameStarted {
		return core.ErrFrameNotStarted
	}
	collector := view.Collector
	if !collector.committed {
		collector.Commit()
	}

	if err := gs.updateBufferCapacities(builder); err != nil {
		return err
	}

	if collector.NumPrimitives() > 0 {
		adapter := newDynamicPrimitiveUploadAdapter(collector, gs.frameNumber)
		gs.uploadGeneral(adapter, builder, view.ID, collector)
	}

	view.Bindings = gs.buffers.bindings()
	return nil
}

// GetWriteParameters builds delegate parameters for callers that invoke a
// write outside the deferred queues.
func (gs *GPUScene) GetWriteParameters(primitiveID, instanceSceneDataOffset uint32) metadata.GPUWriteParams {
	return metadata.GPUWriteParams{
		PrimitiveID:             primitiveID,
		InstanceSceneDataOffset: instanceSceneDataOffset,
		Buffers:                 gs.buffers.bindings(),
	}
}

// ExecuteDeferredGPUWritePass runs every deferred write queued for the
// given pass and every earlier pass not yet executed, in pass order. Each
// pass executes at most once per frame.
func (gs *GPUScene) ExecuteDeferredGPUWritePass(builder *renderer.GraphBuilder, pass metadata.GPUWritePass) {
	gs.deferred.executeUpTo(pass, gs, builder)
}

// HasPendingGPUWrite reports whether a deferred write for the given
// primitive is still waiting on a pass, meaning its GPU scene record is not
// finalized yet.
func (gs *GPUScene) HasPendingGPUWrite(primitiveID uint32) bool {
	return gs.deferred.hasPendingForPrimitive(primitiveID)
}

// HasPendingGPUWritePass reports whether any deferred write targets the
// given pass or an earlier one that has not executed yet.
func (gs *GPUScene) HasPendingGPUWritePass(pass metadata.GPUWritePass) bool {
	return gs.deferred.hasPending(pass)
}

// BeginReadWriteAccess opens an external write scope over the scene
// buffers. allowOverlap is recorded on the scope as a hint that readers
// tolerate interleaved writes; backends may relax transitions on it.
func (gs *GPUScene) BeginReadWriteAccess(builder *renderer.GraphBuilder, allowOverlap bool) {
	gs.access.beginWrite(gs, builder, allowOverlap)
}

func (gs *GPUScene) EndReadWriteAccess(builder *renderer.GraphBuilder) {
	gs.access.endWrite(gs, builder)
}

// BeginReadAccess opens an external read scope over the scene buffers.
// overlapWrites declares the caller tolerates interleaved scene writes, in
// which case no transition is issued.
func (gs *GPUScene) BeginReadAccess(builder *renderer.GraphBuilder, overlapWrites bool) {
	gs.access.beginRead(gs, builder, overlapWrites)
}

func (gs *GPUScene) EndReadAccess() {
	gs.access.endRead()
}

// Buffer accessors for passes that bind the scene buffers directly.
func (gs *GPUScene) PrimitiveDataBuffer() *metadata.RenderBuffer {
	return gs.buffers.primitiveDataBuffer
}

func (gs *GPUScene) InstanceSceneDataBuffer() *metadata.RenderBuffer {
	return gs.buffers.instanceSceneDataBuffer
}

func (gs *GPUScene) InstanceSceneDataSOAStride() uint32 {
	return gs.buffers.instanceDataCapacity
}

func (gs *GPUScene) LightmapDataBuffer() *metadata.RenderBuffer {
	return gs.buffers.lightmapDataBuffer
}

// AllocateInstanceSceneDataSlots reserves count instance slots.
func (gs *GPUScene) AllocateInstanceSceneDataSlots(count uint32) uint32 {
	return gs.instanceSceneDataAllocator.Allocate(count)
}

func (gs *GPUScene) FreeInstanceSceneDataSlots(offset, count uint32) {
	gs.instanceSceneDataAllocator.Free(offset, count)
}

// AllocateInstancePayloadDataSlots reserves count payload float4 slots.
func (gs *GPUScene) AllocateInstancePayloadDataSlots(count uint32) uint32 {
	return gs.instancePayloadDataAllocator.Allocate(count)
}

func (gs *GPUScene) FreeInstancePayloadDataSlots(offset, count uint32) {
	gs.instancePayloadDataAllocator.Free(offset, count)
}

func (gs *GPUScene) allocateLightmapDataSlots(count uint32) uint32 {
	return gs.lightmapDataAllocator.Allocate(count)
}

func (gs *GPUScene) freeLightmapDataSlots(offset, count uint32) {
	gs.lightmapDataAllocator.Free(offset, count)
}

// allocateDynamicPrimitiveIDRange hands out count consecutive primitive
// ids past the persistent range, valid until the frame ends.
func (gs *GPUScene) allocateDynamicPrimitiveIDRange(count uint32) uint32 {
	core.Assert(gs.frameStarted, "dynamic primitive ids are only valid inside a frame")
	base := gs.dynamicPrimitiveIDNext
	gs.dynamicPrimitiveIDNext += count
	return base
}

// ReleasePrimitiveSlots returns a removed persistent primitive's slots to
// the allocators and clears its bookkeeping.
func (gs *GPUScene) ReleasePrimitiveSlots(info *scene.PrimitiveSceneInfo) {
	if info.AllocatedInstanceSlots > 0 {
		gs.instanceSceneDataAllocator.Free(info.InstanceSceneDataOffset, info.AllocatedInstanceSlots)
		info.InstanceSceneDataOffset = metadata.INVALID_SLOT_OFFSET
		info.AllocatedInstanceSlots = 0
	}
	if info.AllocatedPayloadSlots > 0 {
		gs.instancePayloadDataAllocator.Free(info.InstancePayloadDataOffset, info.AllocatedPayloadSlots)
		info.InstancePayloadDataOffset = metadata.INVALID_SLOT_OFFSET
		info.AllocatedPayloadSlots = 0
	}
	if info.AllocatedLightmapSlots > 0 {
		gs.lightmapDataAllocator.Free(info.LightmapDataOffset, info.AllocatedLightmapSlots)
		info.LightmapDataOffset = metadata.INVALID_SLOT_OFFSET
		info.AllocatedLightmapSlots = 0
	}
	if index, ok := gs.pendingIndex[info.ID]; ok {
		// Drop the queued update; the primitive is gone.
		last := len(gs.pendingUpdates) - 1
		if index != last {
			gs.pendingUpdates[index] = gs.pendingUpdates[last]
			gs.pendingIndex[gs.pendingUpdates[index].info.ID] = index
		}
		gs.pendingUpdates = gs.pendingUpdates[:last]
		delete(gs.pendingIndex, info.ID)
	}
}

// updatePrimitiveSlots reassigns a primitive's ranges when its counts no
// longer match what is reserved. A changed-id-only primitive keeps its
// slots untouched.
func (gs *GPUScene) updatePrimitiveSlots(info *scene.PrimitiveSceneInfo, dirty metadata.PrimitiveDirtyFlags) {
	if dirty == metadata.PRIMITIVE_DIRTY_FLAG_CHANGED_ID {
		return
	}
	data := info.Data

	neededInstances := uint32(len(data.Instances))
	if neededInstances != info.AllocatedInstanceSlots {
		if info.AllocatedInstanceSlots > 0 {
			gs.instanceSceneDataAllocator.Free(info.InstanceSceneDataOffset, info.AllocatedInstanceSlots)
		}
		info.InstanceSceneDataOffset = metadata.INVALID_SLOT_OFFSET
		if neededInstances > 0 {
			info.InstanceSceneDataOffset = gs.instanceSceneDataAllocator.Allocate(neededInstances)
		}
		info.AllocatedInstanceSlots = neededInstances
	}

	stride := data.PayloadStride()
	neededPayload := neededInstances * stride
	if neededPayload != info.AllocatedPayloadSlots {
		if info.AllocatedPayloadSlots > 0 {
			gs.instancePayloadDataAllocator.Free(info.InstancePayloadDataOffset, info.AllocatedPayloadSlots)
		}
		info.InstancePayloadDataOffset = metadata.INVALID_SLOT_OFFSET
		if neededPayload > 0 {
			info.InstancePayloadDataOffset = gs.instancePayloadDataAllocator.Allocate(neededPayload)
		}
		info.AllocatedPayloadSlots = neededPayload
	}
	info.InstancePayloadDataStride = stride

	neededLightmaps := uint32(len(data.Lightmaps))
	if neededLightmaps != info.AllocatedLightmapSlots {
		if info.AllocatedLightmapSlots > 0 {
			gs.lightmapDataAllocator.Free(info.LightmapDataOffset, info.AllocatedLightmapSlots)
		}
		info.LightmapDataOffset = metadata.INVALID_SLOT_OFFSET
		if neededLightmaps > 0 {
			info.LightmapDataOffset = gs.lightmapDataAllocator.Allocate(neededLightmaps)
		}
		info.AllocatedLightmapSlots = neededLightmaps
	}
}

// updateBufferCapacities grows any buffer whose watermark passed its
// capacity. Watermarks come from the allocators and the id spaces, so
// freed-then-reused ranges do not force growth.
func (gs *GPUScene) updateBufferCapacities(builder *renderer.GraphBuilder) error {
	numPrimitiveSlots := gs.persistentPrimitiveCapacity()
	if gs.dynamicPrimitiveIDNext > numPrimitiveSlots {
		numPrimitiveSlots = gs.dynamicPrimitiveIDNext
	}
	return gs.buffers.update(builder.Backend(), gs.cfg,
		numPrimitiveSlots,
		gs.instanceSceneDataAllocator.GetMaxSize(),
		gs.instancePayloadDataAllocator.GetMaxSize(),
		gs.lightmapDataAllocator.GetMaxSize())
}

// transitionAll moves every scene buffer to the given state.
func (gs *GPUScene) transitionAll(backend renderer.RendererBackend, state metadata.RenderBufferState) error {
	for _, buffer := range []*metadata.RenderBuffer{
		gs.buffers.primitiveDataBuffer,
		gs.buffers.instanceSceneDataBuffer,
		gs.buffers.instancePayloadDataBuffer,
		gs.buffers.instanceBoundsBuffer,
		gs.buffers.lightmapDataBuffer,
	} {
		backend.RenderBufferTransition(buffer, state)
	}
	return nil
}

// runGPUWrites records a pass executing a drained deferred queue. The
// writable buffers are transitioned around the delegates so they may write
// even when the surrounding graph has the scene readable.
func (gs *GPUScene) runGPUWrites(pass metadata.GPUWritePass, writes []deferredGPUWrite, builder *renderer.GraphBuilder) {
	queued := make([]deferredGPUWrite, len(writes))
	copy(queued, writes)

	builder.AddPass("gpu_scene_writes_"+pass.String(), func(backend renderer.RendererBackend) error {
		if err := gs.transitionAll(backend, metadata.RENDERBUFFER_STATE_WRITABLE); err != nil {
			return err
		}
		bindings := gs.buffers.bindings()
		for i := range queued {
			write := &queued[i]
			params := metadata.GPUWriteParams{
				View:                    write.viewID,
				PrimitiveID:             write.primitiveID,
				InstanceSceneDataOffset: write.instanceSceneDataOffset,
				Buffers:                 bindings,
			}
			write.delegate(&params)
			if write.onExecuted != nil {
				write.onExecuted()
			}
		}
		return gs.transitionAll(backend, metadata.RENDERBUFFER_STATE_READABLE)
	})
	core.LogDebug("recorded %d GPU writes for pass %s", len(queued), pass.String())
}
