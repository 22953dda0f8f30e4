package gpuscene

import (
	"github.com/google/uuid"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

// dynamicPrimitiveInfo is the slot bookkeeping of one collected primitive.
type dynamicPrimitiveInfo struct {
	instanceSceneDataOffset   uint32
	instancePayloadDataOffset uint32
	instancePayloadDataStride uint32
	lightmapDataOffset        uint32
	numInstances              int
}

// DynamicPrimitiveCollector accumulates primitives that exist only for the
// current frame and view, then commits them into the shared id/slot space
// exactly once. Adds are only valid before commit; the committed ids and
// slots are valid until the owning frame ends.
type DynamicPrimitiveCollector struct {
	gpuScene *GPUScene
	viewID   uuid.UUID

	pending []*scene.PrimitiveRenderData
	infos   []dynamicPrimitiveInfo

	committed       bool
	basePrimitiveID uint32

	instanceRange slotRange
	payloadRange  slotRange
	lightmapRange slotRange

	processed []bool
}

// slotRange tracks one allocation so Release can return it.
type slotRange struct {
	offset uint32
	count  uint32
	valid  bool
}

// Add appends a primitive for this frame and returns its local index.
// Backing storage is allocated lazily on the first add.
func (c *DynamicPrimitiveCollector) Add(data *scene.PrimitiveRenderData) int {
	core.Assert(!c.committed, "DynamicPrimitiveCollector: Add after Commit")
	if c.pending == nil {
		c.pending = make([]*scene.PrimitiveRenderData, 0, 16)
	}
	c.pending = append(c.pending, data)
	return len(c.pending) - 1
}

// Commit reserves a contiguous primitive-id range plus instance/payload/
// lightmap slots for everything added so far. Calling it twice is a
// contract violation.
func (c *DynamicPrimitiveCollector) Commit() {
	core.Assert(!c.committed, "DynamicPrimitiveCollector: Commit called twice")
	c.committed = true

	if len(c.pending) == 0 {
		return
	}

	gs := c.gpuScene
	c.basePrimitiveID = gs.allocateDynamicPrimitiveIDRange(uint32(len(c.pending)))

	var totalInstances, totalPayload, totalLightmaps uint32
	c.infos = make([]dynamicPrimitiveInfo, len(c.pending))
	for i, data := range c.pending {
		// A primitive registered without explicit instances still gets one
		// synthetic identity instance, so downstream code is uniform.
		numInstances := len(data.Instances)
		if numInstances == 0 {
			numInstances = 1
		}
		stride := data.PayloadStride()
		c.infos[i] = dynamicPrimitiveInfo{
			instanceSceneDataOffset:   totalInstances,
			instancePayloadDataOffset: totalPayload,
			instancePayloadDataStride: stride,
			lightmapDataOffset:        totalLightmaps,
			numInstances:              numInstances,
		}
		totalInstances += uint32(numInstances)
		totalPayload += uint32(numInstances) * stride
		totalLightmaps += uint32(len(data.Lightmaps))
	}

	baseInstance := gs.AllocateInstanceSceneDataSlots(totalInstances)
	c.instanceRange = slotRange{offset: baseInstance, count: totalInstances, valid: true}

	var basePayload, baseLightmap uint32 = metadata.INVALID_SLOT_OFFSET, metadata.INVALID_SLOT_OFFSET
	if totalPayload > 0 {
		basePayload = gs.AllocateInstancePayloadDataSlots(totalPayload)
		c.payloadRange = slotRange{offset: basePayload, count: totalPayload, valid: true}
	}
	if totalLightmaps > 0 {
		baseLightmap = gs.allocateLightmapDataSlots(totalLightmaps)
		c.lightmapRange = slotRange{offset: baseLightmap, count: totalLightmaps, valid: true}
	}

	for i := range c.infos {
		info := &c.infos[i]
		info.instanceSceneDataOffset += baseInstance
		if info.instancePayloadDataStride > 0 {
			info.instancePayloadDataOffset += basePayload
		} else {
			info.instancePayloadDataOffset = metadata.INVALID_SLOT_OFFSET
		}
		if len(c.pending[i].Lightmaps) > 0 {
			info.lightmapDataOffset += baseLightmap
		} else {
			info.lightmapDataOffset = metadata.INVALID_SLOT_OFFSET
		}
	}

	c.processed = make([]bool, len(c.pending))
}

// PrimitiveIDRange returns the committed id range as (base, count).
func (c *DynamicPrimitiveCollector) PrimitiveIDRange() (uint32, uint32) {
	core.Assert(c.committed, "DynamicPrimitiveCollector: PrimitiveIDRange before Commit")
	return c.basePrimitiveID, uint32(len(c.pending))
}

// NumPrimitives reports how many primitives have been added.
func (c *DynamicPrimitiveCollector) NumPrimitives() int {
	return len(c.pending)
}

// IsPrimitiveProcessed answers whether upload, including any deferred GPU
// write, has completed for the given local index. Dependent passes use this
// to avoid reading stale data.
func (c *DynamicPrimitiveCollector) IsPrimitiveProcessed(index int) bool {
	if !c.committed || index >= len(c.processed) {
		return false
	}
	return c.processed[index]
}

func (c *DynamicPrimitiveCollector) markProcessed(index int) {
	c.processed[index] = true
}

// release returns the collector's slot ranges to the shared allocators.
func (c *DynamicPrimitiveCollector) release(gs *GPUScene) {
	if c.instanceRange.valid {
		gs.FreeInstanceSceneDataSlots(c.instanceRange.offset, c.instanceRange.count)
		c.instanceRange.valid = false
	}
	if c.payloadRange.valid {
		gs.FreeInstancePayloadDataSlots(c.payloadRange.offset, c.payloadRange.count)
		c.payloadRange.valid = false
	}
	if c.lightmapRange.valid {
		gs.freeLightmapDataSlots(c.lightmapRange.offset, c.lightmapRange.count)
		c.lightmapRange.valid = false
	}
}

// View identifies one rendered view within a frame. Its collector gathers
// the view's dynamic primitives; Bindings is refreshed after the view's
// dynamic upload so shaders read the current buffers.
type View struct {
	ID        uuid.UUID
	Collector *DynamicPrimitiveCollector
	Bindings  metadata.WritableBufferBindings
}

// DynamicRenderDataContext owns all dynamic primitive data of one frame.
// Destroying it returns every collector's slot allocations to the shared
// allocators; collected primitive ids must not be used afterwards.
type DynamicRenderDataContext struct {
	gpuScene *GPUScene
	views    []*View
	released bool
}

func NewDynamicRenderDataContext(gs *GPUScene) *DynamicRenderDataContext {
	return &DynamicRenderDataContext{gpuScene: gs}
}

// NewView creates a view with a fresh collector bound to this context.
func (ctx *DynamicRenderDataContext) NewView() *View {
	core.Assert(!ctx.released, "DynamicRenderDataContext: NewView after Release")
	id := uuid.New()
	view := &View{
		ID: id,
		Collector: &DynamicPrimitiveCollector{
			gpuScene: ctx.gpuScene,
			viewID:   id,
		},
	}
	ctx.views = append(ctx.views, view)
	return view
}

func (ctx *DynamicRenderDataContext) Views() []*View {
	return ctx.views
}

// Release frees all slot ranges held by the context's collectors. Merging
// of the freed ranges is deferred across the batch.
func (ctx *DynamicRenderDataContext) Release() {
	if ctx.released {
		return
	}
	ctx.released = true

	gs := ctx.gpuScene
	gs.instanceSceneDataAllocator.BeginDeferMerges()
	gs.instancePayloadDataAllocator.BeginDeferMerges()
	for _, view := range ctx.views {
		view.Collector.release(gs)
	}
	gs.instancePayloadDataAllocator.EndDeferMerges()
	gs.instanceSceneDataAllocator.EndDeferMerges()
}
