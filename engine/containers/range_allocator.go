package containers

import (
	"sort"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

// AllocatorRange is a half-open run of slots [Offset, Offset+Count).
type AllocatorRange struct {
	Offset uint32
	Count  uint32
}

// RangeAllocator hands out index ranges from a growing address space. It is
// the slot allocator behind the GPU scene's instance and payload buffers:
// offsets it returns are raw indices into those buffers and stay valid until
// freed, even when the backing buffer grows.
//
// Allocation is first-fit over an offset-sorted free list. When no free
// range fits, the address space is extended; the owner is expected to size
// its device buffer from GetMaxSize afterwards. Not safe for concurrent use.
type RangeAllocator struct {
	// Sorted by offset. Entries never overlap and never touch; touching
	// neighbours are merged on insert (unless merges are deferred).
	freeRanges   []AllocatorRange
	pendingFrees []AllocatorRange
	maxSize      uint32
	numAllocated uint32
	deferMerges  bool
}

func NewRangeAllocator() *RangeAllocator {
	return &RangeAllocator{}
}

// Allocate returns the offset of a contiguous run of count slots.
func (ra *RangeAllocator) Allocate(count uint32) uint32 {
	core.Assert(count > 0, "RangeAllocator.Allocate: count must be > 0")

	for i := range ra.freeRanges {
		r := &ra.freeRanges[i]
		if r.Count >= count {
			offset := r.Offset
			r.Offset += count
			r.Count -= count
			if r.Count == 0 {
				ra.freeRanges = append(ra.freeRanges[:i], ra.freeRanges[i+1:]...)
			}
			ra.numAllocated += count
			return offset
		}
	}

	// No free range fits. Extend the address space; callers grow their
	// buffers from GetMaxSize, which never invalidates prior offsets.
	offset := ra.maxSize
	ra.maxSize += count
	ra.numAllocated += count
	return offset
}

// Free marks [offset, offset+count) reusable. While a defer-merges scope is
// open the range is parked and only becomes allocatable at EndDeferMerges.
func (ra *RangeAllocator) Free(offset, count uint32) {
	core.Assert(count > 0, "RangeAllocator.Free: count must be > 0")
	core.Assertf(offset+count <= ra.maxSize,
		"RangeAllocator.Free: range [%d, %d) outside address space of size %d",
		offset, offset+count, ra.maxSize)

	ra.numAllocated -= count
	if ra.deferMerges {
		ra.pendingFrees = append(ra.pendingFrees, AllocatorRange{Offset: offset, Count: count})
		return
	}
	ra.insertAndCoalesce(AllocatorRange{Offset: offset, Count: count})
}

// BeginDeferMerges opens a scope in which freed ranges are buffered instead
// of coalesced one by one. Useful when releasing many ranges at once.
func (ra *RangeAllocator) BeginDeferMerges() {
	core.Assert(!ra.deferMerges, "RangeAllocator: BeginDeferMerges while already deferring")
	ra.deferMerges = true
}

// EndDeferMerges folds all buffered frees back into the free list.
func (ra *RangeAllocator) EndDeferMerges() {
	core.Assert(ra.deferMerges, "RangeAllocator: EndDeferMerges without BeginDeferMerges")
	ra.deferMerges = false

	sort.Slice(ra.pendingFrees, func(i, j int) bool {
		return ra.pendingFrees[i].Offset < ra.pendingFrees[j].Offset
	})
	for _, r := range ra.pendingFrees {
		ra.insertAndCoalesce(r)
	}
	ra.pendingFrees = ra.pendingFrees[:0]
}

// GetMaxSize reports the current upper bound of allocated plus free space.
// Buffer capacities are computed from this.
func (ra *RangeAllocator) GetMaxSize() uint32 {
	return ra.maxSize
}

// NumAllocated reports how many slots are currently live.
func (ra *RangeAllocator) NumAllocated() uint32 {
	return ra.numAllocated
}

func (ra *RangeAllocator) insertAndCoalesce(r AllocatorRange) {
	i := sort.Search(len(ra.freeRanges), func(i int) bool {
		return ra.freeRanges[i].Offset >= r.Offset
	})

	// A freed range overlapping the free list means a double free.
	if i > 0 {
		prev := ra.freeRanges[i-1]
		core.Assertf(prev.Offset+prev.Count <= r.Offset,
			"RangeAllocator: double free of range [%d, %d)", r.Offset, r.Offset+r.Count)
	}
	if i < len(ra.freeRanges) {
		next := ra.freeRanges[i]
		core.Assertf(r.Offset+r.Count <= next.Offset,
			"RangeAllocator: double free of range [%d, %d)", r.Offset, r.Offset+r.Count)
	}

	mergedPrev := false
	if i > 0 && ra.freeRanges[i-1].Offset+ra.freeRanges[i-1].Count == r.Offset {
		ra.freeRanges[i-1].Count += r.Count
		mergedPrev = true
	}
	if i < len(ra.freeRanges) && r.Offset+r.Count == ra.freeRanges[i].Offset {
		if mergedPrev {
			ra.freeRanges[i-1].Count += ra.freeRanges[i].Count
			ra.freeRanges = append(ra.freeRanges[:i], ra.freeRanges[i+1:]...)
		} else {
			ra.freeRanges[i].Offset = r.Offset
			ra.freeRanges[i].Count += r.Count
		}
		return
	}
	if mergedPrev {
		return
	}

	ra.freeRanges = append(ra.freeRanges, AllocatorRange{})
	copy(ra.freeRanges[i+1:], ra.freeRanges[i:])
	ra.freeRanges[i] = r
}
