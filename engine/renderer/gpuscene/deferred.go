package gpuscene

import (
	"github.com/google/uuid"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

// deferredGPUWrite is one queued delegate invocation, parked until its
// target pass executes.
type deferredGPUWrite struct {
	viewID                  uuid.UUID
	primitiveID             uint32
	instanceSceneDataOffset uint32
	delegate                metadata.GPUWriteDelegate
	// onExecuted lets dynamic collectors mark the primitive processed once
	// the delegate has run.
	onExecuted func()
}

// deferredWriteQueues holds the per-pass queues. Execution is strictly
// monotonic within a frame: a pass can only execute after every earlier
// pass, and only once.
type deferredWriteQueues struct {
	queues       [metadata.GPU_WRITE_PASS_MAX][]deferredGPUWrite
	lastExecuted metadata.GPUWritePass
}

func (q *deferredWriteQueues) reset() {
	for i := range q.queues {
		q.queues[i] = q.queues[i][:0]
	}
	q.lastExecuted = metadata.GPU_WRITE_PASS_NONE
}

// enqueue parks a write for the given pass. The pass must not have executed
// yet this frame.
func (q *deferredWriteQueues) enqueue(pass metadata.GPUWritePass, write deferredGPUWrite) {
	core.Assertf(pass > metadata.GPU_WRITE_PASS_NONE && pass < metadata.GPU_WRITE_PASS_MAX,
		"invalid GPU write pass %d", pass)
	core.Assertf(pass > q.lastExecuted,
		"GPU write enqueued for pass %s which already executed", pass.String())
	q.queues[pass] = append(q.queues[pass], write)
}

// hasPending reports whether any queued write targets a pass at or before
// the given one.
func (q *deferredWriteQueues) hasPending(upTo metadata.GPUWritePass) bool {
	for pass := q.lastExecuted + 1; pass <= upTo && pass < metadata.GPU_WRITE_PASS_MAX; pass++ {
		if len(q.queues[pass]) > 0 {
			return true
		}
	}
	return false
}

// hasPendingForPrimitive reports whether a write for the given primitive is
// still parked in any pass that has not executed yet.
func (q *deferredWriteQueues) hasPendingForPrimitive(primitiveID uint32) bool {
	for pass := q.lastExecuted + 1; pass < metadata.GPU_WRITE_PASS_MAX; pass++ {
		for i := range q.queues[pass] {
			if q.queues[pass][i].primitiveID == primitiveID {
				return true
			}
		}
	}
	return false
}

// numPending counts every write still parked, regardless of pass.
func (q *deferredWriteQueues) numPending() int {
	n := 0
	for pass := q.lastExecuted + 1; pass < metadata.GPU_WRITE_PASS_MAX; pass++ {
		n += len(q.queues[pass])
	}
	return n
}

// executeUpTo drains every queue from the pass after the last executed one
// through upTo, in pass order, running each delegate with fresh buffer
// bindings. Asking for a pass at or before the last executed one is a
// contract violation.
func (q *deferredWriteQueues) executeUpTo(upTo metadata.GPUWritePass, gs *GPUScene, builder *renderer.GraphBuilder) {
	core.Assertf(upTo > q.lastExecuted,
		"GPU write pass %s requested but %s already executed", upTo.String(), q.lastExecuted.String())
	core.Assert(upTo < metadata.GPU_WRITE_PASS_MAX, "GPU write pass out of range")

	for pass := q.lastExecuted + 1; pass <= upTo; pass++ {
		writes := q.queues[pass]
		if len(writes) == 0 {
			continue
		}
		gs.runGPUWrites(pass, writes, builder)
		q.queues[pass] = q.queues[pass][:0]
	}
	q.lastExecuted = upTo
}
