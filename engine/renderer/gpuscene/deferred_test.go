package gpuscene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

func noteWrite(log *[]string, label string) deferredGPUWrite {
	return deferredGPUWrite{
		delegate: func(*metadata.GPUWriteParams) { *log = append(*log, label) },
	}
}

func TestDeferredWrites_DrainInPassOrder(t *testing.T) {
	assert := assert.New(t)
	gs, _, backend := newTestGPUScene(t)

	var log []string
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_POST_OPAQUE, noteWrite(&log, "post"))
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "pre-a"))
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "pre-b"))

	assert.Equal(3, gs.deferred.numPending())
	assert.True(gs.deferred.hasPending(metadata.GPU_WRITE_PASS_PRE_OPAQUE))

	// Asking for the last pass drains everything earlier first.
	builder := renderer.NewGraphBuilder(backend)
	gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_POST_OPAQUE, gs, builder)
	assert.Zero(gs.deferred.numPending())

	require.NoError(t, builder.Execute())
	assert.Equal([]string{"pre-a", "pre-b", "post"}, log)

	// Delegates ran with the buffers writable, then handed them back.
	assert.Equal(metadata.RENDERBUFFER_STATE_READABLE, gs.PrimitiveDataBuffer().State)
}

func TestDeferredWrites_PassesExecuteAtMostOnce(t *testing.T) {
	gs, _, backend := newTestGPUScene(t)
	builder := renderer.NewGraphBuilder(backend)

	var log []string
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "pre"))
	gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_PRE_OPAQUE, gs, builder)

	assert.Panics(t, func() {
		gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_PRE_OPAQUE, gs, builder)
	})
	// Enqueueing behind the executed pass is equally a contract violation.
	assert.Panics(t, func() {
		gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "late"))
	})

	// The next pass is still fine.
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_POST_OPAQUE, noteWrite(&log, "post"))
	gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_POST_OPAQUE, gs, builder)
	require.NoError(t, builder.Execute())
	assert.Equal(t, []string{"pre", "post"}, log)
}

func TestDeferredWrites_InvalidPassPanics(t *testing.T) {
	gs, _, _ := newTestGPUScene(t)

	assert.Panics(t, func() {
		gs.deferred.enqueue(metadata.GPU_WRITE_PASS_NONE, deferredGPUWrite{})
	})
	assert.Panics(t, func() {
		gs.deferred.enqueue(metadata.GPU_WRITE_PASS_MAX, deferredGPUWrite{})
	})
}

func TestDeferredWrites_ResetReopensAllPasses(t *testing.T) {
	gs, _, backend := newTestGPUScene(t)
	builder := renderer.NewGraphBuilder(backend)

	var log []string
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "pre"))
	gs.deferred.executeUpTo(metadata.GPU_WRITE_PASS_POST_OPAQUE, gs, builder)

	gs.deferred.reset()
	assert.Zero(t, gs.deferred.numPending())
	assert.NotPanics(t, func() {
		gs.deferred.enqueue(metadata.GPU_WRITE_PASS_PRE_OPAQUE, noteWrite(&log, "next-frame"))
	})
}

func TestGPUScene_EndFrameFlushesLeftoverWrites(t *testing.T) {
	assert := assert.New(t)
	gs, _, backend := newTestGPUScene(t)

	require.NoError(t, gs.BeginFrame())
	var log []string
	gs.deferred.enqueue(metadata.GPU_WRITE_PASS_POST_OPAQUE, noteWrite(&log, "orphaned"))

	// No pass picked the write up; closing the frame must still run it.
	builder := renderer.NewGraphBuilder(backend)
	require.NoError(t, gs.EndFrame(builder))
	assert.Zero(gs.deferred.numPending())

	require.NoError(t, builder.Execute())
	assert.Equal([]string{"orphaned"}, log)
}

func TestGPUScene_WriteForExecutedPassRunsAfterUpload(t *testing.T) {
	assert := assert.New(t)
	gs, _, backend := newTestGPUScene(t)

	builder := renderer.NewGraphBuilder(backend)
	require.NoError(t, gs.BeginFrame())
	gs.ExecuteDeferredGPUWritePass(builder, metadata.GPU_WRITE_PASS_PRE_OPAQUE)

	// Uploaded after the pre-opaque pass already ran: the declared pass is
	// gone for this frame, so the delegate runs right after the copies.
	ctx := NewDynamicRenderDataContext(gs)
	view := ctx.NewView()
	late := dynamicData(1, metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA)
	late.WritePass = metadata.GPU_WRITE_PASS_PRE_OPAQUE
	var ran bool
	late.WriteDelegate = func(*metadata.GPUWriteParams) { ran = true }
	view.Collector.Add(late)

	require.NoError(t, gs.UploadDynamicPrimitiveShaderDataForView(builder, view))
	assert.Zero(gs.deferred.numPending())

	require.NoError(t, gs.EndFrame(builder))
	require.NoError(t, builder.Execute())
	assert.True(ran)
	assert.True(view.Collector.IsPrimitiveProcessed(0))
	ctx.Release()
}
