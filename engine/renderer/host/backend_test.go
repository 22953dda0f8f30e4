package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

func TestHostBackend_LoadReadRoundTrip(t *testing.T) {
	assert := assert.New(t)
	hb := New()
	require.NoError(t, hb.Initialize("test"))

	buffer, err := hb.RenderBufferCreate("scratch", metadata.RENDERBUFFER_TYPE_STORAGE, 16)
	require.NoError(t, err)

	data := []math.Vec4{{X: 1}, {Y: 2}, {Z: 3}}
	require.NoError(t, hb.RenderBufferLoadRange(buffer, 4, data))

	out, err := hb.RenderBufferReadRange(buffer, 4, 3)
	require.NoError(t, err)
	assert.Equal(data, out)

	// Untouched elements stay zero.
	out, err = hb.RenderBufferReadRange(buffer, 0, 4)
	require.NoError(t, err)
	assert.Equal(make([]math.Vec4, 4), out)
}

func TestHostBackend_RangeBoundsChecks(t *testing.T) {
	assert := assert.New(t)
	hb := New()

	buffer, err := hb.RenderBufferCreate("scratch", metadata.RENDERBUFFER_TYPE_STORAGE, 8)
	require.NoError(t, err)

	assert.Error(hb.RenderBufferLoadRange(buffer, 6, make([]math.Vec4, 4)))
	_, err = hb.RenderBufferReadRange(buffer, 7, 2)
	assert.Error(err)
}

func TestHostBackend_ResizeGrowsAndPreserves(t *testing.T) {
	assert := assert.New(t)
	hb := New()

	buffer, err := hb.RenderBufferCreate("grow", metadata.RENDERBUFFER_TYPE_STORAGE, 4)
	require.NoError(t, err)
	require.NoError(t, hb.RenderBufferLoadRange(buffer, 0, []math.Vec4{{X: 9}, {X: 8}}))

	require.NoError(t, hb.RenderBufferResize(buffer, 16))
	assert.Equal(uint64(16), buffer.TotalSize)

	out, err := hb.RenderBufferReadRange(buffer, 0, 2)
	require.NoError(t, err)
	assert.Equal([]math.Vec4{{X: 9}, {X: 8}}, out)

	// Shrinking is not a thing.
	assert.Error(hb.RenderBufferResize(buffer, 8))
}

func TestHostBackend_CopyRangeBetweenBuffers(t *testing.T) {
	assert := assert.New(t)
	hb := New()

	src, err := hb.RenderBufferCreate("src", metadata.RENDERBUFFER_TYPE_STORAGE, 8)
	require.NoError(t, err)
	dst, err := hb.RenderBufferCreate("dst", metadata.RENDERBUFFER_TYPE_STORAGE, 8)
	require.NoError(t, err)

	require.NoError(t, hb.RenderBufferLoadRange(src, 2, []math.Vec4{{W: 5}, {W: 6}}))
	require.NoError(t, hb.RenderBufferCopyRange(src, 2, dst, 4, 2))

	out, err := hb.RenderBufferReadRange(dst, 4, 2)
	require.NoError(t, err)
	assert.Equal([]math.Vec4{{W: 5}, {W: 6}}, out)

	assert.Error(hb.RenderBufferCopyRange(src, 7, dst, 0, 2))
	assert.Error(hb.RenderBufferCopyRange(src, 0, dst, 7, 2))
}

func TestHostBackend_DestroyTracksByIdentity(t *testing.T) {
	assert := assert.New(t)
	hb := New()

	// Two live buffers may share a name mid-reallocation; destroying one
	// must not touch the other.
	a, err := hb.RenderBufferCreate("shared", metadata.RENDERBUFFER_TYPE_STORAGE, 4)
	require.NoError(t, err)
	b, err := hb.RenderBufferCreate("shared", metadata.RENDERBUFFER_TYPE_STORAGE, 8)
	require.NoError(t, err)
	assert.Equal(2, hb.NumBuffers())

	hb.RenderBufferDestroy(a)
	assert.Equal(1, hb.NumBuffers())
	assert.Nil(a.Data)
	assert.NotNil(b.Data)
}

func TestHostBackend_TransitionSetsState(t *testing.T) {
	assert := assert.New(t)
	hb := New()

	buffer, err := hb.RenderBufferCreate("state", metadata.RENDERBUFFER_TYPE_STORAGE, 4)
	require.NoError(t, err)
	assert.Equal(metadata.RENDERBUFFER_STATE_READABLE, buffer.State)

	hb.RenderBufferTransition(buffer, metadata.RENDERBUFFER_STATE_WRITABLE)
	assert.Equal(metadata.RENDERBUFFER_STATE_WRITABLE, buffer.State)
}
