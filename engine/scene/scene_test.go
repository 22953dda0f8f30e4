package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

func renderData() *PrimitiveRenderData {
	return &PrimitiveRenderData{
		LocalToWorld: math.NewMat4Identity(),
		LocalBounds: math.Extents3D{
			Min: math.Vec3{X: -1, Y: -1, Z: -1},
			Max: math.Vec3{X: 1, Y: 1, Z: 1},
		},
	}
}

func TestScene_AddAssignsSequentialIDs(t *testing.T) {
	assert := assert.New(t)
	s := NewScene()

	for want := uint32(0); want < 3; want++ {
		info := s.AddPrimitive(renderData())
		assert.Equal(want, info.ID)
		assert.Equal(metadata.INVALID_SLOT_OFFSET, info.InstanceSceneDataOffset)
	}
	assert.Equal(3, s.NumPrimitives())
	assert.Equal(3, s.PrimitiveCapacity())
}

func TestScene_AddReusesFreedSlots(t *testing.T) {
	assert := assert.New(t)
	s := NewScene()

	s.AddPrimitive(renderData())
	s.AddPrimitive(renderData())
	s.AddPrimitive(renderData())

	_, err := s.RemovePrimitive(1)
	require.NoError(t, err)
	assert.Equal(2, s.NumPrimitives())
	assert.Nil(s.GetPrimitive(1))

	info := s.AddPrimitive(renderData())
	assert.Equal(uint32(1), info.ID)
	assert.Equal(3, s.PrimitiveCapacity())
}

func TestScene_RemoveUnknownPrimitive(t *testing.T) {
	s := NewScene()
	s.AddPrimitive(renderData())

	_, err := s.RemovePrimitive(5)
	assert.Error(t, err)

	_, err = s.RemovePrimitive(0)
	require.NoError(t, err)
	_, err = s.RemovePrimitive(0)
	assert.Error(t, err)
}

func TestScene_CompactMovesTailPrimitivesIntoHoles(t *testing.T) {
	assert := assert.New(t)
	s := NewScene()

	for i := 0; i < 5; i++ {
		s.AddPrimitive(renderData())
	}
	_, err := s.RemovePrimitive(1)
	require.NoError(t, err)
	_, err = s.RemovePrimitive(3)
	require.NoError(t, err)

	changes := s.Compact()

	assert.Equal([]IDChange{{OldID: 4, NewID: 1}}, changes)
	assert.Equal(3, s.PrimitiveCapacity())
	assert.Equal(3, s.NumPrimitives())
	for id := uint32(0); id < 3; id++ {
		info := s.GetPrimitive(id)
		require.NotNil(t, info)
		assert.Equal(id, info.ID)
	}
}

func TestScene_CompactTrimsEmptyTail(t *testing.T) {
	assert := assert.New(t)
	s := NewScene()

	s.AddPrimitive(renderData())
	s.AddPrimitive(renderData())
	_, err := s.RemovePrimitive(1)
	require.NoError(t, err)

	changes := s.Compact()
	assert.Empty(changes)
	assert.Equal(1, s.PrimitiveCapacity())
}

func TestPrimitiveRenderData_PayloadStride(t *testing.T) {
	assert := assert.New(t)

	data := renderData()
	assert.Equal(uint32(0), data.PayloadStride())

	// The stride is primitive-uniform: the union of all instance channels.
	data.Instances = []metadata.InstanceSourceData{
		NewInstanceSourceData(math.NewMat4Identity(), metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA),
		NewInstanceSourceData(math.NewMat4Identity(), metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA),
	}
	assert.Equal(uint32(4), data.PayloadStride())
	assert.Equal(metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA|metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA,
		data.CombinedInstanceFlags())
}

func TestNewInstanceSourceData_RandomID(t *testing.T) {
	assert := assert.New(t)

	plain := NewInstanceSourceData(math.NewMat4Identity(), 0)
	assert.Zero(plain.RandomID)

	withID := NewInstanceSourceData(math.NewMat4Identity(), metadata.INSTANCE_DATA_FLAG_RANDOM_ID)
	assert.GreaterOrEqual(withID.RandomID, float32(0))
	assert.Less(withID.RandomID, float32(1))
}
