package renderer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/host"
)

func TestGraphBuilder_ExecutesPassesInOrder(t *testing.T) {
	assert := assert.New(t)
	gb := NewGraphBuilder(host.New())

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		n := name
		gb.AddPass(n, func(backend RendererBackend) error {
			order = append(order, n)
			return nil
		})
	}
	assert.Equal(3, gb.NumPasses())

	require.NoError(t, gb.Execute())
	assert.Equal([]string{"first", "second", "third"}, order)
}

func TestGraphBuilder_FailingPassAborts(t *testing.T) {
	assert := assert.New(t)
	gb := NewGraphBuilder(host.New())

	boom := errors.New("boom")
	ran := false
	gb.AddPass("fails", func(RendererBackend) error { return boom })
	gb.AddPass("never", func(RendererBackend) error {
		ran = true
		return nil
	})

	err := gb.Execute()
	assert.ErrorIs(err, boom)
	assert.False(ran)
}

func TestGraphBuilder_SingleUse(t *testing.T) {
	gb := NewGraphBuilder(host.New())
	require.NoError(t, gb.Execute())

	assert.Panics(t, func() { gb.AddPass("late", func(RendererBackend) error { return nil }) })
	assert.Panics(t, func() { _ = gb.Execute() })
}
