package renderer

import (
	"fmt"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

type graphPass struct {
	name    string
	execute func(backend RendererBackend) error
}

// GraphBuilder records a frame's worth of GPU work as ordered passes and
// executes them in submission order. It is the command-recording surface the
// GPU scene update targets; one builder lives for one frame.
type GraphBuilder struct {
	backend  RendererBackend
	passes   []graphPass
	executed bool
}

func NewGraphBuilder(backend RendererBackend) *GraphBuilder {
	return &GraphBuilder{
		backend: backend,
	}
}

// AddPass appends a named pass. Passes run in the order they were added.
func (gb *GraphBuilder) AddPass(name string, execute func(backend RendererBackend) error) {
	core.Assert(!gb.executed, "GraphBuilder: AddPass after Execute")
	gb.passes = append(gb.passes, graphPass{name: name, execute: execute})
}

// Execute runs all recorded passes. A failing pass aborts execution.
func (gb *GraphBuilder) Execute() error {
	core.Assert(!gb.executed, "GraphBuilder: Execute called twice")
	gb.executed = true

	for _, pass := range gb.passes {
		if err := pass.execute(gb.backend); err != nil {
			core.LogError("graph pass %s failed: %s", pass.name, err.Error())
			return fmt.Errorf("graph pass %s: %w", pass.name, err)
		}
	}
	return nil
}

// Backend exposes the device the graph records against. Buffer creation and
// resizing go through it directly, outside any pass.
func (gb *GraphBuilder) Backend() RendererBackend {
	return gb.backend
}

// NumPasses reports how many passes have been recorded.
func (gb *GraphBuilder) NumPasses() int {
	return len(gb.passes)
}
