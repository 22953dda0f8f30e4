package gpuscene

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
)

type accessMode int

const (
	ACCESS_MODE_NONE accessMode = iota
	ACCESS_MODE_READ
	ACCESS_MODE_WRITE
)

// accessState enforces strict alternation of read and write scopes over the
// scene buffers. Opening a scope while another is live is a contract
// violation; transitions are recorded as graph passes so they land in
// submission order.
type accessState struct {
	mode accessMode
	// allowOverlap is the hint the current write scope was opened with:
	// readers declared they tolerate data from in-flight writes. Backends
	// may use it to relax the transitions; the host backend does not.
	allowOverlap bool
}

func (s *accessState) beginWrite(gs *GPUScene, builder *renderer.GraphBuilder, allowOverlap bool) {
	core.Assert(s.mode == ACCESS_MODE_NONE, "write access requested while another access scope is open")
	s.mode = ACCESS_MODE_WRITE
	s.allowOverlap = allowOverlap
	builder.AddPass("gpu_scene_begin_write", func(backend renderer.RendererBackend) error {
		return gs.transitionAll(backend, metadata.RENDERBUFFER_STATE_WRITABLE)
	})
}

func (s *accessState) endWrite(gs *GPUScene, builder *renderer.GraphBuilder) {
	core.Assert(s.mode == ACCESS_MODE_WRITE, "ending a write scope that is not open")
	s.mode = ACCESS_MODE_NONE
	s.allowOverlap = false
	builder.AddPass("gpu_scene_end_write", func(backend renderer.RendererBackend) error {
		return gs.transitionAll(backend, metadata.RENDERBUFFER_STATE_READABLE)
	})
}

// beginRead opens an external read scope. overlapWrites declares that the
// caller may interleave reads with scene writes, in which case buffers stay
// writable and readers tolerate in-flight data.
func (s *accessState) beginRead(gs *GPUScene, builder *renderer.GraphBuilder, overlapWrites bool) {
	core.Assert(s.mode == ACCESS_MODE_NONE, "read access requested while another access scope is open")
	s.mode = ACCESS_MODE_READ
	if overlapWrites {
		return
	}
	builder.AddPass("gpu_scene_begin_read", func(backend renderer.RendererBackend) error {
		return gs.transitionAll(backend, metadata.RENDERBUFFER_STATE_READABLE)
	})
}

func (s *accessState) endRead() {
	core.Assert(s.mode == ACCESS_MODE_READ, "ending a read scope that is not open")
	s.mode = ACCESS_MODE_NONE
}
