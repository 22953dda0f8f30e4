package scene

import (
	"fmt"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

// IDChange records a primitive whose stable id moved during compaction.
type IDChange struct {
	OldID uint32
	NewID uint32
}

// Scene is the persistent primitive array. A primitive's id is its index;
// removed slots are reused by later additions, so ids are stable for the
// lifetime of the primitive but not forever unique.
type Scene struct {
	primitives    []*PrimitiveSceneInfo
	numPrimitives int
}

func NewScene() *Scene {
	return &Scene{}
}

// AddPrimitive registers render data and returns its scene info. Existing
// free slots are taken before the array grows.
func (s *Scene) AddPrimitive(data *PrimitiveRenderData) *PrimitiveSceneInfo {
	for i := range s.primitives {
		// Existing free spot. Take it.
		if s.primitives[i] == nil {
			info := newPrimitiveSceneInfo(uint32(i), data)
			s.primitives[i] = info
			s.numPrimitives++
			return info
		}
	}

	info := newPrimitiveSceneInfo(uint32(len(s.primitives)), data)
	s.primitives = append(s.primitives, info)
	s.numPrimitives++
	return info
}

// RemovePrimitive frees the primitive's slot and returns its info so the
// caller can release the GPU scene slot ranges it held.
func (s *Scene) RemovePrimitive(id uint32) (*PrimitiveSceneInfo, error) {
	if int(id) >= len(s.primitives) || s.primitives[id] == nil {
		return nil, fmt.Errorf("scene has no primitive with id %d", id)
	}
	info := s.primitives[id]
	s.primitives[id] = nil
	s.numPrimitives--
	return info, nil
}

func (s *Scene) GetPrimitive(id uint32) *PrimitiveSceneInfo {
	if int(id) >= len(s.primitives) {
		return nil
	}
	return s.primitives[id]
}

// PrimitiveCapacity is the current extent of the id space, including free
// slots. Dynamic primitive ids are assigned past this value.
func (s *Scene) PrimitiveCapacity() int {
	return len(s.primitives)
}

func (s *Scene) NumPrimitives() int {
	return s.numPrimitives
}

// Compact moves tail primitives into free slots, shrinking the id space.
// The moved primitives keep their GPU scene slot allocations; only their ids
// change, so callers must mark each returned change dirty with
// PRIMITIVE_DIRTY_FLAG_CHANGED_ID so the id bindings get repatched.
func (s *Scene) Compact() []IDChange {
	var changes []IDChange
	for hole := 0; hole < len(s.primitives); hole++ {
		if s.primitives[hole] != nil {
			continue
		}
		// Find the last live primitive to relocate.
		last := len(s.primitives) - 1
		for last > hole && s.primitives[last] == nil {
			last--
		}
		if last <= hole {
			s.primitives = s.primitives[:hole]
			break
		}
		moved := s.primitives[last]
		core.Assertf(moved.ID == uint32(last), "scene primitive %d has inconsistent id %d", last, moved.ID)
		changes = append(changes, IDChange{OldID: moved.ID, NewID: uint32(hole)})
		moved.ID = uint32(hole)
		s.primitives[hole] = moved
		s.primitives = s.primitives[:last]
	}
	return changes
}
