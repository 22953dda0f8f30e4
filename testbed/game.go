package testbed

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/math"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	frameCount int

	// A grid of persistent instanced primitives plus one that spins every
	// frame, to exercise the dirty upload path.
	gridPrimitives []*scene.PrimitiveSceneInfo
	spinner        *scene.PrimitiveSceneInfo
	spinnerData    *scene.PrimitiveRenderData
	angle          float32
}

func NewTestGame() *TestGame {
	state := &gameState{}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:        "GPUScene Testbed",
				LogLevel:    core.DebugLevel,
				Headless:    true,
				StartWidth:  1280,
				StartHeight: 720,
			},
			State:        state,
			FnInitialize: initialize,
			FnUpdate:     update,
			FnShutdown:   shutdown,
		},
	}
	return tg
}

func initialize(g *engine.Game) error {
	state := g.State.(*gameState)

	// A 4x4 grid of instanced primitives.
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			data := &scene.PrimitiveRenderData{
				LocalToWorld: math.NewMat4Translation(math.Vec3{
					X: float32(col) * 4,
					Z: float32(row) * 4,
				}),
				LocalBounds: math.Extents3D{
					Min: math.Vec3{X: -1, Y: -1, Z: -1},
					Max: math.Vec3{X: 1, Y: 1, Z: 1},
				},
			}
			data.PrevLocalToWorld = data.LocalToWorld
			for i := 0; i < 8; i++ {
				data.Instances = append(data.Instances, scene.NewInstanceSourceData(
					math.NewMat4Translation(math.Vec3{Y: float32(i) * 2}),
					metadata.INSTANCE_DATA_FLAG_RANDOM_ID|metadata.INSTANCE_DATA_FLAG_CUSTOM_DATA))
			}
			data.Lightmaps = append(data.Lightmaps, metadata.LightmapData{
				UVScaleBias: math.Vec4{X: 1, Y: 1},
			})
			state.gridPrimitives = append(state.gridPrimitives, g.Renderer.AddPrimitive(data))
		}
	}

	// The spinner carries previous-frame transforms for motion vectors.
	state.spinnerData = &scene.PrimitiveRenderData{
		LocalToWorld: math.NewMat4Identity(),
		LocalBounds: math.Extents3D{
			Min: math.Vec3{X: -2, Y: -2, Z: -2},
			Max: math.Vec3{X: 2, Y: 2, Z: 2},
		},
		Instances: []metadata.InstanceSourceData{
			scene.NewInstanceSourceData(math.NewMat4Identity(), metadata.INSTANCE_DATA_FLAG_DYNAMIC_DATA),
		},
	}
	state.spinnerData.PrevLocalToWorld = state.spinnerData.LocalToWorld
	state.spinner = g.Renderer.AddPrimitive(state.spinnerData)

	core.LogInfo("testbed scene built: %d primitives", g.Renderer.Scene.NumPrimitives())
	return nil
}

func update(g *engine.Game, deltaTime float64) error {
	state := g.State.(*gameState)
	state.frameCount++

	// Spin the dynamic primitive and mark its transform dirty.
	state.angle += float32(deltaTime)
	previous := state.spinnerData.LocalToWorld
	state.spinnerData.PrevLocalToWorld = previous
	state.spinnerData.LocalToWorld = math.NewMat4RotationY(state.angle)
	state.spinnerData.Instances[0].PrevLocalToPrimitive = state.spinnerData.Instances[0].LocalToPrimitive
	g.Renderer.MarkPrimitiveDirty(state.spinner, metadata.PRIMITIVE_DIRTY_FLAG_TRANSFORM)

	// Every view gets a handful of dynamic primitives whose final data is
	// filled in by a deferred write after the opaque pass.
	view := g.Renderer.DynamicContext().NewView()
	for i := 0; i < 3; i++ {
		view.Collector.Add(&scene.PrimitiveRenderData{
			LocalToWorld: math.NewMat4Translation(math.Vec3{X: float32(i) * -4}),
			LocalBounds: math.Extents3D{
				Min: math.Vec3{X: -1, Y: -1, Z: -1},
				Max: math.Vec3{X: 1, Y: 1, Z: 1},
			},
			WritePass: metadata.GPU_WRITE_PASS_POST_OPAQUE,
			WriteDelegate: func(params *metadata.GPUWriteParams) {
				core.LogDebug("deferred write for primitive %d in view %s",
					params.PrimitiveID, params.View.String())
			},
		})
	}

	if state.frameCount%120 == 0 {
		primitives, instances, payload, resizes := core.MetricsTotals()
		core.LogInfo("frame %d: avg update %.3fms, uploaded %d primitives / %d instances / %d payload float4s, %d buffer resizes",
			state.frameCount, core.MetricsUpdateTime(), primitives, instances, payload, resizes)
	}
	if state.frameCount >= 600 {
		core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	}
	return nil
}

func shutdown(g *engine.Game) error {
	state := g.State.(*gameState)
	core.LogInfo("testbed ran %d frames", state.frameCount)
	return nil
}
