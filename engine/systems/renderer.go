package systems

import (
	"fmt"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/config"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/gpuscene"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/host"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/metadata"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/renderer/vulkan"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/scene"
)

// RendererSystem ties the scene, the GPU scene and the device backend
// together and owns the per-frame graph. The application drives it with
// BeginFrame / Update / EndFrame.
type RendererSystem struct {
	backend renderer.RendererBackend
	jobs    *JobSystem
	cfg     *config.Config

	Scene    *scene.Scene
	GPUScene *gpuscene.GPUScene

	AppName string

	frameGraph     *renderer.GraphBuilder
	dynamicContext *gpuscene.DynamicRenderDataContext
}

func NewRendererSystem(appName string, cfg *config.Config) (*RendererSystem, error) {
	var backend renderer.RendererBackend
	switch cfg.Renderer.Backend {
	case "vulkan":
		backend = vulkan.New()
	case "", "host":
		backend = host.New()
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", cfg.Renderer.Backend)
	}
	return &RendererSystem{
		backend: backend,
		cfg:     cfg,
		AppName: appName,
	}, nil
}

func (r *RendererSystem) Initialize() error {
	if err := r.backend.Initialize(r.AppName); err != nil {
		core.LogError("failed to initialize renderer backend: %s", err.Error())
		return err
	}

	jobs, err := NewJobSystem(r.cfg.Renderer.NumWorkers, 128)
	if err != nil {
		return err
	}
	r.jobs = jobs

	r.Scene = scene.NewScene()
	gs, err := gpuscene.NewGPUScene(r.backend, r.Scene, &r.cfg.Renderer, jobs)
	if err != nil {
		return err
	}
	r.GPUScene = gs
	return nil
}

func (r *RendererSystem) Shutdown() error {
	if r.GPUScene != nil {
		r.GPUScene.Shutdown()
	}
	if r.jobs != nil {
		if err := r.jobs.Shutdown(); err != nil {
			return err
		}
	}
	return r.backend.Shutdown()
}

// AddPrimitive registers a primitive with the scene and queues its first
// upload.
func (r *RendererSystem) AddPrimitive(data *scene.PrimitiveRenderData) *scene.PrimitiveSceneInfo {
	info := r.Scene.AddPrimitive(data)
	r.GPUScene.AddPrimitiveToUpdate(info,
		metadata.PRIMITIVE_DIRTY_FLAG_ADDED|metadata.PRIMITIVE_DIRTY_FLAG_ALL)
	return info
}

// RemovePrimitive takes a primitive out of the scene and returns its slots.
func (r *RendererSystem) RemovePrimitive(id uint32) error {
	info, err := r.Scene.RemovePrimitive(id)
	if err != nil {
		return err
	}
	r.GPUScene.ReleasePrimitiveSlots(info)
	return nil
}

// MarkPrimitiveDirty queues a primitive for re-upload on the next Update.
func (r *RendererSystem) MarkPrimitiveDirty(info *scene.PrimitiveSceneInfo, dirty metadata.PrimitiveDirtyFlags) {
	r.GPUScene.AddPrimitiveToUpdate(info, dirty)
}

// CompactScene defragments the scene's id space and queues id patches for
// every primitive that moved.
func (r *RendererSystem) CompactScene() {
	for _, change := range r.Scene.Compact() {
		info := r.Scene.GetPrimitive(change.NewID)
		if info != nil {
			r.GPUScene.AddPrimitiveToUpdate(info, metadata.PRIMITIVE_DIRTY_FLAG_CHANGED_ID)
		}
	}
}

// BeginFrame opens a frame: a fresh graph and a fresh dynamic primitive
// context.
func (r *RendererSystem) BeginFrame() (*renderer.GraphBuilder, error) {
	if err := r.GPUScene.BeginFrame(); err != nil {
		return nil, err
	}
	r.frameGraph = renderer.NewGraphBuilder(r.backend)
	r.dynamicContext = gpuscene.NewDynamicRenderDataContext(r.GPUScene)
	return r.frameGraph, nil
}

// DynamicContext exposes the current frame's dynamic primitive context.
func (r *RendererSystem) DynamicContext() *gpuscene.DynamicRenderDataContext {
	return r.dynamicContext
}

// Update uploads all queued persistent primitive changes into the current
// frame's graph, uploads every view's dynamic primitives and schedules the
// deferred write passes in order.
func (r *RendererSystem) Update() error {
	if err := r.GPUScene.Update(r.frameGraph); err != nil {
		return err
	}
	for _, view := range r.dynamicContext.Views() {
		if err := r.GPUScene.UploadDynamicPrimitiveShaderDataForView(r.frameGraph, view); err != nil {
			return err
		}
	}
	for pass := metadata.GPU_WRITE_PASS_PRE_OPAQUE; pass < metadata.GPU_WRITE_PASS_MAX; pass++ {
		if r.GPUScene.HasPendingGPUWritePass(pass) {
			r.GPUScene.ExecuteDeferredGPUWritePass(r.frameGraph, pass)
		}
	}
	return nil
}

// EndFrame flushes remaining deferred writes, executes the recorded graph
// and releases the frame's dynamic allocations.
func (r *RendererSystem) EndFrame() error {
	if err := r.GPUScene.EndFrame(r.frameGraph); err != nil {
		return err
	}
	if err := r.frameGraph.Execute(); err != nil {
		return err
	}
	r.dynamicContext.Release()
	r.frameGraph = nil
	r.dynamicContext = nil
	return nil
}
