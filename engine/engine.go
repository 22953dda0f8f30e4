package engine

import (
	"fmt"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/config"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/platform"
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently booting up
	EngineStageBooting
	// Engine completed boot process and is ready to be initialized
	EngineStageBootComplete
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool
	platform     *platform.Platform
	renderer     *systems.RendererSystem
	cfg          *config.Config
	cfgWatcher   *config.Watcher
	clock        *core.Clock
	lastTime     float64
}

func New(g *Game) (*Engine, error) {
	core.SetLogLevel(g.ApplicationConfig.LogLevel)

	cfg := config.DefaultConfig()
	if g.ApplicationConfig.ConfigPath != "" {
		loaded, err := config.Load(g.ApplicationConfig.ConfigPath)
		if err != nil {
			core.LogError(err.Error())
			return nil, err
		}
		cfg = loaded
	}

	r, err := systems.NewRendererSystem(g.ApplicationConfig.Name, cfg)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	g.Renderer = r

	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		platform:     platform.New(),
		renderer:     r,
		cfg:          cfg,
		isRunning:    true,
		isSuspended:  false,
		lastTime:     0,
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageBooting

	if !core.EventInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	if err := core.MetricsInitialize(); err != nil {
		return err
	}

	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_BUFFER_RESIZED, e, e.onBufferResized)

	if !e.gameInstance.ApplicationConfig.Headless {
		if err := e.platform.Startup(e.gameInstance.ApplicationConfig.Name,
			e.gameInstance.ApplicationConfig.StartWidth,
			e.gameInstance.ApplicationConfig.StartHeight); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageBootComplete

	e.currentStage = EngineStageInitializing
	if err := e.renderer.Initialize(); err != nil {
		return err
	}

	if e.gameInstance.ApplicationConfig.ConfigPath != "" {
		watcher, err := config.NewWatcher(e.gameInstance.ApplicationConfig.ConfigPath, func(updated *config.Config) {
			// Capacity floors and batch sizes take effect on the next update.
			e.cfg.Renderer = updated.Renderer
			core.LogInfo("renderer configuration reloaded")
		})
		if err != nil {
			core.LogWarn("configuration watching disabled: %s", err.Error())
		} else {
			e.cfgWatcher = watcher
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e.gameInstance); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized

	return nil
}

func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if !e.gameInstance.ApplicationConfig.Headless {
			e.platform.PumpMessages()
			if e.platform.ShouldClose() {
				e.isRunning = false
				break
			}
		}
		if e.isSuspended {
			continue
		}

		e.clock.Update()
		deltaTime := e.clock.Delta(e.lastTime)
		e.lastTime = e.clock.Elapsed()

		if _, err := e.renderer.BeginFrame(); err != nil {
			return err
		}

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e.gameInstance, deltaTime); err != nil {
				core.LogError("game update failed: %s", err.Error())
				e.isRunning = false
			}
		}

		if err := e.renderer.Update(); err != nil {
			return err
		}
		if err := e.renderer.EndFrame(); err != nil {
			return err
		}
	}

	return e.Shutdown()
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(e.gameInstance); err != nil {
			core.LogError(err.Error())
		}
	}

	if e.cfgWatcher != nil {
		if err := e.cfgWatcher.Close(); err != nil {
			core.LogError(err.Error())
		}
	}
	if err := e.renderer.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if err := core.EventShutdown(); err != nil {
		core.LogError(err.Error())
	}
	if !e.gameInstance.ApplicationConfig.Headless {
		return e.platform.Shutdown()
	}
	return nil
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	if code == core.EVENT_CODE_APPLICATION_QUIT {
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning = false
		return true
	}
	return false
}

func (e *Engine) onBufferResized(code core.SystemEventCode, sender interface{}, listenerInst interface{}, data core.EventContext) bool {
	core.LogDebug("buffer %s resized to %d float4s", data.Data.C[0], data.Data.U64[0])
	return false
}
