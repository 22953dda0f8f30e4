package engine

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	Renderer          *systems.RendererSystem
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnShutdown        Shutdown
}

type Initialize func(g *Game) error
type Update func(g *Game, deltaTime float64) error
type Shutdown func(g *Game) error
