package engine

import (
	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name     string
	LogLevel core.LogLevel
	// Path to the TOML configuration file. Empty means defaults.
	ConfigPath string
	// Headless skips window creation; only valid with the host backend.
	Headless bool
	// Window dimensions, if applicable.
	StartWidth  uint32
	StartHeight uint32
}
