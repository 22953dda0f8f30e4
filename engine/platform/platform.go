package platform

import (
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/elmachotroso/unreal-devtoolbox-sub002/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Platform owns the OS window. The window stays hidden: the engine renders
// into buffers, not to the screen, but Vulkan still needs the windowing
// layer for its loader.
type Platform struct {
	Window *glfw.Window
}

func New() *Platform {
	return &Platform{
		Window: nil,
	}
}

func (p *Platform) Startup(applicationName string, width, height uint32) error {
	if err := glfw.Init(); err != nil {
		core.LogFatal("failed to initialize glfw: %s", err)
		return err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.False)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(int(width), int(height), applicationName, nil, nil)
	if err != nil {
		core.LogFatal("failed to create window: %s", err)
		return err
	}
	p.Window = window
	p.Window.SetFramebufferSizeCallback(framebufferSizeCallback)

	return nil
}

func (p *Platform) Shutdown() error {
	glfw.Terminate()
	return nil
}

func (p *Platform) PumpMessages() {
	glfw.PollEvents()
}

func (p *Platform) ShouldClose() bool {
	return p.Window != nil && p.Window.ShouldClose()
}

func framebufferSizeCallback(w *glfw.Window, width, height int) {
	context := core.EventContext{}
	context.Data.U32[0] = uint32(width)
	context.Data.U32[1] = uint32(height)
	core.EventFire(core.EVENT_CODE_RESIZED, nil, context)
}
