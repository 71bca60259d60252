package glcompute

import (
	"fmt"

	"github.com/go-gl/gl/v4.3-core/gl"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/isoterrain/internal/device"
)

// glContext is a hidden SDL window whose only purpose is to own a
// GL 4.3 core context. It must be created, used and destroyed on one
// OS thread.
type glContext struct {
	window  *sdl.Window
	context sdl.GLContext
}

func newGLContext(log *zap.Logger) (*glContext, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("SDL_Init failed: %w", err)
	}

	// Compute shaders need 4.3.
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MAJOR_VERSION, 4)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_MINOR_VERSION, 3)
	sdl.GLSetAttribute(sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE)

	window, err := sdl.CreateWindow("isoterrain-compute",
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, 1, 1,
		sdl.WINDOW_OPENGL|sdl.WINDOW_HIDDEN)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("SDL_CreateWindow failed: %w", err)
	}

	ctx, err := window.GLCreateContext()
	if err != nil {
		window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("SDL_GL_CreateContext failed: %w", err)
	}

	if err := gl.Init(); err != nil {
		sdl.GLDeleteContext(ctx)
		window.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("gl.Init failed: %w", err)
	}

	log.Info("compute context created",
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
	)

	return &glContext{window: window, context: ctx}, nil
}

func (c *glContext) close() {
	if c.context != nil {
		sdl.GLDeleteContext(c.context)
	}
	if c.window != nil {
		c.window.Destroy()
	}
	sdl.Quit()
}

// checkError drains the GL error queue and reports the first error.
func checkError(op string) error {
	code := gl.GetError()
	if code == gl.NO_ERROR {
		return nil
	}
	for gl.GetError() != gl.NO_ERROR {
	}
	if code == gl.OUT_OF_MEMORY {
		return fmt.Errorf("%s: %w", op, device.ErrOutOfMemory)
	}
	return fmt.Errorf("%s: GL error 0x%x", op, code)
}
