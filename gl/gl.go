// Package gl registers the "gl" backend, which runs the bitonic kernels as
// OpenGL 4.3 compute shaders.
//
// Import it for its side effect:
//
//	import _ "github.com/gogpu/gpusort/gl" // enable the OpenGL backend
//
//	dev, err := gpusort.OpenBackend("gl", gpusort.BackendConfig{})
//
// The backend needs cgo and a display GLFW can create a hidden window on.
// Without cgo the backend is still registered and opening it fails.
package gl

import (
	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/internal/opengl"
)

// Name is the registry name of the backend.
const Name = opengl.Name

func init() {
	if err := gpusort.RegisterBackend(Name, open); err != nil {
		gpusort.Logger().Warn("gl backend not registered", "err", err)
	}
}

func open(cfg gpusort.BackendConfig) (gpusort.Device, error) {
	return opengl.Open(opengl.Config{
		GroupSize:   cfg.GroupSize,
		MemoryLimit: cfg.MemoryLimit,
	})
}
