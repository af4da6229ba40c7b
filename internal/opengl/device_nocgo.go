//go:build tinygo || !cgo

package opengl

import "github.com/gogpu/gpusort/gpucore"

// Open returns ErrNoCGO: the OpenGL bindings need cgo.
func Open(cfg Config) (gpucore.Device, error) {
	if _, err := cfg.groupSize(); err != nil {
		return nil, err
	}
	return nil, ErrNoCGO
}
