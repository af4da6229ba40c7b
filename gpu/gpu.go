//go:build !nogpu

// Package gpu registers the "wgpu" backend, which runs the bitonic kernels
// as wgpu/hal compute shaders on a Vulkan device.
//
// Import it for its side effect:
//
//	import _ "github.com/gogpu/gpusort/gpu" // enable the wgpu backend
//
//	dev, err := gpusort.OpenBackend("wgpu", gpusort.BackendConfig{})
//
// To reuse a device created by a gogpu application, pass the application's
// gpucontext.DeviceProvider as BackendConfig.DeviceProvider or call Open.
package gpu

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpusort"
	gpuimpl "github.com/gogpu/gpusort/internal/gpu"
)

// Name is the registry name of the backend.
const Name = gpuimpl.Name

func init() {
	if err := gpusort.RegisterBackend(Name, open); err != nil {
		gpusort.Logger().Warn("wgpu backend not registered", "err", err)
	}
}

func open(cfg gpusort.BackendConfig) (gpusort.Device, error) {
	c := gpuimpl.Config{GroupSize: cfg.GroupSize, MemoryLimit: cfg.MemoryLimit}
	if p, ok := cfg.DeviceProvider.(gpucontext.DeviceProvider); ok {
		return openProvider(p, c)
	}

	var (
		d   *gpuimpl.Device
		err error
	)
	if cfg.DeviceProvider != nil {
		d, err = gpuimpl.OpenShared(c, cfg.DeviceProvider)
	} else {
		d, err = gpuimpl.Open(c)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Open creates a device on the GPU device of provider. The provider must
// also expose HalDevice and HalQueue returning wgpu/hal types. Closing the
// device leaves the provider's device untouched.
func Open(provider gpucontext.DeviceProvider, groupSize int) (gpusort.Device, error) {
	return openProvider(provider, gpuimpl.Config{GroupSize: groupSize})
}

func openProvider(provider gpucontext.DeviceProvider, c gpuimpl.Config) (gpusort.Device, error) {
	d, err := gpuimpl.OpenShared(c, provider)
	if err != nil {
		return nil, err
	}
	gpusort.Logger().Info("wgpu device shared", "surface_format", provider.SurfaceFormat())
	return d, nil
}

// MaxBufferLen returns the largest padded input, in elements, the backend
// accepts for a group size.
func MaxBufferLen(groupSize int) int {
	return gpuimpl.MaxBufferLen(groupSize)
}
