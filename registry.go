package gpusort

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gpusort/internal/sim"
)

// ErrUnknownBackend is returned by OpenBackend for names nobody registered.
var ErrUnknownBackend = errors.New("gpusort: unknown backend")

// BackendConfig configures a device opened through OpenBackend. Zero values
// select backend defaults.
type BackendConfig struct {
	// GroupSize is the workgroup width the kernels are compiled for.
	// Defaults to kernel.DefaultGroupSize.
	GroupSize int

	// Workers is the number of goroutines running groups (sim only).
	Workers int

	// LaneGoroutines runs every lane on its own goroutine (sim only).
	LaneGoroutines bool

	// MemoryLimit is the device memory budget in bytes. Zero is unlimited
	// up to the device's own limits.
	MemoryLimit uint64

	// DeviceProvider shares an existing GPU device instead of creating one.
	// The wgpu backend accepts a gpucontext.DeviceProvider whose HalDevice
	// and HalQueue methods return wgpu/hal types.
	DeviceProvider any
}

// Opener creates a device from a configuration.
type Opener func(cfg BackendConfig) (Device, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Opener{}

	devicesMu sync.Mutex
	devices   []Device
)

func init() {
	if err := RegisterBackend(sim.Name, openSim); err != nil {
		panic(err)
	}
}

func openSim(cfg BackendConfig) (Device, error) {
	return sim.New(sim.Config{
		GroupSize:      cfg.GroupSize,
		Workers:        cfg.Workers,
		LaneGoroutines: cfg.LaneGoroutines,
		MemoryLimit:    cfg.MemoryLimit,
	})
}

// RegisterBackend makes a device backend available to OpenBackend.
//
// Registering a name twice replaces the previous opener. Typical usage via
// blank import in backend packages:
//
//	func init() {
//	    gpusort.RegisterBackend("wgpu", open)
//	}
func RegisterBackend(name string, open Opener) error {
	if name == "" {
		return errors.New("gpusort: backend name must not be empty")
	}
	if open == nil {
		return errors.New("gpusort: backend opener must not be nil")
	}
	backendsMu.Lock()
	backends[name] = open
	backendsMu.Unlock()
	return nil
}

// Backends returns the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	backendsMu.RUnlock()
	slices.Sort(names)
	return names
}

// OpenBackend opens a device with the named backend. The device receives
// the current package logger and follows later SetLogger calls until it is
// closed through a Sorter.
func OpenBackend(name string, cfg BackendConfig) (Device, error) {
	backendsMu.RLock()
	open, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownBackend, name, Backends())
	}

	d, err := open(cfg)
	if err != nil {
		return nil, deviceError("open "+name, err)
	}

	propagateLogger(d, Logger())
	trackDevice(d)
	Logger().Info("gpusort: backend opened", "backend", name, "group_size", d.GroupSize())
	return d, nil
}

func trackDevice(d Device) {
	devicesMu.Lock()
	devices = append(devices, d)
	devicesMu.Unlock()
}

func untrackDevice(d Device) {
	devicesMu.Lock()
	devices = slices.DeleteFunc(devices, func(x Device) bool { return x == d })
	devicesMu.Unlock()
}

func openDevices() []Device {
	devicesMu.Lock()
	defer devicesMu.Unlock()
	return slices.Clone(devices)
}
