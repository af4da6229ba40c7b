// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpusort/gpucore"
	"github.com/gogpu/gpusort/internal/memory"
	"github.com/gogpu/gpusort/kernel"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// Name is the backend name of the wgpu device.
const Name = "wgpu"

// Device limits assumed when the adapter does not report larger ones. They
// are the WebGPU defaults every conforming adapter supports.
const (
	// maxStorageBindingSize is maxStorageBufferBindingSize (128 MiB).
	maxStorageBindingSize = 128 << 20

	// maxWorkgroupsPerDimension is maxComputeWorkgroupsPerDimension.
	maxWorkgroupsPerDimension = 65535
)

// submitTimeout bounds the wait for a submission when the context has no
// deadline.
const submitTimeout = 10 * time.Second

// Polling interval bounds while waiting for a submission.
const (
	minPollInterval = 20 * time.Microsecond
	maxPollInterval = 2 * time.Millisecond
)

var (
	// ErrNoAdapter is returned when no GPU adapter is available.
	ErrNoAdapter = errors.New("gpu: no GPU adapter found")

	// ErrNoBackend is returned when the Vulkan HAL backend is not available.
	ErrNoBackend = errors.New("gpu: vulkan backend not available")

	// ErrClosed is returned when a closed device is used.
	ErrClosed = errors.New("gpu: device closed")

	// ErrReleased is returned when a released buffer is used.
	ErrReleased = errors.New("gpu: buffer released")

	// ErrUnfenced is returned when a command is issued while the previous
	// dispatch has not been followed by a Barrier.
	ErrUnfenced = errors.New("gpu: command issued before barrier on previous dispatch")

	// ErrInvalidLength is returned for buffer lengths that are not a
	// positive power of two, and for host slices of the wrong length.
	ErrInvalidLength = errors.New("gpu: invalid length")

	// ErrTimeout is returned when the GPU does not complete a submission in
	// time.
	ErrTimeout = errors.New("gpu: timeout waiting for GPU")
)

// Config configures a wgpu device.
type Config struct {
	// GroupSize is the workgroup width. Defaults to kernel.DefaultGroupSize
	// if zero.
	GroupSize int

	// MemoryLimit is the device memory budget in bytes for working and
	// staging buffers. Zero is unlimited up to the binding size limit.
	MemoryLimit uint64
}

// Device runs the bitonic kernels on a wgpu HAL device.
//
// Device is safe for concurrent use. HAL calls are serialized by a mutex.
type Device struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	adapter  string

	pipes     *pipelines
	groupSize int
	maxLen    int
	budget    *memory.Budget

	externalDevice bool // true when using shared device (don't destroy on Close)
	closed         bool
	live           atomic.Int64

	buffers    atomic.Uint64
	uploads    atomic.Uint64
	dispatches atomic.Uint64
	barriers   atomic.Uint64
	downloads  atomic.Uint64
}

var (
	_ gpucore.Device        = (*Device)(nil)
	_ gpucore.StatsReporter = (*Device)(nil)
)

// Open creates a standalone device on the first discrete or integrated GPU.
func Open(cfg Config) (*Device, error) {
	groupSize, err := checkConfig(&cfg)
	if err != nil {
		return nil, err
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrNoBackend
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	d := newDevice(cfg, groupSize)
	d.instance = instance
	d.device = openDev.Device
	d.queue = openDev.Queue
	d.adapter = selected.Info.Name

	if err := d.init(); err != nil {
		d.device.Destroy()
		instance.Destroy()
		return nil, err
	}
	slogger().Info("gpu: device initialized (standalone)", "adapter", d.adapter, "group_size", groupSize)
	return d, nil
}

// OpenShared creates a device on a GPU device owned by someone else. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue. Close does not destroy the shared device.
func OpenShared(cfg Config, provider any) (*Device, error) {
	groupSize, err := checkConfig(&cfg)
	if err != nil {
		return nil, err
	}

	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}

	d := newDevice(cfg, groupSize)
	d.device = device
	d.queue = queue
	d.adapter = "shared"
	d.externalDevice = true

	if err := d.init(); err != nil {
		return nil, err
	}
	slogger().Info("gpu: device initialized (shared)", "group_size", groupSize)
	return d, nil
}

func checkConfig(cfg *Config) (int, error) {
	groupSize := cfg.GroupSize
	if groupSize == 0 {
		groupSize = kernel.DefaultGroupSize
	}
	if err := kernel.CheckGroupSize(groupSize); err != nil {
		return 0, err
	}
	return groupSize, nil
}

func newDevice(cfg Config, groupSize int) *Device {
	return &Device{
		groupSize: groupSize,
		maxLen:    MaxBufferLen(groupSize),
		budget:    memory.NewBudget(cfg.MemoryLimit),
	}
}

// MaxBufferLen returns the largest working buffer, in elements, a device
// with the given group size accepts: the smaller of the storage binding
// limit and the number of lanes one dispatch dimension can launch.
func MaxBufferLen(groupSize int) int {
	return min(maxStorageBindingSize/kernel.ElementSize, maxWorkgroupsPerDimension*groupSize)
}

func (d *Device) init() error {
	pipes, err := createPipelines(d.device, d.groupSize)
	if err != nil {
		return fmt.Errorf("gpu: %w", err)
	}
	d.pipes = pipes
	return nil
}

// Name returns "wgpu".
func (d *Device) Name() string { return Name }

// GroupSize returns the workgroup width the kernels were compiled for.
func (d *Device) GroupSize() int { return d.groupSize }

// Adapter returns the adapter name, or "shared" for a shared device.
func (d *Device) Adapter() string { return d.adapter }

// SetLogger sets the logger of the gpu package, shared by all devices.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Allocate creates a working buffer of n elements and its staging buffer.
func (d *Device) Allocate(ctx context.Context, n int) (gpucore.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: buffer of %d elements", ErrInvalidLength, n)
	}
	if n > d.maxLen {
		return nil, fmt.Errorf("%w: %d elements exceeds limit of %d",
			kernel.ErrBufferTooLarge, n, d.maxLen)
	}

	size := uint64(n) * kernel.ElementSize
	// Working and staging buffers.
	res, err := d.budget.Reserve(2 * size)
	if err != nil {
		return nil, fmt.Errorf("gpu: allocate %d elements: %w", n, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		res.Release()
		return nil, ErrClosed
	}

	storage, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_data", Size: size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		res.Release()
		return nil, fmt.Errorf("gpu: create storage buffer: %w", err)
	}
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_staging", Size: size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		d.device.DestroyBuffer(storage)
		res.Release()
		return nil, fmt.Errorf("gpu: create staging buffer: %w", err)
	}

	d.live.Add(1)
	d.buffers.Add(1)
	slogger().Debug("gpu: buffers allocated", "elements", n, "bytes", size, "memory", d.budget.Stats().String())

	return &buffer{
		dev:     d,
		n:       n,
		size:    size,
		storage: storage,
		staging: staging,
		res:     res,
	}, nil
}

// Close destroys the pipelines and, for a standalone device, the HAL
// device and instance. Buffers must be released first.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if n := d.live.Load(); n > 0 {
		slogger().Warn("gpu: device closed with live buffers", "buffers", n)
	}
	if d.pipes != nil {
		d.pipes.destroy(d.device)
		d.pipes = nil
	}
	if !d.externalDevice {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	// Don't destroy shared resources, we don't own them.
	d.device = nil
	d.instance = nil
	d.queue = nil
	d.budget.Close()
	return nil
}

// completionPoller reports the highest completed submission index.
type completionPoller interface {
	PollCompleted() uint64
}

// waitSubmission blocks until the queue has completed submission index.
func (d *Device) waitSubmission(ctx context.Context, index uint64) error {
	timeout := submitTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), time.Millisecond)
	}
	return waitCompleted(ctx, d.queue, index, timeout)
}

// waitCompleted polls q with exponential backoff until it reports index as
// completed, ctx is done or timeout elapses.
func waitCompleted(ctx context.Context, q completionPoller, index uint64, timeout time.Duration) error {
	if q.PollCompleted() >= index {
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	interval := minPollInterval
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: submission %d after %v", ErrTimeout, index, timeout)
		case <-time.After(interval):
		}
		if q.PollCompleted() >= index {
			return nil
		}
		interval = min(2*interval, maxPollInterval)
	}
}

// Stats returns the command counters of the device.
func (d *Device) Stats() gpucore.Stats {
	return gpucore.Stats{
		Buffers:    d.buffers.Load(),
		Uploads:    d.uploads.Load(),
		Dispatches: d.dispatches.Load(),
		Barriers:   d.barriers.Load(),
		Downloads:  d.downloads.Load(),
	}
}

// MemoryStats returns the device memory budget statistics.
func (d *Device) MemoryStats() memory.Stats {
	return d.budget.Stats()
}
