package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpusort/gpucore"
	"github.com/gogpu/gpusort/internal/memory"
	"github.com/gogpu/gpusort/internal/parallel"
	"github.com/gogpu/gpusort/kernel"
)

// Name is the backend name of the simulator.
const Name = "sim"

var (
	// ErrUnfenced is returned when a command is issued while an earlier
	// dispatch has not been followed by a Barrier.
	ErrUnfenced = errors.New("sim: command issued before barrier on previous dispatch")

	// ErrReleased is returned when a released buffer is used.
	ErrReleased = errors.New("sim: buffer released")

	// ErrClosed is returned when a closed device is used.
	ErrClosed = errors.New("sim: device closed")

	// ErrInvalidLength is returned for buffer lengths that are not a
	// positive power of two, and for host slices of the wrong length.
	ErrInvalidLength = errors.New("sim: invalid length")

	// ErrInvalidDispatch is returned for unknown entry points or
	// parameters that do not fit the buffer.
	ErrInvalidDispatch = errors.New("sim: invalid dispatch")
)

var (
	_ gpucore.Device        = (*Device)(nil)
	_ gpucore.StatsReporter = (*Device)(nil)
)

// Config configures a simulator device.
type Config struct {
	// GroupSize is the workgroup width. Defaults to kernel.DefaultGroupSize
	// if zero.
	GroupSize int

	// Workers is the number of pool goroutines running groups.
	// Defaults to GOMAXPROCS if <= 0.
	Workers int

	// LaneGoroutines runs every lane of a group on its own goroutine.
	LaneGoroutines bool

	// MemoryLimit is the device memory budget in bytes. Zero is unlimited.
	MemoryLimit uint64

	// MaxBufferLen caps a single buffer, in elements. Defaults to
	// kernel.MaxLength if zero.
	MaxBufferLen int
}

// Device is the simulator device. It is safe for concurrent use.
type Device struct {
	groupSize int
	steps     []kernel.Step
	lanes     bool
	maxLen    int

	pool   *parallel.WorkerPool
	budget *memory.Budget

	closed atomic.Bool
	live   atomic.Int64

	buffers    atomic.Uint64
	uploads    atomic.Uint64
	dispatches atomic.Uint64
	barriers   atomic.Uint64
	downloads  atomic.Uint64
}

// New creates a simulator device.
func New(cfg Config) (*Device, error) {
	groupSize := cfg.GroupSize
	if groupSize == 0 {
		groupSize = kernel.DefaultGroupSize
	}
	if err := kernel.CheckGroupSize(groupSize); err != nil {
		return nil, err
	}

	maxLen := cfg.MaxBufferLen
	if maxLen <= 0 || maxLen > kernel.MaxLength {
		maxLen = kernel.MaxLength
	}

	d := &Device{
		groupSize: groupSize,
		steps:     kernel.LocalSteps(uint32(groupSize)), //nolint:gosec // checked above
		lanes:     cfg.LaneGoroutines,
		maxLen:    maxLen,
		pool:      parallel.NewWorkerPool(cfg.Workers),
		budget:    memory.NewBudget(cfg.MemoryLimit),
	}

	slogger().Debug("sim: device created",
		"group_size", groupSize,
		"workers", d.pool.Workers(),
		"lane_goroutines", d.lanes,
		"memory_limit", cfg.MemoryLimit)
	return d, nil
}

// Name returns "sim".
func (d *Device) Name() string { return Name }

// GroupSize returns the workgroup width.
func (d *Device) GroupSize() int { return d.groupSize }

// SetLogger sets the logger of the sim package, shared by all devices.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Allocate creates a working buffer of n elements.
func (d *Device) Allocate(ctx context.Context, n int) (gpucore.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.closed.Load() {
		return nil, ErrClosed
	}
	if n <= 0 || n&(n-1) != 0 {
		return nil, fmt.Errorf("%w: buffer of %d elements", ErrInvalidLength, n)
	}
	if n > d.maxLen {
		return nil, fmt.Errorf("%w: %d elements exceeds limit of %d",
			kernel.ErrBufferTooLarge, n, d.maxLen)
	}

	res, err := d.budget.Reserve(uint64(n) * kernel.ElementSize)
	if err != nil {
		return nil, fmt.Errorf("sim: allocate %d elements: %w", n, err)
	}

	d.live.Add(1)
	d.buffers.Add(1)
	slogger().Debug("sim: buffer allocated", "elements", n, "memory", d.budget.Stats().String())

	return &buffer{
		dev:  d,
		data: make([]int32, n),
		res:  res,
	}, nil
}

// Close stops the worker pool. Buffers still alive are leaked and logged.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := d.live.Load(); n > 0 {
		slogger().Warn("sim: device closed with live buffers", "buffers", n)
	}
	if n := d.pool.QueuedWork(); n > 0 {
		slogger().Debug("sim: draining queued groups", "groups", n)
	}
	d.pool.Close()
	d.budget.Close()
	return nil
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

// buffer is a simulator working array. Only one sort uses it at a time.
type buffer struct {
	dev      *Device
	data     []int32
	res      *memory.Reservation
	inflight *parallel.Batch
	once     sync.Once
	released bool
}

func (b *buffer) Len() int { return len(b.data) }

func (b *buffer) ready() error {
	if b.released {
		return ErrReleased
	}
	if b.inflight != nil {
		return ErrUnfenced
	}
	return nil
}

func (b *buffer) Upload(ctx context.Context, src []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(src) != len(b.data) {
		return fmt.Errorf("%w: upload of %d elements into buffer of %d",
			ErrInvalidLength, len(src), len(b.data))
	}
	copy(b.data, src)
	b.dev.uploads.Add(1)
	return nil
}

func (b *buffer) Dispatch(ctx context.Context, d kernel.Dispatch) error {
	if err := b.ready(); err != nil {
		return fmt.Errorf("%s: %w", d, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gs := b.dev.groupSize
	length := int(d.Params.Length)
	switch {
	case !d.Entry.Valid():
		return fmt.Errorf("%w: unknown entry point %q", ErrInvalidDispatch, d.Entry)
	case length == 0 || length > len(b.data):
		return fmt.Errorf("%w: length %d for buffer of %d", ErrInvalidDispatch, length, len(b.data))
	case d.Groups == 0 || d.Groups > kernel.Groups(len(b.data), gs):
		return fmt.Errorf("%w: %d groups for buffer of %d", ErrInvalidDispatch, d.Groups, len(b.data))
	}

	work := make([]func(), d.Groups)
	for g := range d.Groups {
		work[g] = b.groupFunc(d, g)
	}

	batch, err := b.dev.pool.Start(work)
	if err != nil {
		batch.Wait()
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	b.inflight = batch
	b.dev.dispatches.Add(1)

	slogger().Debug("sim: dispatched", "kernel", d.String())
	return nil
}

// groupFunc returns the work item running one group of d.
func (b *buffer) groupFunc(d kernel.Dispatch, group uint32) func() {
	data := b.data
	gs := uint32(b.dev.groupSize) //nolint:gosec // <= kernel.MaxGroupSize
	length := d.Params.Length

	if d.Entry == kernel.LocalSort {
		if b.dev.lanes {
			steps := b.dev.steps
			return func() { localSortLanes(data, group, gs, length, steps) }
		}
		return func() { kernel.LocalSortGroup(data, group, gs, length) }
	}

	p := d.Params
	offset := group * gs
	if b.dev.lanes {
		return func() {
			runLanes(gs, func(lane uint32) {
				kernel.GlobalMergeLane(data, offset+lane, p)
			})
		}
	}
	if canMergeWide(p, gs) {
		return func() { mergeGroupWide(data, offset, gs, p) }
	}
	return func() {
		for lane := range gs {
			kernel.GlobalMergeLane(data, offset+lane, p)
		}
	}
}

func (b *buffer) Barrier(ctx context.Context) error {
	if b.released {
		return ErrReleased
	}
	b.dev.barriers.Add(1)
	if b.inflight == nil {
		return nil
	}

	if b.inflight.Done() {
		b.inflight = nil
		return nil
	}

	slogger().Debug("sim: barrier waiting", "pending_groups", b.inflight.Pending())
	done := make(chan struct{})
	batch := b.inflight
	go func() {
		batch.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.inflight = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *buffer) Download(ctx context.Context, dst []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(dst) != len(b.data) {
		return fmt.Errorf("%w: download of %d elements from buffer of %d",
			ErrInvalidLength, len(dst), len(b.data))
	}
	copy(dst, b.data)
	b.dev.downloads.Add(1)
	return nil
}

// Release waits for in-flight groups, then returns the memory.
func (b *buffer) Release() {
	b.once.Do(func() {
		if b.inflight != nil {
			b.inflight.Wait()
			b.inflight = nil
		}
		b.released = true
		b.data = nil
		b.res.Release()
		b.dev.live.Add(-1)
	})
}

// localSortLanes runs one local-sort group with a goroutine per lane.
// Lanes meet at the group barrier after every step.
func localSortLanes(data []int32, group, groupSize, length uint32, steps []kernel.Step) {
	bar := newGroupBarrier(int(groupSize))
	offset := group * groupSize
	runLanes(groupSize, func(lane uint32) {
		for _, s := range steps {
			kernel.LocalSortStep(data, offset, lane, s, length)
			bar.Wait()
		}
	})
}

// runLanes runs fn for every lane of a group concurrently and waits.
func runLanes(groupSize uint32, fn func(lane uint32)) {
	var wg sync.WaitGroup
	wg.Add(int(groupSize))
	for lane := range groupSize {
		go func() {
			defer wg.Done()
			fn(lane)
		}()
	}
	wg.Wait()
}
