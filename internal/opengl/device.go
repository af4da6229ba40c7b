//go:build !tinygo && cgo

package opengl

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/go-gl/gl/v4.6-core/gl"
	"github.com/soypat/glgl/v4.6-core/glgl"

	"github.com/gogpu/gpusort/gpucore"
	"github.com/gogpu/gpusort/internal/memory"
	"github.com/gogpu/gpusort/kernel"
)

// Device runs the bitonic kernels on an OpenGL context owned by a locked
// thread.
//
// Device is safe for concurrent use. GL calls from all buffers are
// serialized on the device thread.
type Device struct {
	th        *thread
	terminate func()
	programs  map[kernel.EntryPoint]glgl.Program

	groupSize int
	maxLen    int
	budget    *memory.Budget
	renderer  string

	closed atomic.Bool
	live   atomic.Int64

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

// Open creates a hidden GL context, compiles the kernels and returns the
// device.
func Open(cfg Config) (gpucore.Device, error) {
	groupSize, err := cfg.groupSize()
	if err != nil {
		return nil, err
	}
	sources, err := TranslateKernels(groupSize)
	if err != nil {
		return nil, err
	}

	d := &Device{
		groupSize: groupSize,
		budget:    memory.NewBudget(cfg.MemoryLimit),
		programs:  make(map[kernel.EntryPoint]glgl.Program, len(sources)),
	}
	th, err := startThread(func() error { return d.init(sources) })
	if err != nil {
		return nil, err
	}
	d.th = th

	slogger().Info("opengl: device initialized", "renderer", d.renderer, "group_size", groupSize, "max_len", d.maxLen)
	return d, nil
}

// init runs on the device thread.
func (d *Device) init(sources map[kernel.EntryPoint]string) error {
	_, terminate, err := glgl.InitWithCurrentWindow33(glgl.WindowConfig{
		Title:   "gpusort",
		Version: glslVersion,
		Width:   1,
		Height:  1,
	})
	if err != nil {
		return fmt.Errorf("opengl: create context: %w", err)
	}

	fail := func(err error) error {
		for _, p := range d.programs {
			p.Delete()
		}
		terminate()
		return err
	}

	if limit := int(glgl.MaxComputeInvocations()); d.groupSize > limit {
		return fail(fmt.Errorf("%w: %d > %d", ErrGroupSize, d.groupSize, limit))
	}
	for e, src := range sources {
		prog, err := glgl.CompileProgram(glgl.ShaderSource{Compute: src})
		if err != nil {
			return fail(fmt.Errorf("opengl: compile %s: %w", e, err))
		}
		d.programs[e] = prog
	}

	var groups int32
	gl.GetIntegeri_v(gl.MAX_COMPUTE_WORK_GROUP_COUNT, 0, &groups)
	var blockSize int64
	gl.GetInteger64v(gl.MAX_SHADER_STORAGE_BLOCK_SIZE, &blockSize)
	if err := glgl.Err(); err != nil {
		return fail(fmt.Errorf("opengl: query limits: %w", err))
	}
	d.maxLen = min(int(groups)*d.groupSize, int(blockSize/kernel.ElementSize))
	d.renderer = gl.GoStr(gl.GetString(gl.RENDERER))
	d.terminate = terminate
	return nil
}

// Name returns "gl".
func (d *Device) Name() string { return Name }

// GroupSize returns the workgroup width the kernels were compiled for.
func (d *Device) GroupSize() int { return d.groupSize }

// Renderer returns the GL_RENDERER string of the context.
func (d *Device) Renderer() string { return d.renderer }

// MaxBufferLen returns the largest working buffer, in elements, the driver
// accepts.
func (d *Device) MaxBufferLen() int { return d.maxLen }

// SetLogger sets the logger of the opengl package, shared by all devices.
func (d *Device) SetLogger(l *slog.Logger) { setLogger(l) }

// Allocate creates a storage buffer of n elements and its params uniform.
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

	size := n * kernel.ElementSize
	res, err := d.budget.Reserve(uint64(size))
	if err != nil {
		return nil, fmt.Errorf("opengl: allocate %d elements: %w", n, err)
	}

	b := &buffer{dev: d, n: n, size: size, res: res}
	err = d.th.run(func() error {
		gl.GenBuffers(1, &b.ssbo)
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, b.ssbo)
		gl.BufferData(gl.SHADER_STORAGE_BUFFER, size, nil, gl.DYNAMIC_COPY)
		gl.GenBuffers(1, &b.ubo)
		gl.BindBuffer(gl.UNIFORM_BUFFER, b.ubo)
		gl.BufferData(gl.UNIFORM_BUFFER, kernel.ParamsSize, nil, gl.DYNAMIC_DRAW)
		if b.ssbo == 0 || b.ubo == 0 {
			b.deleteBuffers()
			return glErrOrMessage("opengl: zero buffer id from GL")
		}
		if err := glgl.Err(); err != nil {
			b.deleteBuffers()
			return fmt.Errorf("opengl: create buffers: %w", err)
		}
		return nil
	})
	if err != nil {
		res.Release()
		return nil, err
	}

	d.live.Add(1)
	d.buffers.Add(1)
	slogger().Debug("opengl: buffer allocated", "elements", n, "bytes", size)
	return b, nil
}

// Close deletes the programs, destroys the context and stops the device
// thread. Buffers must be released first.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	if n := d.live.Load(); n > 0 {
		slogger().Warn("opengl: device closed with live buffers", "buffers", n)
	}
	d.th.stop(func() {
		for _, p := range d.programs {
			p.Delete()
		}
		d.terminate()
	})
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

// MemoryStats returns the memory budget statistics.
func (d *Device) MemoryStats() memory.Stats { return d.budget.Stats() }

// buffer is a shader storage buffer plus the uniform buffer holding the
// params of the current dispatch. Its fields other than ids are only
// touched by the goroutine driving the sort.
type buffer struct {
	dev  *Device
	n    int
	size int
	res  *memory.Reservation

	ssbo uint32
	ubo  uint32

	unfenced bool
	released bool
}

func (b *buffer) Len() int { return b.n }

func (b *buffer) ready() error {
	if b.released {
		return ErrReleased
	}
	if b.unfenced {
		return ErrUnfenced
	}
	return nil
}

// Upload copies src into the storage buffer.
func (b *buffer) Upload(ctx context.Context, src []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if len(src) != b.n {
		return fmt.Errorf("%w: upload of %d elements into buffer of %d", ErrInvalidLength, len(src), b.n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.dev.th.run(func() error {
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, b.ssbo)
		gl.BufferSubData(gl.SHADER_STORAGE_BUFFER, 0, b.size, unsafe.Pointer(&src[0]))
		return glgl.Err()
	})
	if err != nil {
		return fmt.Errorf("opengl: upload: %w", err)
	}
	b.dev.uploads.Add(1)
	return nil
}

// Dispatch writes the params uniform and launches d.Groups workgroups.
func (b *buffer) Dispatch(ctx context.Context, d kernel.Dispatch) error {
	if err := b.ready(); err != nil {
		return fmt.Errorf("%s: %w", d, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	prog, ok := b.dev.programs[d.Entry]
	if !ok {
		return fmt.Errorf("opengl: unknown entry point %q", d.Entry)
	}

	params := d.Params.Bytes()
	err := b.dev.th.run(func() error {
		prog.Bind()
		defer prog.Unbind()
		gl.BindBuffer(gl.UNIFORM_BUFFER, b.ubo)
		gl.BufferSubData(gl.UNIFORM_BUFFER, 0, len(params), unsafe.Pointer(&params[0]))
		gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, kernel.BindingData, b.ssbo)
		gl.BindBufferBase(gl.UNIFORM_BUFFER, kernel.BindingParams, b.ubo)
		gl.DispatchCompute(d.Groups, 1, 1)
		return glgl.Err()
	})
	if err != nil {
		return fmt.Errorf("opengl: dispatch %s: %w", d, err)
	}

	b.unfenced = true
	b.dev.dispatches.Add(1)
	slogger().Debug("opengl: dispatch", "kernel", d.String())
	return nil
}

// Barrier makes storage writes of the previous dispatch visible to the
// next one and to buffer reads.
func (b *buffer) Barrier(ctx context.Context) error {
	if b.released {
		return ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.dev.th.run(func() error {
		gl.MemoryBarrier(gl.SHADER_STORAGE_BARRIER_BIT | gl.BUFFER_UPDATE_BARRIER_BIT)
		return glgl.Err()
	})
	if err != nil {
		return fmt.Errorf("opengl: barrier: %w", err)
	}
	b.unfenced = false
	b.dev.barriers.Add(1)
	return nil
}

// Download maps the storage buffer and copies it into dst.
func (b *buffer) Download(ctx context.Context, dst []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if len(dst) != b.n {
		return fmt.Errorf("%w: download of %d elements from buffer of %d", ErrInvalidLength, len(dst), b.n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.dev.th.run(func() error {
		gl.BindBuffer(gl.SHADER_STORAGE_BUFFER, b.ssbo)
		ptr := gl.MapBufferRange(gl.SHADER_STORAGE_BUFFER, 0, b.size, gl.MAP_READ_BIT)
		if ptr == nil {
			return glErrOrMessage("failed to map SSBO buffer during copy")
		}
		defer gl.UnmapBuffer(gl.SHADER_STORAGE_BUFFER)
		copy(dst, unsafe.Slice((*int32)(ptr), b.n))
		return nil
	})
	if err != nil {
		return fmt.Errorf("opengl: download: %w", err)
	}
	b.dev.downloads.Add(1)
	return nil
}

// Release deletes the GL buffers.
func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true
	if err := b.dev.th.run(func() error {
		b.deleteBuffers()
		return nil
	}); err != nil {
		slogger().Warn("opengl: release buffer", "err", err)
	}
	b.res.Release()
	b.dev.live.Add(-1)
}

// deleteBuffers runs on the device thread.
func (b *buffer) deleteBuffers() {
	if b.ssbo != 0 {
		gl.DeleteBuffers(1, &b.ssbo)
		b.ssbo = 0
	}
	if b.ubo != 0 {
		gl.DeleteBuffers(1, &b.ubo)
		b.ubo = 0
	}
}

func glErrOrMessage(defaultMsg string) error {
	if err := glgl.Err(); err != nil {
		return fmt.Errorf("%s: %w", defaultMsg, err)
	}
	return fmt.Errorf("%s", defaultMsg)
}
