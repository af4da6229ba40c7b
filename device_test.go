package gpusort

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gogpu/gpusort/kernel"
)

// recordingDevice runs the kernels sequentially on the host and records
// every command. It is the reference sequential simulator used by the
// orchestrator tests.
type recordingDevice struct {
	groupSize int

	// Failure injection.
	allocErr    error
	failAt      int // dispatch index to fail at, -1 for never
	dispatchErr error
	downloadErr error

	// cancel, if set, is called before dispatch cancelAt.
	cancel   context.CancelFunc
	cancelAt int

	mu       sync.Mutex
	log      []string
	released int
	closed   bool
	logger   *slog.Logger
}

func newRecordingDevice(groupSize int) *recordingDevice {
	return &recordingDevice{groupSize: groupSize, failAt: -1, cancelAt: -1}
}

func (d *recordingDevice) Name() string   { return "recording" }
func (d *recordingDevice) GroupSize() int { return d.groupSize }

func (d *recordingDevice) Allocate(_ context.Context, n int) (Buffer, error) {
	if d.allocErr != nil {
		return nil, d.allocErr
	}
	d.record("allocate")
	return &recordingBuffer{dev: d, data: make([]int32, n)}, nil
}

func (d *recordingDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *recordingDevice) SetLogger(l *slog.Logger) {
	d.mu.Lock()
	d.logger = l
	d.mu.Unlock()
}

func (d *recordingDevice) record(cmd string) {
	d.mu.Lock()
	d.log = append(d.log, cmd)
	d.mu.Unlock()
}

func (d *recordingDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func (d *recordingDevice) releasedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

type recordingBuffer struct {
	dev        *recordingDevice
	data       []int32
	dispatches int
	unfenced   bool
	released   bool
}

func (b *recordingBuffer) Len() int { return len(b.data) }

func (b *recordingBuffer) Upload(_ context.Context, src []int32) error {
	b.dev.record("upload")
	copy(b.data, src)
	return nil
}

var errUnfenced = errors.New("recording: dispatch before barrier")

func (b *recordingBuffer) Dispatch(_ context.Context, d kernel.Dispatch) error {
	if b.unfenced {
		return errUnfenced
	}
	i := b.dispatches
	b.dispatches++
	if i == b.dev.cancelAt && b.dev.cancel != nil {
		b.dev.cancel()
	}
	if i == b.dev.failAt {
		return b.dev.dispatchErr
	}
	b.dev.record(d.String())
	b.unfenced = true

	gs := uint32(b.dev.groupSize) //nolint:gosec // test sizes
	switch d.Entry {
	case kernel.LocalSort:
		for g := range d.Groups {
			kernel.LocalSortGroup(b.data, g, gs, d.Params.Length)
		}
	case kernel.GlobalMerge:
		for idx := range d.Groups * gs {
			kernel.GlobalMergeLane(b.data, idx, d.Params)
		}
	}
	return nil
}

func (b *recordingBuffer) Barrier(context.Context) error {
	b.dev.record("barrier")
	b.unfenced = false
	return nil
}

func (b *recordingBuffer) Download(_ context.Context, dst []int32) error {
	if b.dev.downloadErr != nil {
		return b.dev.downloadErr
	}
	b.dev.record("download")
	copy(dst, b.data)
	return nil
}

func (b *recordingBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.dev.mu.Lock()
	b.dev.released++
	b.dev.mu.Unlock()
}
