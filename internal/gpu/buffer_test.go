// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpusort"
	"github.com/gogpu/gpusort/kernel"
)

var errWrite = errors.New("write rejected")

// halProvider shares a HAL device and queue with OpenShared.
type halProvider struct {
	device hal.Device
	queue  hal.Queue
}

func (p halProvider) HalDevice() any { return p.device }
func (p halProvider) HalQueue() any  { return p.queue }

// failingQueue rejects WriteBuffer calls matched by fail.
type failingQueue struct {
	hal.Queue
	fail func(size int) bool
}

func (q failingQueue) WriteBuffer(buffer hal.Buffer, offset uint64, data []byte) error {
	if q.fail(len(data)) {
		return errWrite
	}
	return q.Queue.WriteBuffer(buffer, offset, data)
}

// openNoopDevice opens a device on the noop HAL backend. The noop backend
// records nothing, so only the host side of the buffer is exercised.
func openNoopDevice(t *testing.T, groupSize int, wrap func(hal.Queue) hal.Queue) *Device {
	t.Helper()
	instance, err := noop.API{}.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		t.Fatal(err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		t.Fatal("noop backend has no adapter")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	queue := open.Queue
	if wrap != nil {
		queue = wrap(queue)
	}

	d, err := OpenShared(Config{GroupSize: groupSize}, halProvider{device: open.Device, queue: queue})
	if err != nil {
		skipOnNagaLimitation(t, err)
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestBufferRoundTrip(t *testing.T) {
	d := openNoopDevice(t, 4, nil)
	ctx := context.Background()

	gb, err := d.Allocate(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer gb.Release()
	b := gb.(*buffer)

	src := []int32{5, -1, 3, kernel.Sentinel, 0, 2, 9, -7}
	if err := b.Upload(ctx, src); err != nil {
		t.Fatal(err)
	}
	mapping, err := d.device.MapBuffer(b.storage, 0, b.size)
	if err != nil {
		t.Fatal(err)
	}
	uploaded := make([]int32, 8)
	unpackInt32(unsafe.Slice((*byte)(mapping.Ptr), b.size), uploaded)
	if diff := cmp.Diff(src, uploaded); diff != "" {
		t.Errorf("storage after upload (-want +got):\n%s", diff)
	}

	local := kernel.Dispatch{Entry: kernel.LocalSort, Groups: 2, Params: kernel.Params{Length: 8}}
	if err := b.Dispatch(ctx, local); err != nil {
		t.Fatal(err)
	}
	if err := b.Barrier(ctx); err != nil {
		t.Fatal(err)
	}

	// The noop encoder drops the staging copy, so seed the staging buffer.
	want := []int32{-7, -1, 0, 2, 3, 5, 9, kernel.Sentinel}
	if err := d.queue.WriteBuffer(b.staging, 0, packInt32(want)); err != nil {
		t.Fatal(err)
	}
	got := make([]int32, 8)
	if err := b.Download(ctx, got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Download (-want +got):\n%s", diff)
	}

	if b.passes != 0 || len(b.uniforms) != 0 || len(b.bindGroups) != 0 || b.encoder != nil {
		t.Errorf("recording state not reset: passes=%d uniforms=%d bind groups=%d",
			b.passes, len(b.uniforms), len(b.bindGroups))
	}
	st := d.Stats()
	if st.Uploads != 1 || st.Dispatches != 1 || st.Barriers != 1 || st.Downloads != 1 {
		t.Errorf("Stats = %+v, want one of each command", st)
	}
}

func TestBufferUploadWriteError(t *testing.T) {
	d := openNoopDevice(t, 4, func(q hal.Queue) hal.Queue {
		return failingQueue{Queue: q, fail: func(int) bool { return true }}
	})
	ctx := context.Background()

	buf, err := d.Allocate(ctx, 8)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Release()

	if err := buf.Upload(ctx, make([]int32, 8)); !errors.Is(err, errWrite) {
		t.Errorf("Upload error = %v, want %v", err, errWrite)
	}
	if n := d.Stats().Uploads; n != 0 {
		t.Errorf("Uploads = %d after failed write, want 0", n)
	}
}

func TestSortParamsWriteError(t *testing.T) {
	d := openNoopDevice(t, 4, func(q hal.Queue) hal.Queue {
		return failingQueue{Queue: q, fail: func(size int) bool { return size == kernel.ParamsSize }}
	})
	s, err := gpusort.New(gpusort.WithDevice(d))
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Sort(context.Background(), []int32{3, 1, 2, 0, 7, 5, 6, 4})
	if !errors.Is(err, gpusort.ErrDevice) {
		t.Errorf("Sort error = %v, want ErrDevice", err)
	}
	if !errors.Is(err, errWrite) {
		t.Errorf("Sort error = %v, want wrapped %v", err, errWrite)
	}
	if n := d.Stats().Dispatches; n != 0 {
		t.Errorf("Dispatches = %d after failed params write, want 0", n)
	}
	if n := d.live.Load(); n != 0 {
		t.Errorf("%d buffers still live", n)
	}
}

// countingPoller completes one submission every after polls.
type countingPoller struct {
	polls atomic.Uint64
	after uint64
}

func (p *countingPoller) PollCompleted() uint64 {
	return p.polls.Add(1) / p.after
}

// stuckPoller never completes anything.
type stuckPoller struct{}

func (stuckPoller) PollCompleted() uint64 { return 0 }

func TestWaitCompleted(t *testing.T) {
	ctx := context.Background()

	if err := waitCompleted(ctx, &countingPoller{after: 3}, 2, time.Second); err != nil {
		t.Errorf("waitCompleted = %v, want nil", err)
	}

	if err := waitCompleted(ctx, stuckPoller{}, 1, 5*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("waitCompleted on stuck queue = %v, want ErrTimeout", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := waitCompleted(canceled, stuckPoller{}, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("waitCompleted with canceled context = %v, want context.Canceled", err)
	}
}
