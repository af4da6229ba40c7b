package gpusort

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gogpu/gpusort/kernel"
)

func newTestSorter(t *testing.T, opts ...Option) *Sorter {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sortedCopy(x []int32) []int32 {
	want := slices.Clone(x)
	slices.Sort(want)
	return want
}

func TestSortScenarios(t *testing.T) {
	s := newTestSorter(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   []int32
		want []int32
	}{
		{
			name: "power of two with duplicates",
			in:   []int32{5, -3, 5, 2, 0, 2, -3, 9},
			want: []int32{-3, -3, 0, 2, 2, 5, 5, 9},
		},
		{
			name: "shorter than a group",
			in:   []int32{3, 1},
			want: []int32{1, 3},
		},
		{
			name: "padded to eight",
			in:   []int32{4, -1, 7, 0, -9},
			want: []int32{-9, -1, 0, 4, 7},
		},
		{
			name: "single element",
			in:   []int32{42},
			want: []int32{42},
		},
		{
			name: "sentinel value in input",
			in:   []int32{math.MaxInt32, 1, math.MinInt32},
			want: []int32{math.MinInt32, 1, math.MaxInt32},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Sort(ctx, tt.in)
			if err != nil {
				t.Fatalf("Sort: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Sort mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSortEmpty(t *testing.T) {
	dev := newRecordingDevice(64)
	s := newTestSorter(t, WithDevice(dev))

	got, err := s.Sort(context.Background(), nil)
	if err != nil {
		t.Fatalf("Sort(nil): %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Sort(nil) = %v, want empty non-nil slice", got)
	}
	if cmds := dev.commands(); len(cmds) != 0 {
		t.Errorf("empty sort issued commands: %v", cmds)
	}
}

func TestSortDoesNotModifyInput(t *testing.T) {
	s := newTestSorter(t)
	in := []int32{9, 8, 7, 6, 5}
	orig := slices.Clone(in)

	if _, err := s.Sort(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, in); diff != "" {
		t.Errorf("input modified (-orig +now):\n%s", diff)
	}
}

func TestSortProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ctx := context.Background()

	inputs := map[string][]int32{
		"all equal":      slices.Repeat([]int32{7}, 100),
		"already sorted": {-5, -1, 0, 3, 3, 8, 12, 40, 41},
		"reverse sorted": {50, 40, 30, 20, 10, 0, -10, -20, -30, -40, -50},
		"extremes":       {math.MaxInt32, math.MinInt32, 0, math.MaxInt32, math.MinInt32},
	}
	for _, n := range []int{63, 64, 65, 127, 1000, 4096} {
		in := make([]int32, n)
		for i := range in {
			in[i] = rng.Int31() - rng.Int31()
		}
		inputs["random "+strconv.Itoa(n)] = in
	}

	for _, groupSize := range []int{2, 8, 64} {
		dev, err := OpenBackend("sim", BackendConfig{GroupSize: groupSize, Workers: 4})
		if err != nil {
			t.Fatal(err)
		}
		s := newTestSorter(t, WithDevice(dev))

		for name, in := range inputs {
			t.Run(name+"/g"+strconv.Itoa(groupSize), func(t *testing.T) {
				got, err := s.Sort(ctx, in)
				if err != nil {
					t.Fatalf("Sort: %v", err)
				}
				if len(got) != len(in) {
					t.Fatalf("len = %d, want %d", len(got), len(in))
				}
				if diff := cmp.Diff(sortedCopy(in), got); diff != "" {
					t.Fatalf("not a sorted permutation (-want +got):\n%s", diff)
				}

				again, err := s.Sort(ctx, got)
				if err != nil {
					t.Fatalf("Sort(sorted): %v", err)
				}
				if diff := cmp.Diff(got, again); diff != "" {
					t.Errorf("not idempotent (-first +second):\n%s", diff)
				}

				repeat, err := s.Sort(ctx, in)
				if err != nil {
					t.Fatalf("Sort repeat: %v", err)
				}
				if diff := cmp.Diff(got, repeat); diff != "" {
					t.Errorf("not deterministic (-first +repeat):\n%s", diff)
				}
			})
		}
	}
}

func TestSortLaneGoroutines(t *testing.T) {
	dev, err := OpenBackend("sim", BackendConfig{GroupSize: 16, LaneGoroutines: true})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSorter(t, WithDevice(dev))

	rng := rand.New(rand.NewSource(5))
	in := make([]int32, 300)
	for i := range in {
		in[i] = rng.Int31n(1000) - 500
	}
	got, err := s.Sort(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(sortedCopy(in), got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestSortCommandOrder(t *testing.T) {
	dev := newRecordingDevice(4)
	s := newTestSorter(t, WithDevice(dev))

	got, err := s.Sort(context.Background(), []int32{5, -3, 5, 2, 0, 2, -3, 9, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{-3, -3, 0, 1, 1, 2, 2, 5, 5, 9}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	// N' = 16, groupSize = 4: stages 2 and 3.
	want := []string{
		"allocate",
		"upload",
		"local_sort x4", "barrier",
		"global_merge(stage=2, substage=2) x4", "barrier",
		"global_merge(stage=2, substage=1) x4", "barrier",
		"global_merge(stage=2, substage=0) x4", "barrier",
		"global_merge(stage=3, substage=3) x4", "barrier",
		"global_merge(stage=3, substage=2) x4", "barrier",
		"global_merge(stage=3, substage=1) x4", "barrier",
		"global_merge(stage=3, substage=0) x4", "barrier",
		"download",
	}
	if diff := cmp.Diff(want, dev.commands()); diff != "" {
		t.Errorf("command stream mismatch (-want +got):\n%s", diff)
	}
	if dev.releasedCount() != 1 {
		t.Errorf("released = %d, want 1", dev.releasedCount())
	}
}

func TestSortSmallInputsSkipGlobalMerge(t *testing.T) {
	for _, in := range [][]int32{{1}, {3, 1}, {4, 3, 2, 1, 0}} {
		dev := newRecordingDevice(64)
		s := newTestSorter(t, WithDevice(dev))

		if _, err := s.Sort(context.Background(), in); err != nil {
			t.Fatal(err)
		}
		for _, cmd := range dev.commands() {
			if strings.HasPrefix(cmd, string(kernel.GlobalMerge)) {
				t.Errorf("len %d: unexpected %s", len(in), cmd)
			}
		}
	}
}

func TestSortDispatchError(t *testing.T) {
	cause := errors.New("queue lost")
	dev := newRecordingDevice(4)
	dev.failAt = 3
	dev.dispatchErr = cause
	s := newTestSorter(t, WithDevice(dev))

	got, err := s.Sort(context.Background(), make([]int32, 64))
	if got != nil {
		t.Errorf("Sort returned partial result %v", got)
	}
	if !errors.Is(err, ErrDevice) {
		t.Errorf("error = %v, want ErrDevice", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error = %v, want wrapped cause", err)
	}
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindDevice {
		t.Errorf("error = %#v, want *Error with KindDevice", err)
	}
	if dev.releasedCount() != 1 {
		t.Errorf("buffer not released on error: released = %d", dev.releasedCount())
	}
}

func TestSortDownloadError(t *testing.T) {
	dev := newRecordingDevice(4)
	dev.downloadErr = errors.New("map failed")
	s := newTestSorter(t, WithDevice(dev))

	_, err := s.Sort(context.Background(), []int32{3, 2, 1})
	if !errors.Is(err, ErrDevice) {
		t.Errorf("error = %v, want ErrDevice", err)
	}
	if dev.releasedCount() != 1 {
		t.Errorf("buffer not released on error: released = %d", dev.releasedCount())
	}
}

func TestSortResourceExhausted(t *testing.T) {
	dev, err := OpenBackend("sim", BackendConfig{GroupSize: 4, MemoryLimit: 64})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSorter(t, WithDevice(dev))

	// 16 elements fit in 64 bytes, 17 pad to 32.
	if _, err := s.Sort(context.Background(), make([]int32, 16)); err != nil {
		t.Fatalf("Sort(16): %v", err)
	}
	_, err = s.Sort(context.Background(), make([]int32, 17))
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("error = %v, want ErrResourceExhausted", err)
	}
	if errors.Is(err, ErrDevice) {
		t.Errorf("error %v must not match ErrDevice", err)
	}
}

func TestSortAllocateError(t *testing.T) {
	dev := newRecordingDevice(4)
	dev.allocErr = kernel.ErrBufferTooLarge
	s := newTestSorter(t, WithDevice(dev))

	if _, err := s.Sort(context.Background(), []int32{1, 2}); !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("error = %v, want ErrResourceExhausted", err)
	}
}

func TestSortCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := newRecordingDevice(4)
	dev.cancel = cancel
	dev.cancelAt = 2
	s := newTestSorter(t, WithDevice(dev))

	got, err := s.Sort(ctx, make([]int32, 64))
	if got != nil {
		t.Errorf("Sort returned partial result after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if !IsCanceled(err) {
		t.Errorf("IsCanceled(%v) = false", err)
	}
	if dev.releasedCount() != 1 {
		t.Errorf("buffer not released on cancellation: released = %d", dev.releasedCount())
	}
	for _, cmd := range dev.commands() {
		if cmd == "download" {
			t.Error("download issued after cancellation")
		}
	}
}

func TestSortCanceledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestSorter(t)
	if _, err := s.Sort(ctx, []int32{2, 1}); !IsCanceled(err) {
		t.Errorf("error = %v, want cancellation", err)
	}
}

func TestSortMany(t *testing.T) {
	s := newTestSorter(t, WithConcurrency(3))

	rng := rand.New(rand.NewSource(9))
	inputs := make([][]int32, 10)
	for i := range inputs {
		in := make([]int32, 50+i*37)
		for j := range in {
			in[j] = rng.Int31n(200) - 100
		}
		inputs[i] = in
	}
	inputs = append(inputs, nil)

	got, err := s.SortMany(context.Background(), inputs)
	if err != nil {
		t.Fatalf("SortMany: %v", err)
	}
	if len(got) != len(inputs) {
		t.Fatalf("len = %d, want %d", len(got), len(inputs))
	}
	for i, in := range inputs {
		if diff := cmp.Diff(sortedCopy(in), got[i], cmpEmpty); diff != "" {
			t.Errorf("input %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

// cmpEmpty treats nil and empty slices as equal.
var cmpEmpty = cmp.Comparer(func(a, b []int32) bool { return slices.Equal(a, b) })

func TestSortManyError(t *testing.T) {
	dev, err := OpenBackend("sim", BackendConfig{GroupSize: 4, MemoryLimit: 256})
	if err != nil {
		t.Fatal(err)
	}
	s := newTestSorter(t, WithDevice(dev), WithConcurrency(1))

	_, err = s.SortMany(context.Background(), [][]int32{{3, 2, 1}, make([]int32, 1000)})
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("error = %v, want ErrResourceExhausted", err)
	}
	if !strings.Contains(err.Error(), "input 1") {
		t.Errorf("error %q does not name the failing input", err)
	}
}

func TestPackageSort(t *testing.T) {
	got, err := Sort(context.Background(), []int32{2, 3, 1})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{1, 2, 3}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	d1, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("Default() returned different sorters")
	}
}

func TestNewInvalidDeviceGroupSize(t *testing.T) {
	dev := newRecordingDevice(48)
	if _, err := New(WithDevice(dev)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("New with group size 48: error = %v, want ErrInvalidInput", err)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.closed {
		t.Error("rejected device was not closed")
	}
}

func TestSorterClose(t *testing.T) {
	dev := newRecordingDevice(4)
	s, err := New(WithDevice(dev))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !dev.closed {
		t.Error("device not closed")
	}
}

func TestSorterPlan(t *testing.T) {
	s := newTestSorter(t)
	p, err := s.Plan(1000)
	if err != nil {
		t.Fatal(err)
	}
	if p.Padded != 1024 || p.GroupSize != kernel.DefaultGroupSize {
		t.Errorf("Plan(1000) = padded %d, group size %d", p.Padded, p.GroupSize)
	}
}
