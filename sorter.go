package gpusort

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpusort/kernel"
)

// Sorter runs bitonic sorts on one device.
//
// Thread safety: Sorter is safe for concurrent use. Every Sort allocates
// its own working buffer.
type Sorter struct {
	dev         Device
	logger      *slog.Logger
	concurrency int

	closeOnce sync.Once
	closeErr  error
}

// New creates a Sorter. Without WithDevice it opens the "sim" backend with
// default settings.
func New(opts ...Option) (*Sorter, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	dev := o.device
	if dev == nil {
		d, err := OpenBackend("sim", BackendConfig{})
		if err != nil {
			return nil, err
		}
		dev = d
	}
	if err := kernel.CheckGroupSize(dev.GroupSize()); err != nil {
		untrackDevice(dev)
		if cerr := dev.Close(); cerr != nil {
			Logger().Warn("gpusort: close rejected device", "device", dev.Name(), "err", cerr)
		}
		return nil, invalidInput("new", fmt.Errorf("device %s: %w", dev.Name(), err))
	}
	if o.logger != nil {
		propagateLogger(dev, o.logger)
	}

	concurrency := o.concurrency
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	return &Sorter{
		dev:         dev,
		logger:      o.logger,
		concurrency: concurrency,
	}, nil
}

// Device returns the device the Sorter dispatches to.
func (s *Sorter) Device() Device { return s.dev }

// Close closes the device. It is safe to call more than once.
func (s *Sorter) Close() error {
	s.closeOnce.Do(func() {
		untrackDevice(s.dev)
		s.closeErr = s.dev.Close()
	})
	return s.closeErr
}

func (s *Sorter) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return Logger()
}

// Plan returns the dispatch schedule Sort would execute for n elements.
func (s *Sorter) Plan(n int) (*Plan, error) {
	return NewPlan(n, s.dev.GroupSize())
}

// Sort returns a sorted copy of host in non-decreasing order. host is not
// modified.
//
// The dispatches run in strict order with a barrier after each one. If ctx
// is canceled between dispatches, the working buffer is released and the
// wrapped context error is returned; no partial result is produced.
func (s *Sorter) Sort(ctx context.Context, host []int32) ([]int32, error) {
	if len(host) == 0 {
		return []int32{}, nil
	}

	plan, err := s.Plan(len(host))
	if err != nil {
		return nil, err
	}

	work := make([]int32, plan.Padded)
	copy(work, host)
	for i := len(host); i < len(work); i++ {
		work[i] = kernel.Sentinel
	}

	buf, err := s.dev.Allocate(ctx, plan.Padded)
	if err != nil {
		return nil, deviceError("allocate", err)
	}
	defer buf.Release()

	if err := buf.Upload(ctx, work); err != nil {
		return nil, deviceError("upload", err)
	}

	log := s.log()
	log.Debug("gpusort: sort",
		"device", s.dev.Name(),
		"length", plan.Length,
		"padded", plan.Padded,
		"dispatches", len(plan.Dispatches))

	for i, d := range plan.Dispatches {
		if err := ctx.Err(); err != nil {
			log.Debug("gpusort: sort canceled", "completed", i, "dispatches", len(plan.Dispatches))
			return nil, fmt.Errorf("gpusort: sort canceled after %d of %d dispatches: %w",
				i, len(plan.Dispatches), err)
		}
		if err := buf.Dispatch(ctx, d); err != nil {
			return nil, deviceError("dispatch "+d.String(), err)
		}
		if err := buf.Barrier(ctx); err != nil {
			return nil, deviceError("barrier "+d.String(), err)
		}
	}

	if err := buf.Download(ctx, work); err != nil {
		return nil, deviceError("download", err)
	}
	return work[:len(host):len(host)], nil
}

// SortMany sorts every input independently and concurrently, at most
// WithConcurrency sorts at a time. Results are in input order. The first
// failure cancels the remaining sorts and is returned.
func (s *Sorter) SortMany(ctx context.Context, inputs [][]int32) ([][]int32, error) {
	out := make([][]int32, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			sorted, err := s.Sort(gctx, in)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
			out[i] = sorted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

var (
	defaultMu     sync.Mutex
	defaultSorter *Sorter
)

// Default returns the package Sorter backed by the simulator, creating it
// on first use.
func Default() (*Sorter, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSorter != nil {
		return defaultSorter, nil
	}
	s, err := New()
	if err != nil {
		return nil, err
	}
	defaultSorter = s
	return s, nil
}

// Sort sorts host with the default Sorter. See Sorter.Sort.
func Sort(ctx context.Context, host []int32) ([]int32, error) {
	s, err := Default()
	if err != nil {
		return nil, err
	}
	return s.Sort(ctx, host)
}

// IsCanceled reports whether err comes from a canceled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
