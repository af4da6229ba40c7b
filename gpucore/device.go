package gpucore

import (
	"context"

	"github.com/gogpu/gpusort/kernel"
)

// Device abstracts a data-parallel device able to run the bitonic kernels.
//
// Implementations must be safe for concurrent use: independent sorts
// allocate their own buffers on the same device.
type Device interface {
	// Name identifies the backend, e.g. "sim" or "wgpu".
	Name() string

	// GroupSize returns the workgroup width the kernels were compiled for.
	// It is a power of two in [2, kernel.MaxGroupSize].
	GroupSize() int

	// Allocate creates a working buffer of n int32 elements. n is a power
	// of two. Oversize requests fail with an error wrapping
	// kernel.ErrBufferTooLarge.
	Allocate(ctx context.Context, n int) (Buffer, error)

	// Close releases the device. Buffers must be released first.
	Close() error
}

// Buffer is a device-resident working array together with the command
// stream that operates on it.
//
// A Buffer is used by one sort at a time and is not safe for concurrent use.
type Buffer interface {
	// Len returns the number of elements.
	Len() int

	// Upload copies src, which must have Len elements, to the device.
	Upload(ctx context.Context, src []int32) error

	// Dispatch issues one kernel invocation over the buffer.
	Dispatch(ctx context.Context, d kernel.Dispatch) error

	// Barrier blocks until the writes of every issued dispatch are visible
	// to subsequent dispatches.
	Barrier(ctx context.Context) error

	// Download copies the buffer into dst, which must have Len elements.
	Download(ctx context.Context, dst []int32) error

	// Release frees the device memory. It is safe to call more than once.
	Release()
}

// Stats counts the commands a device has executed.
type Stats struct {
	Buffers    uint64
	Uploads    uint64
	Dispatches uint64
	Barriers   uint64
	Downloads  uint64
}

// StatsReporter is implemented by devices that count their commands.
type StatsReporter interface {
	Stats() Stats
}
