// Package gpusort sorts int32 slices with a bitonic sorting network executed
// on a data-parallel device.
//
// # Overview
//
// The network runs as two compute kernels. local_sort sorts every group of
// GroupSize elements, alternating ascending and descending groups so that
// neighbouring groups form bitonic sequences.
// global_merge applies one comparator layer across the whole array; the
// host issues it once per (stage, substage) pair until the array is sorted.
// A barrier follows every dispatch.
//
// # Quick Start
//
//	sorted, err := gpusort.Sort(ctx, []int32{5, 2, 9, 1})
//	// sorted == [1 2 5 9]
//
// The package-level Sort uses the in-process simulator. To run on a GPU,
// blank-import a backend and open it by name:
//
//	import _ "github.com/gogpu/gpusort/gpu" // registers "wgpu"
//
//	dev, err := gpusort.OpenBackend("wgpu", gpusort.BackendConfig{})
//	if err != nil {
//	    return err
//	}
//	s, err := gpusort.New(gpusort.WithDevice(dev))
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	sorted, err := s.Sort(ctx, data)
//
// # Lengths
//
// Inputs of any length are accepted. The working buffer is the next power
// of two, padded with math.MaxInt32 which sorts to the tail and is cut off
// on read-back. Inputs already containing math.MaxInt32 sort correctly.
//
// # Errors
//
// Failures are reported as *Error and match ErrInvalidInput, ErrDevice or
// ErrResourceExhausted with errors.Is. Cancellation returns the context
// error, wrapped.
package gpusort

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
