// Package gpucore provides the shared device abstractions of the gpusort
// pipeline.
//
// This package defines the [Device] and [Buffer] interfaces, which abstract
// over the backends that can run the bitonic kernels:
//   - internal/sim (in-process reference simulator, always available)
//   - gogpu/wgpu (Pure Go WebGPU via HAL, see package gpu)
//   - OpenGL 4.3 compute through go-gl (see package gl, cgo only)
//
// # Architecture
//
// The dispatch schedule is computed once in the root package; backends are
// thin adapters that execute one [kernel.Dispatch] at a time.
//
//	               +-----------------+
//	               |     gpusort     |
//	               | (Sorter, Plan)  |
//	               +--------+--------+
//	                        |
//	       +----------------+----------------+
//	       |                |                |
//	+------v------+  +------v------+  +------v------+
//	|     sim     |  |    wgpu     |  |     gl      |
//	| (goroutines)|  | (hal.Device)|  | (glgl/go-gl)|
//	+-------------+  +-------------+  +-------------+
//
// # Ordering
//
// A [Buffer] owns its command stream. The caller issues Upload, then a
// strict sequence of Dispatch calls each followed by Barrier, then Download.
// A backend may execute a dispatch asynchronously, but all writes of a
// dispatch must be visible to the next dispatch once Barrier returns.
//
// # Resource Management
//
// Buffers must be released with [Buffer.Release] on every path, including
// errors and cancellation. Releasing twice is a no-op.
package gpucore
