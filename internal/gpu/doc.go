//go:build !nogpu

// Package gpu runs the bitonic kernels on a GPU through gogpu/wgpu HAL.
//
// The WGSL module from the kernel package is compiled to SPIR-V with naga
// and loaded once per device as two compute pipelines, local_sort and
// global_merge, sharing one bind group layout:
//
//	@group(0) @binding(0) var<storage, read_write> data: array<i32>
//	@group(0) @binding(1) var<uniform> params: Params
//
// Every dispatch is recorded as its own compute pass with its own uniform
// buffer. WebGPU makes storage writes of one pass visible to the next, so
// the pass boundary is the barrier between dispatches. Commands are
// submitted once, on Download, followed by a copy to a staging buffer. The
// queue is polled until the submission completes and the staging buffer is
// then mapped and read.
package gpu
