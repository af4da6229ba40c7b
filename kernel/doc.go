// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package kernel defines the bitonic sorting network shared by every
// gpusort device: the comparator, the two compute entry points and the
// contract between the host orchestrator and a device.
//
// The network is split into two kernels:
//   - local_sort sorts each group of GroupSize contiguous elements using only
//     the in-group barrier, leaving the groups alternately ascending and
//     descending.
//   - global_merge performs exactly one comparator layer of one
//     (stage, substage) pair across the whole array. It has no barrier; the
//     host must drain every dispatch before issuing the next.
//
// The Go functions in this package are lane-level renditions of the WGSL
// entry points returned by Source. CPU devices call them directly; GPU
// devices compile the WGSL.
package kernel
