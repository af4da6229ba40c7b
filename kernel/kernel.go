// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Sentinel pads the working buffer up to a power of two. It is the largest
// int32, so padding sorts to the tail and is cut off on read-back.
const Sentinel int32 = math.MaxInt32

// ElementSize is the size of one element in device memory, in bytes.
const ElementSize = 4

// DefaultGroupSize is the local-sort partition width used when a device is
// not configured otherwise.
const DefaultGroupSize = 64

// MaxGroupSize bounds the group size to the WebGPU default limit on
// invocations per workgroup.
const MaxGroupSize = 256

// MaxLength is the longest working buffer the network addresses. Indices and
// partner indices must fit in a u32 and the stage mask 1<<(stage+1) must not
// overflow. On 32-bit platforms it is the largest power of two an int holds.
const MaxLength = min(1<<31, math.MaxInt>>1+1)

var (
	// ErrBufferTooLarge is returned by devices when a working buffer does not
	// fit in device memory or exceeds a device limit.
	ErrBufferTooLarge = errors.New("kernel: buffer too large for device")

	// ErrInvalidGroupSize is returned for group sizes that are not a power
	// of two in [2, MaxGroupSize].
	ErrInvalidGroupSize = errors.New("kernel: group size must be a power of two in [2, 256]")
)

// EntryPoint names a compute entry point of the bitonic module.
type EntryPoint string

const (
	// LocalSort sorts each group of GroupSize elements in place.
	LocalSort EntryPoint = "local_sort"

	// GlobalMerge applies one comparator layer across the whole array.
	GlobalMerge EntryPoint = "global_merge"
)

// Valid reports whether e names one of the module's entry points.
func (e EntryPoint) Valid() bool {
	return e == LocalSort || e == GlobalMerge
}

// Dispatch is one kernel invocation: an entry point, the number of groups
// of GroupSize lanes to launch and the uniform parameters.
type Dispatch struct {
	Entry  EntryPoint
	Groups uint32
	Params Params
}

func (d Dispatch) String() string {
	if d.Entry == GlobalMerge {
		return fmt.Sprintf("%s(stage=%d, substage=%d) x%d", d.Entry, d.Params.Stage, d.Params.Substage, d.Groups)
	}
	return fmt.Sprintf("%s x%d", d.Entry, d.Groups)
}

// CheckGroupSize validates a local-sort partition width.
func CheckGroupSize(groupSize int) error {
	if groupSize < 2 || groupSize > MaxGroupSize || groupSize&(groupSize-1) != 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidGroupSize, groupSize)
	}
	return nil
}

// NextPowerOfTwo returns the smallest power of two >= n. It returns 1 for
// n <= 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Log2 returns log2(n) for a power of two n.
func Log2(n int) int {
	return bits.TrailingZeros(uint(n))
}

// Groups returns the number of groups of groupSize lanes needed to cover
// length elements.
func Groups(length, groupSize int) uint32 {
	return uint32((length + groupSize - 1) / groupSize) //nolint:gosec // length <= MaxLength
}

// CompareAndSwap exchanges data[i] and data[j] when
// (data[i] > data[j]) == ascending.
func CompareAndSwap(data []int32, i, j uint32, ascending bool) {
	a, b := data[i], data[j]
	if (a > b) == ascending {
		data[i], data[j] = b, a
	}
}

// Step is one comparator layer of the local sort: merge size K and
// comparator distance J.
type Step struct {
	K, J uint32
}

// LocalSteps returns the comparator layers of the local sort in execution
// order. A group barrier follows every step.
func LocalSteps(groupSize uint32) []Step {
	var steps []Step
	for k := uint32(2); k <= groupSize; k <<= 1 {
		for j := k >> 1; j > 0; j >>= 1 {
			steps = append(steps, Step{K: k, J: j})
		}
	}
	return steps
}

// LocalSortStep runs one local-sort layer for a single lane of the group
// starting at offset. length is the working buffer length; partners at or
// beyond it are skipped.
//
// The direction comes from the global index so that neighbouring groups end
// up in opposite orders.
func LocalSortStep(data []int32, offset, lane uint32, s Step, length uint32) {
	partner := lane ^ s.J
	if partner <= lane || offset+partner >= length {
		return
	}
	idx := offset + lane
	CompareAndSwap(data, idx, offset+partner, idx&s.K == 0)
}

// LocalSortGroup runs the whole local sort of one group on the calling
// goroutine. Every step sweeps all lanes before the next begins, which is
// the ordering the group barrier provides on a device.
func LocalSortGroup(data []int32, group, groupSize, length uint32) {
	offset := group * groupSize
	for _, s := range LocalSteps(groupSize) {
		for lane := uint32(0); lane < groupSize; lane++ {
			LocalSortStep(data, offset, lane, s, length)
		}
	}
}

// GlobalMergeLane runs the global_merge kernel for the element at idx.
// Only the lower-indexed lane of a pair acts.
func GlobalMergeLane(data []int32, idx uint32, p Params) {
	k := uint32(1) << (p.Stage + 1)
	partner := idx ^ (uint32(1) << p.Substage)
	if idx >= p.Length || partner <= idx || partner >= p.Length {
		return
	}
	CompareAndSwap(data, idx, partner, idx&k == 0)
}
