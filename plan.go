package gpusort

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpusort/kernel"
)

// Plan is the dispatch schedule for one sort. Every dispatch is followed by
// a barrier when executed.
type Plan struct {
	// Length is the caller's element count N.
	Length int

	// Padded is the working buffer length N', the next power of two >= N.
	// Zero for an empty input.
	Padded int

	// GroupSize is the local-sort partition width.
	GroupSize int

	// Groups is the number of groups launched by every dispatch.
	Groups uint32

	// Dispatches lists the kernel invocations in execution order: one
	// local_sort followed by the global_merge layers.
	Dispatches []kernel.Dispatch
}

// NewPlan computes the dispatch schedule for n elements on a device with
// the given group size.
func NewPlan(n, groupSize int) (*Plan, error) {
	if n < 0 || n > kernel.MaxLength {
		return nil, invalidInput("plan", fmt.Errorf("length %d outside [0, %d]", n, kernel.MaxLength))
	}
	if err := kernel.CheckGroupSize(groupSize); err != nil {
		return nil, invalidInput("plan", err)
	}

	p := &Plan{Length: n, GroupSize: groupSize}
	if n == 0 {
		return p, nil
	}

	p.Padded = kernel.NextPowerOfTwo(n)
	p.Groups = kernel.Groups(p.Padded, groupSize)
	length := uint32(p.Padded) //nolint:gosec // <= kernel.MaxLength

	p.Dispatches = make([]kernel.Dispatch, 0, 1+GlobalMergeCount(p.Padded, groupSize))
	p.Dispatches = append(p.Dispatches, kernel.Dispatch{
		Entry:  kernel.LocalSort,
		Groups: p.Groups,
		Params: kernel.Params{Length: length},
	})

	logN := kernel.Log2(p.Padded)
	for s := kernel.Log2(groupSize); s < logN; s++ {
		for j := s; j >= 0; j-- {
			p.Dispatches = append(p.Dispatches, kernel.Dispatch{
				Entry:  kernel.GlobalMerge,
				Groups: p.Groups,
				Params: kernel.Params{
					Stage:    uint32(s), //nolint:gosec // < 31
					Substage: uint32(j), //nolint:gosec // < 31
					Length:   length,
				},
			})
		}
	}
	return p, nil
}

// GlobalMerges returns the number of global_merge dispatches in p.
func (p *Plan) GlobalMerges() int {
	if len(p.Dispatches) == 0 {
		return 0
	}
	return len(p.Dispatches) - 1
}

// String renders the schedule one dispatch per line.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "sort %d elements (padded %d, group size %d, %d groups)\n",
		p.Length, p.Padded, p.GroupSize, p.Groups)
	for i, d := range p.Dispatches {
		fmt.Fprintf(&b, "%4d  %s; barrier\n", i, d)
	}
	return b.String()
}

// GlobalMergeCount returns the number of global_merge dispatches needed for
// a working buffer of padded elements: the sum of s+1 over the stages
// s = log2(groupSize) .. log2(padded)-1. It is zero when padded <= groupSize.
func GlobalMergeCount(padded, groupSize int) int {
	count := 0
	for s := kernel.Log2(groupSize); s < kernel.Log2(padded); s++ {
		count += s + 1
	}
	return count
}
