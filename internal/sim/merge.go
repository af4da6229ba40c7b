package sim

import (
	"github.com/gogpu/gpusort/internal/wide"
	"github.com/gogpu/gpusort/kernel"
)

// minWideSubstage is the smallest substage whose comparator distance spans
// a whole I32x8.
const minWideSubstage = 3

// canMergeWide reports whether a global_merge group can run on I32x8 runs.
func canMergeWide(p kernel.Params, groupSize uint32) bool {
	return p.Substage >= minWideSubstage && groupSize >= wide.Lanes
}

// mergeGroupWide runs global_merge for the lanes [offset, offset+groupSize)
// eight at a time. It matches kernel.GlobalMergeLane on every lane when
// canMergeWide holds: an aligned run of 8 lanes shares bit d, so either all
// of them are lower lanes or none, and shares bit k, so one direction.
func mergeGroupWide(data []int32, offset, groupSize uint32, p kernel.Params) {
	d := uint32(1) << p.Substage
	k := uint32(1) << (p.Stage + 1)
	for base := offset; base < offset+groupSize; base += wide.Lanes {
		if base&d != 0 {
			continue
		}
		if base+d+wide.Lanes > p.Length {
			for lane := base; lane < base+wide.Lanes; lane++ {
				kernel.GlobalMergeLane(data, lane, p)
			}
			continue
		}
		lo := wide.LoadI32(data[base:])
		hi := wide.LoadI32(data[base+d:])
		lo, hi = wide.CompareExchange(lo, hi, base&k == 0)
		lo.Store(data[base:])
		hi.Store(data[base+d:])
	}
}
