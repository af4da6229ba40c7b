package wide

// Lanes is the number of elements in an I32x8.
const Lanes = 8

// I32x8 represents 8 int32 values for SIMD-style operations.
type I32x8 [Lanes]int32

// LoadI32 loads the first 8 elements of s. It panics if len(s) < 8.
func LoadI32(s []int32) I32x8 {
	var v I32x8
	copy(v[:], s[:Lanes])
	return v
}

// Store writes v to the first 8 elements of s. It panics if len(s) < 8.
func (v I32x8) Store(s []int32) {
	copy(s[:Lanes], v[:])
}

// Min returns the element-wise minimum.
func (v I32x8) Min(other I32x8) I32x8 {
	var result I32x8
	for i := range v {
		result[i] = min(v[i], other[i])
	}
	return result
}

// Max returns the element-wise maximum.
func (v I32x8) Max(other I32x8) I32x8 {
	var result I32x8
	for i := range v {
		result[i] = max(v[i], other[i])
	}
	return result
}

// CompareExchange orders lo[i], hi[i] for every i: ascending puts the
// smaller value in lo, descending puts it in hi.
func CompareExchange(lo, hi I32x8, ascending bool) (I32x8, I32x8) {
	small, large := lo.Min(hi), lo.Max(hi)
	if ascending {
		return small, large
	}
	return large, small
}
