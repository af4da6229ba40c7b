// Package wide provides SIMD-friendly wide types for batch comparator work.
//
// The types are fixed-size arrays operated on with simple loops, which the
// Go compiler can auto-vectorize on supported architectures (SSE, AVX,
// NEON). No unsafe and no assembly.
//
// # I32x8
//
// I32x8 holds 8 int32 values. A global-merge layer whose comparator
// distance is at least 8 pairs aligned runs of 8 lanes with 8 partners that
// all share one direction, so the layer can be applied a run at a time:
//
//	lo := wide.LoadI32(data[i:])
//	hi := wide.LoadI32(data[i+d:])
//	lo, hi = wide.CompareExchange(lo, hi, ascending)
//	lo.Store(data[i:])
//	hi.Store(data[i+d:])
package wide
