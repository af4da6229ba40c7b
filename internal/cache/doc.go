// Package cache memoizes compiled kernels.
//
// Translating the bitonic module with naga takes far longer than a small
// sort, and a device is usually opened more than once per process for the
// same group size. Cache holds the results keyed by group size:
//
//	var spirvCache = cache.New[int, []uint32](8)
//
//	words, err := spirvCache.Load(groupSize, func() ([]uint32, error) {
//	    return compile(groupSize)
//	})
//
// Failed loads are not cached. Cache is safe for concurrent use.
package cache
