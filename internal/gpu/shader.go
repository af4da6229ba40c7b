// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/gpusort/internal/cache"
	"github.com/gogpu/gpusort/kernel"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// spirvCache holds compiled modules by group size. There are only eight
// valid group sizes.
var spirvCache = cache.New[int, []uint32](8)

// CompileKernels compiles the bitonic WGSL module for groupSize to SPIR-V
// words. Results are cached per group size and must not be modified.
func CompileKernels(groupSize int) ([]uint32, error) {
	words, err := spirvCache.Load(groupSize, func() ([]uint32, error) {
		src, err := kernel.Source(groupSize)
		if err != nil {
			return nil, err
		}
		return compileToSPIRV(src)
	})
	if err != nil {
		return nil, err
	}
	st := spirvCache.Stats()
	slogger().Debug("gpu: kernel module ready", "group_size", groupSize, "spirv_words", len(words),
		"cached_modules", st.Len, "cache_hit_rate", st.HitRate())
	return words, nil
}

// compileToSPIRV compiles WGSL source to a SPIR-V uint32 slice.
func compileToSPIRV(wgslSource string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(wgslSource)
	if err != nil {
		return nil, fmt.Errorf("compile bitonic shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("compile bitonic shader: SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[i*4:])
	}
	if len(words) == 0 || words[0] != spirvMagic {
		return nil, fmt.Errorf("compile bitonic shader: bad SPIR-V magic")
	}
	return words, nil
}
