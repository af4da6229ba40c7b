// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import "encoding/binary"

// ParamsSize is the byte size of the Params uniform, padded to 16 bytes.
const ParamsSize = 16

// Params is the uniform block read by both entry points.
//
// It must match the Params struct in bitonic.wgsl: four consecutive u32
// fields, the last one padding.
type Params struct {
	// Stage selects the merge size k = 1 << (Stage+1). global_merge only.
	Stage uint32

	// Substage selects the comparator distance d = 1 << Substage.
	// global_merge only.
	Substage uint32

	// Length is the working buffer length N'.
	Length uint32
}

// Bytes serializes p in little-endian order matching the WGSL layout.
func (p Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:4], p.Stage)
	le.PutUint32(buf[4:8], p.Substage)
	le.PutUint32(buf[8:12], p.Length)
	return buf
}
