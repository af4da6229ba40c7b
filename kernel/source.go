// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package kernel

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
)

//go:embed bitonic.wgsl
var bitonicTemplate string

// Binding indices of the bitonic module, @group(0).
const (
	// BindingData is the read_write storage buffer of elements.
	BindingData = 0

	// BindingParams is the Params uniform buffer.
	BindingParams = 1
)

// Source returns the WGSL module with both entry points compiled for the
// given workgroup size.
func Source(groupSize int) (string, error) {
	if err := CheckGroupSize(groupSize); err != nil {
		return "", err
	}

	var steps strings.Builder
	for _, s := range LocalSteps(uint32(groupSize)) { //nolint:gosec // checked above
		fmt.Fprintf(&steps, "    local_step(offset, lane, %du, %du);\n", s.K, s.J)
		steps.WriteString("    storageBarrier();\n    workgroupBarrier();\n")
	}

	r := strings.NewReplacer(
		"{{GROUP_SIZE}}", strconv.Itoa(groupSize),
		"{{LOCAL_STEPS}}", steps.String(),
	)
	return r.Replace(bitonicTemplate), nil
}
