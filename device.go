package gpusort

import "github.com/gogpu/gpusort/gpucore"

// Device is a data-parallel device able to run the bitonic kernels.
// See gpucore.Device.
type Device = gpucore.Device

// Buffer is a device working array with its command stream.
// See gpucore.Buffer.
type Buffer = gpucore.Buffer
