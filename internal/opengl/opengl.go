package opengl

import (
	"errors"

	"github.com/gogpu/gpusort/kernel"
)

// Name is the backend name of the OpenGL device.
const Name = "gl"

// glslVersion is the OpenGL version the context is requested with. 4.3 is
// the first with compute shaders and storage buffers.
var glslVersion = [2]int{4, 3}

var (
	// ErrNoCGO is returned by Open in builds without cgo.
	ErrNoCGO = errors.New("opengl: OpenGL compute requires cgo")

	// ErrClosed is returned when a closed device is used.
	ErrClosed = errors.New("opengl: device closed")

	// ErrReleased is returned when a released buffer is used.
	ErrReleased = errors.New("opengl: buffer released")

	// ErrUnfenced is returned when a command is issued while the previous
	// dispatch has not been followed by a Barrier.
	ErrUnfenced = errors.New("opengl: command issued before barrier on previous dispatch")

	// ErrInvalidLength is returned for buffer lengths that are not a
	// positive power of two, and for host slices of the wrong length.
	ErrInvalidLength = errors.New("opengl: invalid length")

	// ErrGroupSize is returned when the driver cannot run workgroups of the
	// configured size.
	ErrGroupSize = errors.New("opengl: group size exceeds driver compute invocation limit")
)

// Config configures an OpenGL device.
type Config struct {
	// GroupSize is the workgroup width. Defaults to kernel.DefaultGroupSize
	// if zero.
	GroupSize int

	// MemoryLimit is the budget in bytes for storage buffers. Zero is
	// unlimited.
	MemoryLimit uint64
}

func (c Config) groupSize() (int, error) {
	groupSize := c.GroupSize
	if groupSize == 0 {
		groupSize = kernel.DefaultGroupSize
	}
	if err := kernel.CheckGroupSize(groupSize); err != nil {
		return 0, err
	}
	return groupSize, nil
}
