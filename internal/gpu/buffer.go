// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"context"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpusort/internal/memory"
	"github.com/gogpu/gpusort/kernel"
)

// buffer is a working array on the GPU. Dispatches are recorded into one
// command encoder as separate compute passes and submitted on Download.
type buffer struct {
	dev *Device
	n   int

	size    uint64
	storage hal.Buffer
	staging hal.Buffer
	res     *memory.Reservation

	// Recording state, reset after every submission.
	encoder    hal.CommandEncoder
	uniforms   []hal.Buffer
	bindGroups []hal.BindGroup
	passes     int
	unfenced   bool

	released bool
}

func (b *buffer) Len() int { return b.n }

func (b *buffer) ready() error {
	if b.released {
		return ErrReleased
	}
	if b.unfenced {
		return ErrUnfenced
	}
	return nil
}

// Upload writes src to the storage buffer. Any recorded passes are
// submitted first so the write cannot overtake them.
func (b *buffer) Upload(ctx context.Context, src []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if len(src) != b.n {
		return fmt.Errorf("%w: upload of %d elements into buffer of %d", ErrInvalidLength, len(src), b.n)
	}

	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.dev.closed {
		return ErrClosed
	}
	if b.encoder != nil {
		if err := b.submitLocked(ctx, false); err != nil {
			return err
		}
	}

	if err := b.dev.queue.WriteBuffer(b.storage, 0, packInt32(src)); err != nil {
		return fmt.Errorf("gpu: upload: %w", err)
	}
	b.dev.uploads.Add(1)
	return nil
}

// Dispatch records one compute pass with its own params uniform.
func (b *buffer) Dispatch(ctx context.Context, d kernel.Dispatch) error {
	if err := b.ready(); err != nil {
		return fmt.Errorf("%s: %w", d, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !d.Entry.Valid() {
		return fmt.Errorf("gpu: unknown entry point %q", d.Entry)
	}

	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.dev.closed {
		return ErrClosed
	}

	if b.encoder == nil {
		encoder, err := b.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bitonic_encoder"})
		if err != nil {
			return fmt.Errorf("gpu: create command encoder: %w", err)
		}
		if err := encoder.BeginEncoding("bitonic"); err != nil {
			encoder.Destroy()
			return fmt.Errorf("gpu: begin encoding: %w", err)
		}
		b.encoder = encoder
	}

	ub, err := b.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bitonic_params", Size: kernel.ParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create params buffer: %w", err)
	}
	b.uniforms = append(b.uniforms, ub)
	if err := b.dev.queue.WriteBuffer(ub, 0, d.Params.Bytes()); err != nil {
		return fmt.Errorf("gpu: write params for %s: %w", d, err)
	}

	bg, err := b.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "bitonic_bind", Layout: b.dev.pipes.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: kernel.BindingData, Resource: gputypes.BufferBinding{Buffer: b.storage.NativeHandle(), Offset: 0, Size: b.size}},
			{Binding: kernel.BindingParams, Resource: gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: kernel.ParamsSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("gpu: create bind group: %w", err)
	}
	b.bindGroups = append(b.bindGroups, bg)

	pass := b.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: string(d.Entry)})
	pass.SetPipeline(b.dev.pipes.get(d.Entry))
	pass.SetBindGroup(0, bg, nil)
	pass.Dispatch(d.Groups, 1, 1)
	pass.End()

	b.passes++
	b.unfenced = true
	b.dev.dispatches.Add(1)
	slogger().Debug("gpu: dispatch recorded", "kernel", d.String(), "pass", b.passes)
	return nil
}

// Barrier closes the current dispatch. The compute pass boundary already
// orders storage writes, so nothing is submitted here.
func (b *buffer) Barrier(ctx context.Context) error {
	if b.released {
		return ErrReleased
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.unfenced = false
	b.dev.barriers.Add(1)
	return nil
}

// Download submits the recorded passes, copies the result to the staging
// buffer and reads it back.
func (b *buffer) Download(ctx context.Context, dst []int32) error {
	if err := b.ready(); err != nil {
		return err
	}
	if len(dst) != b.n {
		return fmt.Errorf("%w: download of %d elements from buffer of %d", ErrInvalidLength, len(dst), b.n)
	}

	b.dev.mu.Lock()
	defer b.dev.mu.Unlock()
	if b.dev.closed {
		return ErrClosed
	}

	if err := b.submitLocked(ctx, true); err != nil {
		return err
	}

	if err := b.readLocked(dst); err != nil {
		return err
	}
	b.dev.downloads.Add(1)
	return nil
}

// readLocked maps the staging buffer and unpacks it into dst. The staging
// copy must have completed. Caller must hold dev.mu.
func (b *buffer) readLocked(dst []int32) error {
	mapping, err := b.dev.device.MapBuffer(b.staging, 0, b.size)
	if err != nil {
		return fmt.Errorf("gpu: map staging buffer: %w", err)
	}
	unpackInt32(unsafe.Slice((*byte)(mapping.Ptr), b.size), dst)
	if err := b.dev.device.UnmapBuffer(b.staging); err != nil {
		return fmt.Errorf("gpu: unmap staging buffer: %w", err)
	}
	return nil
}

// submitLocked ends the recording, optionally appends the staging copy,
// submits and waits until the queue reports the submission complete.
// Caller must hold dev.mu.
func (b *buffer) submitLocked(ctx context.Context, readback bool) error {
	if err := ctx.Err(); err != nil {
		b.discardLocked()
		return err
	}

	if b.encoder == nil {
		encoder, err := b.dev.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bitonic_encoder"})
		if err != nil {
			return fmt.Errorf("gpu: create command encoder: %w", err)
		}
		if err := encoder.BeginEncoding("bitonic"); err != nil {
			encoder.Destroy()
			return fmt.Errorf("gpu: begin encoding: %w", err)
		}
		b.encoder = encoder
	}
	if readback {
		b.encoder.CopyBufferToBuffer(b.storage, b.staging, []hal.BufferCopy{
			{SrcOffset: 0, DstOffset: 0, Size: b.size},
		})
	}

	encoder := b.encoder
	b.encoder = nil
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.Destroy()
		b.freeBindingsLocked()
		return fmt.Errorf("gpu: end encoding: %w", err)
	}

	index, err := b.dev.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		b.dev.device.FreeCommandBuffer(cmdBuf)
		encoder.Destroy()
		b.freeBindingsLocked()
		return fmt.Errorf("gpu: submit: %w", err)
	}

	if err := b.dev.waitSubmission(ctx, index); err != nil {
		// The GPU may still be reading the bindings.
		if werr := b.dev.device.WaitIdle(); werr != nil {
			slogger().Warn("gpu: wait idle after failed wait", "err", werr)
		}
		b.dev.device.FreeCommandBuffer(cmdBuf)
		encoder.Destroy()
		b.freeBindingsLocked()
		b.passes = 0
		return err
	}
	b.dev.device.FreeCommandBuffer(cmdBuf)
	encoder.Destroy()
	b.freeBindingsLocked()

	slogger().Debug("gpu: submitted", "index", index, "passes", b.passes, "readback", readback)
	b.passes = 0
	return nil
}

// discardLocked abandons the recording. Caller must hold dev.mu.
func (b *buffer) discardLocked() {
	if b.encoder != nil {
		b.encoder.DiscardEncoding()
		b.encoder.Destroy()
		b.encoder = nil
	}
	b.freeBindingsLocked()
	b.passes = 0
	b.unfenced = false
}

// freeBindingsLocked destroys per-dispatch uniform buffers and bind groups.
func (b *buffer) freeBindingsLocked() {
	for _, bg := range b.bindGroups {
		if bg != nil {
			b.dev.device.DestroyBindGroup(bg)
		}
	}
	for _, ub := range b.uniforms {
		if ub != nil {
			b.dev.device.DestroyBuffer(ub)
		}
	}
	b.bindGroups = b.bindGroups[:0]
	b.uniforms = b.uniforms[:0]
}

// Release discards unsubmitted work and destroys the buffers.
func (b *buffer) Release() {
	if b.released {
		return
	}
	b.released = true

	b.dev.mu.Lock()
	if !b.dev.closed && b.dev.device != nil {
		b.discardLocked()
		b.dev.device.DestroyBuffer(b.staging)
		b.dev.device.DestroyBuffer(b.storage)
	}
	b.dev.mu.Unlock()

	b.res.Release()
	b.dev.live.Add(-1)
}

// packInt32 serializes values as little-endian i32 words.
func packInt32(src []int32) []byte {
	out := make([]byte, len(src)*kernel.ElementSize)
	for i, v := range src {
		binary.LittleEndian.PutUint32(out[i*kernel.ElementSize:], uint32(v)) //nolint:gosec // bit reinterpretation
	}
	return out
}

// unpackInt32 reverses packInt32 into dst.
func unpackInt32(src []byte, dst []int32) {
	for i := range dst {
		dst[i] = int32(binary.LittleEndian.Uint32(src[i*kernel.ElementSize:])) //nolint:gosec // bit reinterpretation
	}
}
