// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !nogpu

package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpusort/kernel"
)

// pipelines holds the compiled bitonic module and one compute pipeline per
// entry point.
type pipelines struct {
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	local      hal.ComputePipeline
	global     hal.ComputePipeline
}

// get returns the pipeline for an entry point.
func (p *pipelines) get(e kernel.EntryPoint) hal.ComputePipeline {
	if e == kernel.LocalSort {
		return p.local
	}
	return p.global
}

func createPipelines(device hal.Device, groupSize int) (*pipelines, error) {
	spirv, err := CompileKernels(groupSize)
	if err != nil {
		return nil, err
	}

	p := &pipelines{}
	p.shader, err = device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "bitonic",
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("create bitonic shader module: %w", err)
	}

	p.bindLayout, err = device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "bitonic_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: kernel.BindingData, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage}},
			{Binding: kernel.BindingParams, Visibility: gputypes.ShaderStageCompute, Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		p.destroy(device)
		return nil, fmt.Errorf("create bitonic bind group layout: %w", err)
	}

	p.pipeLayout, err = device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "bitonic_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{p.bindLayout},
	})
	if err != nil {
		p.destroy(device)
		return nil, fmt.Errorf("create bitonic pipeline layout: %w", err)
	}

	for _, e := range []kernel.EntryPoint{kernel.LocalSort, kernel.GlobalMerge} {
		pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
			Label:   string(e),
			Layout:  p.pipeLayout,
			Compute: hal.ComputeState{Module: p.shader, EntryPoint: string(e)},
		})
		if err != nil {
			p.destroy(device)
			return nil, fmt.Errorf("create %s compute pipeline: %w", e, err)
		}
		if e == kernel.LocalSort {
			p.local = pipeline
		} else {
			p.global = pipeline
		}
		slogger().Debug("gpu: pipeline created", "entry", string(e), "group_size", groupSize, "spirv_words", len(spirv))
	}
	return p, nil
}

func (p *pipelines) destroy(device hal.Device) {
	if device == nil {
		return
	}
	if p.global != nil {
		device.DestroyComputePipeline(p.global)
	}
	if p.local != nil {
		device.DestroyComputePipeline(p.local)
	}
	if p.pipeLayout != nil {
		device.DestroyPipelineLayout(p.pipeLayout)
	}
	if p.bindLayout != nil {
		device.DestroyBindGroupLayout(p.bindLayout)
	}
	if p.shader != nil {
		device.DestroyShaderModule(p.shader)
	}
}
