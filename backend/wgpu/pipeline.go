//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Binding counts of the two kernels: a uniform, read-only storage
// arrays and one read-write result array.
const (
	stencilBindings = 7
	patchBindings   = 7
)

// bindings is a bind group layout and the pipeline layout over it.
type bindings struct {
	group hal.BindGroupLayout
	pipe  hal.PipelineLayout
}

// newBindings lays out binding 0 as a uniform, the last binding as
// read-write storage and everything between as read-only storage.
func newBindings(dev hal.Device, label string, n int) (bindings, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, n)
	for i := range entries {
		typ := gputypes.BufferBindingTypeReadOnlyStorage
		switch i {
		case 0:
			typ = gputypes.BufferBindingTypeUniform
		case n - 1:
			typ = gputypes.BufferBindingTypeStorage
		}
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i), //nolint:gosec // at most 7 bindings
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}

	var b bindings
	var err error
	b.group, err = dev.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return b, fmt.Errorf("wgpu: create %s bind group layout: %w", label, err)
	}
	b.pipe, err = dev.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{b.group},
	})
	if err != nil {
		dev.DestroyBindGroupLayout(b.group)
		b.group = nil
		return b, fmt.Errorf("wgpu: create %s pipeline layout: %w", label, err)
	}
	return b, nil
}

func (b *bindings) destroy(dev hal.Device) {
	if b.pipe != nil {
		dev.DestroyPipelineLayout(b.pipe)
		b.pipe = nil
	}
	if b.group != nil {
		dev.DestroyBindGroupLayout(b.group)
		b.group = nil
	}
}

// pipeline is a compiled kernel shared by every instance whose generated
// source is identical.
type pipeline struct {
	src    shaderSource
	module hal.ShaderModule
	pipe   hal.ComputePipeline
	refs   int
}

// pipelineCache owns the kernel layouts and the pipelines built so far,
// keyed by source fingerprint. Callers hold the Kernels mutex.
type pipelineCache struct {
	dev     hal.Device
	stencil bindings
	patch   bindings
	byHash  map[uint64]*pipeline
}

func newPipelineCache(dev hal.Device) (*pipelineCache, error) {
	c := &pipelineCache{dev: dev, byHash: make(map[uint64]*pipeline)}
	var err error
	if c.stencil, err = newBindings(dev, "subd_stencil", stencilBindings); err != nil {
		return nil, err
	}
	if c.patch, err = newBindings(dev, "subd_patch", patchBindings); err != nil {
		c.stencil.destroy(dev)
		return nil, err
	}
	return c, nil
}

// acquire returns the pipeline for src, building it on first use.
func (c *pipelineCache) acquire(src shaderSource, layout bindings) (*pipeline, error) {
	if p, ok := c.byHash[src.hash]; ok {
		if p.src.wgsl != src.wgsl {
			return nil, fmt.Errorf("wgpu: fingerprint collision on %s (%016x)", src.label, src.hash)
		}
		p.refs++
		return p, nil
	}

	spirv, err := compileSPIRV(src)
	if err != nil {
		return nil, err
	}
	module, err := c.dev.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  src.label,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s module: %w", src.label, err)
	}
	pipe, err := c.dev.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  src.label,
		Layout: layout.pipe,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		c.dev.DestroyShaderModule(module)
		return nil, fmt.Errorf("wgpu: create %s pipeline: %w", src.label, err)
	}

	p := &pipeline{src: src, module: module, pipe: pipe, refs: 1}
	c.byHash[src.hash] = p
	slogger().Debug("wgpu: pipeline compiled", "kernel", src.label,
		"fingerprint", fmt.Sprintf("%016x", src.hash), "spirv_words", len(spirv))
	return p, nil
}

// release drops one reference, destroying the pipeline with the last.
func (c *pipelineCache) release(p *pipeline) {
	if p == nil {
		return
	}
	p.refs--
	if p.refs > 0 {
		return
	}
	delete(c.byHash, p.src.hash)
	c.dev.DestroyComputePipeline(p.pipe)
	c.dev.DestroyShaderModule(p.module)
}

// size returns the number of live pipelines.
func (c *pipelineCache) size() int { return len(c.byHash) }

func (c *pipelineCache) destroy() {
	for h, p := range c.byHash {
		c.dev.DestroyComputePipeline(p.pipe)
		c.dev.DestroyShaderModule(p.module)
		delete(c.byHash, h)
	}
	c.patch.destroy(c.dev)
	c.stencil.destroy(c.dev)
}
