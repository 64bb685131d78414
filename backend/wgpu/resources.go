//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Buffer is a float buffer in device memory.
type Buffer struct {
	k     *Kernels
	raw   hal.Buffer
	width int
	n     int
}

// NumElements returns the element capacity.
func (b *Buffer) NumElements() int { return b.n }

// ElementWidth returns the number of floats per element.
func (b *Buffer) ElementWidth() int { return b.width }

// UpdateData uploads count packed elements from src starting at element
// start.
func (b *Buffer) UpdateData(src []float32, start, count int) error {
	if start < 0 || count < 0 || start+count > b.n {
		return fmt.Errorf("%w: [%d,%d) of %d", buffer.ErrRange, start, start+count, b.n)
	}
	if len(src) < count*b.width {
		return fmt.Errorf("%w: source holds %d floats, need %d", buffer.ErrRange, len(src), count*b.width)
	}
	if count == 0 {
		return nil
	}
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if err := b.k.usable(); err != nil {
		return err
	}
	offset := uint64(4 * start * b.width) //nolint:gosec // non-negative
	return b.k.dev.queue.WriteBuffer(b.raw, offset, floatBytes(src[:count*b.width]))
}

// ReadData downloads count elements starting at element start into dst.
func (b *Buffer) ReadData(dst []float32, start, count int) error {
	if start < 0 || count < 0 || start+count > b.n {
		return fmt.Errorf("%w: [%d,%d) of %d", buffer.ErrRange, start, start+count, b.n)
	}
	if len(dst) < count*b.width {
		return fmt.Errorf("%w: destination holds %d floats, need %d", buffer.ErrRange, len(dst), count*b.width)
	}
	if count == 0 {
		return nil
	}
	b.k.mu.Lock()
	defer b.k.mu.Unlock()
	if err := b.k.usable(); err != nil {
		return err
	}
	return b.k.download(b.raw, uint64(4*start*b.width), dst[:count*b.width]) //nolint:gosec // non-negative
}

var _ buffer.Buffer = (*Buffer)(nil)

// StencilTable is a factorized stencil table in device memory.
type StencilTable struct {
	numControl  int
	numStencils int

	sizes   hal.Buffer
	offsets hal.Buffer
	indices hal.Buffer
	weights hal.Buffer
}

// NumStencils returns the number of stencils.
func (t *StencilTable) NumStencils() int { return t.numStencils }

// NumControlVertices returns the number of control elements the
// stencils read.
func (t *StencilTable) NumControlVertices() int { return t.numControl }

// fvarBuffers are the patch arrays of one face-varying channel.
type fvarBuffers struct {
	typ     patch.Type
	indices hal.Buffer
	params  hal.Buffer
}

// PatchTable is a patch table in device memory. The host table is kept
// for coordinate validation and export.
type PatchTable struct {
	table *patch.Table

	arrayTypes hal.Buffer
	indices    hal.Buffer
	params     hal.Buffer
	varying    hal.Buffer
	fvar       []fvarBuffers
}

// Table returns the host table p was created from.
func (p *PatchTable) Table() *patch.Table { return p.table }

// storage uploads data into a new read-only storage buffer. Empty data
// gets a one-word buffer so it can still be bound.
func (k *Kernels) storage(label string, data []byte) (hal.Buffer, error) {
	if len(data) == 0 {
		data = make([]byte, 4)
	}
	raw, err := k.dev.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s: %w", label, err)
	}
	if err := k.dev.queue.WriteBuffer(raw, 0, data); err != nil {
		k.dev.dev.DestroyBuffer(raw)
		return nil, fmt.Errorf("wgpu: upload %s: %w", label, err)
	}
	return raw, nil
}

func newStencilTable(k *Kernels, t *stencil.Table) (_ *StencilTable, err error) {
	st := &StencilTable{numControl: t.NumControlVertices(), numStencils: t.NumStencils()}
	defer func() {
		if err != nil {
			k.destroyStencils(st)
		}
	}()
	if st.sizes, err = k.storage("subd_stencil_sizes", int32Bytes(t.Sizes())); err != nil {
		return nil, err
	}
	if st.offsets, err = k.storage("subd_stencil_offsets", int32Bytes(t.Offsets())); err != nil {
		return nil, err
	}
	if st.indices, err = k.storage("subd_stencil_indices", int32Bytes(t.Indices())); err != nil {
		return nil, err
	}
	if st.weights, err = k.storage("subd_stencil_weights", floatBytes(t.Weights())); err != nil {
		return nil, err
	}
	return st, nil
}

func (k *Kernels) destroyStencils(st *StencilTable) {
	for _, b := range []hal.Buffer{st.sizes, st.offsets, st.indices, st.weights} {
		if b != nil {
			k.dev.dev.DestroyBuffer(b)
		}
	}
	*st = StencilTable{}
}

func newPatchTable(k *Kernels, t *patch.Table) (_ *PatchTable, err error) {
	pt := &PatchTable{table: t}
	defer func() {
		if err != nil {
			k.destroyPatches(pt)
		}
	}()

	types := make([]uint32, len(t.Arrays()))
	for i, a := range t.Arrays() {
		types[i] = uint32(a.Type)
	}
	if pt.arrayTypes, err = k.storage("subd_patch_arrays", uint32Bytes(types...)); err != nil {
		return nil, err
	}
	if pt.indices, err = k.storage("subd_patch_indices", int32Bytes(t.Indices())); err != nil {
		return nil, err
	}
	if pt.params, err = k.storage("subd_patch_params", paramBytes(t.Params())); err != nil {
		return nil, err
	}
	if pt.varying, err = k.storage("subd_patch_varying", int32Bytes(t.VaryingIndices())); err != nil {
		return nil, err
	}
	for ch := range t.NumFaceVaryingChannels() {
		c := t.FaceVarying(ch)
		fb := fvarBuffers{typ: c.Type}
		fb.indices, err = k.storage(fmt.Sprintf("subd_fvar%d_indices", ch), int32Bytes(c.Indices))
		if err == nil {
			fb.params, err = k.storage(fmt.Sprintf("subd_fvar%d_params", ch), paramBytes(c.Params))
		}
		pt.fvar = append(pt.fvar, fb)
		if err != nil {
			return nil, err
		}
	}
	return pt, nil
}

func (k *Kernels) destroyPatches(pt *PatchTable) {
	bufs := []hal.Buffer{pt.arrayTypes, pt.indices, pt.params, pt.varying}
	for _, fb := range pt.fvar {
		bufs = append(bufs, fb.indices, fb.params)
	}
	for _, b := range bufs {
		if b != nil {
			k.dev.dev.DestroyBuffer(b)
		}
	}
	*pt = PatchTable{}
}

// handle returns the native handle of b, or 0.
func handle(b hal.Buffer) uintptr {
	if b == nil {
		return 0
	}
	return b.NativeHandle()
}
