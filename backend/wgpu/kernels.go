//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/backend/cpu"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// ErrNoInstance is returned when an evaluation is not given the instance
// compiled for its layouts.
var ErrNoInstance = errors.New("wgpu: evaluation requires a compiled instance")

// scratch is a device buffer grown on demand.
type scratch struct {
	label string
	usage gputypes.BufferUsage
	raw   hal.Buffer
	size  uint64
}

// Kernels is the GPU substrate. All device work is serialized by one
// mutex; evaluation methods are safe for concurrent use.
type Kernels struct {
	mu     sync.Mutex
	dev    *device
	pipes  *pipelineCache
	closed bool

	uniform  hal.Buffer
	coords   scratch
	results  scratch
	readback scratch

	coordBytes []byte
	resultHost []float32
	warnedMap  bool
}

// New opens a Vulkan device and prepares the kernels on it.
func New() (*Kernels, error) {
	d, err := openDevice()
	if err != nil {
		return nil, err
	}
	k, err := newKernels(d)
	if err != nil {
		d.destroy()
		return nil, err
	}
	return k, nil
}

// NewWithDevice prepares the kernels on a device owned by the caller.
// Close leaves the device open.
func NewWithDevice(dev hal.Device, queue hal.Queue) (*Kernels, error) {
	if dev == nil || queue == nil {
		return nil, errors.New("wgpu: device and queue are required")
	}
	return newKernels(&device{dev: dev, queue: queue, name: "external", external: true})
}

func newKernels(d *device) (*Kernels, error) {
	pipes, err := newPipelineCache(d.dev)
	if err != nil {
		return nil, err
	}
	uniform, err := d.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "subd_uniform",
		Size:  16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		pipes.destroy()
		return nil, fmt.Errorf("wgpu: create uniform buffer: %w", err)
	}
	return &Kernels{
		dev:      d,
		pipes:    pipes,
		uniform:  uniform,
		coords:   scratch{label: "subd_coords", usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst},
		results:  scratch{label: "subd_results", usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc},
		readback: scratch{label: "subd_readback", usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst},
	}, nil
}

// Kind returns backend.KindGPU.
func (k *Kernels) Kind() backend.Kind { return backend.KindGPU }

// Name returns "wgpu".
func (k *Kernels) Name() string { return "wgpu" }

// DeviceName returns the adapter name of the device.
func (k *Kernels) DeviceName() string { return k.dev.name }

// CachesKernels reports that compiled instances are worth sharing.
func (k *Kernels) CachesKernels() bool { return true }

// Close releases every device object owned by the kernels and, unless
// the device was supplied by the caller, the device itself. Buffers and
// tables created earlier become unusable.
func (k *Kernels) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.closed = true
	for _, s := range []*scratch{&k.coords, &k.results, &k.readback} {
		if s.raw != nil {
			k.dev.dev.DestroyBuffer(s.raw)
			s.raw, s.size = nil, 0
		}
	}
	k.dev.dev.DestroyBuffer(k.uniform)
	k.pipes.destroy()
	k.dev.destroy()
}

func (k *Kernels) usable() error {
	if k.closed {
		return fmt.Errorf("%w: wgpu substrate closed", backend.ErrNotAvailable)
	}
	return nil
}

// grow makes s hold at least size bytes.
func (k *Kernels) grow(s *scratch, size uint64) error {
	if s.raw != nil && s.size >= size {
		return nil
	}
	c := max(s.size, 1024)
	for c < size {
		c *= 2
	}
	raw, err := k.dev.dev.CreateBuffer(&hal.BufferDescriptor{Label: s.label, Size: c, Usage: s.usage})
	if err != nil {
		return fmt.Errorf("wgpu: grow %s to %d bytes: %w", s.label, c, err)
	}
	if s.raw != nil {
		k.dev.dev.DestroyBuffer(s.raw)
	}
	s.raw, s.size = raw, c
	slogger().Debug("wgpu: scratch grown", "buffer", s.label, "bytes", c)
	return nil
}

// CreateBuffer allocates a zeroed device buffer.
func (k *Kernels) CreateBuffer(width, n int) (*Buffer, error) {
	if width <= 0 || width > maxWidth || n < 0 {
		return nil, fmt.Errorf("wgpu: invalid buffer shape %dx%d", n, width)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return nil, err
	}
	size := max(4*width*n, 4)
	raw, err := k.dev.dev.CreateBuffer(&hal.BufferDescriptor{
		Label: "subd_primvar",
		Size:  uint64(size), //nolint:gosec // positive
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	if err := k.dev.queue.WriteBuffer(raw, 0, make([]byte, size)); err != nil {
		k.dev.dev.DestroyBuffer(raw)
		return nil, fmt.Errorf("wgpu: clear buffer: %w", err)
	}
	return &Buffer{k: k, raw: raw, width: width, n: n}, nil
}

// DestroyBuffer releases b.
func (k *Kernels) DestroyBuffer(b *Buffer) {
	if b == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if b.raw != nil && !k.closed {
		k.dev.dev.DestroyBuffer(b.raw)
	}
	b.raw = nil
}

// CreateStencilTable uploads t, factorizing it first when some stencil
// reads refined points.
func (k *Kernels) CreateStencilTable(t *stencil.Table) (*StencilTable, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil stencil table", backend.ErrUnsupportedTable)
	}
	if !t.IsFactorized() {
		f, err := t.Factorize()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", backend.ErrUnsupportedTable, err)
		}
		t = f
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return nil, err
	}
	return newStencilTable(k, t)
}

// DestroyStencilTable releases s.
func (k *Kernels) DestroyStencilTable(s *StencilTable) {
	if s == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.closed {
		k.destroyStencils(s)
	}
}

// supportedType reports whether the patch kernel evaluates typ.
func supportedType(typ patch.Type) bool {
	return typ == patch.Quads || typ == patch.Regular
}

// CreatePatchTable uploads t. Tables with Gregory patches are rejected.
func (k *Kernels) CreatePatchTable(t *patch.Table) (*PatchTable, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil patch table", backend.ErrUnsupportedTable)
	}
	for _, a := range t.Arrays() {
		if !supportedType(a.Type) {
			return nil, fmt.Errorf("%w: %v patches", backend.ErrUnsupportedTable, a.Type)
		}
	}
	if vt := t.VaryingType(); vt != patch.NonPatch && !supportedType(vt) {
		return nil, fmt.Errorf("%w: %v varying patches", backend.ErrUnsupportedTable, vt)
	}
	for ch := range t.NumFaceVaryingChannels() {
		if ft := t.FaceVarying(ch).Type; !supportedType(ft) {
			return nil, fmt.Errorf("%w: %v patches in face-varying channel %d", backend.ErrUnsupportedTable, ft, ch)
		}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return nil, err
	}
	return newPatchTable(k, t)
}

// DestroyPatchTable releases p.
func (k *Kernels) DestroyPatchTable(p *PatchTable) {
	if p == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.closed {
		k.destroyPatches(p)
	}
}

// Instance is the pair of pipelines specialized for one key.
type Instance struct {
	k       *Kernels
	key     backend.Key
	width   int
	derivs  bool
	stencil *pipeline
	patch   *pipeline
	once    sync.Once
}

// Key returns the key the instance was compiled for.
func (in *Instance) Key() backend.Key { return in.key }

// Release returns the pipelines to the cache.
func (in *Instance) Release() {
	in.once.Do(func() {
		k := in.k
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.closed {
			return
		}
		k.pipes.release(in.stencil)
		k.pipes.release(in.patch)
	})
}

// Compile builds the stencil and patch pipelines for key.
func (k *Kernels) Compile(key backend.Key) (backend.Instance, error) {
	if !key.Src.Valid() || !key.Dst.Valid() {
		return nil, fmt.Errorf("wgpu: invalid key %v", key)
	}
	width := min(key.Src.Width, key.Dst.Width)
	if width > maxWidth {
		return nil, fmt.Errorf("wgpu: element width %d exceeds %d", width, maxWidth)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return nil, err
	}
	in := &Instance{
		k:      k,
		key:    key,
		width:  width,
		derivs: !key.Du.IsZero() || !key.Dv.IsZero(),
	}
	var err error
	if in.stencil, err = k.pipes.acquire(stencilSource(key), k.pipes.stencil); err != nil {
		return nil, err
	}
	if in.patch, err = k.pipes.acquire(patchSource(key), k.pipes.patch); err != nil {
		k.pipes.release(in.stencil)
		return nil, err
	}
	return in, nil
}

func (k *Kernels) instance(inst backend.Instance, src buffer.Layout) (*Instance, error) {
	in, ok := inst.(*Instance)
	if !ok || in == nil {
		return nil, ErrNoInstance
	}
	if in.k != k {
		return nil, fmt.Errorf("%w: instance belongs to another device", ErrNoInstance)
	}
	if src != in.key.Src {
		return nil, fmt.Errorf("%w: source layout %v, compiled for %v", ErrNoInstance, src, in.key.Src)
	}
	return in, nil
}

func bind(binding uint32, b hal.Buffer) gputypes.BindGroupEntry {
	return gputypes.BindGroupEntry{
		Binding:  binding,
		Resource: gputypes.BufferBinding{Buffer: b.NativeHandle()},
	}
}

// dispatch runs pipe over n invocations with the given bindings. after,
// when non-nil, records commands following the compute pass.
func (k *Kernels) dispatch(label string, pipe *pipeline, layout bindings, entries []gputypes.BindGroupEntry, n int, after func(hal.CommandEncoder)) error {
	bg, err := k.dev.dev.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  layout.group,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("wgpu: create %s bind group: %w", label, err)
	}
	defer k.dev.dev.DestroyBindGroup(bg)

	return k.dev.submit(label, func(enc hal.CommandEncoder) {
		pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
		pass.SetPipeline(pipe.pipe)
		pass.SetBindGroup(0, bg, nil)
		pass.Dispatch(groups(n), 1, 1)
		pass.End()
		if after != nil {
			after(enc)
		}
	})
}

// mapRead decodes the first len(dst) floats of the readback buffer.
func (k *Kernels) mapRead(dst []float32) error {
	size := uint64(4 * len(dst)) //nolint:gosec // non-negative
	m, err := k.dev.dev.MapBuffer(k.readback.raw, 0, size)
	if err != nil {
		return fmt.Errorf("wgpu: map readback: %w", err)
	}
	if !m.IsCoherent && !k.warnedMap {
		slogger().Warn("wgpu: readback memory is not host coherent")
		k.warnedMap = true
	}
	decodeFloats(dst, unsafe.Slice((*byte)(m.Ptr), size))
	if err := k.dev.dev.UnmapBuffer(k.readback.raw); err != nil {
		return fmt.Errorf("wgpu: unmap readback: %w", err)
	}
	return nil
}

// download copies len(dst) floats at byte offset of raw into dst.
func (k *Kernels) download(raw hal.Buffer, offset uint64, dst []float32) error {
	size := uint64(4 * len(dst)) //nolint:gosec // non-negative
	if err := k.grow(&k.readback, size); err != nil {
		return err
	}
	err := k.dev.submit("subd_download", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(raw, k.readback.raw, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	})
	if err != nil {
		return err
	}
	return k.mapRead(dst)
}

// chunk is the largest invocation count of one dispatch.
const chunk = maxGroups * workgroupSize

// EvalStencils applies every stencil of s in one dispatch per chunk.
// srcDesc and dstDesc must match the instance's key.
func (k *Kernels) EvalStencils(src *Buffer, srcDesc buffer.Layout, dst *Buffer, dstDesc buffer.Layout, s *StencilTable, inst backend.Instance) error {
	in, err := k.instance(inst, srcDesc)
	if err != nil {
		return err
	}
	if dstDesc != in.key.Dst {
		return fmt.Errorf("%w: destination layout %v, compiled for %v", ErrNoInstance, dstDesc, in.key.Dst)
	}
	if need := dstDesc.Span(s.numStencils); need > dst.n*dst.width {
		return fmt.Errorf("%w: %d stencils need %d floats, destination holds %d",
			buffer.ErrRange, s.numStencils, need, dst.n*dst.width)
	}
	if need := srcDesc.Span(s.numControl); need > src.n*src.width {
		return fmt.Errorf("%w: %d control vertices need %d floats, source holds %d",
			buffer.ErrRange, s.numControl, need, src.n*src.width)
	}
	if s.numStencils == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return err
	}
	for start := 0; start < s.numStencils; start += chunk {
		end := min(start+chunk, s.numStencils)
		//nolint:gosec // stencil counts fit u32
		if err := k.dev.queue.WriteBuffer(k.uniform, 0, uint32Bytes(uint32(start), uint32(end), 0, 0)); err != nil {
			return fmt.Errorf("wgpu: write stencil range: %w", err)
		}
		entries := []gputypes.BindGroupEntry{
			bind(0, k.uniform),
			bind(1, s.sizes),
			bind(2, s.offsets),
			bind(3, s.indices),
			bind(4, s.weights),
			bind(5, src.raw),
			bind(6, dst.raw),
		}
		if err := k.dispatch("subd_stencils", in.stencil, k.pipes.stencil, entries, end-start, nil); err != nil {
			return err
		}
	}
	return nil
}

// patchJob selects the index arrays and basis of one patch evaluation.
type patchJob struct {
	mode      uint32
	fixedType patch.Type
	indices   hal.Buffer
	params    hal.Buffer
	// extent is one past the largest source element the patches read.
	extent int
}

// checkCoords validates every handle against t.
func checkCoords(t *patch.Table, coords []patch.Coord) error {
	arrays := t.Arrays()
	for i, c := range coords {
		h := c.Handle
		if h.ArrayIndex < 0 || int(h.ArrayIndex) >= len(arrays) ||
			h.PatchIndex < 0 || int(h.PatchIndex) >= t.NumPatches() ||
			h.VertIndex < 0 || int(h.VertIndex)+t.PatchType(h).NumControlVertices() > len(t.Indices()) {
			return fmt.Errorf("%w: coordinate %d has handle %+v", buffer.ErrRange, i, h)
		}
	}
	return nil
}

// evalPatches runs the patch kernel over coords and scatters the packed
// results into outs, one output per result section.
func (k *Kernels) evalPatches(in *Instance, src *Buffer, srcDesc buffer.Layout, job patchJob, coords []patch.Coord, p *PatchTable, outs []backend.Output) error {
	if err := checkCoords(p.table, coords); err != nil {
		return err
	}
	if need := srcDesc.Span(job.extent); need > src.n*src.width {
		return fmt.Errorf("%w: patches read %d elements, source holds %d floats",
			buffer.ErrRange, job.extent, src.n*src.width)
	}
	if len(coords) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.usable(); err != nil {
		return err
	}

	w := in.width
	sections := 1
	if in.derivs {
		sections = 3
	}
	ncv := uint32(job.fixedType.NumControlVertices()) //nolint:gosec // at most 16

	for start := 0; start < len(coords); start += chunk {
		part := coords[start:min(start+chunk, len(coords))]
		n := len(part)

		k.coordBytes = coordBytes(k.coordBytes, part)
		resultFloats := sections * n * w
		resultSize := uint64(4 * resultFloats) //nolint:gosec // non-negative
		if err := k.grow(&k.coords, uint64(len(k.coordBytes))); err != nil {
			return err
		}
		if err := k.grow(&k.results, resultSize); err != nil {
			return err
		}
		if err := k.grow(&k.readback, resultSize); err != nil {
			return err
		}
		if err := k.dev.queue.WriteBuffer(k.coords.raw, 0, k.coordBytes); err != nil {
			return fmt.Errorf("wgpu: upload coords: %w", err)
		}
		//nolint:gosec // coordinate counts fit u32
		if err := k.dev.queue.WriteBuffer(k.uniform, 0, uint32Bytes(uint32(n), job.mode, uint32(job.fixedType), ncv)); err != nil {
			return fmt.Errorf("wgpu: write patch batch: %w", err)
		}

		entries := []gputypes.BindGroupEntry{
			bind(0, k.uniform),
			bind(1, k.coords.raw),
			bind(2, p.arrayTypes),
			bind(3, job.indices),
			bind(4, job.params),
			bind(5, src.raw),
			bind(6, k.results.raw),
		}
		err := k.dispatch("subd_patches", in.patch, k.pipes.patch, entries, n, func(enc hal.CommandEncoder) {
			enc.CopyBufferToBuffer(k.results.raw, k.readback.raw, []hal.BufferCopy{{Size: resultSize}})
		})
		if err != nil {
			return err
		}

		if cap(k.resultHost) < resultFloats {
			k.resultHost = make([]float32, resultFloats)
		}
		host := k.resultHost[:resultFloats]
		if err := k.mapRead(host); err != nil {
			return err
		}
		for sec, o := range outs {
			if sec < sections {
				scatter(o, host[sec*n*w:(sec+1)*n*w], w, start, n)
			}
		}
	}
	return nil
}

// scatter writes n packed results of width w into o starting at element
// first.
func scatter(o backend.Output, packed []float32, w, first, n int) {
	if !o.Requested() {
		return
	}
	data := o.Buf.BindHost()
	cw := min(o.Layout.Width, w)
	for i := range n {
		at := o.Layout.Index(first+i, 0)
		copy(data[at:at+cw], packed[i*w:i*w+cw])
	}
}

// EvalPatches evaluates the vertex patches at coords.
func (k *Kernels) EvalPatches(src *Buffer, srcDesc buffer.Layout, out backend.PatchOutputs, coords []patch.Coord, p *PatchTable, inst backend.Instance) error {
	in, err := k.instance(inst, srcDesc)
	if err != nil {
		return err
	}
	if err := cpu.CheckPatches(srcDesc, out, len(coords)); err != nil {
		return err
	}
	if out.Derivatives() && !in.derivs {
		return fmt.Errorf("%w: derivatives requested from an instance compiled without them", ErrNoInstance)
	}
	job := patchJob{
		mode:    modeVertex,
		indices: p.indices,
		params:  p.params,
		extent:  p.table.MaxVertexIndex(),
	}
	return k.evalPatches(in, src, srcDesc, job, coords, p, []backend.Output{out.P, out.DPdu, out.DPdv})
}

// EvalPatchesVarying evaluates the varying patches at coords.
func (k *Kernels) EvalPatchesVarying(src *Buffer, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, p *PatchTable, inst backend.Instance) error {
	in, err := k.instance(inst, srcDesc)
	if err != nil {
		return err
	}
	if err := cpu.CheckPatches(srcDesc, backend.PatchOutputs{P: out}, len(coords)); err != nil {
		return err
	}
	vt := p.table.VaryingType()
	if vt == patch.NonPatch {
		return fmt.Errorf("%w: table has no varying patches", backend.ErrUnsupportedTable)
	}
	job := patchJob{
		mode:      modeVarying,
		fixedType: vt,
		indices:   p.varying,
		params:    p.params,
		extent:    p.table.MaxVaryingIndex(),
	}
	return k.evalPatches(in, src, srcDesc, job, coords, p, []backend.Output{out})
}

// EvalPatchesFaceVarying evaluates the patches of channel ch.
func (k *Kernels) EvalPatchesFaceVarying(src *Buffer, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, p *PatchTable, ch int, inst backend.Instance) error {
	if ch < 0 || ch >= len(p.fvar) {
		return fmt.Errorf("wgpu: face-varying channel %d of %d", ch, len(p.fvar))
	}
	in, err := k.instance(inst, srcDesc)
	if err != nil {
		return err
	}
	if err := cpu.CheckPatches(srcDesc, backend.PatchOutputs{P: out}, len(coords)); err != nil {
		return err
	}
	fb := p.fvar[ch]
	job := patchJob{
		mode:      modeFaceVarying,
		fixedType: fb.typ,
		indices:   fb.indices,
		params:    fb.params,
		extent:    p.table.MaxFaceVaryingIndex(ch),
	}
	return k.evalPatches(in, src, srcDesc, job, coords, p, []backend.Output{out})
}

// BufferHandle returns the native handle of b.
func (k *Kernels) BufferHandle(b *Buffer) uintptr {
	if b == nil {
		return 0
	}
	return handle(b.raw)
}

// ExportPatchTable fills the patch fields of dst with the device handles
// of p. Every face-varying channel is exported as a single array.
func (k *Kernels) ExportPatchTable(p *PatchTable, dst *backend.DeviceResources) {
	t := p.table
	dst.PatchArrays = t.Arrays()
	dst.PatchIndexBuffer = handle(p.indices)
	dst.PatchParamBuffer = handle(p.params)
	if t.VaryingType() != patch.NonPatch {
		dst.VaryingIndexBuffer = handle(p.varying)
	}
	dst.FaceVarying = make([]backend.ChannelResources, len(p.fvar))
	for ch, fb := range p.fvar {
		dst.FaceVarying[ch] = backend.ChannelResources{
			PatchArrays:      []patch.Array{{Type: fb.typ, NumPatches: t.NumPatches()}},
			PatchIndexBuffer: handle(fb.indices),
			PatchParamBuffer: handle(fb.params),
		}
	}
}

var (
	_ backend.Kernels[*Buffer, *StencilTable, *PatchTable] = (*Kernels)(nil)
	_ backend.ResourceExporter[*Buffer, *PatchTable]       = (*Kernels)(nil)
	_ backend.Cacheable                                    = (*Kernels)(nil)
	_ backend.Closer                                       = (*Kernels)(nil)
)
