// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package parallel

import (
	"fmt"
	"runtime"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/backend/cpu"
	"github.com/gogpu/subd/buffer"
	workpool "github.com/gogpu/subd/internal/parallel"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Default grain sizes: the fewest items a chunk is worth dispatching.
const (
	DefaultStencilGrain = 512
	DefaultPatchGrain   = 128
)

// Option configures Kernels.
type Option func(*config)

type config struct {
	workers      int
	stencilGrain int
	patchGrain   int
}

// WithWorkers sets the worker count. Values below 1 use GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithGrain sets the minimum chunk sizes for refine and evaluation.
func WithGrain(stencils, patches int) Option {
	return func(c *config) {
		c.stencilGrain = max(stencils, 1)
		c.patchGrain = max(patches, 1)
	}
}

// Kernels is the worker pool substrate. Create it with New and release
// the workers with Close.
type Kernels struct {
	pool *workpool.WorkerPool
	cfg  config
}

// New starts the worker pool.
func New(opts ...Option) *Kernels {
	cfg := config{
		workers:      runtime.GOMAXPROCS(0),
		stencilGrain: DefaultStencilGrain,
		patchGrain:   DefaultPatchGrain,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers < 1 {
		cfg.workers = runtime.GOMAXPROCS(0)
	}
	return &Kernels{pool: workpool.NewWorkerPool(cfg.workers), cfg: cfg}
}

// Kind returns backend.KindParallel.
func (*Kernels) Kind() backend.Kind { return backend.KindParallel }

// Name returns "parallel".
func (*Kernels) Name() string { return "parallel" }

// Workers returns the pool size.
func (k *Kernels) Workers() int { return k.pool.Workers() }

// Close stops the workers. Kernels keep working afterwards on the
// calling goroutine.
func (k *Kernels) Close() { k.pool.Close() }

// CachesKernels reports that compiled plans are worth sharing.
func (*Kernels) CachesKernels() bool { return true }

// CreateBuffer allocates host memory.
func (*Kernels) CreateBuffer(width, n int) (*buffer.Host, error) {
	if width <= 0 || n < 0 {
		return nil, fmt.Errorf("parallel: invalid buffer shape %dx%d", n, width)
	}
	return buffer.NewHost(width, n), nil
}

// DestroyBuffer is a no-op.
func (*Kernels) DestroyBuffer(*buffer.Host) {}

// CreateStencilTable returns t expanded so that every stencil reads
// coarse elements only.
func (*Kernels) CreateStencilTable(t *stencil.Table) (*stencil.Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil stencil table", backend.ErrUnsupportedTable)
	}
	f, err := t.Factorize()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnsupportedTable, err)
	}
	return f, nil
}

// DestroyStencilTable is a no-op.
func (*Kernels) DestroyStencilTable(*stencil.Table) {}

// CreatePatchTable returns t unchanged.
func (*Kernels) CreatePatchTable(t *patch.Table) (*patch.Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil patch table", backend.ErrUnsupportedTable)
	}
	return t, nil
}

// DestroyPatchTable is a no-op.
func (*Kernels) DestroyPatchTable(*patch.Table) {}

// Plan is the compiled state of one layout key: the chunk grains to use.
// Derivative evaluation does three times the work per coordinate, so it
// is split finer.
type Plan struct {
	Key          backend.Key
	StencilGrain int
	PatchGrain   int
}

// Release implements backend.Instance.
func (*Plan) Release() {}

// Compile returns the plan for key.
func (k *Kernels) Compile(key backend.Key) (backend.Instance, error) {
	if !key.Src.Valid() {
		return nil, fmt.Errorf("parallel: invalid source layout %v", key.Src)
	}
	p := &Plan{Key: key, StencilGrain: k.cfg.stencilGrain, PatchGrain: k.cfg.patchGrain}
	if key.Du.Valid() && key.Dv.Valid() {
		p.PatchGrain = max(p.PatchGrain/3, 1)
	}
	return p, nil
}

// plan returns the instance as a Plan, or the defaults for evaluation
// without a compiled instance.
func (k *Kernels) plan(inst backend.Instance) *Plan {
	if p, ok := inst.(*Plan); ok && p != nil {
		return p
	}
	return &Plan{StencilGrain: k.cfg.stencilGrain, PatchGrain: k.cfg.patchGrain}
}

// EvalStencils applies t in parallel chunks. Tables that still read
// refined elements run sequentially.
func (k *Kernels) EvalStencils(src *buffer.Host, srcDesc buffer.Layout, dst *buffer.Host, dstDesc buffer.Layout, t *stencil.Table, inst backend.Instance) error {
	s, d := src.BindHost(), dst.BindHost()
	if err := cpu.CheckStencils(s, srcDesc, d, dstDesc, t); err != nil {
		return err
	}
	if !t.IsFactorized() {
		cpu.StencilRange(s, srcDesc, d, dstDesc, t, 0, t.NumStencils())
		return nil
	}
	return k.pool.For(t.NumStencils(), k.plan(inst).StencilGrain, func(lo, hi int) error {
		cpu.StencilRange(s, srcDesc, d, dstDesc, t, lo, hi)
		return nil
	})
}

func (k *Kernels) evalPatches(src *buffer.Host, srcDesc buffer.Layout, out backend.PatchOutputs, coords []patch.Coord, sel cpu.Source, inst backend.Instance) error {
	if err := cpu.CheckPatches(srcDesc, out, len(coords)); err != nil {
		return err
	}
	data := src.BindHost()
	return k.pool.For(len(coords), k.plan(inst).PatchGrain, func(lo, hi int) error {
		return cpu.PatchRange(data, srcDesc, out, coords, sel, lo, hi)
	})
}

// EvalPatches evaluates vertex patches.
func (k *Kernels) EvalPatches(src *buffer.Host, srcDesc buffer.Layout, out backend.PatchOutputs, coords []patch.Coord, t *patch.Table, inst backend.Instance) error {
	return k.evalPatches(src, srcDesc, out, coords, cpu.VertexSource{T: t}, inst)
}

// EvalPatchesVarying evaluates varying patches.
func (k *Kernels) EvalPatchesVarying(src *buffer.Host, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, t *patch.Table, inst backend.Instance) error {
	return k.evalPatches(src, srcDesc, backend.PatchOutputs{P: out}, coords, cpu.VaryingSource{T: t}, inst)
}

// EvalPatchesFaceVarying evaluates the patches of channel ch.
func (k *Kernels) EvalPatchesFaceVarying(src *buffer.Host, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, t *patch.Table, ch int, inst backend.Instance) error {
	if ch < 0 || ch >= t.NumFaceVaryingChannels() {
		return fmt.Errorf("parallel: face-varying channel %d of %d", ch, t.NumFaceVaryingChannels())
	}
	return k.evalPatches(src, srcDesc, backend.PatchOutputs{P: out}, coords, cpu.FaceVaryingSource{T: t, Channel: ch}, inst)
}

var (
	_ backend.Kernels[*buffer.Host, *stencil.Table, *patch.Table] = (*Kernels)(nil)
	_ backend.Cacheable                                            = (*Kernels)(nil)
	_ backend.Closer                                               = (*Kernels)(nil)
)
