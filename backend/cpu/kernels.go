package cpu

import (
	"fmt"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Kernels is the sequential host substrate. The zero value is ready to use.
type Kernels struct{}

// New returns the sequential host substrate.
func New() Kernels { return Kernels{} }

// Kind returns backend.KindCPU.
func (Kernels) Kind() backend.Kind { return backend.KindCPU }

// Name returns "cpu".
func (Kernels) Name() string { return "cpu" }

// CreateBuffer allocates host memory.
func (Kernels) CreateBuffer(width, n int) (*buffer.Host, error) {
	if width <= 0 || n < 0 {
		return nil, fmt.Errorf("cpu: invalid buffer shape %dx%d", n, width)
	}
	return buffer.NewHost(width, n), nil
}

// DestroyBuffer is a no-op; host memory is garbage collected.
func (Kernels) DestroyBuffer(*buffer.Host) {}

// CreateStencilTable returns t unchanged.
func (Kernels) CreateStencilTable(t *stencil.Table) (*stencil.Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil stencil table", backend.ErrUnsupportedTable)
	}
	return t, nil
}

// DestroyStencilTable is a no-op.
func (Kernels) DestroyStencilTable(*stencil.Table) {}

// CreatePatchTable returns t unchanged.
func (Kernels) CreatePatchTable(t *patch.Table) (*patch.Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil patch table", backend.ErrUnsupportedTable)
	}
	return t, nil
}

// DestroyPatchTable is a no-op.
func (Kernels) DestroyPatchTable(*patch.Table) {}

// Compile returns nil: host kernels have no compiled state.
func (Kernels) Compile(backend.Key) (backend.Instance, error) { return nil, nil } //nolint:nilnil // no state

// EvalStencils applies every stencil of t in order. src and dst may be
// the same buffer.
func (Kernels) EvalStencils(src *buffer.Host, srcDesc buffer.Layout, dst *buffer.Host, dstDesc buffer.Layout, t *stencil.Table, _ backend.Instance) error {
	s, d := src.BindHost(), dst.BindHost()
	if err := CheckStencils(s, srcDesc, d, dstDesc, t); err != nil {
		return err
	}
	StencilRange(s, srcDesc, d, dstDesc, t, 0, t.NumStencils())
	return nil
}

// EvalPatches evaluates vertex patches.
func (Kernels) EvalPatches(src *buffer.Host, srcDesc buffer.Layout, out backend.PatchOutputs, coords []patch.Coord, t *patch.Table, _ backend.Instance) error {
	if err := CheckPatches(srcDesc, out, len(coords)); err != nil {
		return err
	}
	return PatchRange(src.BindHost(), srcDesc, out, coords, VertexSource{T: t}, 0, len(coords))
}

// EvalPatchesVarying evaluates varying patches.
func (Kernels) EvalPatchesVarying(src *buffer.Host, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, t *patch.Table, _ backend.Instance) error {
	po := backend.PatchOutputs{P: out}
	if err := CheckPatches(srcDesc, po, len(coords)); err != nil {
		return err
	}
	return PatchRange(src.BindHost(), srcDesc, po, coords, VaryingSource{T: t}, 0, len(coords))
}

// EvalPatchesFaceVarying evaluates the patches of channel ch.
func (Kernels) EvalPatchesFaceVarying(src *buffer.Host, srcDesc buffer.Layout, out backend.Output, coords []patch.Coord, t *patch.Table, ch int, _ backend.Instance) error {
	if ch < 0 || ch >= t.NumFaceVaryingChannels() {
		return fmt.Errorf("cpu: face-varying channel %d of %d", ch, t.NumFaceVaryingChannels())
	}
	po := backend.PatchOutputs{P: out}
	if err := CheckPatches(srcDesc, po, len(coords)); err != nil {
		return err
	}
	return PatchRange(src.BindHost(), srcDesc, po, coords, FaceVaryingSource{T: t, Channel: ch}, 0, len(coords))
}

var _ backend.Kernels[*buffer.Host, *stencil.Table, *patch.Table] = Kernels{}
