package subd

import (
	"fmt"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/stencil"
)

// Stream widths.
const (
	vertexWidth      = 3
	varyingWidth     = 3
	faceVaryingWidth = 2
)

// refinedStream is one refine pipeline: a buffer holding the coarse
// elements followed by refined and local points, and the stencil table
// that fills the suffix.
type refinedStream[B buffer.Buffer, S, P any] struct {
	width     int
	numCoarse int
	numTotal  int

	buf         B
	hasBuf      bool
	stencils    S
	hasStencils bool

	refineSrc buffer.Layout
	refineDst buffer.Layout
	evalSrc   buffer.Layout

	refineInst backend.Instance
	evalInst   backend.Instance
}

// streamSpec describes a stream to build.
type streamSpec struct {
	name     string
	width    int
	stencils *stencil.Table
	local    *stencil.Table
	adaptive bool
	// patchExtent is one past the largest element index the patches read.
	patchExtent int
	derivs      bool
}

func newRefinedStream[B buffer.Buffer, S, P any](k backend.Kernels[B, S, P], spec streamSpec, inst *instanceSet) (*refinedStream[B, S, P], error) {
	table := spec.stencils
	if spec.local != nil && spec.local.NumStencils() > 0 {
		var err error
		if table, err = stencil.AppendLocal(table, spec.local); err != nil {
			return nil, fmt.Errorf("%w: %s local points: %w", ErrInvalidTopology, spec.name, err)
		}
	}

	s := &refinedStream[B, S, P]{
		width:     spec.width,
		numCoarse: table.NumControlVertices(),
		numTotal:  table.NumControlVertices() + table.NumStencils(),
		refineSrc: buffer.Packed(spec.width),
	}
	s.refineDst = s.refineSrc.Skip(s.numCoarse)

	// Uniform patches index the last level only, which starts after the
	// coarse elements. Adaptive patches index the whole buffer.
	s.evalSrc = buffer.Packed(spec.width)
	readable := s.numTotal
	if !spec.adaptive {
		s.evalSrc = s.evalSrc.Skip(s.numCoarse)
		readable -= s.numCoarse
	}
	if spec.patchExtent > readable {
		return nil, fmt.Errorf("%w: %s patches address element %d of %d",
			ErrInvalidTopology, spec.name, spec.patchExtent-1, readable)
	}

	buf, err := k.CreateBuffer(spec.width, max(s.numTotal, 1))
	if err != nil {
		return nil, fmt.Errorf("subd: %s buffer: %w", spec.name, err)
	}
	s.buf, s.hasBuf = buf, true

	if table.NumStencils() > 0 {
		st, err := k.CreateStencilTable(table)
		if err != nil {
			s.release(k)
			return nil, fmt.Errorf("subd: %s stencils: %w", spec.name, err)
		}
		s.stencils, s.hasStencils = st, true
		if s.refineInst, err = inst.get(backend.Key{Src: s.refineSrc, Dst: s.refineDst}); err != nil {
			s.release(k)
			return nil, err
		}
	}

	key := backend.Key{Src: s.evalSrc, Dst: buffer.Packed(spec.width)}
	if spec.derivs {
		key.Du, key.Dv = buffer.Packed(spec.width), buffer.Packed(spec.width)
	}
	if s.evalInst, err = inst.get(key); err != nil {
		s.release(k)
		return nil, err
	}

	Logger().Debug("subd: stream ready", "stream", spec.name,
		"coarse", s.numCoarse, "total", s.numTotal, "read", s.evalSrc)
	return s, nil
}

// update writes count packed elements into the coarse prefix.
func (s *refinedStream[B, S, P]) update(src []float32, start, count int) error {
	if start < 0 || count < 0 || start+count > s.numCoarse {
		return fmt.Errorf("%w: elements [%d,%d) of %d coarse", ErrOutOfRange, start, start+count, s.numCoarse)
	}
	if len(src) < count*s.width {
		return fmt.Errorf("%w: %d floats for %d elements of width %d", ErrOutOfRange, len(src), count, s.width)
	}
	if count == 0 {
		return nil
	}
	return s.buf.UpdateData(src, start, count)
}

func (s *refinedStream[B, S, P]) refine(k backend.Kernels[B, S, P]) error {
	if !s.hasStencils {
		return nil
	}
	return k.EvalStencils(s.buf, s.refineSrc, s.buf, s.refineDst, s.stencils, s.refineInst)
}

func (s *refinedStream[B, S, P]) release(k backend.Kernels[B, S, P]) {
	if s.hasStencils {
		k.DestroyStencilTable(s.stencils)
		s.hasStencils = false
	}
	if s.hasBuf {
		k.DestroyBuffer(s.buf)
		s.hasBuf = false
	}
}

// output wraps caller memory as a packed output of width floats.
func output(data []float32, width int) backend.Output {
	if data == nil {
		return backend.Output{}
	}
	return backend.Output{Buf: buffer.Wrap(data, width), Layout: buffer.Packed(width)}
}

// instanceSet resolves compiled kernel state during construction, from
// the shared cache when there is one.
type instanceSet struct {
	kind     backend.Kind
	compile  func(backend.Key) (backend.Instance, error)
	cache    *EvaluatorCache
	observer Observer
	owned    map[backend.Key]backend.Instance
}

func (s *instanceSet) get(key backend.Key) (backend.Instance, error) {
	if s.cache != nil {
		inst, hit, err := s.cache.instance(key, s.compile)
		if err != nil {
			return nil, fmt.Errorf("subd: compile %v: %w", key, err)
		}
		s.observer.ObserveCache(s.kind, hit)
		return inst, nil
	}
	if inst, ok := s.owned[key]; ok {
		return inst, nil
	}
	inst, err := s.compile(key)
	if err != nil {
		return nil, fmt.Errorf("subd: compile %v: %w", key, err)
	}
	if s.owned == nil {
		s.owned = make(map[backend.Key]backend.Instance)
	}
	s.owned[key] = inst
	return inst, nil
}

func (s *instanceSet) release() {
	for key, inst := range s.owned {
		if inst != nil {
			inst.Release()
		}
		delete(s.owned, key)
	}
}
