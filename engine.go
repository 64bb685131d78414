package subd

import (
	"fmt"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
)

// streamID selects a data stream: a face-varying channel index, or one
// of the negative constants below.
type streamID int

const (
	streamVertex  streamID = -2
	streamVarying streamID = -1
)

// evalOutput is the substrate-independent face of the engine.
type evalOutput interface {
	// coarse returns the coarse element count and width of a stream.
	coarse(id streamID) (n, width int, ok bool)
	update(id streamID, src []float32, start, count int) error
	refine() error
	evalLimit(coords []patch.Coord, p, du, dv []float32) error
	evalVarying(coords []patch.Coord, out []float32) error
	evalFaceVarying(ch int, coords []patch.Coord, out []float32) error
	deviceResources() (backend.DeviceResources, bool)
	release()
}

// volatileEval is the engine over one substrate's associated types. It
// owns the vertex stream, the optional varying stream, one sub-evaluator
// per face-varying channel and the substrate patch table.
type volatileEval[B buffer.Buffer, S, P any] struct {
	k backend.Kernels[B, S, P]

	patches    P
	hasPatches bool

	vertex  *refinedStream[B, S, P]
	varying *refinedStream[B, S, P]
	fvar    []*faceVaryingEval[B, S, P]

	instances instanceSet
}

func newVolatileEval[B buffer.Buffer, S, P any](k backend.Kernels[B, S, P], t Topology, cache *EvaluatorCache, o *options) (_ *volatileEval[B, S, P], err error) {
	pt := t.PatchTable()
	vs := t.VertexStencils()
	fvs := t.FaceVaryingStencils()
	switch {
	case pt == nil:
		return nil, fmt.Errorf("%w: no patch table", ErrInvalidTopology)
	case vs == nil:
		return nil, fmt.Errorf("%w: no vertex stencils", ErrInvalidTopology)
	case len(fvs) != pt.NumFaceVaryingChannels():
		return nil, fmt.Errorf("%w: %d face-varying stencil tables for %d channels",
			ErrInvalidTopology, len(fvs), pt.NumFaceVaryingChannels())
	}

	e := &volatileEval[B, S, P]{
		k: k,
		instances: instanceSet{
			kind:     k.Kind(),
			compile:  k.Compile,
			cache:    cache,
			observer: o.observer,
		},
	}
	defer func() {
		if err != nil {
			e.release()
		}
	}()

	if e.patches, err = k.CreatePatchTable(pt); err != nil {
		return nil, fmt.Errorf("subd: patch table: %w", err)
	}
	e.hasPatches = true

	adaptive := pt.IsAdaptive()
	e.vertex, err = newRefinedStream(k, streamSpec{
		name:        StreamVertex,
		width:       vertexWidth,
		stencils:    vs,
		local:       pt.LocalPointStencils(),
		adaptive:    adaptive,
		patchExtent: pt.MaxVertexIndex(),
		derivs:      true,
	}, &e.instances)
	if err != nil {
		return nil, err
	}

	if vary := t.VaryingStencils(); vary != nil {
		if pt.VaryingType().NumControlVertices() == 0 {
			return nil, fmt.Errorf("%w: varying stencils without varying patches", ErrInvalidTopology)
		}
		e.varying, err = newRefinedStream(k, streamSpec{
			name:        StreamVarying,
			width:       varyingWidth,
			stencils:    vary,
			local:       pt.LocalPointVaryingStencils(),
			adaptive:    adaptive,
			patchExtent: pt.MaxVaryingIndex(),
		}, &e.instances)
		if err != nil {
			return nil, err
		}
	}

	for ch, st := range fvs {
		if st == nil {
			return nil, fmt.Errorf("%w: channel %d has no stencils", ErrInvalidTopology, ch)
		}
		fv, err := newFaceVaryingEval(k, pt, ch, streamSpec{
			name:     fmt.Sprintf("%s[%d]", StreamFaceVarying, ch),
			stencils: st,
			adaptive: adaptive,
		}, &e.instances)
		if err != nil {
			return nil, err
		}
		e.fvar = append(e.fvar, fv)
	}
	return e, nil
}

func (e *volatileEval[B, S, P]) stream(id streamID) (*refinedStream[B, S, P], bool) {
	switch {
	case id == streamVertex:
		return e.vertex, true
	case id == streamVarying:
		return e.varying, e.varying != nil
	case id >= 0 && int(id) < len(e.fvar):
		return e.fvar[id].stream, true
	}
	return nil, false
}

func (e *volatileEval[B, S, P]) coarse(id streamID) (n, width int, ok bool) {
	s, ok := e.stream(id)
	if !ok {
		return 0, 0, false
	}
	return s.numCoarse, s.width, true
}

func (e *volatileEval[B, S, P]) update(id streamID, src []float32, start, count int) error {
	if id >= 0 {
		return e.fvar[id].update(src, start, count)
	}
	s, _ := e.stream(id)
	return s.update(src, start, count)
}

// refine recomputes every stream's refined suffix from its coarse prefix.
func (e *volatileEval[B, S, P]) refine() error {
	if err := e.vertex.refine(e.k); err != nil {
		return fmt.Errorf("subd: refine vertex: %w", err)
	}
	if e.varying != nil {
		if err := e.varying.refine(e.k); err != nil {
			return fmt.Errorf("subd: refine varying: %w", err)
		}
	}
	for _, fv := range e.fvar {
		if err := fv.refine(e.k); err != nil {
			return fmt.Errorf("subd: refine face-varying channel %d: %w", fv.channel, err)
		}
	}
	return nil
}

func (e *volatileEval[B, S, P]) evalLimit(coords []patch.Coord, p, du, dv []float32) error {
	out := backend.PatchOutputs{
		P:    output(p, vertexWidth),
		DPdu: output(du, vertexWidth),
		DPdv: output(dv, vertexWidth),
	}
	return e.k.EvalPatches(e.vertex.buf, e.vertex.evalSrc, out, coords, e.patches, e.vertex.evalInst)
}

func (e *volatileEval[B, S, P]) evalVarying(coords []patch.Coord, out []float32) error {
	s := e.varying
	return e.k.EvalPatchesVarying(s.buf, s.evalSrc, output(out, varyingWidth), coords, e.patches, s.evalInst)
}

func (e *volatileEval[B, S, P]) evalFaceVarying(ch int, coords []patch.Coord, out []float32) error {
	return e.fvar[ch].evaluate(e.k, coords, out, e.patches)
}

// deviceResources exports native handles when the substrate holds its
// data in device memory.
func (e *volatileEval[B, S, P]) deviceResources() (backend.DeviceResources, bool) {
	ex, ok := any(e.k).(backend.ResourceExporter[B, P])
	if !ok {
		return backend.DeviceResources{}, false
	}

	var r backend.DeviceResources
	ex.ExportPatchTable(e.patches, &r)
	r.SourceBuffer = ex.BufferHandle(e.vertex.buf)
	r.SourceOffset = e.vertex.evalSrc.Offset / vertexWidth
	if e.varying != nil {
		r.VaryingBuffer = ex.BufferHandle(e.varying.buf)
	}
	if len(r.FaceVarying) < len(e.fvar) {
		r.FaceVarying = append(r.FaceVarying, make([]backend.ChannelResources, len(e.fvar)-len(r.FaceVarying))...)
	}
	for ch, fv := range e.fvar {
		r.FaceVarying[ch].SourceBuffer = ex.BufferHandle(fv.stream.buf)
		r.FaceVarying[ch].SourceOffset = fv.stream.evalSrc.Offset / faceVaryingWidth
	}
	return r, true
}

func (e *volatileEval[B, S, P]) release() {
	for _, fv := range e.fvar {
		fv.release(e.k)
	}
	e.fvar = nil
	if e.varying != nil {
		e.varying.release(e.k)
	}
	if e.vertex != nil {
		e.vertex.release(e.k)
	}
	if e.hasPatches {
		e.k.DestroyPatchTable(e.patches)
		e.hasPatches = false
	}
	e.instances.release()
}
