package subd

import (
	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
)

// faceVaryingEval refines and evaluates one face-varying channel. It owns
// its buffer and stencils and reads the channel's arrays of the parent's
// patch table, which it does not own.
type faceVaryingEval[B buffer.Buffer, S, P any] struct {
	channel int
	stream  *refinedStream[B, S, P]
}

func newFaceVaryingEval[B buffer.Buffer, S, P any](k backend.Kernels[B, S, P], t *patch.Table, ch int, spec streamSpec, inst *instanceSet) (*faceVaryingEval[B, S, P], error) {
	spec.width = faceVaryingWidth
	spec.local = t.LocalPointFaceVaryingStencils(ch)
	spec.patchExtent = t.MaxFaceVaryingIndex(ch)
	s, err := newRefinedStream(k, spec, inst)
	if err != nil {
		return nil, err
	}
	return &faceVaryingEval[B, S, P]{channel: ch, stream: s}, nil
}

func (f *faceVaryingEval[B, S, P]) update(src []float32, start, count int) error {
	return f.stream.update(src, start, count)
}

func (f *faceVaryingEval[B, S, P]) refine(k backend.Kernels[B, S, P]) error {
	return f.stream.refine(k)
}

func (f *faceVaryingEval[B, S, P]) evaluate(k backend.Kernels[B, S, P], coords []patch.Coord, out []float32, patches P) error {
	s := f.stream
	return k.EvalPatchesFaceVarying(s.buf, s.evalSrc, output(out, faceVaryingWidth), coords, patches, f.channel, s.evalInst)
}

func (f *faceVaryingEval[B, S, P]) release(k backend.Kernels[B, S, P]) {
	f.stream.release(k)
}
