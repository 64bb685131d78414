// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cpu

import (
	"fmt"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// maxControlVertices bounds the weight scratch of one patch.
const maxControlVertices = 20

// Source selects the basis, control indices and parameterization a patch
// evaluation reads for a handle.
type Source interface {
	Resolve(h patch.Handle) (patch.Type, []int32, patch.Param)
}

// VertexSource reads the vertex patches of T.
type VertexSource struct{ T *patch.Table }

// Resolve implements Source.
func (s VertexSource) Resolve(h patch.Handle) (patch.Type, []int32, patch.Param) {
	return s.T.PatchType(h), s.T.PatchVertices(h), s.T.Params()[h.PatchIndex]
}

// VaryingSource reads the varying patches of T.
type VaryingSource struct{ T *patch.Table }

// Resolve implements Source.
func (s VaryingSource) Resolve(h patch.Handle) (patch.Type, []int32, patch.Param) {
	typ := s.T.VaryingType()
	n := int32(typ.NumControlVertices()) //nolint:gosec // at most 20
	return typ, s.T.VaryingIndices()[h.PatchIndex*n : (h.PatchIndex+1)*n], s.T.Params()[h.PatchIndex]
}

// FaceVaryingSource reads channel Channel of T.
type FaceVaryingSource struct {
	T       *patch.Table
	Channel int
}

// Resolve implements Source.
func (s FaceVaryingSource) Resolve(h patch.Handle) (patch.Type, []int32, patch.Param) {
	c := s.T.FaceVarying(s.Channel)
	n := int32(c.Type.NumControlVertices()) //nolint:gosec // at most 20
	typ := c.Type
	param := c.Params[h.PatchIndex]
	if param.Regular() {
		typ = patch.Regular
	}
	return typ, c.Indices[h.PatchIndex*n : (h.PatchIndex+1)*n], param
}

// CheckStencils validates that src and dst can hold every element the
// stencils of t read and write.
func CheckStencils(src []float32, srcDesc buffer.Layout, dst []float32, dstDesc buffer.Layout, t *stencil.Table) error {
	if !srcDesc.Valid() || !dstDesc.Valid() {
		return fmt.Errorf("cpu: invalid layouts src%v dst%v", srcDesc, dstDesc)
	}
	n := t.NumStencils()
	if need := dstDesc.Span(n); need > len(dst) {
		return fmt.Errorf("%w: %d stencils need %d floats, destination holds %d",
			buffer.ErrRange, n, need, len(dst))
	}
	if need := srcDesc.Span(t.NumControlVertices()); need > len(src) {
		return fmt.Errorf("%w: %d control vertices need %d floats, source holds %d",
			buffer.ErrRange, t.NumControlVertices(), need, len(src))
	}
	return nil
}

// StencilRange applies stencils [start, end) of t. dst element i of the
// table is written at dstDesc.Index(i, 0). Callers validate the buffers
// with CheckStencils first.
func StencilRange(src []float32, srcDesc buffer.Layout, dst []float32, dstDesc buffer.Layout, t *stencil.Table, start, end int) {
	width := min(srcDesc.Width, dstDesc.Width)
	sizes, offsets := t.Sizes(), t.Offsets()
	indices, weights := t.Indices(), t.Weights()

	for i := start; i < end; i++ {
		d := dst[dstDesc.Index(i, 0) : dstDesc.Index(i, 0)+width]
		clear(d)
		first := offsets[i]
		for j := first; j < first+sizes[i]; j++ {
			s := srcDesc.Index(int(indices[j]), 0)
			w := weights[j]
			for k := range d {
				d[k] += w * src[s+k]
			}
		}
	}
}

// CheckOutput validates that o can hold n results.
func CheckOutput(o backend.Output, n int) error {
	if !o.Requested() {
		return nil
	}
	if !o.Layout.Valid() {
		return fmt.Errorf("cpu: invalid output layout %v", o.Layout)
	}
	if need := o.Layout.Span(n); need > len(o.Buf.BindHost()) {
		return fmt.Errorf("%w: %d results need %d floats, output holds %d",
			buffer.ErrRange, n, need, len(o.Buf.BindHost()))
	}
	return nil
}

// CheckPatches validates the outputs of a patch evaluation over n coords.
func CheckPatches(srcDesc buffer.Layout, out backend.PatchOutputs, n int) error {
	if !srcDesc.Valid() {
		return fmt.Errorf("cpu: invalid source layout %v", srcDesc)
	}
	for _, o := range []backend.Output{out.P, out.DPdu, out.DPdv} {
		if err := CheckOutput(o, n); err != nil {
			return err
		}
	}
	return nil
}

// PatchRange evaluates coords[start:end], writing result i at element i
// of each requested output.
func PatchRange(src []float32, srcDesc buffer.Layout, out backend.PatchOutputs, coords []patch.Coord, sel Source, start, end int) error {
	var wP, wDu, wDv [maxControlVertices]float32

	derivs := out.Derivatives()
	pData := out.P.Buf.BindHost()
	duData := out.DPdu.Buf.BindHost()
	dvData := out.DPdv.Buf.BindHost()

	for i := start; i < end; i++ {
		c := coords[i]
		typ, cvs, param := sel.Resolve(c.Handle)

		var n int
		if derivs {
			n = patch.EvaluateBasis(typ, param, c.U, c.V, wP[:], wDu[:], wDv[:])
		} else {
			n = patch.EvaluateBasis(typ, param, c.U, c.V, wP[:], nil, nil)
		}
		if n == 0 || n > len(cvs) {
			return fmt.Errorf("cpu: patch %d has unsupported basis %v", c.Handle.PatchIndex, typ)
		}

		var p, du, dv []float32
		if pData != nil {
			p = zeroed(pData, out.P.Layout, i, srcDesc.Width)
		}
		if duData != nil {
			du = zeroed(duData, out.DPdu.Layout, i, srcDesc.Width)
		}
		if dvData != nil {
			dv = zeroed(dvData, out.DPdv.Layout, i, srcDesc.Width)
		}

		for j := range n {
			s := srcDesc.Index(int(cvs[j]), 0)
			if s < 0 || s+srcDesc.Width > len(src) {
				return fmt.Errorf("%w: patch %d reads control vertex %d", buffer.ErrRange, c.Handle.PatchIndex, cvs[j])
			}
			cv := src[s : s+srcDesc.Width]
			accumulate(p, cv, wP[j])
			accumulate(du, cv, wDu[j])
			accumulate(dv, cv, wDv[j])
		}
	}
	return nil
}

// zeroed clears and returns element i of data under l, truncated to width.
func zeroed(data []float32, l buffer.Layout, i, width int) []float32 {
	w := min(l.Width, width)
	d := data[l.Index(i, 0) : l.Index(i, 0)+w]
	clear(d)
	return d
}

func accumulate(dst, cv []float32, w float32) {
	for k := range dst {
		dst[k] += w * cv[k]
	}
}
