// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package patch holds patch tables, patch basis functions and the patch
// map that locates a patch from a base face and (u,v).
package patch

import (
	"errors"
	"fmt"

	"github.com/gogpu/subd/stencil"
)

// ErrMalformed is returned when a table's arrays are inconsistent.
var ErrMalformed = errors.New("patch: malformed table")

// Array is a run of patches sharing one type.
type Array struct {
	Type Type
	// NumPatches is the number of patches in the array.
	NumPatches int
	// IndexBase is the offset of the array's first control vertex index.
	IndexBase int
	// PatchBase is the global index of the array's first patch.
	PatchBase int
}

// Stride returns the number of control vertex indices per patch.
func (a Array) Stride() int { return a.Type.NumControlVertices() }

// FaceVaryingChannel is the patch data of one face-varying channel. It
// runs parallel to the vertex patches: patch p of the table uses
// Indices[p*Type.NumControlVertices():] and Params[p].
type FaceVaryingChannel struct {
	Type    Type
	Indices []int32
	Params  []Param
}

// Table is an immutable collection of patches.
type Table struct {
	arrays   []Array
	indices  []int32
	params   []Param
	adaptive bool

	varyingType    Type
	varyingIndices []int32

	fvar []FaceVaryingChannel

	localPoints        *stencil.Table
	localPointsVarying *stencil.Table
	localPointsFVar    []*stencil.Table
}

// Arrays returns the patch arrays. Callers must not modify it.
func (t *Table) Arrays() []Array { return t.arrays }

// Indices returns the control vertex indices of all patches.
func (t *Table) Indices() []int32 { return t.indices }

// Params returns the per-patch params, indexed by patch index.
func (t *Table) Params() []Param { return t.params }

// NumPatches returns the total number of patches.
func (t *Table) NumPatches() int { return len(t.params) }

// IsAdaptive reports whether the table was built by feature-adaptive
// refinement. Adaptive tables index the whole refined buffer including
// coarse points; uniform tables index the final level only.
func (t *Table) IsAdaptive() bool { return t.adaptive }

// VaryingType returns the basis used for varying data.
func (t *Table) VaryingType() Type { return t.varyingType }

// VaryingIndices returns the per-patch varying control indices.
func (t *Table) VaryingIndices() []int32 { return t.varyingIndices }

// NumFaceVaryingChannels returns the number of face-varying channels.
func (t *Table) NumFaceVaryingChannels() int { return len(t.fvar) }

// FaceVarying returns the patch data of channel ch.
func (t *Table) FaceVarying(ch int) FaceVaryingChannel { return t.fvar[ch] }

// LocalPointStencils returns stencils for points that exist only to
// support patches, or nil.
func (t *Table) LocalPointStencils() *stencil.Table { return t.localPoints }

// LocalPointVaryingStencils returns the varying counterpart of
// LocalPointStencils, or nil.
func (t *Table) LocalPointVaryingStencils() *stencil.Table { return t.localPointsVarying }

// LocalPointFaceVaryingStencils returns local point stencils of channel
// ch, or nil.
func (t *Table) LocalPointFaceVaryingStencils(ch int) *stencil.Table {
	if ch < 0 || ch >= len(t.localPointsFVar) {
		return nil
	}
	return t.localPointsFVar[ch]
}

// PatchType returns the basis of the patch. Patches flagged
// regular in their param use the B-spline basis wherever they are stored.
func (t *Table) PatchType(h Handle) Type {
	if t.params[h.PatchIndex].Regular() {
		return Regular
	}
	return t.arrays[h.ArrayIndex].Type
}

// PatchVertices returns the control vertex indices of the patch.
func (t *Table) PatchVertices(h Handle) []int32 {
	n := t.PatchType(h).NumControlVertices()
	return t.indices[h.VertIndex : int(h.VertIndex)+n]
}

// Handles returns a handle for every patch, in patch index order.
func (t *Table) Handles() []Handle {
	out := make([]Handle, 0, len(t.params))
	for ai, a := range t.arrays {
		for p := range a.NumPatches {
			out = append(out, Handle{
				ArrayIndex: int32(ai),                         //nolint:gosec // array count is small
				PatchIndex: int32(a.PatchBase + p),            //nolint:gosec // patch counts fit int32
				VertIndex:  int32(a.IndexBase + p*a.Stride()), //nolint:gosec // index counts fit int32
			})
		}
	}
	return out
}

// MaxVertexIndex returns one past the largest control vertex index used
// by the vertex patches, or 0 for an empty table.
func (t *Table) MaxVertexIndex() int { return maxIndex(t.indices) }

// MaxVaryingIndex is MaxVertexIndex for varying indices.
func (t *Table) MaxVaryingIndex() int { return maxIndex(t.varyingIndices) }

// MaxFaceVaryingIndex is MaxVertexIndex for channel ch.
func (t *Table) MaxFaceVaryingIndex(ch int) int { return maxIndex(t.fvar[ch].Indices) }

func maxIndex(idx []int32) int {
	m := -1
	for _, i := range idx {
		m = max(m, int(i))
	}
	return m + 1
}

// Patch is the input to Builder.Add.
type Patch struct {
	Type  Type
	CVs   []int32
	Param Param
	// Varying holds the varying control indices. Required when the
	// builder has a varying type.
	Varying []int32
	// FaceVarying holds per channel control indices.
	FaceVarying [][]int32
	// FaceVaryingParam overrides the param used for face-varying
	// evaluation. The zero value means Param without the regular bit.
	FaceVaryingParam *Param
}

// Builder assembles a Table. Patches are grouped into arrays by type in
// order of first appearance.
type Builder struct {
	adaptive    bool
	varyingType Type
	fvarTypes   []Type
	order       []Type
	byType      map[Type][]Patch

	localPoints        *stencil.Table
	localPointsVarying *stencil.Table
	localPointsFVar    []*stencil.Table
}

// NewBuilder starts a table. adaptive marks tables whose control indices
// address the full refined buffer.
func NewBuilder(adaptive bool) *Builder {
	return &Builder{adaptive: adaptive, byType: make(map[Type][]Patch)}
}

// SetVarying enables varying indices with basis typ.
func (b *Builder) SetVarying(typ Type) { b.varyingType = typ }

// SetFaceVarying declares the face-varying channels and their bases.
func (b *Builder) SetFaceVarying(types ...Type) { b.fvarTypes = types }

// SetLocalPoints attaches local point stencils. Any argument may be nil.
func (b *Builder) SetLocalPoints(vertex, varying *stencil.Table, fvar []*stencil.Table) {
	b.localPoints = vertex
	b.localPointsVarying = varying
	b.localPointsFVar = fvar
}

// Add queues a patch.
func (b *Builder) Add(p Patch) {
	if _, ok := b.byType[p.Type]; !ok {
		b.order = append(b.order, p.Type)
	}
	b.byType[p.Type] = append(b.byType[p.Type], p)
}

// Build lays out the arrays and validates every patch.
func (b *Builder) Build() (*Table, error) {
	t := &Table{
		adaptive:           b.adaptive,
		varyingType:        b.varyingType,
		fvar:               make([]FaceVaryingChannel, len(b.fvarTypes)),
		localPoints:        b.localPoints,
		localPointsVarying: b.localPointsVarying,
		localPointsFVar:    b.localPointsFVar,
	}
	for ch, typ := range b.fvarTypes {
		t.fvar[ch].Type = typ
	}

	for _, typ := range b.order {
		patches := b.byType[typ]
		ncv := typ.NumControlVertices()
		if ncv == 0 {
			return nil, fmt.Errorf("%w: unsupported patch type %v", ErrMalformed, typ)
		}
		t.arrays = append(t.arrays, Array{
			Type:       typ,
			NumPatches: len(patches),
			IndexBase:  len(t.indices),
			PatchBase:  len(t.params),
		})
		for i, p := range patches {
			if err := b.append(t, p); err != nil {
				return nil, fmt.Errorf("%w: %v patch %d: %w", ErrMalformed, typ, i, err)
			}
		}
	}
	return t, nil
}

func (b *Builder) append(t *Table, p Patch) error {
	if len(p.CVs) != p.Type.NumControlVertices() {
		return fmt.Errorf("has %d control vertices, want %d", len(p.CVs), p.Type.NumControlVertices())
	}
	t.indices = append(t.indices, p.CVs...)
	t.params = append(t.params, p.Param)

	if n := b.varyingType.NumControlVertices(); n > 0 {
		if len(p.Varying) != n {
			return fmt.Errorf("has %d varying indices, want %d", len(p.Varying), n)
		}
		t.varyingIndices = append(t.varyingIndices, p.Varying...)
	}

	if len(p.FaceVarying) != len(t.fvar) {
		return fmt.Errorf("has %d face-varying channels, want %d", len(p.FaceVarying), len(t.fvar))
	}
	fp := p.Param.WithRegular(false)
	if p.FaceVaryingParam != nil {
		fp = *p.FaceVaryingParam
	}
	for ch := range t.fvar {
		c := &t.fvar[ch]
		if len(p.FaceVarying[ch]) != c.Type.NumControlVertices() {
			return fmt.Errorf("channel %d has %d indices, want %d", ch, len(p.FaceVarying[ch]), c.Type.NumControlVertices())
		}
		c.Indices = append(c.Indices, p.FaceVarying[ch]...)
		c.Params = append(c.Params, fp)
	}
	return nil
}
