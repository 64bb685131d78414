package stencil

import (
	"fmt"
	"sort"
)

// Builder accumulates stencils in index order.
type Builder struct {
	numControl int
	sizes      []int32
	indices    []int32
	weights    []float32
}

// NewBuilder starts a table over numControl control vertices.
func NewBuilder(numControl int) *Builder {
	return &Builder{numControl: numControl}
}

// Len returns the number of stencils added so far.
func (b *Builder) Len() int { return len(b.sizes) }

// Add appends one stencil. indices and weights must have equal length.
func (b *Builder) Add(indices []int32, weights []float32) {
	n := min(len(indices), len(weights))
	b.sizes = append(b.sizes, int32(n)) //nolint:gosec // stencil sizes are small
	b.indices = append(b.indices, indices[:n]...)
	b.weights = append(b.weights, weights[:n]...)
}

// AddWeights appends one stencil from an index->weight map, sorted by
// index so tables built from maps are deterministic.
func (b *Builder) AddWeights(m map[int32]float32) {
	keys := make([]int32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	b.sizes = append(b.sizes, int32(len(keys))) //nolint:gosec // stencil sizes are small
	for _, k := range keys {
		b.indices = append(b.indices, k)
		b.weights = append(b.weights, m[k])
	}
}

// Build validates and returns the table.
func (b *Builder) Build() (*Table, error) {
	return New(b.numControl, b.sizes, b.indices, b.weights)
}

// AppendLocal returns base followed by the local point stencils of local,
// rewritten so that they read control vertices only.
//
// local indexes the space base produces: [0, base.NumControlVertices()+
// base.NumStencils()). A nil or empty local returns base unchanged.
func AppendLocal(base, local *Table) (*Table, error) {
	if local == nil || local.NumStencils() == 0 {
		return base, nil
	}
	space := base.NumControlVertices() + base.NumStencils()
	if local.NumControlVertices() != space {
		return nil, fmt.Errorf("%w: local stencils address %d points, base provides %d",
			ErrMalformed, local.NumControlVertices(), space)
	}

	flat, err := base.Factorize()
	if err != nil {
		return nil, err
	}

	out := NewBuilder(base.NumControlVertices())
	out.sizes = append(out.sizes, base.sizes...)
	out.indices = append(out.indices, base.indices...)
	out.weights = append(out.weights, base.weights...)

	acc := make(map[int32]float32)
	for i := range local.NumStencils() {
		clear(acc)
		s := local.Stencil(i)
		for j, idx := range s.Indices {
			if int(idx) >= space {
				return nil, fmt.Errorf("%w: local stencil %d references %d", ErrMalformed, i, idx)
			}
			flat.accumulate(acc, idx, s.Weights[j])
		}
		out.AddWeights(acc)
	}
	return out.Build()
}

// accumulate adds w times element idx to acc. t must be factorized, so
// the stencil of a refined element already reads control vertices only.
func (t *Table) accumulate(acc map[int32]float32, idx int32, w float32) {
	if int(idx) < t.numControl {
		acc[idx] += w
		return
	}
	s := t.Stencil(int(idx) - t.numControl)
	for j, c := range s.Indices {
		acc[c] += w * s.Weights[j]
	}
}

// Factorize returns an equivalent table whose stencils read control
// vertices only.
//
// Stencils are expanded in index order: a reference to an earlier refined
// element is replaced by that element's row, which was already reduced to
// control vertices, so each row is built once.
func (t *Table) Factorize() (*Table, error) {
	if t.factorized {
		return t, nil
	}
	out := NewBuilder(t.numControl)
	starts := make([]int, 0, t.NumStencils())
	acc := make(map[int32]float32)
	for i := range t.NumStencils() {
		clear(acc)
		s := t.Stencil(i)
		for j, idx := range s.Indices {
			w := s.Weights[j]
			if int(idx) < t.numControl {
				acc[idx] += w
				continue
			}
			r := int(idx) - t.numControl
			lo := starts[r]
			for k := lo; k < lo+int(out.sizes[r]); k++ {
				acc[out.indices[k]] += w * out.weights[k]
			}
		}
		starts = append(starts, len(out.indices))
		out.AddWeights(acc)
	}
	return out.Build()
}
