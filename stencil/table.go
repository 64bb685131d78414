// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package stencil holds the sparse linear-weight tables that expand
// coarse control data into refined points.
//
// Stencil i produces buffer element NumControlVertices()+i as a weighted
// sum of earlier elements. Tables are immutable once built and safe for
// concurrent readers.
package stencil

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned for tables that violate the index ordering or
// whose arrays disagree in length.
var ErrMalformed = errors.New("stencil: malformed table")

// Table is an immutable stencil table in compressed form: stencil i owns
// Sizes()[i] entries of Indices() and Weights() starting at Offsets()[i].
type Table struct {
	numControl int
	sizes      []int32
	offsets    []int32
	indices    []int32
	weights    []float32
	factorized bool
}

// Stencil is a read-only view of one stencil.
type Stencil struct {
	Indices []int32
	Weights []float32
}

// New validates and wraps the given arrays. The table takes ownership of
// the slices.
func New(numControl int, sizes, indices []int32, weights []float32) (*Table, error) {
	if numControl < 0 {
		return nil, fmt.Errorf("%w: negative control vertex count %d", ErrMalformed, numControl)
	}
	if len(indices) != len(weights) {
		return nil, fmt.Errorf("%w: %d indices, %d weights", ErrMalformed, len(indices), len(weights))
	}
	t := &Table{
		numControl: numControl,
		sizes:      sizes,
		offsets:    make([]int32, len(sizes)),
		indices:    indices,
		weights:    weights,
		factorized: true,
	}
	var off int32
	for i, n := range sizes {
		if n < 0 {
			return nil, fmt.Errorf("%w: stencil %d has negative size", ErrMalformed, i)
		}
		t.offsets[i] = off
		off += n
	}
	if int(off) != len(indices) {
		return nil, fmt.Errorf("%w: sizes sum to %d, have %d entries", ErrMalformed, off, len(indices))
	}
	for i := range sizes {
		limit := int32(numControl + i)
		for _, idx := range t.indicesOf(i) {
			if idx < 0 || idx >= limit {
				return nil, fmt.Errorf("%w: stencil %d references %d (limit %d)", ErrMalformed, i, idx, limit)
			}
			if idx >= int32(numControl) {
				t.factorized = false
			}
		}
	}
	return t, nil
}

// Empty returns a table with no stencils over numControl control vertices.
func Empty(numControl int) *Table {
	return &Table{numControl: numControl, factorized: true}
}

// NumControlVertices returns the number of coarse elements the table reads.
func (t *Table) NumControlVertices() int { return t.numControl }

// NumStencils returns the number of generated elements.
func (t *Table) NumStencils() int { return len(t.sizes) }

// NumEntries returns the total number of (index, weight) pairs.
func (t *Table) NumEntries() int { return len(t.indices) }

// Sizes returns the per-stencil entry counts. Callers must not modify it.
func (t *Table) Sizes() []int32 { return t.sizes }

// Offsets returns the per-stencil first entry. Callers must not modify it.
func (t *Table) Offsets() []int32 { return t.offsets }

// Indices returns all source indices. Callers must not modify it.
func (t *Table) Indices() []int32 { return t.indices }

// Weights returns all weights. Callers must not modify it.
func (t *Table) Weights() []float32 { return t.weights }

// IsFactorized reports whether every stencil reads only control vertices.
// Factorized tables can be evaluated in any order.
func (t *Table) IsFactorized() bool { return t.factorized }

// Stencil returns stencil i.
func (t *Table) Stencil(i int) Stencil {
	return Stencil{Indices: t.indicesOf(i), Weights: t.weightsOf(i)}
}

func (t *Table) indicesOf(i int) []int32 {
	off := t.offsets[i]
	return t.indices[off : off+t.sizes[i]]
}

func (t *Table) weightsOf(i int) []float32 {
	off := t.offsets[i]
	return t.weights[off : off+t.sizes[i]]
}
