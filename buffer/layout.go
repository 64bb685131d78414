// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package buffer describes float streams inside storage blocks and the
// host-side buffers the evaluation kernels read and write.
//
// A Layout addresses one stream: element i, component c lives at
// Offset + i*Stride + c. Several streams may interleave inside the same
// storage by sharing a stride and using different offsets.
package buffer

import "fmt"

// Layout describes one numeric stream inside a larger float block.
type Layout struct {
	// Offset is the index of the first float of element 0.
	Offset int
	// Width is the number of floats per element.
	Width int
	// Stride is the distance in floats between consecutive elements.
	Stride int
}

// NewLayout returns a layout with the given offset, width and stride.
func NewLayout(offset, width, stride int) Layout {
	return Layout{Offset: offset, Width: width, Stride: stride}
}

// Packed returns a tightly packed layout of the given width at offset 0.
func Packed(width int) Layout {
	return Layout{Width: width, Stride: width}
}

// Valid reports whether the layout can address any data.
func (l Layout) Valid() bool {
	return l.Offset >= 0 && l.Width > 0 && l.Width <= l.Stride
}

// IsZero reports whether the layout is the zero value. Zero layouts mark
// outputs that were not requested.
func (l Layout) IsZero() bool {
	return l == Layout{}
}

// Skip returns the layout moved forward by n whole elements.
func (l Layout) Skip(n int) Layout {
	l.Offset += n * l.Stride
	return l
}

// Index returns the float index of component c of element i.
func (l Layout) Index(i, c int) int {
	return l.Offset + i*l.Stride + c
}

// Span returns the number of floats needed to hold n elements.
func (l Layout) Span(n int) int {
	if n <= 0 {
		return 0
	}
	return l.Offset + (n-1)*l.Stride + l.Width
}

// String returns a compact form used in log output and cache keys.
func (l Layout) String() string {
	return fmt.Sprintf("(%d,%d,%d)", l.Offset, l.Width, l.Stride)
}
