// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package patch

import "fmt"

// Type identifies the basis a patch is evaluated with.
type Type uint8

// Patch types.
const (
	// NonPatch marks an unused slot.
	NonPatch Type = iota
	// Quads is a bilinear patch over 4 control points.
	Quads
	// Regular is a bicubic B-spline patch over 16 control points. A
	// boundary mask in the patch param extrapolates missing rows.
	Regular
	// GregoryBasis is a Gregory patch over 20 control points.
	GregoryBasis
)

// NumControlVertices returns the number of control points the basis uses.
func (t Type) NumControlVertices() int {
	switch t {
	case Quads:
		return 4
	case Regular:
		return 16
	case GregoryBasis:
		return 20
	default:
		return 0
	}
}

func (t Type) String() string {
	switch t {
	case NonPatch:
		return "non-patch"
	case Quads:
		return "quads"
	case Regular:
		return "regular"
	case GregoryBasis:
		return "gregory-basis"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Param locates a patch inside its base face. It packs into two words
// with the same bit layout the GPU kernels decode:
//
//	Field0: face id (bits 0-27), transition mask (bits 28-31)
//	Field1: depth (0-3), non-quad (4), regular (5), boundary (7-10),
//	        u origin (12-21), v origin (22-31)
type Param struct {
	Field0 uint32
	Field1 uint32
}

// Boundary mask bits. Each names the patch edge whose outer row of
// control points is missing.
const (
	BoundaryV0 = 1 << iota // v = 0
	BoundaryU1             // u = 1
	BoundaryV1             // v = 1
	BoundaryU0             // u = 0
)

// MaxDepth is the deepest level a Param can encode.
const MaxDepth = 10

func pack(value, width, offset uint32) uint32 {
	return (value & (1<<width - 1)) << offset
}

func unpack(value, width, offset uint32) uint32 {
	return (value >> offset) & (1<<width - 1)
}

// NewParam packs a patch param. u and v are the integer origin of the
// patch at the given depth.
func NewParam(face, u, v, depth int, nonQuad bool, boundary int, regular bool) Param {
	var p Param
	p.Field0 = pack(uint32(face), 28, 0) //nolint:gosec // face ids fit in 28 bits
	p.Field1 = pack(uint32(v), 10, 22) | //nolint:gosec // origins fit in 10 bits
		pack(uint32(u), 10, 12) | //nolint:gosec // origins fit in 10 bits
		pack(uint32(boundary), 4, 7) | //nolint:gosec // 4 bit mask
		pack(b2u(regular), 1, 5) |
		pack(b2u(nonQuad), 1, 4) |
		pack(uint32(depth), 4, 0) //nolint:gosec // depth <= MaxDepth
	return p
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// FaceID returns the base face the patch belongs to.
func (p Param) FaceID() int { return int(unpack(p.Field0, 28, 0)) }

// U returns the integer u origin of the patch.
func (p Param) U() int { return int(unpack(p.Field1, 10, 12)) }

// V returns the integer v origin of the patch.
func (p Param) V() int { return int(unpack(p.Field1, 10, 22)) }

// Depth returns the refinement level the patch was generated at.
func (p Param) Depth() int { return int(unpack(p.Field1, 4, 0)) }

// NonQuad reports whether the patch is a child of a non-quad base face.
func (p Param) NonQuad() bool { return unpack(p.Field1, 1, 4) != 0 }

// Regular reports whether the patch is a regular B-spline patch
// regardless of the array it is stored in.
func (p Param) Regular() bool { return unpack(p.Field1, 1, 5) != 0 }

// Boundary returns the boundary mask.
func (p Param) Boundary() int { return int(unpack(p.Field1, 4, 7)) }

// WithRegular returns a copy with the regular bit set to r.
func (p Param) WithRegular(r bool) Param {
	p.Field1 = p.Field1&^(1<<5) | pack(b2u(r), 1, 5)
	return p
}

// WithBoundary returns a copy with the boundary mask replaced.
func (p Param) WithBoundary(mask int) Param {
	p.Field1 = p.Field1&^(0xf<<7) | pack(uint32(mask), 4, 7) //nolint:gosec // 4 bit mask
	return p
}

// rootDepth is the depth of the base face of the patch.
func (p Param) rootDepth() int {
	if p.NonQuad() {
		return 1
	}
	return 0
}

// Fraction returns the size of the patch in base face parameter units.
func (p Param) Fraction() float32 {
	return 1 / float32(int(1)<<(p.Depth()-p.rootDepth()))
}

// Normalize maps base face coordinates (u,v) into the patch's [0,1] range.
func (p Param) Normalize(u, v float32) (float32, float32) {
	inv := float32(int(1) << (p.Depth() - p.rootDepth()))
	return u*inv - float32(p.U()), v*inv - float32(p.V())
}

// Handle identifies one patch of a table.
type Handle struct {
	// ArrayIndex is the patch array holding the patch.
	ArrayIndex int32
	// PatchIndex is the global patch index, also the param index.
	PatchIndex int32
	// VertIndex is the offset of the patch's first control vertex index.
	VertIndex int32
}

// Coord is a patch handle plus a location in the patch's base face
// parameter space.
type Coord struct {
	Handle Handle
	U, V   float32
}
