// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package mesh builds the stencil and patch tables of quad control meshes
// for the limit evaluator.
//
// A Refiner applies Catmull-Clark subdivision with sharp boundaries:
// boundary edges are creases and vertices with a single incident face are
// corners. Face-varying channels are interpolated linearly and varying
// data bilinearly.
//
// Uniform refinement produces bilinear patches over the final level.
// Adaptive refinement produces bicubic B-spline patches wherever a face's
// neighbourhood is regular and bilinear end caps over limit points where
// it is still irregular at the deepest level.
package mesh

import (
	"errors"
	"fmt"
)

// ErrInvalidMesh is returned for meshes the refiner cannot subdivide.
var ErrInvalidMesh = errors.New("mesh: invalid mesh")

// Channel is a face-varying channel: per face corner indices into a
// separate value array.
type Channel struct {
	Name string
	// NumValues is the number of distinct values.
	NumValues int
	// Faces holds the value index of every corner, parallel to Mesh.Faces.
	Faces [][]int
}

// Mesh is the topology of a quad control mesh. Faces list corners
// counter-clockwise; adjacent faces must agree on orientation.
type Mesh struct {
	NumVertices int
	Faces       [][]int
	FaceVarying []Channel
}

// Validate checks that the mesh is a manifold, consistently oriented
// quad mesh and that every channel matches it.
func (m *Mesh) Validate() error {
	if m.NumVertices <= 0 {
		return fmt.Errorf("%w: no vertices", ErrInvalidMesh)
	}
	if len(m.Faces) == 0 {
		return fmt.Errorf("%w: no faces", ErrInvalidMesh)
	}
	for f, face := range m.Faces {
		if len(face) != 4 {
			return fmt.Errorf("%w: face %d has %d corners, only quads are supported", ErrInvalidMesh, f, len(face))
		}
		for i, v := range face {
			if v < 0 || v >= m.NumVertices {
				return fmt.Errorf("%w: face %d references vertex %d of %d", ErrInvalidMesh, f, v, m.NumVertices)
			}
			for _, w := range face[i+1:] {
				if v == w {
					return fmt.Errorf("%w: face %d repeats vertex %d", ErrInvalidMesh, f, v)
				}
			}
		}
	}

	if err := checkManifold(m); err != nil {
		return err
	}

	for ch, c := range m.FaceVarying {
		if len(c.Faces) != len(m.Faces) {
			return fmt.Errorf("%w: channel %d has %d faces, mesh has %d", ErrInvalidMesh, ch, len(c.Faces), len(m.Faces))
		}
		for f, face := range c.Faces {
			if len(face) != 4 {
				return fmt.Errorf("%w: channel %d face %d has %d corners", ErrInvalidMesh, ch, f, len(face))
			}
			for _, v := range face {
				if v < 0 || v >= c.NumValues {
					return fmt.Errorf("%w: channel %d face %d references value %d of %d",
						ErrInvalidMesh, ch, f, v, c.NumValues)
				}
			}
		}
	}
	return nil
}

// checkManifold rejects edges shared by more than two faces, edges
// traversed twice in the same direction, and vertices whose incident
// faces do not form a single fan.
func checkManifold(m *Mesh) error {
	directed := make(map[halfEdge]int, 4*len(m.Faces))
	undirected := make(map[[2]int]int, 4*len(m.Faces))
	for f, face := range m.Faces {
		for i := range 4 {
			a, b := face[i], face[(i+1)%4]
			if g, dup := directed[halfEdge{a, b}]; dup {
				return fmt.Errorf("%w: faces %d and %d traverse edge %d-%d in the same direction",
					ErrInvalidMesh, g, f, a, b)
			}
			directed[halfEdge{a, b}] = f
			k := [2]int{min(a, b), max(a, b)}
			undirected[k]++
			if undirected[k] > 2 {
				return fmt.Errorf("%w: edge %d-%d has more than two faces", ErrInvalidMesh, a, b)
			}
		}
	}

	// Walk the fan of every vertex starting from one incident face. A
	// manifold vertex reaches all its faces.
	incident := make([][]int, m.NumVertices)
	for f, face := range m.Faces {
		for _, v := range face {
			incident[v] = append(incident[v], f)
		}
	}
	for v, faces := range incident {
		if len(faces) == 0 {
			continue
		}
		reached := fanSize(m, directed, v, faces[0])
		if reached != len(faces) {
			return fmt.Errorf("%w: vertex %d joins %d faces in more than one fan", ErrInvalidMesh, v, len(faces))
		}
	}
	return nil
}

// fanSize counts the faces around v reachable from start by crossing
// edges incident to v in both rotational directions.
func fanSize(m *Mesh, directed map[halfEdge]int, v, start int) int {
	seen := map[int]bool{start: true}
	// Forward: leave through the edge entering v, cross to its twin.
	for f := start; ; {
		prev := m.Faces[f][(cornerOf(m.Faces[f], v)+3)%4]
		g, ok := directed[halfEdge{v, prev}]
		if !ok || seen[g] {
			break
		}
		seen[g] = true
		f = g
	}
	// Backward: leave through the edge leaving v.
	for f := start; ; {
		next := m.Faces[f][(cornerOf(m.Faces[f], v)+1)%4]
		g, ok := directed[halfEdge{next, v}]
		if !ok || seen[g] {
			break
		}
		seen[g] = true
		f = g
	}
	return len(seen)
}

// halfEdge is a directed edge of one face.
type halfEdge struct{ from, to int }

func cornerOf(face []int, v int) int {
	for i, w := range face {
		if w == v {
			return i
		}
	}
	return -1
}
