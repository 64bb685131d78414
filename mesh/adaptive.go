package mesh

import (
	"fmt"

	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// outerCells are the grid cells beyond edge i, next to corner i and
// corner i+1. Grid cells are [row][col] with rows along v.
var outerCells = [4][2][2]int{
	{{0, 1}, {0, 2}},
	{{1, 3}, {2, 3}},
	{{3, 2}, {3, 1}},
	{{2, 0}, {1, 0}},
}

// cornerCells and diagonalCells locate corner i and the point diagonally
// opposite it across the corner.
var (
	cornerCells   = [4][2]int{{1, 1}, {1, 2}, {2, 2}, {2, 1}}
	diagonalCells = [4][2]int{{0, 0}, {0, 3}, {3, 3}, {3, 0}}
)

var boundaryBits = [4]int{patch.BoundaryV0, patch.BoundaryU1, patch.BoundaryV1, patch.BoundaryU0}

// across returns the face sharing edge i of f and that edge's index in it.
func (l *level) across(f, i int) (g, j int, ok bool) {
	e := l.faceEdges[f][i]
	ed := l.edges[e]
	if ed.boundary() {
		return 0, 0, false
	}
	g = int(ed.faces[0])
	if g == f {
		g = int(ed.faces[1])
	}
	for j = range 4 {
		if l.faceEdges[g][j] == e {
			return g, j, true
		}
	}
	return 0, 0, false
}

// bsplinePoints gathers the 16 control points of face f in row-major
// order. ok is false unless every corner of f is regular. Points beyond
// boundary edges are missing; their cells repeat corner 0 and the mask
// names the missing rows.
func (l *level) bsplinePoints(f int) (cvs [16]int32, mask int, ok bool) {
	face := l.faces[f]
	for _, v := range face {
		if !l.regular(v) {
			return cvs, 0, false
		}
	}

	var grid [4][4]int32
	for r := range grid {
		for c := range grid[r] {
			grid[r][c] = -1
		}
	}
	for i, cell := range cornerCells {
		grid[cell[0]][cell[1]] = face[i]
	}

	for i := range 4 {
		g, j, ok := l.across(f, i)
		if !ok {
			mask |= boundaryBits[i]
			continue
		}
		nb := l.faces[g]
		near, nearNext := outerCells[i][0], outerCells[i][1]
		grid[near[0]][near[1]] = nb[(j+2)%4]
		grid[nearNext[0]][nearNext[1]] = nb[(j+3)%4]

		if l.kinds[face[i]] != vertexInterior {
			continue
		}
		// Around an interior corner the diagonal face is across the
		// neighbour's next edge.
		h, _, ok := l.across(g, (j+1)%4)
		if !ok {
			continue
		}
		hf := l.faces[h]
		d := diagonalCells[i]
		grid[d[0]][d[1]] = hf[(cornerIndex(hf, face[i])+2)%4]
	}

	for r := range grid {
		for c := range grid[r] {
			if grid[r][c] < 0 {
				grid[r][c] = face[0]
			}
			cvs[4*r+c] = grid[r][c]
		}
	}
	return cvs, mask, true
}

// endCap is a bilinear patch over local points whose indices are fixed
// up once the refined buffer size is known.
type endCap struct {
	patch patch.Patch
}

// buildAdaptive refines until every face is covered by a regular patch
// or the level limit is reached. The refined buffer holds every level in
// order, so patch indices are offset by the start of their level.
func (r *Refiner) buildAdaptive(m *Mesh, o Options) error {
	l := baseLevel(m)
	s := newStreams(l, o.Varying)
	covered := make([]bool, len(l.faces))

	var (
		vertexOffset int32
		fvarOffsets  = make([]int32, len(l.fvar))
		patches      []patch.Patch
		caps         []endCap
		localIDs     = make(map[int32]int32)
		localRules   []sparse
	)

	for {
		pending := 0
		last := l.depth == o.Level
		for f := range l.faces {
			if covered[f] {
				continue
			}
			face := l.faces[f]
			varying := shift(face, vertexOffset)
			if cvs, mask, ok := l.bsplinePoints(f); ok {
				patches = append(patches, patch.Patch{
					Type:        patch.Regular,
					CVs:         shift16(cvs, vertexOffset),
					Param:       l.param(f, mask, true),
					Varying:     varyingOf(o.Varying, varying),
					FaceVarying: l.fvarCorners(f, fvarOffsets),
				})
				covered[f] = true
				continue
			}
			if !last {
				pending++
				continue
			}

			var cvs [4]int32
			for i, v := range face {
				global := vertexOffset + v
				id, seen := localIDs[global]
				if !seen {
					id = int32(len(localRules)) //nolint:gosec // local point counts fit int32
					localIDs[global] = id
					localRules = append(localRules, shiftSparse(l.limitPoint(v), vertexOffset))
				}
				cvs[i] = id
			}
			caps = append(caps, endCap{patch: patch.Patch{
				Type:        patch.Quads,
				CVs:         cvs[:],
				Param:       l.param(f, 0, false),
				Varying:     varyingOf(o.Varying, varying),
				FaceVarying: l.fvarCorners(f, fvarOffsets),
			}})
			covered[f] = true
		}
		if pending == 0 {
			break
		}

		next, rules := l.refine()
		s.advance(rules, true)
		childCovered := make([]bool, len(next.faces))
		for f, c := range covered {
			for k := range 4 {
				childCovered[4*f+k] = c
			}
		}
		vertexOffset += int32(l.numVerts) //nolint:gosec // counts fit int32
		for ch := range fvarOffsets {
			fvarOffsets[ch] += int32(l.fvar[ch].numValues) //nolint:gosec // counts fit int32
		}
		l, covered = next, childCovered
		r.levels++
	}

	if err := r.buildStencils(s); err != nil {
		return err
	}
	total := int(vertexOffset) + l.numVerts

	var local *stencil.Table
	if len(localRules) > 0 {
		lb := stencil.NewBuilder(total)
		w := make(map[int32]float32, 16)
		for _, rule := range localRules {
			clear(w)
			for i, x := range rule {
				w[i] = float32(x)
			}
			lb.AddWeights(w)
		}
		var err error
		if local, err = lb.Build(); err != nil {
			return fmt.Errorf("mesh: local points: %w", err)
		}
	}

	b := patch.NewBuilder(true)
	if o.Varying {
		b.SetVarying(patch.Quads)
	}
	b.SetFaceVarying(quadTypes(len(l.fvar))...)
	b.SetLocalPoints(local, nil, nil)
	for _, p := range patches {
		b.Add(p)
	}
	for _, c := range caps {
		for i := range c.patch.CVs {
			c.patch.CVs[i] += int32(total) //nolint:gosec // counts fit int32
		}
		b.Add(c.patch)
	}
	t, err := b.Build()
	if err != nil {
		return fmt.Errorf("mesh: patches: %w", err)
	}
	r.patches = t
	return nil
}

func shift(face [4]int32, by int32) [4]int32 {
	for i := range face {
		face[i] += by
	}
	return face
}

func shift16(cvs [16]int32, by int32) []int32 {
	out := make([]int32, 16)
	for i, v := range cvs {
		out[i] = v + by
	}
	return out
}

func shiftSparse(s sparse, by int32) sparse {
	out := make(sparse, len(s))
	for i, w := range s {
		out[i+by] = w
	}
	return out
}
