package mesh

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		mesh Mesh
	}{
		{"no faces", Mesh{NumVertices: 4}},
		{"triangle", Mesh{NumVertices: 3, Faces: [][]int{{0, 1, 2}}}},
		{"index out of range", Mesh{NumVertices: 4, Faces: [][]int{{0, 1, 2, 4}}}},
		{"repeated corner", Mesh{NumVertices: 4, Faces: [][]int{{0, 1, 1, 3}}}},
		{"flipped neighbour", Mesh{NumVertices: 6, Faces: [][]int{{0, 1, 4, 3}, {1, 4, 5, 2}}}},
		{"three faces on an edge", Mesh{NumVertices: 8, Faces: [][]int{
			{0, 1, 2, 3}, {1, 0, 4, 5}, {0, 1, 6, 7},
		}}},
		{"bowtie vertex", Mesh{NumVertices: 7, Faces: [][]int{{0, 1, 2, 3}, {0, 4, 5, 6}}}},
		{"channel face count", Mesh{NumVertices: 4, Faces: [][]int{{0, 1, 2, 3}},
			FaceVarying: []Channel{{NumValues: 4}}}},
		{"channel value range", Mesh{NumVertices: 4, Faces: [][]int{{0, 1, 2, 3}},
			FaceVarying: []Channel{{NumValues: 2, Faces: [][]int{{0, 1, 2, 3}}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mesh.Validate()
			assert.ErrorIs(t, err, ErrInvalidMesh)
		})
	}
}

func TestValidateAcceptsShapes(t *testing.T) {
	for name, s := range map[string]Shape{"quad": Quad(), "grid": Grid(3, 2), "cube": Cube()} {
		assert.NoError(t, s.Mesh.Validate(), name)
	}
}

func TestRefinerErrors(t *testing.T) {
	assert.ErrorIs(t, NewRefiner(nil, Options{}).Err(), ErrInvalidMesh)
	assert.ErrorIs(t, NewRefiner(Quad().Mesh, Options{Level: MaxLevel + 1}).Err(), ErrInvalidMesh)
	assert.ErrorIs(t, NewRefiner(&Mesh{NumVertices: 3, Faces: [][]int{{0, 1, 2}}}, Options{}).Err(), ErrInvalidMesh)
}

func sumWeights(t *testing.T, tab *stencil.Table) {
	t.Helper()
	for i := range tab.NumStencils() {
		var sum float64
		for _, w := range tab.Stencil(i).Weights {
			sum += float64(w)
		}
		require.InDelta(t, 1, sum, 1e-5, "stencil %d", i)
	}
}

func TestUniformCounts(t *testing.T) {
	s := Grid(2, 2)
	r := NewRefiner(s.Mesh, Options{Level: 1, Varying: true})
	require.NoError(t, r.Err())

	// 4 face points, 12 edge points, 9 vertex points.
	assert.Equal(t, 9, r.VertexStencils().NumControlVertices())
	assert.Equal(t, 25, r.VertexStencils().NumStencils())
	assert.Equal(t, 25, r.VaryingStencils().NumStencils())
	require.Len(t, r.FaceVaryingStencils(), 1)
	assert.Equal(t, 25, r.FaceVaryingStencils()[0].NumStencils())

	pt := r.PatchTable()
	assert.False(t, pt.IsAdaptive())
	assert.Equal(t, 16, pt.NumPatches())
	assert.LessOrEqual(t, pt.MaxVertexIndex(), 25)
	for _, tab := range []*stencil.Table{r.VertexStencils(), r.VaryingStencils(), r.FaceVaryingStencils()[0]} {
		assert.True(t, tab.IsFactorized())
		sumWeights(t, tab)
	}
}

func TestUniformLevelZeroCopies(t *testing.T) {
	r := NewRefiner(Quad().Mesh, Options{})
	require.NoError(t, r.Err())
	st := r.VertexStencils()
	require.Equal(t, 4, st.NumStencils())
	for i := range 4 {
		s := st.Stencil(i)
		assert.Equal(t, []int32{int32(i)}, s.Indices)
		assert.Equal(t, []float32{1}, s.Weights)
	}
}

func TestAdaptiveRegularGridStopsAtLevelZero(t *testing.T) {
	r := NewRefiner(Grid(3, 3).Mesh, Options{Level: 4, Adaptive: true})
	require.NoError(t, r.Err())

	assert.Equal(t, 0, r.NumLevels())
	assert.Equal(t, 0, r.VertexStencils().NumStencils())
	pt := r.PatchTable()
	require.Len(t, pt.Arrays(), 1)
	assert.Equal(t, patch.Regular, pt.Arrays()[0].Type)
	assert.Equal(t, 9, pt.NumPatches())
	assert.Nil(t, pt.LocalPointStencils())

	// The centre face has no boundary; the corner face has two.
	for _, h := range pt.Handles() {
		p := pt.Params()[h.PatchIndex]
		switch p.FaceID() {
		case 4:
			assert.Equal(t, 0, p.Boundary())
		case 0:
			assert.Equal(t, patch.BoundaryV0|patch.BoundaryU0, p.Boundary())
		case 8:
			assert.Equal(t, patch.BoundaryV1|patch.BoundaryU1, p.Boundary())
		}
	}
}

func TestAdaptiveCenterPatchGathersRing(t *testing.T) {
	r := NewRefiner(Grid(3, 3).Mesh, Options{Level: 1, Adaptive: true})
	require.NoError(t, r.Err())
	pt := r.PatchTable()
	for _, h := range pt.Handles() {
		if pt.Params()[h.PatchIndex].FaceID() != 4 {
			continue
		}
		want := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
		assert.Equal(t, want, pt.PatchVertices(h))
	}
}

func TestAdaptiveCubeUsesEndCaps(t *testing.T) {
	s := Cube()
	r := NewRefiner(s.Mesh, Options{Level: 2, Adaptive: true, Varying: true})
	require.NoError(t, r.Err())
	assert.Equal(t, 2, r.NumLevels())

	pt := r.PatchTable()
	require.True(t, pt.IsAdaptive())
	local := pt.LocalPointStencils()
	require.NotNil(t, local)

	total := r.VertexStencils().NumControlVertices() + r.VertexStencils().NumStencils()
	assert.Equal(t, total, local.NumControlVertices())
	sumWeights(t, local)
	sumWeights(t, r.VertexStencils())

	var regular, caps int
	for _, a := range pt.Arrays() {
		switch a.Type {
		case patch.Regular:
			regular += a.NumPatches
		case patch.Quads:
			caps += a.NumPatches
		}
	}
	// Every level 1 face touches a cube corner, so all regular patches
	// sit at level 2: 12 per base face, plus one end cap per corner.
	assert.Equal(t, 6*12, regular)
	assert.Equal(t, 6*4, caps)
	assert.Equal(t, total+local.NumStencils(), pt.MaxVertexIndex())
}

func TestAdaptiveCoversEveryFace(t *testing.T) {
	r := NewRefiner(Cube().Mesh, Options{Level: 3, Adaptive: true})
	require.NoError(t, r.Err())
	pt := r.PatchTable()

	// The patches of each base face tile it exactly.
	area := make(map[int]float64)
	for _, p := range pt.Params() {
		f := float64(p.Fraction())
		area[p.FaceID()] += f * f
	}
	require.Len(t, area, 6)
	for face, a := range area {
		assert.InDelta(t, 1, a, 1e-9, "face %d", face)
	}
}

func TestFaceVaryingSharesContinuousValues(t *testing.T) {
	// Grid uv values are continuous, so refined values stay shared: one
	// per refined vertex.
	r := NewRefiner(Grid(2, 1).Mesh, Options{Level: 1})
	require.NoError(t, r.Err())
	assert.Equal(t, r.VertexStencils().NumStencils(), r.FaceVaryingStencils()[0].NumStencils())

	// Cube uv values are split per face: 6 faces x 9 values.
	r = NewRefiner(Cube().Mesh, Options{Level: 1})
	require.NoError(t, r.Err())
	assert.Equal(t, 6*9, r.FaceVaryingStencils()[0].NumStencils())
}

func TestLimitPointWeights(t *testing.T) {
	l := baseLevel(Cube().Mesh)
	w := l.limitPoint(0)
	assert.InDelta(t, 3.0/8, w[0], 1e-12)
	for _, e := range []int32{1, 3, 4} {
		assert.InDelta(t, 1.0/6, w[e], 1e-12)
	}
	for _, d := range []int32{2, 5, 7} {
		assert.InDelta(t, 1.0/24, w[d], 1e-12)
	}

	g := baseLevel(Grid(2, 2).Mesh)
	assert.Equal(t, sparse{0: 1}, g.limitPoint(0))
	b := g.limitPoint(1)
	assert.InDelta(t, 2.0/3, b[1], 1e-12)
	assert.InDelta(t, 1.0/6, b[0], 1e-12)
	assert.InDelta(t, 1.0/6, b[2], 1e-12)
}

func TestDecode(t *testing.T) {
	const src = `
vertices:
  - [0, 0, 0]
  - [1, 0, 0]
  - [1, 1, 0]
  - [0, 1, 0]
faces:
  - [0, 1, 2, 3]
faceVarying:
  - name: uv
    values: [[0, 0], [1, 0], [1, 1], [0, 1]]
    faces: [[0, 1, 2, 3]]
refinement:
  level: 2
  adaptive: true
`
	f, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, Options{Level: 2, Adaptive: true}, f.Refinement)
	assert.Equal(t, []float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0}, f.Positions())
	assert.Equal(t, []float32{0, 0, 1, 0, 1, 1, 0, 1}, f.FaceVaryingValues(0))
	assert.Equal(t, 4, f.Mesh().NumVertices)
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"short vertex":  "vertices: [[0, 0]]\nfaces: [[0, 0, 0, 0]]\n",
		"triangle":      "vertices: [[0,0,0],[1,0,0],[1,1,0]]\nfaces: [[0, 1, 2]]\n",
		"unknown field": "vertices: [[0,0,0]]\nfaces: [[0,0,0,0]]\ncolour: red\n",
		"deep level":    "vertices: [[0,0,0],[1,0,0],[1,1,0],[0,1,0]]\nfaces: [[0,1,2,3]]\nrefinement: {level: 12}\n",
		"bad topology":  "vertices: [[0,0,0],[1,0,0],[1,1,0],[0,1,0]]\nfaces: [[0,1,2,2]]\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(src))
			assert.Error(t, err)
		})
	}
}

func TestFileFromShape(t *testing.T) {
	s := Cube()
	f := FileFromShape(s, Options{Level: 1})
	var sb strings.Builder
	require.NoError(t, f.Encode(&sb))

	back, err := Decode(strings.NewReader(sb.String()))
	require.NoError(t, err)
	got := back.Shape()
	assert.Equal(t, s.Positions, got.Positions)
	assert.Equal(t, s.Mesh.Faces, got.Mesh.Faces)
	assert.Equal(t, s.FaceVarying[0], got.FaceVarying[0])
}

func TestRefinedGridStaysPlanar(t *testing.T) {
	s := Grid(2, 2)
	r := NewRefiner(s.Mesh, Options{Level: 2})
	require.NoError(t, r.Err())
	st := r.VertexStencils()
	for i := range st.NumStencils() {
		var z float64
		sten := st.Stencil(i)
		for j, idx := range sten.Indices {
			z += float64(sten.Weights[j]) * float64(s.Positions[3*idx+2])
		}
		if math.Abs(z) > 1e-6 {
			t.Fatalf("refined vertex %d has z = %v", i, z)
		}
	}
}
