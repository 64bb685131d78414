package mesh

// Shape is a mesh with control positions and face-varying values.
type Shape struct {
	Mesh      *Mesh
	Positions []float32
	// FaceVarying holds the packed values of each channel, 2 floats per value.
	FaceVarying [][]float32
}

// Quad returns the unit square in the z=0 plane with a uv channel equal
// to its xy coordinates.
func Quad() Shape {
	return Grid(1, 1)
}

// Grid returns an nx by ny grid of unit quads in the z=0 plane with a uv
// channel spanning [0,1]². Face (i, j) is face j*nx+i and covers
// [i, i+1]x[j, j+1].
func Grid(nx, ny int) Shape {
	nx, ny = max(nx, 1), max(ny, 1)
	stride := nx + 1
	m := &Mesh{NumVertices: stride * (ny + 1)}
	pos := make([]float32, 0, 3*m.NumVertices)
	uv := make([]float32, 0, 2*m.NumVertices)
	for j := range ny + 1 {
		for i := range nx + 1 {
			pos = append(pos, float32(i), float32(j), 0)
			uv = append(uv, float32(i)/float32(nx), float32(j)/float32(ny))
		}
	}
	for j := range ny {
		for i := range nx {
			v := j*stride + i
			m.Faces = append(m.Faces, []int{v, v + 1, v + stride + 1, v + stride})
		}
	}
	m.FaceVarying = []Channel{{Name: "uv", NumValues: m.NumVertices, Faces: m.Faces}}
	return Shape{Mesh: m, Positions: pos, FaceVarying: [][]float32{uv}}
}

// Cube returns the closed unit cube [0,1]³ with outward facing quads and
// a uv channel giving every face its own [0,1]² square.
func Cube() Shape {
	m := &Mesh{
		NumVertices: 8,
		Faces: [][]int{
			{0, 3, 2, 1}, // z = 0
			{4, 5, 6, 7}, // z = 1
			{0, 1, 5, 4}, // y = 0
			{2, 3, 7, 6}, // y = 1
			{0, 4, 7, 3}, // x = 0
			{1, 2, 6, 5}, // x = 1
		},
	}
	pos := []float32{
		0, 0, 0,
		1, 0, 0,
		1, 1, 0,
		0, 1, 0,
		0, 0, 1,
		1, 0, 1,
		1, 1, 1,
		0, 1, 1,
	}
	uvFaces := make([][]int, len(m.Faces))
	uv := make([]float32, 0, 2*4*len(m.Faces))
	for f := range m.Faces {
		uvFaces[f] = []int{4 * f, 4*f + 1, 4*f + 2, 4*f + 3}
		uv = append(uv, 0, 0, 1, 0, 1, 1, 0, 1)
	}
	m.FaceVarying = []Channel{{Name: "uv", NumValues: 4 * len(m.Faces), Faces: uvFaces}}
	return Shape{Mesh: m, Positions: pos, FaceVarying: [][]float32{uv}}
}
