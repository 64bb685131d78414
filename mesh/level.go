package mesh

// sparse is a weighted combination of elements of one level.
type sparse map[int32]float64

func (s sparse) add(i int32, w float64) { s[i] += w }

// compose expands s, whose indices address the elements described by
// basis, into a combination of basis's own elements.
func (s sparse) compose(basis []sparse) sparse {
	out := make(sparse, 4*len(s))
	for i, w := range s {
		for j, bw := range basis[i] {
			out[j] += w * bw
		}
	}
	return out
}

// origin places a face inside its base face: the face covers
// [u, u+1]x[v, v+1] in units of 2^-depth.
type origin struct {
	base int
	u, v int
}

type edge struct {
	verts [2]int32
	// faces holds the incident faces; faces[1] is -1 on boundaries.
	faces [2]int32
}

func (e edge) boundary() bool { return e.faces[1] < 0 }

func (e edge) other(v int32) int32 {
	if e.verts[0] == v {
		return e.verts[1]
	}
	return e.verts[0]
}

type fvarLevel struct {
	numValues int
	faces     [][4]int32
}

type vertexKind uint8

const (
	vertexIsolated vertexKind = iota
	vertexInterior
	vertexBoundary
	vertexCorner
)

// level is one refinement level: quad faces over numVerts vertices plus
// the adjacency the subdivision rules need.
type level struct {
	depth    int
	numVerts int
	faces    [][4]int32
	origins  []origin
	fvar     []fvarLevel

	edges     []edge
	faceEdges [][4]int32 // edge i joins corners i and i+1
	vertFaces [][]int32
	vertEdges [][]int32
	kinds     []vertexKind
}

func newLevel(depth, numVerts int, faces [][4]int32, origins []origin, fvar []fvarLevel) *level {
	l := &level{
		depth:     depth,
		numVerts:  numVerts,
		faces:     faces,
		origins:   origins,
		fvar:      fvar,
		faceEdges: make([][4]int32, len(faces)),
		vertFaces: make([][]int32, numVerts),
		vertEdges: make([][]int32, numVerts),
		kinds:     make([]vertexKind, numVerts),
	}

	index := make(map[[2]int32]int32, 2*len(faces))
	for f, face := range faces {
		for i := range 4 {
			a, b := face[i], face[(i+1)%4]
			key := [2]int32{min(a, b), max(a, b)}
			e, ok := index[key]
			if !ok {
				e = int32(len(l.edges)) //nolint:gosec // edge counts fit int32
				index[key] = e
				l.edges = append(l.edges, edge{verts: key, faces: [2]int32{int32(f), -1}}) //nolint:gosec // face counts fit int32
				l.vertEdges[a] = append(l.vertEdges[a], e)
				l.vertEdges[b] = append(l.vertEdges[b], e)
			} else {
				l.edges[e].faces[1] = int32(f) //nolint:gosec // face counts fit int32
			}
			l.faceEdges[f][i] = e
			l.vertFaces[face[i]] = append(l.vertFaces[face[i]], int32(f)) //nolint:gosec // face counts fit int32
		}
	}

	for v := range l.kinds {
		l.kinds[v] = l.classify(int32(v)) //nolint:gosec // vertex counts fit int32
	}
	return l
}

func (l *level) classify(v int32) vertexKind {
	switch len(l.vertFaces[v]) {
	case 0:
		return vertexIsolated
	case 1:
		return vertexCorner
	}
	for _, e := range l.vertEdges[v] {
		if l.edges[e].boundary() {
			return vertexBoundary
		}
	}
	return vertexInterior
}

// regular reports whether v has the valence of a regular B-spline
// neighbourhood: four faces inside, two on a boundary, one at a corner.
func (l *level) regular(v int32) bool {
	switch l.kinds[v] {
	case vertexInterior:
		return len(l.vertFaces[v]) == 4
	case vertexBoundary:
		return len(l.vertFaces[v]) == 2
	case vertexCorner:
		return true
	}
	return false
}

// boundaryNeighbors returns the far ends of the boundary edges at v.
func (l *level) boundaryNeighbors(v int32) []int32 {
	var out []int32
	for _, e := range l.vertEdges[v] {
		if l.edges[e].boundary() {
			out = append(out, l.edges[e].other(v))
		}
	}
	return out
}

func (l *level) facePoint(f int) sparse {
	s := make(sparse, 4)
	for _, c := range l.faces[f] {
		s.add(c, 0.25)
	}
	return s
}

func (l *level) edgePoint(e int32) sparse {
	ed := l.edges[e]
	s := make(sparse, 6)
	if ed.boundary() {
		s.add(ed.verts[0], 0.5)
		s.add(ed.verts[1], 0.5)
		return s
	}
	s.add(ed.verts[0], 0.25)
	s.add(ed.verts[1], 0.25)
	for _, f := range ed.faces {
		for _, c := range l.faces[f] {
			s.add(c, 1.0/16)
		}
	}
	return s
}

func (l *level) vertexPoint(v int32) sparse {
	s := make(sparse, 8)
	switch l.kinds[v] {
	case vertexIsolated, vertexCorner:
		s.add(v, 1)
	case vertexBoundary:
		s.add(v, 0.75)
		for _, n := range l.boundaryNeighbors(v) {
			s.add(n, 0.125)
		}
	case vertexInterior:
		n := float64(len(l.vertEdges[v]))
		inv2 := 1 / (n * n)
		s.add(v, (n-2)/n)
		for _, e := range l.vertEdges[v] {
			s.add(l.edges[e].other(v), inv2)
		}
		for _, f := range l.vertFaces[v] {
			for _, c := range l.faces[f] {
				s.add(c, inv2/4)
			}
		}
	}
	return s
}

// limitPoint returns the limit position of v.
func (l *level) limitPoint(v int32) sparse {
	s := make(sparse, 8)
	switch l.kinds[v] {
	case vertexIsolated, vertexCorner:
		s.add(v, 1)
	case vertexBoundary:
		s.add(v, 2.0/3)
		for _, n := range l.boundaryNeighbors(v) {
			s.add(n, 1.0/6)
		}
	case vertexInterior:
		n := float64(len(l.vertEdges[v]))
		d := n * (n + 5)
		s.add(v, n*n/d)
		for _, e := range l.vertEdges[v] {
			s.add(l.edges[e].other(v), 4/d)
		}
		for _, f := range l.vertFaces[v] {
			face := l.faces[f]
			s.add(face[(cornerIndex(face, v)+2)%4], 1/d)
		}
	}
	return s
}

func cornerIndex(face [4]int32, v int32) int {
	for i, c := range face {
		if c == v {
			return i
		}
	}
	return -1
}

// rules are the weights of every element of the next level over the
// elements of the current one.
type rules struct {
	vertex  []sparse
	varying []sparse
	fvar    [][]sparse
}

// childCorner names the corners of the four children of a face, in the
// order face point (-1), edge point (edge index) or vertex point
// (corner index). Child k keeps the parent's orientation and covers
// quadrant k: (0,0) (1,0) (1,1) (0,1).
var childCorner = [4][4]struct {
	kind  uint8 // 0 vertex, 1 edge, 2 face
	index int
}{
	{{0, 0}, {1, 0}, {2, 0}, {1, 3}},
	{{1, 0}, {0, 1}, {1, 1}, {2, 0}},
	{{2, 0}, {1, 1}, {0, 2}, {1, 2}},
	{{1, 3}, {2, 0}, {1, 2}, {0, 3}},
}

var childOffset = [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}

// refine subdivides the level once. Child elements are numbered face
// points first, then edge points, then vertex points.
func (l *level) refine() (*level, rules) {
	nf, ne := len(l.faces), len(l.edges)
	numVerts := nf + ne + l.numVerts

	var r rules
	r.vertex = make([]sparse, 0, numVerts)
	r.varying = make([]sparse, 0, numVerts)
	for f := range nf {
		r.vertex = append(r.vertex, l.facePoint(f))
		r.varying = append(r.varying, l.facePoint(f))
	}
	for e := range int32(ne) { //nolint:gosec // edge counts fit int32
		r.vertex = append(r.vertex, l.edgePoint(e))
		ed := l.edges[e]
		r.varying = append(r.varying, sparse{ed.verts[0]: 0.5, ed.verts[1]: 0.5})
	}
	for v := range int32(l.numVerts) { //nolint:gosec // vertex counts fit int32
		r.vertex = append(r.vertex, l.vertexPoint(v))
		r.varying = append(r.varying, sparse{v: 1})
	}

	faces := make([][4]int32, 0, 4*nf)
	origins := make([]origin, 0, 4*nf)
	for f, face := range l.faces {
		for k := range 4 {
			var child [4]int32
			for c, cc := range childCorner[k] {
				switch cc.kind {
				case 0:
					child[c] = int32(nf+ne) + face[cc.index] //nolint:gosec // counts fit int32
				case 1:
					child[c] = int32(nf) + l.faceEdges[f][cc.index] //nolint:gosec // counts fit int32
				default:
					child[c] = int32(f) //nolint:gosec // counts fit int32
				}
			}
			faces = append(faces, child)
			o := l.origins[f]
			origins = append(origins, origin{
				base: o.base,
				u:    2*o.u + childOffset[k][0],
				v:    2*o.v + childOffset[k][1],
			})
		}
	}

	fvar := make([]fvarLevel, len(l.fvar))
	r.fvar = make([][]sparse, len(l.fvar))
	for ch, fv := range l.fvar {
		fvar[ch], r.fvar[ch] = l.refineFaceVarying(fv)
	}

	return newLevel(l.depth+1, numVerts, faces, origins, fvar), r
}

// refineFaceVarying splits a channel linearly. Values shared by
// neighbouring faces stay shared in the children.
func (l *level) refineFaceVarying(fv fvarLevel) (fvarLevel, []sparse) {
	type key struct {
		kind uint8
		a, b int32
		e    int32
	}
	ids := make(map[key]int32)
	var weights []sparse
	value := func(k key, w sparse) int32 {
		if id, ok := ids[k]; ok {
			return id
		}
		id := int32(len(weights)) //nolint:gosec // value counts fit int32
		ids[k] = id
		weights = append(weights, w)
		return id
	}

	out := fvarLevel{faces: make([][4]int32, 0, 4*len(fv.faces))}
	for f, vals := range fv.faces {
		var corner, mid [4]int32
		center := value(key{kind: 2, e: int32(f)}, sparse{ //nolint:gosec // counts fit int32
			vals[0]: 0.25, vals[1]: 0.25, vals[2]: 0.25, vals[3]: 0.25,
		})
		for i := range 4 {
			a := vals[i]
			corner[i] = value(key{kind: 0, a: a}, sparse{a: 1})
		}
		for i := range 4 {
			a, b := vals[i], vals[(i+1)%4]
			k := key{kind: 1, a: min(a, b), b: max(a, b), e: l.faceEdges[f][i]}
			w := sparse{}
			w.add(a, 0.5)
			w.add(b, 0.5)
			mid[i] = value(k, w)
		}
		for k := range 4 {
			var child [4]int32
			for c, cc := range childCorner[k] {
				switch cc.kind {
				case 0:
					child[c] = corner[cc.index]
				case 1:
					child[c] = mid[cc.index]
				default:
					child[c] = center
				}
			}
			out.faces = append(out.faces, child)
		}
	}
	out.numValues = len(weights)
	return out, weights
}
