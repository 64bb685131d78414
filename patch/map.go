package patch

// QuadChild is one packed quadtree child slot: bit 0 set, bit 1 leaf,
// bits 2-31 index. A leaf index names a handle, otherwise a node.
type QuadChild uint32

// IsSet reports whether the slot is in use.
func (c QuadChild) IsSet() bool { return c&1 != 0 }

// IsLeaf reports whether the slot refers to a patch handle.
func (c QuadChild) IsLeaf() bool { return c&2 != 0 }

// Index returns the handle or node index.
func (c QuadChild) Index() int { return int(c >> 2) }

func newChild(index int, leaf bool) QuadChild {
	c := QuadChild(index)<<2 | 1 //nolint:gosec // node counts fit 30 bits
	if leaf {
		c |= 2
	}
	return c
}

// QuadNode has one child per quadrant; quadrant q covers
// u in [q&1 / 2, ...) and v in [q>>1 / 2, ...).
type QuadNode struct {
	Children [4]QuadChild
}

func (n *QuadNode) setAll(index int, leaf bool) {
	for q := range n.Children {
		n.Children[q] = newChild(index, leaf)
	}
}

// Map is a quadtree per base face over the patches of a table. It is
// immutable after construction and safe for concurrent lookups.
type Map struct {
	handles    []Handle
	nodes      []QuadNode
	params     []Param
	minFace    int
	maxFace    int
	maxDepth   int
	triangular bool
}

// NewMap builds the locator for t.
func NewMap(t *Table) *Map {
	m := &Map{
		handles: t.Handles(),
		params:  t.Params(),
		minFace: -1,
		maxFace: -1,
	}
	if len(m.handles) == 0 {
		return m
	}

	m.minFace, m.maxFace = m.params[0].FaceID(), m.params[0].FaceID()
	for _, p := range m.params {
		m.minFace = min(m.minFace, p.FaceID())
		m.maxFace = max(m.maxFace, p.FaceID())
	}
	m.nodes = make([]QuadNode, m.maxFace-m.minFace+1, m.maxFace-m.minFace+1+len(m.handles))

	for h := range m.handles {
		p := m.params[h]
		depth := p.Depth()
		root := p.rootDepth()
		m.maxDepth = max(m.maxDepth, depth)

		node := p.FaceID() - m.minFace
		if depth == root {
			m.nodes[node].setAll(h, true)
			continue
		}
		u, v := p.U(), p.V()
		for j := root + 1; j <= depth; j++ {
			ubit := (u >> (depth - j)) & 1
			vbit := (v >> (depth - j)) & 1
			node = m.assign(node, j == depth, vbit<<1|ubit, h)
		}
	}
	return m
}

// assign sets a leaf or descends into (creating if needed) the child
// node of quadrant q. It returns the node to continue from.
func (m *Map) assign(node int, leaf bool, q int, h int) int {
	c := m.nodes[node].Children[q]
	if !c.IsSet() {
		if leaf {
			m.nodes[node].Children[q] = newChild(h, true)
			return node
		}
		m.nodes = append(m.nodes, QuadNode{})
		child := len(m.nodes) - 1
		m.nodes[node].Children[q] = newChild(child, false)
		return child
	}
	if leaf || c.IsLeaf() {
		// Overlapping patches; the first one wins.
		return node
	}
	return c.Index()
}

// FindPatch returns the patch covering (u,v) of face. It returns false
// when the face has no patches. u and v are expected in [0,1].
func (m *Map) FindPatch(face int, u, v float32) (Handle, bool) {
	if face < m.minFace || face > m.maxFace || len(m.nodes) == 0 {
		return Handle{}, false
	}
	node := &m.nodes[face-m.minFace]
	median := float32(0.5)
	for range m.maxDepth + 1 {
		q := 0
		if u >= median {
			q |= 1
			u -= median
		}
		if v >= median {
			q |= 2
			v -= median
		}
		c := node.Children[q]
		if !c.IsSet() {
			return Handle{}, false
		}
		if c.IsLeaf() {
			return m.handles[c.Index()], true
		}
		node = &m.nodes[c.Index()]
		median *= 0.5
	}
	return Handle{}, false
}

// Locate is FindPatch plus the coordinate rebased into the patch's own
// [0,1] parameter range.
func (m *Map) Locate(face int, u, v float32) (h Handle, s, t float32, ok bool) {
	h, ok = m.FindPatch(face, u, v)
	if !ok {
		return Handle{}, 0, 0, false
	}
	s, t = m.params[h.PatchIndex].Normalize(u, v)
	return h, s, t, true
}

// MinFace returns the smallest base face with a patch, or -1.
func (m *Map) MinFace() int { return m.minFace }

// MaxFace returns the largest base face with a patch, or -1.
func (m *Map) MaxFace() int { return m.maxFace }

// MaxDepth returns the deepest patch level.
func (m *Map) MaxDepth() int { return m.maxDepth }

// Triangular reports whether the patches are triangles. Catmull-Clark
// tables are always quads.
func (m *Map) Triangular() bool { return m.triangular }

// Handles returns a copy of the handle array. Leaf indices of Nodes
// index into it.
func (m *Map) Handles() []Handle {
	return append([]Handle(nil), m.handles...)
}

// Nodes returns a copy of the quadtree. The first MaxFace-MinFace+1
// nodes are the roots of the base faces.
func (m *Map) Nodes() []QuadNode {
	return append([]QuadNode(nil), m.nodes...)
}
