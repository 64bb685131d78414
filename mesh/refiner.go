package mesh

import (
	"fmt"

	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// MaxLevel is the deepest refinement level a Refiner accepts.
const MaxLevel = 8

// Options select the refinement.
type Options struct {
	// Level is the uniform refinement level, or the maximum isolation
	// level when Adaptive is set.
	Level int `yaml:"level" validate:"gte=0,lte=8"`
	// Adaptive selects feature-adaptive patches.
	Adaptive bool `yaml:"adaptive"`
	// Varying adds bilinear varying stencils.
	Varying bool `yaml:"varying"`
}

// Refiner holds the tables of a refined mesh. It satisfies the
// evaluator's topology interface.
type Refiner struct {
	err       error
	levels    int
	numCoarse int
	vertex    *stencil.Table
	varying   *stencil.Table
	fvar      []*stencil.Table
	patches   *patch.Table
}

// NewRefiner validates and refines m. Failures are reported by Err, so
// the refiner can be passed straight to the evaluator.
func NewRefiner(m *Mesh, o Options) *Refiner {
	r := &Refiner{}
	if m == nil {
		r.err = fmt.Errorf("%w: nil mesh", ErrInvalidMesh)
		return r
	}
	if o.Level < 0 || o.Level > MaxLevel {
		r.err = fmt.Errorf("%w: level %d outside [0, %d]", ErrInvalidMesh, o.Level, MaxLevel)
		return r
	}
	if err := m.Validate(); err != nil {
		r.err = err
		return r
	}
	r.numCoarse = m.NumVertices
	if o.Adaptive {
		r.err = r.buildAdaptive(m, o)
	} else {
		r.err = r.buildUniform(m, o)
	}
	return r
}

// Err returns the validation or build error, if any.
func (r *Refiner) Err() error { return r.err }

// VertexStencils returns the vertex stencils.
func (r *Refiner) VertexStencils() *stencil.Table { return r.vertex }

// VaryingStencils returns the varying stencils, or nil unless
// Options.Varying was set.
func (r *Refiner) VaryingStencils() *stencil.Table { return r.varying }

// FaceVaryingStencils returns one table per channel.
func (r *Refiner) FaceVaryingStencils() []*stencil.Table { return r.fvar }

// PatchTable returns the patch table.
func (r *Refiner) PatchTable() *patch.Table { return r.patches }

// NumLevels returns the number of refinement levels performed.
func (r *Refiner) NumLevels() int { return r.levels }

// NumCoarseVertices returns the control vertex count.
func (r *Refiner) NumCoarseVertices() int { return r.numCoarse }

// baseLevel converts the mesh into level 0.
func baseLevel(m *Mesh) *level {
	faces := make([][4]int32, len(m.Faces))
	origins := make([]origin, len(m.Faces))
	for f, face := range m.Faces {
		for i, v := range face {
			faces[f][i] = int32(v) //nolint:gosec // validated against NumVertices
		}
		origins[f] = origin{base: f}
	}
	fvar := make([]fvarLevel, len(m.FaceVarying))
	for ch, c := range m.FaceVarying {
		fvar[ch] = fvarLevel{numValues: c.NumValues, faces: make([][4]int32, len(c.Faces))}
		for f, face := range c.Faces {
			for i, v := range face {
				fvar[ch].faces[f][i] = int32(v) //nolint:gosec // validated against NumValues
			}
		}
	}
	return newLevel(0, m.NumVertices, faces, origins, fvar)
}

// composer tracks the elements of the current level as combinations of
// the coarse elements of one stream.
type composer struct {
	numCoarse int
	current   []sparse
	stencils  *stencil.Builder
}

func newComposer(numCoarse int) *composer {
	c := &composer{numCoarse: numCoarse, current: make([]sparse, numCoarse), stencils: stencil.NewBuilder(numCoarse)}
	for i := range c.current {
		c.current[i] = sparse{int32(i): 1} //nolint:gosec // counts fit int32
	}
	return c
}

// advance moves to the next level given its rules. emit adds the new
// level's elements to the stencil table.
func (c *composer) advance(rules []sparse, emit bool) {
	next := make([]sparse, len(rules))
	for i, r := range rules {
		next[i] = r.compose(c.current)
	}
	c.current = next
	if emit {
		c.emitCurrent()
	}
}

func (c *composer) emitCurrent() {
	w := make(map[int32]float32, 16)
	for _, s := range c.current {
		clear(w)
		for i, x := range s {
			if x != 0 {
				w[i] = float32(x)
			}
		}
		c.stencils.AddWeights(w)
	}
}

func (c *composer) build(stream string) (*stencil.Table, error) {
	t, err := c.stencils.Build()
	if err != nil {
		return nil, fmt.Errorf("mesh: %s stencils: %w", stream, err)
	}
	return t, nil
}

// streams bundles the composers of every stream.
type streams struct {
	vertex  *composer
	varying *composer
	fvar    []*composer
}

func newStreams(base *level, varying bool) *streams {
	s := &streams{vertex: newComposer(base.numVerts)}
	if varying {
		s.varying = newComposer(base.numVerts)
	}
	for _, fv := range base.fvar {
		s.fvar = append(s.fvar, newComposer(fv.numValues))
	}
	return s
}

func (s *streams) advance(r rules, emit bool) {
	s.vertex.advance(r.vertex, emit)
	if s.varying != nil {
		s.varying.advance(r.varying, emit)
	}
	for ch, c := range s.fvar {
		c.advance(r.fvar[ch], emit)
	}
}

func (s *streams) emitCurrent() {
	s.vertex.emitCurrent()
	if s.varying != nil {
		s.varying.emitCurrent()
	}
	for _, c := range s.fvar {
		c.emitCurrent()
	}
}

func (r *Refiner) buildStencils(s *streams) error {
	var err error
	if r.vertex, err = s.vertex.build("vertex"); err != nil {
		return err
	}
	if s.varying != nil {
		if r.varying, err = s.varying.build("varying"); err != nil {
			return err
		}
	}
	r.fvar = make([]*stencil.Table, len(s.fvar))
	for ch, c := range s.fvar {
		if r.fvar[ch], err = c.build(fmt.Sprintf("face-varying %d", ch)); err != nil {
			return err
		}
	}
	return nil
}

// buildUniform refines every face to o.Level and emits bilinear patches
// over the last level, indexed from the start of that level.
func (r *Refiner) buildUniform(m *Mesh, o Options) error {
	l := baseLevel(m)
	s := newStreams(l, o.Varying)
	for i := range o.Level {
		next, rules := l.refine()
		s.advance(rules, i == o.Level-1)
		l = next
	}
	if o.Level == 0 {
		// The evaluator reads uniform patches after the coarse elements,
		// so level 0 is a copy.
		s.emitCurrent()
	}
	r.levels = o.Level
	if err := r.buildStencils(s); err != nil {
		return err
	}

	b := patch.NewBuilder(false)
	if o.Varying {
		b.SetVarying(patch.Quads)
	}
	b.SetFaceVarying(quadTypes(len(l.fvar))...)
	for f, face := range l.faces {
		b.Add(patch.Patch{
			Type:        patch.Quads,
			CVs:         face[:],
			Param:       l.param(f, 0, false),
			Varying:     varyingOf(o.Varying, face),
			FaceVarying: l.fvarCorners(f, nil),
		})
	}
	t, err := b.Build()
	if err != nil {
		return fmt.Errorf("mesh: patches: %w", err)
	}
	r.patches = t
	return nil
}

func quadTypes(n int) []patch.Type {
	out := make([]patch.Type, n)
	for i := range out {
		out[i] = patch.Quads
	}
	return out
}

func varyingOf(enabled bool, face [4]int32) []int32 {
	if !enabled {
		return nil
	}
	return face[:]
}

// param packs the location of face f.
func (l *level) param(f, boundary int, regular bool) patch.Param {
	o := l.origins[f]
	return patch.NewParam(o.base, o.u, o.v, l.depth, false, boundary, regular)
}

// fvarCorners returns the channel corners of face f, shifted by the
// per channel offsets when given.
func (l *level) fvarCorners(f int, offsets []int32) [][]int32 {
	out := make([][]int32, len(l.fvar))
	for ch, fv := range l.fvar {
		c := fv.faces[f]
		if offsets != nil {
			for i := range c {
				c[i] += offsets[ch]
			}
		}
		out[ch] = c[:]
	}
	return out
}
