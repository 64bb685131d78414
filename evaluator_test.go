package subd_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/subd"
	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/mesh"
	"github.com/gogpu/subd/patch"
)

// build refines s, loads its data and refines the evaluator. Varying
// data repeats the positions.
func build(t *testing.T, s mesh.Shape, o mesh.Options, opts ...subd.Option) *subd.Evaluator {
	t.Helper()
	r := mesh.NewRefiner(s.Mesh, o)
	require.NoError(t, r.Err())
	e, err := subd.New(r, backend.KindCPU, opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	n := e.NumCoarseVertices()
	require.Equal(t, s.Mesh.NumVertices, n)
	require.NoError(t, e.SetCoarsePositions(s.Positions, 0, n))
	if e.HasVarying() {
		require.NoError(t, e.SetVaryingData(s.Positions, 0, n))
	}
	for ch, vals := range s.FaceVarying {
		require.NoError(t, e.SetFaceVaryingData(ch, vals, 0, len(vals)/2))
	}
	require.NoError(t, e.Refine())
	return e
}

var sampleUV = []float32{0, 0.25, 0.5, 0.75, 1}

func TestPlanarGridIsExact(t *testing.T) {
	for _, o := range []mesh.Options{
		{Level: 0},
		{Level: 2, Varying: true},
		{Level: 3, Adaptive: true, Varying: true},
	} {
		e := build(t, mesh.Grid(3, 2), o)
		for face := range 6 {
			i, j := float32(face%3), float32(face/3)
			for _, u := range sampleUV {
				for _, v := range sampleUV {
					var p, du, dv, uv [3]float32
					require.NoError(t, e.EvaluateLimit(face, u, v, p[:], du[:], dv[:]))
					assert.InDeltaSlice(t, []float32{i + u, j + v, 0}, p[:], 1e-5, "%+v face %d (%v,%v)", o, face, u, v)
					assert.InDeltaSlice(t, []float32{1, 0, 0}, du[:], 1e-4)
					assert.InDeltaSlice(t, []float32{0, 1, 0}, dv[:], 1e-4)

					require.NoError(t, e.EvaluateFaceVarying(0, face, u, v, uv[:2]))
					assert.InDeltaSlice(t, []float32{(i + u) / 3, (j + v) / 2}, uv[:2], 1e-5)

					if e.HasVarying() {
						var vary [3]float32
						require.NoError(t, e.EvaluateVarying(face, u, v, vary[:]))
						assert.InDeltaSlice(t, p[:], vary[:], 1e-5)
					}
				}
			}
		}
	}
}

func TestUnitQuadAdaptive(t *testing.T) {
	e := build(t, mesh.Quad(), mesh.Options{Level: 2, Adaptive: true})
	var p [3]float32
	require.NoError(t, e.EvaluateLimit(0, 0, 0, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{0, 0, 0}, p[:], 1e-6)
	require.NoError(t, e.EvaluateLimit(0, 0.5, 0.5, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{0.5, 0.5, 0}, p[:], 1e-6)
}

func TestCubeCornerLimit(t *testing.T) {
	e := build(t, mesh.Cube(), mesh.Options{Level: 3, Adaptive: true})

	// Vertex 0 is corner 0 of face 0. Its limit position is
	// 3/8 v + 1/6 (edge neighbours) + 1/24 (diagonals).
	var p [3]float32
	require.NoError(t, e.EvaluateLimit(0, 0, 0, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{0.25, 0.25, 0.25}, p[:], 1e-5)

	// Every corner of every face agrees with the symmetric limit.
	corners := [][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	for face := range 6 {
		for _, c := range corners {
			require.NoError(t, e.EvaluateLimit(face, c[0], c[1], p[:], nil, nil))
			for k := range 3 {
				d := math.Abs(float64(p[k]) - 0.5)
				assert.InDelta(t, 0.25, d, 1e-5, "face %d corner %v", face, c)
			}
		}
	}
}

func TestCubeStaysInsideHull(t *testing.T) {
	e := build(t, mesh.Cube(), mesh.Options{Level: 2, Adaptive: true})
	for face := range 6 {
		for _, u := range sampleUV {
			for _, v := range sampleUV {
				var p [3]float32
				require.NoError(t, e.EvaluateLimit(face, u, v, p[:], nil, nil))
				for _, x := range p {
					assert.True(t, x > -1e-5 && x < 1+1e-5, "face %d (%v,%v) = %v", face, u, v, p)
				}
			}
		}
	}
}

func TestRefineIsIdempotent(t *testing.T) {
	e := build(t, mesh.Cube(), mesh.Options{Level: 2, Adaptive: true})
	var a, b [3]float32
	require.NoError(t, e.EvaluateLimit(2, 0.3, 0.7, a[:], nil, nil))
	require.NoError(t, e.Refine())
	require.NoError(t, e.Refine())
	require.NoError(t, e.EvaluateLimit(2, 0.3, 0.7, b[:], nil, nil))
	assert.Equal(t, a, b)
}

func TestRefineIsLinear(t *testing.T) {
	s := mesh.Cube()
	r := mesh.NewRefiner(s.Mesh, mesh.Options{Level: 2, Adaptive: true})
	require.NoError(t, r.Err())
	e, err := subd.New(r, backend.KindCPU)
	require.NoError(t, err)
	defer e.Close()

	a := s.Positions
	b := make([]float32, len(a))
	for i := range b {
		b[i] = float32(i%5) - 2
	}
	mix := make([]float32, len(a))
	for i := range mix {
		mix[i] = 2*a[i] - 0.5*b[i]
	}

	eval := func(pos []float32) []float32 {
		require.NoError(t, e.SetCoarsePositions(pos, 0, 8))
		require.NoError(t, e.Refine())
		out := make([]float32, 3*5)
		samples := []subd.Sample{{0, 0.1, 0.2}, {1, 0.5, 0.5}, {3, 1, 0}, {4, 0.9, 0.4}, {5, 0, 1}}
		require.NoError(t, e.EvaluateLimitBatch(samples, out, nil, nil))
		return out
	}
	pa, pb, pm := eval(a), eval(b), eval(mix)
	for i := range pm {
		assert.InDelta(t, 2*pa[i]-0.5*pb[i], pm[i], 1e-4)
	}
}

func TestUniformReadsFinalLevel(t *testing.T) {
	// The grid corner at (2,2) is coarse vertex 8 and keeps its position
	// when refined. Moving it only shows after Refine, since patches read
	// the refined level.
	s := mesh.Grid(2, 2)
	e := build(t, s, mesh.Options{Level: 1})

	var p [3]float32
	require.NoError(t, e.EvaluateLimit(3, 1, 1, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{2, 2, 0}, p[:], 1e-6)

	require.NoError(t, e.SetCoarsePositions([]float32{2, 2, 100}, 8, 1))
	require.NoError(t, e.EvaluateLimit(3, 1, 1, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{2, 2, 0}, p[:], 1e-6, "evaluation read the coarse prefix")
	require.NoError(t, e.Refine())
	require.NoError(t, e.EvaluateLimit(3, 1, 1, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{2, 2, 100}, p[:], 1e-6)
}

func TestFaceVaryingChannelsAreIsolated(t *testing.T) {
	s := mesh.Grid(2, 1)
	second := make([]float32, len(s.FaceVarying[0]))
	for i := range second {
		second[i] = 7
	}
	s.Mesh.FaceVarying = append(s.Mesh.FaceVarying, mesh.Channel{
		Name: "mask", NumValues: s.Mesh.NumVertices, Faces: s.Mesh.Faces,
	})
	s.FaceVarying = append(s.FaceVarying, second)

	e := build(t, s, mesh.Options{Level: 2})
	require.Equal(t, 2, e.NumFaceVaryingChannels())

	var before, after, other [2]float32
	require.NoError(t, e.EvaluateFaceVarying(0, 1, 0.5, 0.25, before[:]))
	require.NoError(t, e.EvaluateFaceVarying(1, 1, 0.5, 0.25, other[:]))
	assert.InDeltaSlice(t, []float32{7, 7}, other[:], 1e-5)

	for i := range second {
		second[i] = -3
	}
	require.NoError(t, e.SetFaceVaryingData(1, second, 0, len(second)/2))
	require.NoError(t, e.Refine())
	require.NoError(t, e.EvaluateFaceVarying(0, 1, 0.5, 0.25, after[:]))
	require.NoError(t, e.EvaluateFaceVarying(1, 1, 0.5, 0.25, other[:]))
	assert.Equal(t, before, after)
	assert.InDeltaSlice(t, []float32{-3, -3}, other[:], 1e-5)
}

func TestFaceVaryingSeams(t *testing.T) {
	// Cube uv values are split per face, so each face sees its own square.
	e := build(t, mesh.Cube(), mesh.Options{Level: 2, Adaptive: true})
	for face := range 6 {
		var uv [2]float32
		require.NoError(t, e.EvaluateFaceVarying(0, face, 0.25, 0.75, uv[:]))
		assert.InDeltaSlice(t, []float32{0.25, 0.75}, uv[:], 1e-5, "face %d", face)
	}
}

func TestBatchMatchesSingle(t *testing.T) {
	e := build(t, mesh.Cube(), mesh.Options{Level: 3, Adaptive: true})

	var samples []subd.Sample
	for face := range 6 {
		for _, u := range sampleUV {
			for _, v := range sampleUV {
				samples = append(samples, subd.Sample{Face: face, U: u, V: v})
			}
		}
	}
	n := len(samples)
	p, du, dv := make([]float32, 3*n), make([]float32, 3*n), make([]float32, 3*n)
	require.NoError(t, e.EvaluateLimitBatch(samples, p, du, dv))

	locator := patch.NewMap(mesh.NewRefiner(mesh.Cube().Mesh, mesh.Options{Level: 3, Adaptive: true}).PatchTable())
	coords := make([]patch.Coord, n)
	for i, s := range samples {
		var sp, sdu, sdv [3]float32
		require.NoError(t, e.EvaluateLimit(s.Face, s.U, s.V, sp[:], sdu[:], sdv[:]))
		assert.Equal(t, sp[:], p[3*i:3*i+3], "sample %d", i)
		assert.Equal(t, sdu[:], du[3*i:3*i+3], "sample %d", i)
		assert.Equal(t, sdv[:], dv[3*i:3*i+3], "sample %d", i)

		h, ok := locator.FindPatch(s.Face, s.U, s.V)
		require.True(t, ok)
		coords[i] = patch.Coord{Handle: h, U: s.U, V: s.V}
	}

	pp := make([]float32, 3*n)
	require.NoError(t, e.EvaluatePatchesLimit(coords, pp, nil, nil))
	assert.Equal(t, p, pp)
}

func TestLargeBatchSpillsStaging(t *testing.T) {
	e := build(t, mesh.Grid(4, 4), mesh.Options{Level: 1})
	const n = 3000
	samples := make([]subd.Sample, n)
	for i := range samples {
		samples[i] = subd.Sample{Face: i % 16, U: float32(i%7) / 6, V: float32(i%11) / 10}
	}
	p := make([]float32, 3*n)
	require.NoError(t, e.EvaluateLimitBatch(samples, p, nil, nil))
	for i, s := range samples {
		x := float32(s.Face%4) + s.U
		y := float32(s.Face/4) + s.V
		assert.InDeltaSlice(t, []float32{x, y, 0}, p[3*i:3*i+3], 1e-5, "sample %d", i)
	}
}

func TestLocatorIsTotal(t *testing.T) {
	for _, o := range []mesh.Options{{Level: 2}, {Level: 3, Adaptive: true}} {
		e := build(t, mesh.Cube(), o)
		pm := e.PatchMap()
		assert.Equal(t, 0, pm.MinFace)
		assert.Equal(t, 5, pm.MaxFace)
		assert.False(t, pm.Triangular)
		assert.NotEmpty(t, pm.Handles)

		for face := range 6 {
			for u := float32(0); u <= 1; u += 1.0 / 16 {
				for v := float32(0); v <= 1; v += 1.0 / 16 {
					var p [3]float32
					require.NoError(t, e.EvaluateLimit(face, u, v, p[:], nil, nil), "%+v face %d (%v,%v)", o, face, u, v)
				}
			}
		}

		var p [3]float32
		assert.ErrorIs(t, e.EvaluateLimit(6, 0.5, 0.5, p[:], nil, nil), subd.ErrFaceOutOfRange)
		assert.ErrorIs(t, e.EvaluateLimit(-1, 0.5, 0.5, p[:], nil, nil), subd.ErrFaceOutOfRange)
		assert.ErrorIs(t, e.EvaluateLimit(0, 1.5, 0.5, p[:], nil, nil), subd.ErrParamOutOfRange)
		assert.ErrorIs(t, e.EvaluateLimit(0, 0.5, -0.1, p[:], nil, nil), subd.ErrParamOutOfRange)
		nan := float32(math.NaN())
		assert.ErrorIs(t, e.EvaluateLimit(0, nan, 0.5, p[:], nil, nil), subd.ErrParamOutOfRange)
	}
}

func TestStridedUpload(t *testing.T) {
	s := mesh.Grid(2, 2)
	r := mesh.NewRefiner(s.Mesh, mesh.Options{Level: 1})
	require.NoError(t, r.Err())
	e, err := subd.New(r, backend.KindCPU)
	require.NoError(t, err)
	defer e.Close()

	// Interleaved vertices: position then uv, 20 bytes each, after a
	// 4 byte header.
	const stride = 20
	buf := make([]byte, 4+stride*9)
	for i := range 9 {
		at := 4 + i*stride
		vals := []float32{s.Positions[3*i], s.Positions[3*i+1], s.Positions[3*i+2], s.FaceVarying[0][2*i], s.FaceVarying[0][2*i+1]}
		for c, x := range vals {
			binary.LittleEndian.PutUint32(buf[at+4*c:], math.Float32bits(x))
		}
	}
	require.NoError(t, e.SetCoarsePositionsFromBuffer(buf, 4, stride, 0, 9))
	require.NoError(t, e.SetFaceVaryingDataFromBuffer(0, buf, 16, stride, 0, 9))
	require.NoError(t, e.Refine())

	var p, uv [3]float32
	require.NoError(t, e.EvaluateLimit(3, 0.5, 0.5, p[:], nil, nil))
	assert.InDeltaSlice(t, []float32{1.5, 1.5, 0}, p[:], 1e-5)
	require.NoError(t, e.EvaluateFaceVarying(0, 3, 0.5, 0.5, uv[:2]))
	assert.InDeltaSlice(t, []float32{0.75, 0.75}, uv[:2], 1e-5)

	assert.ErrorIs(t, e.SetCoarsePositionsFromBuffer(buf, 4, 8, 0, 9), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.SetCoarsePositionsFromBuffer(buf, 4, stride, 0, 10), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.SetCoarsePositionsFromBuffer(buf[:40], 4, stride, 0, 9), subd.ErrOutOfRange)
}

func TestCallErrors(t *testing.T) {
	e := build(t, mesh.Grid(2, 2), mesh.Options{Level: 1})
	var p [3]float32

	assert.False(t, e.HasVarying())
	assert.ErrorIs(t, e.SetVaryingData(make([]float32, 3), 0, 1), subd.ErrNoVaryingData)
	assert.ErrorIs(t, e.EvaluateVarying(0, 0.5, 0.5, p[:]), subd.ErrNoVaryingData)

	assert.ErrorIs(t, e.SetFaceVaryingData(1, make([]float32, 2), 0, 1), subd.ErrChannelOutOfRange)
	assert.ErrorIs(t, e.EvaluateFaceVarying(-1, 0, 0.5, 0.5, p[:2]), subd.ErrChannelOutOfRange)

	assert.ErrorIs(t, e.SetCoarsePositions(make([]float32, 30), 0, 10), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.SetCoarsePositions(make([]float32, 3), -1, 1), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.SetCoarsePositions(make([]float32, 2), 0, 1), subd.ErrOutOfRange)
	assert.NoError(t, e.SetCoarsePositions(nil, 9, 0))

	assert.ErrorIs(t, e.EvaluateLimit(0, 0.5, 0.5, p[:2], nil, nil), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.EvaluateLimit(0, 0.5, 0.5, p[:], make([]float32, 1), nil), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.EvaluateLimitBatch(make([]subd.Sample, 2), p[:], nil, nil), subd.ErrOutOfRange)
	assert.ErrorIs(t, e.EvaluateLimitBatch([]subd.Sample{{Face: 9}}, p[:], nil, nil), subd.ErrFaceOutOfRange)
	assert.NoError(t, e.EvaluateLimitBatch(nil, nil, nil, nil))

	bad := []patch.Coord{{Handle: patch.Handle{ArrayIndex: 0, PatchIndex: 99}}}
	assert.ErrorIs(t, e.EvaluatePatchesLimit(bad, p[:], nil, nil), subd.ErrOutOfRange)

	_, ok := e.DeviceResources()
	assert.False(t, ok, "host evaluators have no device resources")

	e.Close()
	assert.ErrorIs(t, e.Refine(), subd.ErrClosed)
	assert.ErrorIs(t, e.EvaluateLimit(0, 0.5, 0.5, p[:], nil, nil), subd.ErrClosed)
	assert.ErrorIs(t, e.SetCoarsePositions(p[:], 0, 1), subd.ErrClosed)
}

func TestEvaluatePatchesLimitChecksHandles(t *testing.T) {
	e := build(t, mesh.Grid(2, 2), mesh.Options{Level: 1})
	pm := e.PatchMap()
	require.NotEmpty(t, pm.Handles)
	valid := pm.Handles[len(pm.Handles)-1]

	var p [3]float32
	require.NoError(t, e.EvaluatePatchesLimit([]patch.Coord{{Handle: valid, U: 0.5, V: 0.5}}, p[:], nil, nil))

	shifted := valid
	shifted.VertIndex++
	otherArray := valid
	otherArray.ArrayIndex = 99
	negative := valid
	negative.PatchIndex = -1

	tests := []struct {
		name  string
		coord patch.Coord
		want  error
	}{
		{"vertex offset off its array", patch.Coord{Handle: shifted, U: 0.5, V: 0.5}, subd.ErrOutOfRange},
		{"array index past the table", patch.Coord{Handle: otherArray, U: 0.5, V: 0.5}, subd.ErrOutOfRange},
		{"negative patch index", patch.Coord{Handle: negative, U: 0.5, V: 0.5}, subd.ErrOutOfRange},
		{"u above one", patch.Coord{Handle: valid, U: 1.5, V: 0.5}, subd.ErrParamOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coords := []patch.Coord{{Handle: valid, U: 0, V: 0}, tt.coord}
			err := e.EvaluatePatchesLimit(coords, make([]float32, 6), nil, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := subd.New(nil, backend.KindCPU)
	assert.ErrorIs(t, err, subd.ErrInvalidTopology)

	bad := mesh.NewRefiner(&mesh.Mesh{NumVertices: 3, Faces: [][]int{{0, 1, 2}}}, mesh.Options{})
	_, err = subd.New(bad, backend.KindCPU)
	assert.ErrorIs(t, err, subd.ErrInvalidTopology)
	assert.ErrorIs(t, err, mesh.ErrInvalidMesh)

	r := mesh.NewRefiner(mesh.Quad().Mesh, mesh.Options{})
	_, err = subd.New(r, backend.Kind(99))
	assert.ErrorIs(t, err, subd.ErrUnsupportedBackend)

	var nilEval *subd.Evaluator
	nilEval.Close()
}
