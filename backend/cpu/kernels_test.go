package cpu

import (
	"errors"
	"math"
	"testing"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

func approx(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-5 }

// quadTable is one bilinear patch over control points 0..3 with a varying
// and a face-varying channel using the same corners.
func quadTable(t *testing.T) *patch.Table {
	t.Helper()
	b := patch.NewBuilder(true)
	b.SetVarying(patch.Quads)
	b.SetFaceVarying(patch.Quads)
	b.Add(patch.Patch{
		Type:        patch.Quads,
		CVs:         []int32{0, 1, 2, 3},
		Param:       patch.NewParam(0, 0, 0, 0, false, 0, false),
		Varying:     []int32{0, 1, 2, 3},
		FaceVarying: [][]int32{{3, 2, 1, 0}},
	})
	tab, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return tab
}

func TestEvalStencilsInPlace(t *testing.T) {
	// Two midpoints followed by the midpoint of the midpoints.
	tab, err := stencil.New(2,
		[]int32{2, 2},
		[]int32{0, 1, 0, 2},
		[]float32{0.5, 0.5, 0.5, 0.5})
	if err != nil {
		t.Fatal(err)
	}
	k := New()
	buf, _ := k.CreateBuffer(3, 4)
	if err := buf.UpdateData([]float32{0, 0, 0, 4, 8, 12}, 0, 2); err != nil {
		t.Fatal(err)
	}

	src := buffer.Packed(3)
	if err := k.EvalStencils(buf, src, buf, src.Skip(2), tab, nil); err != nil {
		t.Fatalf("EvalStencils() error = %v", err)
	}

	want := []float32{0, 0, 0, 4, 8, 12, 2, 4, 6, 1, 2, 3}
	for i, w := range want {
		if got := buf.BindHost()[i]; !approx(got, w) {
			t.Errorf("data[%d] = %v, want %v", i, got, w)
		}
	}
}

func TestEvalStencilsInterleaved(t *testing.T) {
	tab, err := stencil.New(2, []int32{2}, []int32{0, 1}, []float32{0.25, 0.75})
	if err != nil {
		t.Fatal(err)
	}
	k := New()
	// xyz + uv interleaved, stride 5. Only the uv stream is refined.
	buf, _ := k.CreateBuffer(5, 3)
	copy(buf.BindHost(), []float32{9, 9, 9, 0, 4, 9, 9, 9, 8, 0})
	uv := buffer.NewLayout(3, 2, 5)
	if err := k.EvalStencils(buf, uv, buf, uv.Skip(2), tab, nil); err != nil {
		t.Fatal(err)
	}
	got := buf.BindHost()[10:]
	want := []float32{0, 0, 0, 6, 1}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("element 2 = %v, want %v", got, want)
			break
		}
	}
}

func TestEvalStencilsRejectsShortDestination(t *testing.T) {
	tab, _ := stencil.New(1, []int32{1, 1}, []int32{0, 0}, []float32{1, 1})
	k := New()
	buf, _ := k.CreateBuffer(3, 2)
	err := k.EvalStencils(buf, buffer.Packed(3), buf, buffer.Packed(3).Skip(1), tab, nil)
	if !errors.Is(err, buffer.ErrRange) {
		t.Errorf("EvalStencils() error = %v, want ErrRange", err)
	}
}

func TestEvalPatchesBilinear(t *testing.T) {
	tab := quadTable(t)
	k := New()
	src, _ := k.CreateBuffer(3, 4)
	_ = src.UpdateData([]float32{
		0, 0, 0,
		2, 0, 0,
		2, 4, 0,
		0, 4, 1,
	}, 0, 4)

	coords := []patch.Coord{
		{Handle: tab.Handles()[0], U: 0, V: 0},
		{Handle: tab.Handles()[0], U: 0.5, V: 0.5},
		{Handle: tab.Handles()[0], U: 1, V: 1},
	}
	p := make([]float32, 9)
	du := make([]float32, 9)
	out := backend.PatchOutputs{
		P:    backend.Output{Buf: buffer.Wrap(p, 3), Layout: buffer.Packed(3)},
		DPdu: backend.Output{Buf: buffer.Wrap(du, 3), Layout: buffer.Packed(3)},
	}
	if err := k.EvalPatches(src, buffer.Packed(3), out, coords, tab, nil); err != nil {
		t.Fatalf("EvalPatches() error = %v", err)
	}

	wantP := []float32{0, 0, 0, 1, 2, 0.25, 2, 4, 0}
	for i := range wantP {
		if !approx(p[i], wantP[i]) {
			t.Errorf("P[%d] = %v, want %v", i, p[i], wantP[i])
		}
	}
	// d/du at v=0.5 is the average of the two u edges.
	if !approx(du[3], 2) || !approx(du[4], 0) || !approx(du[5], -0.5) {
		t.Errorf("dPdu(0.5,0.5) = %v, want [2 0 -0.5]", du[3:6])
	}
}

func TestEvalPatchesFaceVaryingUsesChannelIndices(t *testing.T) {
	tab := quadTable(t)
	k := New()
	src, _ := k.CreateBuffer(2, 4)
	_ = src.UpdateData([]float32{0, 0, 1, 0, 1, 1, 0, 1}, 0, 4)

	out := make([]float32, 2)
	coords := []patch.Coord{{Handle: tab.Handles()[0], U: 0, V: 0}}
	err := k.EvalPatchesFaceVarying(src, buffer.Packed(2),
		backend.Output{Buf: buffer.Wrap(out, 2), Layout: buffer.Packed(2)}, coords, tab, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Channel corners are reversed, so (0,0) reads control point 3.
	if out[0] != 0 || out[1] != 1 {
		t.Errorf("fvar(0,0) = %v, want [0 1]", out)
	}

	err = k.EvalPatchesFaceVarying(src, buffer.Packed(2),
		backend.Output{Buf: buffer.Wrap(out, 2), Layout: buffer.Packed(2)}, coords, tab, 1, nil)
	if err == nil {
		t.Error("EvalPatchesFaceVarying(channel 1) should fail")
	}
}

func TestEvalPatchesVarying(t *testing.T) {
	tab := quadTable(t)
	k := New()
	src, _ := k.CreateBuffer(3, 4)
	_ = src.UpdateData([]float32{1, 0, 0, 0, 1, 0, 0, 0, 1, 1, 1, 1}, 0, 4)

	out := make([]float32, 3)
	coords := []patch.Coord{{Handle: tab.Handles()[0], U: 1, V: 0}}
	err := k.EvalPatchesVarying(src, buffer.Packed(3),
		backend.Output{Buf: buffer.Wrap(out, 3), Layout: buffer.Packed(3)}, coords, tab, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out[0] != 0 || out[1] != 1 || out[2] != 0 {
		t.Errorf("varying(1,0) = %v, want [0 1 0]", out)
	}
}

func TestEvalPatchesShortOutput(t *testing.T) {
	tab := quadTable(t)
	k := New()
	src, _ := k.CreateBuffer(3, 4)
	coords := []patch.Coord{{Handle: tab.Handles()[0]}, {Handle: tab.Handles()[0]}}
	out := backend.PatchOutputs{P: backend.Output{Buf: buffer.Wrap(make([]float32, 3), 3), Layout: buffer.Packed(3)}}
	if err := k.EvalPatches(src, buffer.Packed(3), out, coords, tab, nil); !errors.Is(err, buffer.ErrRange) {
		t.Errorf("EvalPatches() error = %v, want ErrRange", err)
	}
}
