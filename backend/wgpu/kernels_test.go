//go:build !nogpu

package wgpu

import (
	"errors"
	"testing"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/stencil"
)

func newKernelsOrSkip(t *testing.T) *Kernels {
	t.Helper()
	k, err := New()
	if err != nil {
		t.Skipf("GPU not available: %v", err)
	}
	t.Cleanup(k.Close)
	return k
}

// chain builds stencils where each refined point averages the previous
// one with a control point, so the table is not factorized.
func chain(t *testing.T) *stencil.Table {
	t.Helper()
	b := stencil.NewBuilder(2)
	b.Add([]int32{0, 1}, []float32{0.5, 0.5})
	b.Add([]int32{2, 1}, []float32{0.5, 0.5})
	b.Add([]int32{3, 0}, []float32{0.5, 0.5})
	st, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if st.IsFactorized() {
		t.Fatal("chain table is factorized")
	}
	return st
}

func TestCompileSharesPipelines(t *testing.T) {
	k := newKernelsOrSkip(t)

	a, err := k.Compile(evalKey(0, true))
	if err != nil {
		t.Fatal(err)
	}
	b, err := k.Compile(evalKey(0, true))
	if err != nil {
		t.Fatal(err)
	}
	if got := k.pipes.size(); got != 2 {
		t.Errorf("pipelines = %d, want 2", got)
	}
	a.Release()
	a.Release()
	if got := k.pipes.size(); got != 2 {
		t.Errorf("pipelines after one release = %d, want 2", got)
	}
	b.Release()
	if got := k.pipes.size(); got != 0 {
		t.Errorf("pipelines after last release = %d, want 0", got)
	}
}

func TestEvalStencilsFactorizes(t *testing.T) {
	k := newKernelsOrSkip(t)
	st, err := k.CreateStencilTable(chain(t))
	if err != nil {
		t.Fatal(err)
	}
	defer k.DestroyStencilTable(st)

	buf, err := k.CreateBuffer(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer k.DestroyBuffer(buf)
	if err := buf.UpdateData([]float32{0, 8}, 0, 2); err != nil {
		t.Fatal(err)
	}

	src := buffer.Packed(1)
	dst := src.Skip(2)
	inst, err := k.Compile(backend.Key{Src: src, Dst: dst})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Release()

	if err := k.EvalStencils(buf, src, buf, dst, st, inst); err != nil {
		t.Fatal(err)
	}
	got := make([]float32, 5)
	if err := buf.ReadData(got, 0, 5); err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 8, 4, 6, 3}
	for i := range want {
		if d := got[i] - want[i]; d > 1e-5 || d < -1e-5 {
			t.Fatalf("buffer = %v, want %v", got, want)
		}
	}
}

func TestEvalRequiresMatchingInstance(t *testing.T) {
	k := newKernelsOrSkip(t)
	st, err := k.CreateStencilTable(chain(t))
	if err != nil {
		t.Fatal(err)
	}
	defer k.DestroyStencilTable(st)
	buf, err := k.CreateBuffer(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	defer k.DestroyBuffer(buf)

	src := buffer.Packed(1)
	if err := k.EvalStencils(buf, src, buf, src.Skip(2), st, nil); !errors.Is(err, ErrNoInstance) {
		t.Errorf("nil instance: %v", err)
	}
	inst, err := k.Compile(backend.Key{Src: src, Dst: src.Skip(3)})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Release()
	if err := k.EvalStencils(buf, src, buf, src.Skip(2), st, inst); !errors.Is(err, ErrNoInstance) {
		t.Errorf("mismatched layout: %v", err)
	}
}

func TestClosedKernels(t *testing.T) {
	k := newKernelsOrSkip(t)
	k.Close()
	if _, err := k.CreateBuffer(3, 4); !errors.Is(err, backend.ErrNotAvailable) {
		t.Errorf("CreateBuffer after Close: %v", err)
	}
	if _, err := k.Compile(evalKey(0, false)); !errors.Is(err, backend.ErrNotAvailable) {
		t.Errorf("Compile after Close: %v", err)
	}
}
