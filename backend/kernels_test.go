package backend

import (
	"testing"

	"github.com/gogpu/subd/buffer"
)

func TestKindRoundTrip(t *testing.T) {
	for _, k := range []Kind{KindCPU, KindParallel, KindGPU} {
		got, err := ParseKind(k.String())
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", k.String(), err)
		}
		if got != k {
			t.Errorf("ParseKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseKind("vulkan"); err == nil {
		t.Error("ParseKind(\"vulkan\") should fail")
	}
}

func TestKeyComparable(t *testing.T) {
	a := Key{Src: buffer.Packed(3), Dst: buffer.Packed(3).Skip(4)}
	b := Key{Src: buffer.Packed(3), Dst: buffer.NewLayout(12, 3, 3)}
	if a != b {
		t.Errorf("keys %v and %v should be equal", a, b)
	}
	m := map[Key]int{a: 1}
	if m[b] != 1 {
		t.Error("equal keys must map to the same entry")
	}
}

func TestPatchOutputsDerivatives(t *testing.T) {
	var out PatchOutputs
	out.P = Output{Buf: buffer.Wrap(make([]float32, 3), 3), Layout: buffer.Packed(3)}
	if out.Derivatives() {
		t.Error("Derivatives() = true with no derivative buffers")
	}
	out.DPdv = Output{Buf: buffer.Wrap(make([]float32, 3), 3), Layout: buffer.Packed(3)}
	if !out.Derivatives() {
		t.Error("Derivatives() = false with dPdv requested")
	}
}
