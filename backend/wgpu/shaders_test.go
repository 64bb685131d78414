//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/naga"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
)

func refineKey(coarse int) backend.Key {
	src := buffer.Packed(3)
	return backend.Key{Src: src, Dst: src.Skip(coarse)}
}

func evalKey(offset int, derivs bool) backend.Key {
	k := backend.Key{Src: buffer.Packed(3).Skip(offset), Dst: buffer.Packed(3)}
	if derivs {
		k.Du, k.Dv = buffer.Packed(3), buffer.Packed(3)
	}
	return k
}

func TestStencilSourceConstants(t *testing.T) {
	src := stencilSource(refineKey(9))
	for _, want := range []string{
		"const SRC_OFFSET: u32 = 0u;",
		"const SRC_STRIDE: u32 = 3u;",
		"const DST_OFFSET: u32 = 27u;",
		"const DST_STRIDE: u32 = 3u;",
		"const WIDTH: u32 = 3u;",
	} {
		if !strings.Contains(src.wgsl, want) {
			t.Errorf("stencil source missing %q", want)
		}
	}
	if !strings.HasSuffix(src.wgsl, stencilShaderBody) {
		t.Error("stencil source does not end with the kernel body")
	}
}

func TestPatchSourceConstants(t *testing.T) {
	tests := []struct {
		name string
		key  backend.Key
		want []string
	}{
		{"uniform", evalKey(25, true), []string{"const SRC_OFFSET: u32 = 75u;", "const DERIVS: bool = true;"}},
		{"adaptive", evalKey(0, false), []string{"const SRC_OFFSET: u32 = 0u;", "const DERIVS: bool = false;"}},
		{"face-varying", backend.Key{Src: buffer.Packed(2), Dst: buffer.Packed(2)}, []string{"const WIDTH: u32 = 2u;", "const SRC_STRIDE: u32 = 2u;"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := patchSource(tt.key)
			for _, w := range tt.want {
				if !strings.Contains(src.wgsl, w) {
					t.Errorf("patch source missing %q", w)
				}
			}
		})
	}
}

func TestFingerprints(t *testing.T) {
	a := patchSource(evalKey(25, true))
	b := patchSource(evalKey(25, true))
	c := patchSource(evalKey(26, true))
	d := patchSource(evalKey(25, false))
	if a.hash != b.hash {
		t.Error("identical keys produced different fingerprints")
	}
	if a.hash == c.hash || a.hash == d.hash {
		t.Error("different keys share a fingerprint")
	}
	if stencilSource(refineKey(9)).hash == patchSource(refineKey(9)).hash {
		t.Error("stencil and patch kernels share a fingerprint")
	}
}

func TestShadersCompile(t *testing.T) {
	sources := []shaderSource{
		stencilSource(refineKey(9)),
		patchSource(evalKey(0, true)),
		patchSource(evalKey(25, false)),
		patchSource(backend.Key{Src: buffer.Packed(2), Dst: buffer.Packed(2)}),
	}
	for _, src := range sources {
		spirv, err := naga.Compile(src.wgsl)
		if err != nil {
			if strings.Contains(err.Error(), "not yet implemented") || strings.Contains(err.Error(), "not supported") {
				t.Skipf("Skipping: naga feature not yet implemented: %v", err)
			}
			t.Fatalf("%s: %v", src.label, err)
		}
		if len(spirv) == 0 || len(spirv)%4 != 0 {
			t.Fatalf("%s: SPIR-V size %d", src.label, len(spirv))
		}
		// SPIR-V magic number.
		if magic := binary.LittleEndian.Uint32(spirv); magic != 0x07230203 {
			t.Errorf("%s: magic = %#x", src.label, magic)
		}
	}
}

func TestGroups(t *testing.T) {
	tests := []struct {
		n    int
		want uint32
	}{
		{1, 1},
		{64, 1},
		{65, 2},
		{chunk, maxGroups},
	}
	for _, tt := range tests {
		if got := groups(tt.n); got != tt.want {
			t.Errorf("groups(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestCoordLayout(t *testing.T) {
	coords := []patch.Coord{
		{Handle: patch.Handle{ArrayIndex: 1, PatchIndex: 7, VertIndex: 112}, U: 0.25, V: 1},
	}
	buf := coordBytes(nil, coords)
	if len(buf) != 4*coordWords {
		t.Fatalf("len = %d, want %d", len(buf), 4*coordWords)
	}
	words := make([]uint32, coordWords)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[4*i:])
	}
	want := []uint32{1, 7, 112, math.Float32bits(0.25), math.Float32bits(1)}
	for i := range want {
		if words[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, words[i], want[i])
		}
	}

	// The scratch slice is reused.
	again := coordBytes(buf, coords[:0])
	if len(again) != 0 || cap(again) != cap(buf) {
		t.Errorf("reuse: len %d cap %d", len(again), cap(again))
	}
}

func TestParamLayout(t *testing.T) {
	p := patch.NewParam(5, 2, 3, 2, false, patch.BoundaryU0, true)
	buf := paramBytes([]patch.Param{p})
	if got := binary.LittleEndian.Uint32(buf); got != p.Field0 {
		t.Errorf("field0 = %#x, want %#x", got, p.Field0)
	}
	f1 := binary.LittleEndian.Uint32(buf[4:])
	// Decode the way the patch kernel does.
	if depth := f1 & 15; depth != 2 {
		t.Errorf("depth = %d", depth)
	}
	if regular := (f1 >> 5) & 1; regular != 1 {
		t.Error("regular bit lost")
	}
	if boundary := (f1 >> 7) & 15; boundary != patch.BoundaryU0 {
		t.Errorf("boundary = %d", boundary)
	}
	if u, v := (f1>>12)&1023, (f1>>22)&1023; u != 2 || v != 3 {
		t.Errorf("origin = (%d,%d), want (2,3)", u, v)
	}
}

func TestScatter(t *testing.T) {
	host := make([]float32, 20)
	o := backend.Output{Buf: buffer.Wrap(host, 5), Layout: buffer.NewLayout(1, 3, 5)}
	packed := []float32{1, 2, 3, 4, 5, 6}
	scatter(o, packed, 3, 1, 2)
	want := []float32{
		0, 0, 0, 0, 0,
		0, 1, 2, 3, 0,
		0, 4, 5, 6, 0,
		0, 0, 0, 0, 0,
	}
	for i := range want {
		if host[i] != want[i] {
			t.Fatalf("host = %v, want %v", host, want)
		}
	}
	scatter(backend.Output{}, packed, 3, 0, 2) // unrequested outputs are skipped
}

func TestSupportedTypes(t *testing.T) {
	for typ, want := range map[patch.Type]bool{
		patch.Quads:        true,
		patch.Regular:      true,
		patch.GregoryBasis: false,
		patch.NonPatch:     false,
	} {
		if got := supportedType(typ); got != want {
			t.Errorf("supportedType(%v) = %v, want %v", typ, got, want)
		}
	}
}
