//go:build !nogpu

package wgpu

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/gogpu/naga"

	"github.com/gogpu/subd/backend"
)

//go:embed shaders/stencil.wgsl
var stencilShaderBody string

//go:embed shaders/patch.wgsl
var patchShaderBody string

// maxWidth bounds the element width the kernels accept.
const maxWidth = 4

// Workgroup size of both kernels.
const workgroupSize = 64

// maxGroups is the per-dimension dispatch limit of the default limits.
const maxGroups = 65535

// Index modes of the patch shader.
const (
	modeVertex uint32 = iota
	modeVarying
	modeFaceVarying
)

// shaderSource is generated WGSL and its fingerprint.
type shaderSource struct {
	label string
	wgsl  string
	hash  uint64
}

func newShaderSource(label string, consts [][2]string, body string) shaderSource {
	var b strings.Builder
	for _, c := range consts {
		fmt.Fprintf(&b, "const %s = %s;\n", c[0], c[1])
	}
	b.WriteString(body)
	src := b.String()
	return shaderSource{label: label, wgsl: src, hash: xxhash.Sum64String(src)}
}

func u32Const(v int) string { return fmt.Sprintf("%du", v) }

// stencilSource specializes the stencil kernel for the layouts of key.
func stencilSource(key backend.Key) shaderSource {
	width := min(key.Src.Width, key.Dst.Width)
	return newShaderSource("subd_stencil", [][2]string{
		{"SRC_OFFSET: u32", u32Const(key.Src.Offset)},
		{"SRC_STRIDE: u32", u32Const(key.Src.Stride)},
		{"DST_OFFSET: u32", u32Const(key.Dst.Offset)},
		{"DST_STRIDE: u32", u32Const(key.Dst.Stride)},
		{"WIDTH: u32", u32Const(width)},
	}, stencilShaderBody)
}

// patchSource specializes the patch kernel for the source layout of key.
// Results are always packed.
func patchSource(key backend.Key) shaderSource {
	width := min(key.Src.Width, key.Dst.Width)
	derivs := !key.Du.IsZero() || !key.Dv.IsZero()
	return newShaderSource("subd_patch", [][2]string{
		{"SRC_OFFSET: u32", u32Const(key.Src.Offset)},
		{"SRC_STRIDE: u32", u32Const(key.Src.Stride)},
		{"WIDTH: u32", u32Const(width)},
		{"DERIVS: bool", fmt.Sprint(derivs)},
	}, patchShaderBody)
}

// compileSPIRV translates WGSL to SPIR-V words.
func compileSPIRV(src shaderSource) ([]uint32, error) {
	spirvBytes, err := naga.Compile(src.wgsl)
	if err != nil {
		return nil, fmt.Errorf("wgpu: compile %s: %w", src.label, err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("wgpu: compile %s: SPIR-V size %d not word aligned", src.label, len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(spirvBytes[4*i:])
	}
	return words, nil
}

// groups returns the workgroup count covering n invocations.
func groups(n int) uint32 {
	return uint32((n + workgroupSize - 1) / workgroupSize) //nolint:gosec // n is chunked below maxGroups*workgroupSize
}
