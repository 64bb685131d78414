//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/subd/patch"
)

// coordWords is the number of 32-bit words per packed coordinate:
// array index, patch index, vertex index, u and v.
const coordWords = 5

func floatBytes(src []float32) []byte {
	buf := make([]byte, 4*len(src))
	for i, f := range src {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func int32Bytes(src []int32) []byte {
	buf := make([]byte, 4*len(src))
	for i, v := range src {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v)) //nolint:gosec // bit-cast for GPU upload
	}
	return buf
}

func uint32Bytes(src ...uint32) []byte {
	buf := make([]byte, 4*len(src))
	for i, v := range src {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return buf
}

// decodeFloats reads len(dst) little-endian floats from src.
func decodeFloats(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
	}
}

// coordBytes packs coords in the layout the patch shader reads.
func coordBytes(dst []byte, coords []patch.Coord) []byte {
	dst = dst[:0]
	for _, c := range coords {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(c.Handle.ArrayIndex)) //nolint:gosec // validated non-negative
		dst = binary.LittleEndian.AppendUint32(dst, uint32(c.Handle.PatchIndex)) //nolint:gosec // validated non-negative
		dst = binary.LittleEndian.AppendUint32(dst, uint32(c.Handle.VertIndex))  //nolint:gosec // validated non-negative
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c.U))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(c.V))
	}
	return dst
}

// paramBytes packs two words per patch param.
func paramBytes(params []patch.Param) []byte {
	buf := make([]byte, 0, 8*len(params))
	for _, p := range params {
		buf = binary.LittleEndian.AppendUint32(buf, p.Field0)
		buf = binary.LittleEndian.AppendUint32(buf, p.Field1)
	}
	return buf
}
