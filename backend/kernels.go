// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Common substrate errors.
var (
	// ErrNotAvailable is returned when a substrate cannot run on this host.
	ErrNotAvailable = errors.New("backend: not available")

	// ErrUnsupportedTable is returned for tables a substrate cannot execute.
	ErrUnsupportedTable = errors.New("backend: unsupported table")
)

// Kind selects a compute substrate.
type Kind int

// Substrate kinds.
const (
	// KindCPU evaluates sequentially on the calling goroutine.
	KindCPU Kind = iota
	// KindParallel splits evaluation across a goroutine worker pool.
	KindParallel
	// KindGPU runs compute shaders through gogpu/wgpu.
	KindGPU
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "cpu"
	case KindParallel:
		return "parallel"
	case KindGPU:
		return "gpu"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind returns the kind named by s.
func ParseKind(s string) (Kind, error) {
	for k := KindCPU; k <= KindGPU; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("backend: unknown kind %q", s)
}

// Key identifies compiled kernel state. Derivative layouts are zero when
// derivatives are not part of the key.
type Key struct {
	Src buffer.Layout
	Dst buffer.Layout
	Du  buffer.Layout
	Dv  buffer.Layout
}

func (k Key) String() string {
	return fmt.Sprintf("src%v dst%v du%v dv%v", k.Src, k.Dst, k.Du, k.Dv)
}

// Instance is compiled per-key kernel state.
type Instance interface {
	// Release frees the state. The instance must not be used afterwards.
	Release()
}

// Output is one destination stream of a patch evaluation, written into
// caller memory.
type Output struct {
	Buf    buffer.Raw
	Layout buffer.Layout
}

// Requested reports whether the caller asked for this output.
func (o Output) Requested() bool { return !o.Buf.IsNil() }

// PatchOutputs are the position and optional derivative outputs.
type PatchOutputs struct {
	P    Output
	DPdu Output
	DPdv Output
}

// Derivatives reports whether any derivative output was requested.
func (o PatchOutputs) Derivatives() bool {
	return o.DPdu.Requested() || o.DPdv.Requested()
}

// Kernels is the capability interface of a substrate. B, S and P are the
// substrate's buffer, stencil-table and patch-table types.
//
// Evaluation methods only read their sources and may be called
// concurrently. EvalStencils writes its destination and must not run
// concurrently with anything reading that buffer.
type Kernels[B buffer.Buffer, S, P any] interface {
	Kind() Kind
	Name() string

	// CreateBuffer allocates a zeroed buffer of n elements of width floats.
	CreateBuffer(width, n int) (B, error)
	DestroyBuffer(b B)

	// CreateStencilTable prepares t for this substrate.
	CreateStencilTable(t *stencil.Table) (S, error)
	DestroyStencilTable(s S)

	// CreatePatchTable prepares t for this substrate.
	CreatePatchTable(t *patch.Table) (P, error)
	DestroyPatchTable(p P)

	// Compile builds kernel state for key. Substrates without compiled
	// state return nil.
	Compile(key Key) (Instance, error)

	// EvalStencils applies every stencil of s, reading src through
	// srcDesc and writing dst through dstDesc.
	EvalStencils(src B, srcDesc buffer.Layout, dst B, dstDesc buffer.Layout, s S, inst Instance) error

	// EvalPatches evaluates the vertex patches at coords.
	EvalPatches(src B, srcDesc buffer.Layout, out PatchOutputs, coords []patch.Coord, p P, inst Instance) error

	// EvalPatchesVarying evaluates the varying patches at coords.
	EvalPatchesVarying(src B, srcDesc buffer.Layout, out Output, coords []patch.Coord, p P, inst Instance) error

	// EvalPatchesFaceVarying evaluates the patches of channel ch.
	EvalPatchesFaceVarying(src B, srcDesc buffer.Layout, out Output, coords []patch.Coord, p P, ch int, inst Instance) error
}

// Cacheable is implemented by substrates whose Compile result is worth
// memoizing across calls.
type Cacheable interface {
	CachesKernels() bool
}

// Closer is implemented by substrates owning process-wide resources.
type Closer interface {
	Close()
}
