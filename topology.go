package subd

import (
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Topology is a refined mesh: the tables an Evaluator is built from.
// The tables must not change while an evaluator built from them is open.
type Topology interface {
	// Err reports a failure while building the topology.
	Err() error

	// VertexStencils refines vertex positions. Required.
	VertexStencils() *stencil.Table

	// VaryingStencils refines varying data, or nil when the topology
	// carries none.
	VaryingStencils() *stencil.Table

	// FaceVaryingStencils returns one table per face-varying channel.
	FaceVaryingStencils() []*stencil.Table

	// PatchTable returns the limit patches. Required.
	PatchTable() *patch.Table
}
