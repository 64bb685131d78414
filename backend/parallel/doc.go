// Package parallel implements the host substrate that runs the cpu range
// kernels over a worker pool.
//
// Importing the package registers backend.KindParallel:
//
//	import _ "github.com/gogpu/subd/backend/parallel"
//
// Stencil tables are factorized on creation so every stencil reads only
// coarse elements, which lets chunks of a refine pass run in any order.
// Patch evaluation splits the coordinate batch into disjoint chunks.
package parallel
