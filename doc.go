// Package subd evaluates the limit surface of Catmull-Clark subdivision
// meshes.
//
// # Overview
//
// An Evaluator takes a refined topology (stencil tables plus a patch
// table, see the mesh package for a builder) and control point data. It
// refines the data through the stencil tables and evaluates the limit
// surface at (face, u, v) coordinates:
//
//	ev, err := subd.New(topology, backend.KindCPU)
//	if err != nil {
//	    return err
//	}
//	defer ev.Close()
//
//	_ = ev.SetCoarsePositions(positions, 0, numVertices)
//	_ = ev.Refine()
//
//	var p, du, dv [3]float32
//	_ = ev.EvaluateLimit(face, 0.5, 0.5, p[:], du[:], dv[:])
//
// # Data streams
//
// Every evaluator refines vertex positions (3 floats per element). A
// varying stream (3 floats) exists when the topology provides varying
// stencils, and one face-varying stream (2 floats) exists per channel.
// Each stream owns its buffer: coarse elements first, refined and local
// points after them. Only the coarse prefix is writable.
//
// # Substrates
//
// The compute substrate is chosen at construction:
//
//   - backend.KindCPU: sequential host evaluation, always available
//   - backend.KindParallel: host evaluation over a worker pool,
//     registered by importing backend/parallel
//   - backend.KindGPU: compute shaders through gogpu/wgpu, registered
//     by importing backend/wgpu
//
// Substrates with compiled kernel state share it across evaluators
// through an EvaluatorCache:
//
//	cache := subd.NewCache(backend.KindGPU)
//	defer cache.Close()
//	ev, err := subd.New(topology, backend.KindGPU, subd.WithCache(cache))
//
// # Concurrency
//
// Evaluate calls are safe to run concurrently with each other. Updates
// and Refine must not overlap any other call on the same evaluator.
// Distinct evaluators share nothing mutable except an EvaluatorCache,
// which is internally synchronized.
package subd
