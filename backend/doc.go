// Package backend defines the capability set a compute substrate
// provides to the limit evaluator.
//
// A substrate supplies its own buffer, stencil-table and patch-table
// types and implements Kernels over them. The evaluator in the root
// package is generic over those types, so one engine drives every
// substrate:
//
//   - backend/cpu: sequential host kernels
//   - backend/parallel: host kernels split across a worker pool
//   - backend/wgpu: compute shaders on a gogpu/wgpu device
//
// Substrates with per-layout compiled state (pipelines, dispatch plans)
// return it from Compile; the evaluator memoizes it in an
// EvaluatorCache when the caller supplies one.
//
// Substrates holding device-resident data may also implement
// ResourceExporter so renderers can bind the buffers without copying.
package backend
