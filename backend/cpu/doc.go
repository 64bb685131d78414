// Package cpu implements the sequential host substrate.
//
// Buffers are plain host memory (*buffer.Host) and tables are used as
// built, so creation never copies. The range kernels in host.go are
// shared with backend/parallel, which runs them over disjoint chunks.
package cpu
