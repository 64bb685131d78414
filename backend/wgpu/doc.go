// Package wgpu is the GPU substrate of the limit evaluator. It runs the
// stencil and patch kernels as WGSL compute shaders through the gogpu/wgpu
// hardware abstraction layer.
//
// Import the package for its side effect to make backend.KindGPU
// available:
//
//	import _ "github.com/gogpu/subd/backend/wgpu"
//
// The substrate opens its own Vulkan device on first use. Applications
// that already own a device share it with SetDeviceProvider (or
// subd.SetDeviceProvider, which reaches every substrate); the
// provider must expose HalDevice() and HalQueue(), or implement
// gpucontext.DeviceProvider with hal types behind Device() and Queue().
//
// # Kernels
//
// Two shaders are generated per compiled key. The stencil shader runs one
// invocation per stencil and requires factorized tables, so every
// invocation reads control elements only and refinement finishes in a
// single dispatch. The patch shader runs one invocation per coordinate
// and supports bilinear and bicubic B-spline patches with boundary
// extrapolation. Element layouts are baked into the shader source as
// constants; identical sources share one shader module and pipeline,
// keyed by an xxhash fingerprint.
//
// Patch results are written to a staging buffer, copied into a mappable
// buffer and scattered into caller memory after the queue drains.
//
// Build with the nogpu tag to leave the substrate out.
package wgpu
