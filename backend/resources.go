package backend

import "github.com/gogpu/subd/patch"

// ChannelResources are the device handles of one face-varying channel.
type ChannelResources struct {
	PatchArrays      []patch.Array
	PatchIndexBuffer uintptr
	PatchParamBuffer uintptr
	SourceBuffer     uintptr
	// SourceOffset is the element offset evaluation reads from.
	SourceOffset int
}

// DeviceResources are opaque native handles of an evaluator's device
// data, for renderers that bind them directly.
type DeviceResources struct {
	PatchArrays        []patch.Array
	PatchIndexBuffer   uintptr
	PatchParamBuffer   uintptr
	VaryingIndexBuffer uintptr

	SourceBuffer  uintptr
	SourceOffset  int
	VaryingBuffer uintptr

	FaceVarying []ChannelResources
}

// ResourceExporter is implemented by substrates whose buffers and patch
// tables live in device memory.
type ResourceExporter[B any, P any] interface {
	// BufferHandle returns the native handle of b.
	BufferHandle(b B) uintptr
	// ExportPatchTable fills the patch table fields of dst, including the
	// index and param handles of every face-varying channel.
	ExportPatchTable(p P, dst *DeviceResources)
}
