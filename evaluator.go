// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package subd

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/patch"
)

// Sample is a point on the control mesh: a face and (u,v) in [0,1]².
type Sample struct {
	Face int
	U, V float32
}

// DeviceResources are native handles of an evaluator's device data.
type DeviceResources = backend.DeviceResources

// PatchMapExport is a copy of an evaluator's patch locator.
type PatchMapExport struct {
	Handles    []patch.Handle
	Nodes      []patch.QuadNode
	MinFace    int
	MaxFace    int
	MaxDepth   int
	Triangular bool
}

// Evaluator evaluates the limit surface of one topology on one substrate.
// See the package documentation for the call sequence and concurrency
// rules.
type Evaluator struct {
	kind     backend.Kind
	out      evalOutput
	patches  *patch.Table
	locator  *patch.Map
	staging  *stagingPool
	observer Observer
	closed   atomic.Bool
}

// New builds an evaluator for t on the substrate of the given kind. It
// returns an error wrapping ErrUnsupportedBackend when the kind is not
// available and ErrInvalidTopology when the tables are inconsistent.
func New(t Topology, kind backend.Kind, opts ...Option) (*Evaluator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if t == nil {
		return nil, fmt.Errorf("%w: nil topology", ErrInvalidTopology)
	}
	if err := t.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTopology, err)
	}
	if o.cache != nil && o.cache.kind != kind {
		return nil, fmt.Errorf("%w: cache is %v, evaluator is %v", ErrCacheMismatch, o.cache.kind, kind)
	}

	sub, err := substrateFor(kind)
	if err != nil {
		return nil, err
	}
	out, err := sub.newEvalOutput(t, o.cache, &o)
	if err != nil {
		return nil, err
	}

	pt := t.PatchTable()
	e := &Evaluator{
		kind:     kind,
		out:      out,
		patches:  pt,
		locator:  patch.NewMap(pt),
		staging:  newStagingPool(o.stagingCapacity, o.observer),
		observer: o.observer,
	}
	Logger().Debug("subd: evaluator created",
		"backend", sub.Name(),
		"patches", pt.NumPatches(),
		"adaptive", pt.IsAdaptive(),
		"faceVaryingChannels", pt.NumFaceVaryingChannels())
	return e, nil
}

// Close releases every resource of the evaluator. It is safe to call on
// a nil evaluator and more than once.
func (e *Evaluator) Close() {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.out.release()
}

// Kind returns the substrate kind.
func (e *Evaluator) Kind() backend.Kind { return e.kind }

// NumCoarseVertices returns the writable element count of the vertex stream.
func (e *Evaluator) NumCoarseVertices() int {
	n, _, _ := e.out.coarse(streamVertex)
	return n
}

// HasVarying reports whether the topology carries varying data.
func (e *Evaluator) HasVarying() bool {
	_, _, ok := e.out.coarse(streamVarying)
	return ok
}

// NumFaceVaryingChannels returns the number of face-varying channels.
func (e *Evaluator) NumFaceVaryingChannels() int {
	return e.patches.NumFaceVaryingChannels()
}

// SetCoarsePositions copies count packed positions (3 floats each) from
// src into coarse vertices [start, start+count).
func (e *Evaluator) SetCoarsePositions(src []float32, start, count int) error {
	return e.update(streamVertex, src, start, count)
}

// SetVaryingData copies count packed varying elements (3 floats each).
func (e *Evaluator) SetVaryingData(src []float32, start, count int) error {
	return e.update(streamVarying, src, start, count)
}

// SetFaceVaryingData copies count packed elements (2 floats each) into
// face-varying channel ch. Other channels are untouched.
func (e *Evaluator) SetFaceVaryingData(ch int, src []float32, start, count int) error {
	if err := e.checkChannel(ch); err != nil {
		return err
	}
	return e.update(streamID(ch), src, start, count)
}

// SetCoarsePositionsFromBuffer reads count positions from raw bytes:
// element i is three little-endian float32 values at
// byteOffset + i*byteStride.
func (e *Evaluator) SetCoarsePositionsFromBuffer(buf []byte, byteOffset, byteStride, start, count int) error {
	return e.updateFromBuffer(streamVertex, buf, byteOffset, byteStride, start, count)
}

// SetVaryingDataFromBuffer is the strided form of SetVaryingData.
func (e *Evaluator) SetVaryingDataFromBuffer(buf []byte, byteOffset, byteStride, start, count int) error {
	return e.updateFromBuffer(streamVarying, buf, byteOffset, byteStride, start, count)
}

// SetFaceVaryingDataFromBuffer is the strided form of SetFaceVaryingData.
func (e *Evaluator) SetFaceVaryingDataFromBuffer(ch int, buf []byte, byteOffset, byteStride, start, count int) error {
	if err := e.checkChannel(ch); err != nil {
		return err
	}
	return e.updateFromBuffer(streamID(ch), buf, byteOffset, byteStride, start, count)
}

func (e *Evaluator) update(id streamID, src []float32, start, count int) error {
	if err := e.checkStream(id); err != nil {
		return err
	}
	return e.out.update(id, src, start, count)
}

func (e *Evaluator) updateFromBuffer(id streamID, buf []byte, byteOffset, byteStride, start, count int) error {
	if err := e.checkStream(id); err != nil {
		return err
	}
	_, width, _ := e.out.coarse(id)
	if count <= 0 {
		return e.out.update(id, nil, start, max(count, 0))
	}
	if byteOffset < 0 || byteStride < 4*width {
		return fmt.Errorf("%w: byte offset %d, stride %d for %d floats", ErrOutOfRange, byteOffset, byteStride, width)
	}
	if end := byteOffset + (count-1)*byteStride + 4*width; end > len(buf) {
		return fmt.Errorf("%w: %d elements need %d bytes, buffer holds %d", ErrOutOfRange, count, end, len(buf))
	}

	src := make([]float32, count*width)
	for i := range count {
		at := byteOffset + i*byteStride
		for c := range width {
			src[i*width+c] = math.Float32frombits(binary.LittleEndian.Uint32(buf[at+4*c:]))
		}
	}
	return e.out.update(id, src, start, count)
}

// Refine recomputes every refined element from the current coarse data.
// Refine must complete before evaluation observes the new data; GPU
// substrates wait for the device inside Refine.
func (e *Evaluator) Refine() error {
	if e.closed.Load() {
		return ErrClosed
	}
	began := time.Now()
	err := e.out.refine()
	e.observer.ObserveRefine(e.kind, time.Since(began))
	return err
}

// EvaluateLimit evaluates the limit position at (u,v) on face into P
// (3 floats). dPdu and dPdv receive the first derivatives when non-nil.
func (e *Evaluator) EvaluateLimit(face int, u, v float32, P, dPdu, dPdv []float32) error { //nolint:gocritic // P is the conventional name
	if e.closed.Load() {
		return ErrClosed
	}
	coords, err := e.locate(face, u, v)
	if err != nil {
		return err
	}
	if err := checkOutputs(1, vertexWidth, P, dPdu, dPdv); err != nil {
		return err
	}
	return e.timed(StreamVertex, 1, func() error {
		return e.out.evalLimit(coords[:], P, dPdu, dPdv)
	})
}

// EvaluateVarying evaluates varying data at (u,v) on face into out
// (3 floats).
func (e *Evaluator) EvaluateVarying(face int, u, v float32, out []float32) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !e.HasVarying() {
		return ErrNoVaryingData
	}
	coords, err := e.locate(face, u, v)
	if err != nil {
		return err
	}
	if err := checkOutputs(1, varyingWidth, out); err != nil {
		return err
	}
	return e.timed(StreamVarying, 1, func() error {
		return e.out.evalVarying(coords[:], out)
	})
}

// EvaluateFaceVarying evaluates channel ch at (u,v) on face into out
// (2 floats).
func (e *Evaluator) EvaluateFaceVarying(ch, face int, u, v float32, out []float32) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.checkChannel(ch); err != nil {
		return err
	}
	coords, err := e.locate(face, u, v)
	if err != nil {
		return err
	}
	if err := checkOutputs(1, faceVaryingWidth, out); err != nil {
		return err
	}
	return e.timed(StreamFaceVarying, 1, func() error {
		return e.out.evalFaceVarying(ch, coords[:], out)
	})
}

// EvaluatePatchesLimit evaluates pre-resolved patch coordinates. Result i
// is written at P[3*i:], and likewise for the optional derivatives.
func (e *Evaluator) EvaluatePatchesLimit(coords []patch.Coord, P, dPdu, dPdv []float32) error { //nolint:gocritic // P is the conventional name
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.checkCoords(coords); err != nil {
		return err
	}
	if err := checkOutputs(len(coords), vertexWidth, P, dPdu, dPdv); err != nil {
		return err
	}
	return e.timed(StreamVertex, len(coords), func() error {
		return e.out.evalLimit(coords, P, dPdu, dPdv)
	})
}

// EvaluateLimitBatch resolves and evaluates every sample. Result i is
// written at P[3*i:], and likewise for the optional derivatives.
func (e *Evaluator) EvaluateLimitBatch(samples []Sample, P, dPdu, dPdv []float32) error { //nolint:gocritic // P is the conventional name
	if e.closed.Load() {
		return ErrClosed
	}
	if err := checkOutputs(len(samples), vertexWidth, P, dPdu, dPdv); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	staged := e.staging.get(len(samples))
	defer e.staging.put(staged)

	coords := staged.Slice()
	for i, s := range samples {
		c, err := e.locate(s.Face, s.U, s.V)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		coords[i] = c[0]
	}
	return e.timed(StreamVertex, len(coords), func() error {
		return e.out.evalLimit(coords, P, dPdu, dPdv)
	})
}

// PatchMap returns a copy of the patch locator.
func (e *Evaluator) PatchMap() PatchMapExport {
	return PatchMapExport{
		Handles:    e.locator.Handles(),
		Nodes:      e.locator.Nodes(),
		MinFace:    e.locator.MinFace(),
		MaxFace:    e.locator.MaxFace(),
		MaxDepth:   e.locator.MaxDepth(),
		Triangular: e.locator.Triangular(),
	}
}

// DeviceResources returns native handles of the evaluator's device data.
// It returns false on substrates that keep data in host memory.
func (e *Evaluator) DeviceResources() (DeviceResources, bool) {
	if e.closed.Load() {
		return DeviceResources{}, false
	}
	return e.out.deviceResources()
}

// locate resolves a sample into a batch of one coordinate.
func (e *Evaluator) locate(face int, u, v float32) ([1]patch.Coord, error) {
	var c [1]patch.Coord
	if !(u >= 0 && u <= 1 && v >= 0 && v <= 1) {
		return c, fmt.Errorf("%w: (%v, %v)", ErrParamOutOfRange, u, v)
	}
	h, ok := e.locator.FindPatch(face, u, v)
	if !ok {
		return c, fmt.Errorf("%w: face %d, patches cover [%d, %d]",
			ErrFaceOutOfRange, face, e.locator.MinFace(), e.locator.MaxFace())
	}
	c[0] = patch.Coord{Handle: h, U: u, V: v}
	return c, nil
}

func (e *Evaluator) checkCoords(coords []patch.Coord) error {
	arrays := e.patches.Arrays()
	n := e.patches.NumPatches()
	for i, c := range coords {
		h := c.Handle
		if h.ArrayIndex < 0 || int(h.ArrayIndex) >= len(arrays) || h.PatchIndex < 0 || int(h.PatchIndex) >= n {
			return fmt.Errorf("%w: coord %d has handle %+v", ErrOutOfRange, i, h)
		}
		a := arrays[h.ArrayIndex]
		if local := int(h.PatchIndex) - a.PatchBase; local >= a.NumPatches || local < 0 ||
			int(h.VertIndex) != a.IndexBase+local*a.Stride() {
			return fmt.Errorf("%w: coord %d has inconsistent handle %+v", ErrOutOfRange, i, h)
		}
		if !(c.U >= 0 && c.U <= 1 && c.V >= 0 && c.V <= 1) {
			return fmt.Errorf("%w: coord %d at (%v, %v)", ErrParamOutOfRange, i, c.U, c.V)
		}
	}
	return nil
}

func (e *Evaluator) checkStream(id streamID) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if _, _, ok := e.out.coarse(id); !ok {
		if id == streamVarying {
			return ErrNoVaryingData
		}
		return fmt.Errorf("%w: %d", ErrChannelOutOfRange, id)
	}
	return nil
}

func (e *Evaluator) checkChannel(ch int) error {
	if ch < 0 || ch >= e.patches.NumFaceVaryingChannels() {
		return fmt.Errorf("%w: %d of %d", ErrChannelOutOfRange, ch, e.patches.NumFaceVaryingChannels())
	}
	return nil
}

func (e *Evaluator) timed(stream string, n int, eval func() error) error {
	began := time.Now()
	err := eval()
	e.observer.ObserveEval(e.kind, stream, n, time.Since(began))
	return err
}

// checkOutputs validates output slices for n results of width floats.
// The first slice is required; the rest may be nil.
func checkOutputs(n, width int, required []float32, optional ...[]float32) error {
	if len(required) < n*width {
		return fmt.Errorf("%w: output holds %d floats, need %d", ErrOutOfRange, len(required), n*width)
	}
	for _, o := range optional {
		if o != nil && len(o) < n*width {
			return fmt.Errorf("%w: derivative output holds %d floats, need %d", ErrOutOfRange, len(o), n*width)
		}
	}
	return nil
}
