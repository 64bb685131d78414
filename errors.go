package subd

import "errors"

// Construction errors.
var (
	// ErrUnsupportedBackend is returned by New for kinds with no
	// registered provider or whose provider cannot run here.
	ErrUnsupportedBackend = errors.New("subd: unsupported backend")

	// ErrInvalidTopology is returned by New for missing or inconsistent
	// stencil and patch tables.
	ErrInvalidTopology = errors.New("subd: invalid topology")

	// ErrCacheMismatch is returned by New when WithCache supplies a cache
	// created for a different backend kind.
	ErrCacheMismatch = errors.New("subd: cache belongs to another backend")
)

// Call errors.
var (
	// ErrOutOfRange is returned for element ranges outside a stream's
	// coarse prefix and for output slices too short for the result.
	ErrOutOfRange = errors.New("subd: out of range")

	// ErrParamOutOfRange is returned for (u,v) outside [0,1].
	ErrParamOutOfRange = errors.New("subd: parametric coordinate out of range")

	// ErrFaceOutOfRange is returned for faces the patch map does not cover.
	ErrFaceOutOfRange = errors.New("subd: face out of range")

	// ErrChannelOutOfRange is returned for unknown face-varying channels.
	ErrChannelOutOfRange = errors.New("subd: face-varying channel out of range")

	// ErrNoVaryingData is returned by varying calls on evaluators whose
	// topology has no varying stencils.
	ErrNoVaryingData = errors.New("subd: topology has no varying data")

	// ErrClosed is returned by calls on a closed evaluator.
	ErrClosed = errors.New("subd: evaluator closed")
)
