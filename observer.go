package subd

import (
	"time"

	"github.com/gogpu/subd/backend"
)

// Stream names passed to Observer.ObserveEval.
const (
	StreamVertex      = "vertex"
	StreamVarying     = "varying"
	StreamFaceVarying = "facevarying"
)

// Observer receives evaluator telemetry. Implementations must be safe
// for concurrent use.
type Observer interface {
	// ObserveRefine reports one Refine call.
	ObserveRefine(kind backend.Kind, d time.Duration)
	// ObserveEval reports one evaluation of n coordinates on a stream.
	ObserveEval(kind backend.Kind, stream string, n int, d time.Duration)
	// ObserveStagingGrowth reports a staging arena growing to capacity.
	ObserveStagingGrowth(capacity int)
	// ObserveCache reports a kernel cache lookup.
	ObserveCache(kind backend.Kind, hit bool)
}

type nopObserver struct{}

func (nopObserver) ObserveRefine(backend.Kind, time.Duration)            {}
func (nopObserver) ObserveEval(backend.Kind, string, int, time.Duration) {}
func (nopObserver) ObserveStagingGrowth(int)                             {}
func (nopObserver) ObserveCache(backend.Kind, bool)                      {}
