package subd

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/backend/cpu"
	"github.com/gogpu/subd/buffer"
	"github.com/gogpu/subd/patch"
	"github.com/gogpu/subd/stencil"
)

// Substrate is a compute substrate bound to the evaluator engine.
// Create one with Bind.
type Substrate interface {
	Kind() backend.Kind
	Name() string

	// newEvalOutput builds the engine for one evaluator.
	newEvalOutput(t Topology, cache *EvaluatorCache, o *options) (evalOutput, error)
}

// Provider supplies substrates of one kind. Substrate packages register
// a provider from init:
//
//	func init() {
//	    subd.RegisterBackend(newProvider())
//	}
type Provider interface {
	Kind() backend.Kind

	// Substrate returns a ready substrate, initializing shared state
	// such as GPU devices on first use.
	Substrate() (Substrate, error)
}

// DeviceProviderAware is implemented by providers that can reuse a host
// application's GPU device.
type DeviceProviderAware interface {
	SetDeviceProvider(provider any) error
}

var (
	registryMu sync.RWMutex
	registry   = map[backend.Kind]Provider{}
)

func init() {
	RegisterBackend(cpuProvider{})
}

// RegisterBackend registers p for its kind, replacing any earlier
// provider of that kind. The current logger is propagated to p.
func RegisterBackend(p Provider) {
	if p == nil {
		return
	}
	propagateLogger(p, Logger())

	registryMu.Lock()
	registry[p.Kind()] = p
	registryMu.Unlock()
}

// Available returns the registered kinds in ascending order.
func Available() []backend.Kind {
	registryMu.RLock()
	kinds := make([]backend.Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	registryMu.RUnlock()
	slices.Sort(kinds)
	return kinds
}

func lookup(kind backend.Kind) (Provider, bool) {
	registryMu.RLock()
	p, ok := registry[kind]
	registryMu.RUnlock()
	return p, ok
}

func providers() []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Provider, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	return out
}

// SetDeviceProvider passes a host application's device provider to every
// registered provider that supports device sharing. Providers without
// GPU state ignore it.
func SetDeviceProvider(provider any) error {
	var errs []error
	for _, p := range providers() {
		if dpa, ok := p.(DeviceProviderAware); ok {
			if err := dpa.SetDeviceProvider(provider); err != nil {
				errs = append(errs, fmt.Errorf("%v: %w", p.Kind(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func substrateFor(kind backend.Kind) (Substrate, error) {
	p, ok := lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not registered", ErrUnsupportedBackend, kind)
	}
	s, err := p.Substrate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %w", ErrUnsupportedBackend, kind, err)
	}
	return s, nil
}

// Bind adapts kernels to the evaluator engine.
func Bind[B buffer.Buffer, S, P any](k backend.Kernels[B, S, P]) Substrate {
	return &bound[B, S, P]{k: k}
}

type bound[B buffer.Buffer, S, P any] struct {
	k backend.Kernels[B, S, P]
}

func (b *bound[B, S, P]) Kind() backend.Kind { return b.k.Kind() }
func (b *bound[B, S, P]) Name() string       { return b.k.Name() }

func (b *bound[B, S, P]) newEvalOutput(t Topology, cache *EvaluatorCache, o *options) (evalOutput, error) {
	return newVolatileEval(b.k, t, cache, o)
}

type cpuProvider struct{}

func (cpuProvider) Kind() backend.Kind { return backend.KindCPU }

var cpuSubstrate = Bind[*buffer.Host, *stencil.Table, *patch.Table](cpu.New())

func (cpuProvider) Substrate() (Substrate, error) { return cpuSubstrate, nil }
