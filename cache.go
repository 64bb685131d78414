package subd

import (
	"sync/atomic"

	"github.com/gogpu/subd/backend"
	"github.com/gogpu/subd/internal/shard"
)

// EvaluatorCache shares compiled kernel state between evaluators of one
// backend kind. Entries are keyed by the source, destination and
// derivative layouts and are never invalidated; Close releases them all.
//
// A cache is safe for concurrent use and must outlive every evaluator
// created with it.
type EvaluatorCache struct {
	kind    backend.Kind
	entries *shard.Map[backend.Key, backend.Instance]
	closed  atomic.Bool
}

// NewCache returns a cache for kind, or nil for kinds without compiled
// state. A nil cache is valid everywhere a cache is accepted.
func NewCache(kind backend.Kind) *EvaluatorCache {
	if kind == backend.KindCPU {
		return nil
	}
	return &EvaluatorCache{
		kind:    kind,
		entries: shard.New[backend.Key, backend.Instance](keyHasher),
	}
}

var keyHasher = shard.IntsHasher(func(k backend.Key, dst []int) []int {
	for _, l := range [...]struct{ o, w, s int }{
		{k.Src.Offset, k.Src.Width, k.Src.Stride},
		{k.Dst.Offset, k.Dst.Width, k.Dst.Stride},
		{k.Du.Offset, k.Du.Width, k.Du.Stride},
		{k.Dv.Offset, k.Dv.Width, k.Dv.Stride},
	} {
		dst = append(dst, l.o, l.w, l.s)
	}
	return dst
})

// Kind returns the backend kind the cache serves.
func (c *EvaluatorCache) Kind() backend.Kind { return c.kind }

// Len returns the number of compiled instances.
func (c *EvaluatorCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// Stats returns the lookup counters.
func (c *EvaluatorCache) Stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	st := c.entries.Stats()
	return CacheStats{Len: st.Len, Hits: st.Hits, Misses: st.Misses}
}

// instance returns the instance for key, compiling it on a miss.
func (c *EvaluatorCache) instance(key backend.Key, compile func(backend.Key) (backend.Instance, error)) (inst backend.Instance, hit bool, err error) {
	return c.entries.GetOrCreate(key, func() (backend.Instance, error) {
		Logger().Debug("subd: compiling kernels", "backend", c.kind, "key", key)
		return compile(key)
	})
}

// Close releases every cached instance. It is safe to call on nil and
// more than once.
func (c *EvaluatorCache) Close() {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.entries.Drain(func(_ backend.Key, inst backend.Instance) {
		if inst != nil {
			inst.Release()
		}
	})
}
