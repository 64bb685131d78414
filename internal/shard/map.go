// Package shard provides a concurrent map split into independently
// locked shards. Entries are never evicted; the map lives as long as its
// owner and is drained once with Drain.
package shard

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// Count is the number of shards. Must be a power of 2.
const Count = 16

const mask = Count - 1

// Hasher computes the shard-selection hash of a key.
type Hasher[K any] func(K) uint64

// IntsHasher returns a hasher over keys flattened to integers by fields.
func IntsHasher[K any](fields func(K, []int) []int) Hasher[K] {
	return func(k K) uint64 {
		var scratch [16]int
		var buf [8]byte
		d := xxhash.New()
		for _, v := range fields(k, scratch[:0]) {
			binary.LittleEndian.PutUint64(buf[:], uint64(v)) //nolint:gosec // bit pattern only
			_, _ = d.Write(buf[:])                         // xxhash.Digest.Write never fails
		}
		return d.Sum64()
	}
}

// Stats is a snapshot of lookup counters.
type Stats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

// Map is a sharded concurrent map.
type Map[K comparable, V any] struct {
	shards [Count]shard[K, V]
	hasher Hasher[K]

	hits   atomic.Uint64
	misses atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New returns an empty map using hasher for shard selection.
func New[K comparable, V any](hasher Hasher[K]) *Map[K, V] {
	m := &Map[K, V]{hasher: hasher}
	for i := range m.shards {
		m.shards[i].entries = make(map[K]V)
	}
	return m
}

func (m *Map[K, V]) shardOf(key K) *shard[K, V] {
	return &m.shards[m.hasher(key)&mask]
}

// GetOrCreate returns the value for key, calling create under the shard
// lock when it is missing so concurrent callers never create twice.
// Failed creations are not stored. hit reports whether the value was
// already present.
func (m *Map[K, V]) GetOrCreate(key K, create func() (V, error)) (v V, hit bool, err error) {
	s := m.shardOf(key)

	s.mu.RLock()
	v, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		m.hits.Add(1)
		return v, true, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok = s.entries[key]; ok {
		m.hits.Add(1)
		return v, true, nil
	}
	m.misses.Add(1)
	v, err = create()
	if err != nil {
		var zero V
		return zero, false, err
	}
	s.entries[key] = v
	return v, false, nil
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Drain removes every entry, calling fn on each.
func (m *Map[K, V]) Drain(fn func(K, V)) {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		entries := s.entries
		s.entries = make(map[K]V)
		s.mu.Unlock()
		for k, v := range entries {
			fn(k, v)
		}
	}
}

// Stats returns the current counters.
func (m *Map[K, V]) Stats() Stats {
	return Stats{Len: m.Len(), Hits: m.hits.Load(), Misses: m.misses.Load()}
}
