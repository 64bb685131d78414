package subd

import (
	"sync"

	"github.com/gogpu/subd/internal/arena"
	"github.com/gogpu/subd/patch"
)

// stagingPool hands out coordinate arenas so concurrent evaluation calls
// never share one. Returned arenas stay on a free list owned by the
// evaluator, so they keep their peak capacity across garbage collections.
// The list never holds more arenas than there were concurrent calls.
type stagingPool struct {
	mu       sync.Mutex
	free     []*arena.Array[patch.Coord]
	reserve  int
	observer Observer
}

func newStagingPool(reserve int, obs Observer) *stagingPool {
	return &stagingPool{reserve: reserve, observer: obs}
}

// get returns an arena sized to n coordinates.
func (s *stagingPool) get(n int) *arena.Array[patch.Coord] {
	var a *arena.Array[patch.Coord]
	s.mu.Lock()
	if k := len(s.free); k > 0 {
		a = s.free[k-1]
		s.free[k-1] = nil
		s.free = s.free[:k-1]
	}
	s.mu.Unlock()

	if a == nil {
		a = new(arena.Array[patch.Coord])
		if a.Reserve(s.reserve) {
			s.observer.ObserveStagingGrowth(a.Cap())
		}
	}
	if a.SetSize(n) {
		s.observer.ObserveStagingGrowth(a.Cap())
	}
	return a
}

func (s *stagingPool) put(a *arena.Array[patch.Coord]) {
	s.mu.Lock()
	s.free = append(s.free, a)
	s.mu.Unlock()
}
