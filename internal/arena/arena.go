// Package arena provides a growable array with a fixed inline store.
//
// Batches of up to Inline elements live in the inline store with no
// extra allocation; larger ones spill to a heap slice that is kept for
// reuse. Capacity only grows, so a reused array settles at its peak.
package arena

// Inline is the capacity of the inline store.
const Inline = 32 * 32

// Array is a stack-or-heap array. The zero value is ready to use.
//
// Array must not be copied after first use.
type Array[T any] struct {
	inline [Inline]T
	heap   []T
	n      int
}

// Reserve ensures capacity for at least n elements without changing the
// size. It reports whether the array spilled or grew on the heap.
func (a *Array[T]) Reserve(n int) bool {
	if n <= a.Cap() {
		return false
	}
	heap := make([]T, max(n, 2*a.Cap()))
	copy(heap, a.Slice())
	a.heap = heap
	return true
}

// SetSize resizes the array to n elements and reports whether the
// capacity grew. Existing elements are preserved on growth; new ones
// hold stale values.
func (a *Array[T]) SetSize(n int) (grew bool) {
	n = max(n, 0)
	grew = a.Reserve(n)
	a.n = n
	return grew
}

// Len returns the current size.
func (a *Array[T]) Len() int { return a.n }

// Cap returns the current capacity.
func (a *Array[T]) Cap() int {
	if a.heap != nil {
		return len(a.heap)
	}
	return Inline
}

// Slice returns the live elements. It aliases the array's storage and is
// valid until the next SetSize or Reserve.
func (a *Array[T]) Slice() []T {
	if a.heap != nil {
		return a.heap[:a.n]
	}
	return a.inline[:a.n]
}
