package buffer

import (
	"errors"
	"fmt"
)

// ErrRange is returned when an update addresses elements outside a buffer.
var ErrRange = errors.New("buffer: element range out of bounds")

// Buffer is the capability every substrate buffer provides: a fixed
// number of elements of a fixed width that can be updated from host
// memory.
type Buffer interface {
	// NumElements returns the element capacity.
	NumElements() int
	// ElementWidth returns the number of floats per element.
	ElementWidth() int
	// UpdateData copies count tightly packed elements from src into the
	// buffer, starting at element start.
	UpdateData(src []float32, start, count int) error
}

// HostBinder is implemented by buffers whose storage is host memory.
type HostBinder interface {
	BindHost() []float32
}

// Host is a buffer owned by host memory.
type Host struct {
	data  []float32
	width int
	n     int
}

// NewHost allocates a zeroed host buffer of n elements of width floats.
func NewHost(width, n int) *Host {
	if width < 0 {
		width = 0
	}
	if n < 0 {
		n = 0
	}
	return &Host{data: make([]float32, width*n), width: width, n: n}
}

// NumElements returns the element capacity.
func (b *Host) NumElements() int { return b.n }

// ElementWidth returns the number of floats per element.
func (b *Host) ElementWidth() int { return b.width }

// BindHost returns the backing storage. The slice aliases the buffer.
func (b *Host) BindHost() []float32 { return b.data }

// UpdateData copies count packed elements from src starting at element start.
func (b *Host) UpdateData(src []float32, start, count int) error {
	return copyElements(b.data, b.width, b.n, src, start, count)
}

// Raw adapts caller-owned memory to the buffer capability. It never owns
// the memory and must not be retained past the call that uses it.
type Raw struct {
	data  []float32
	width int
}

// Wrap returns a Raw view of data holding elements of width floats.
func Wrap(data []float32, width int) Raw {
	return Raw{data: data, width: width}
}

// NumElements returns how many whole elements fit in the wrapped memory.
func (r Raw) NumElements() int {
	if r.width <= 0 {
		return 0
	}
	return len(r.data) / r.width
}

// ElementWidth returns the number of floats per element.
func (r Raw) ElementWidth() int { return r.width }

// BindHost returns the wrapped memory.
func (r Raw) BindHost() []float32 { return r.data }

// IsNil reports whether no memory is wrapped.
func (r Raw) IsNil() bool { return r.data == nil }

// UpdateData copies count packed elements into the wrapped memory.
func (r Raw) UpdateData(src []float32, start, count int) error {
	return copyElements(r.data, r.width, r.NumElements(), src, start, count)
}

func copyElements(dst []float32, width, n int, src []float32, start, count int) error {
	if start < 0 || count < 0 || start+count > n {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrRange, start, start+count, n)
	}
	if len(src) < count*width {
		return fmt.Errorf("%w: source holds %d floats, need %d", ErrRange, len(src), count*width)
	}
	copy(dst[start*width:(start+count)*width], src[:count*width])
	return nil
}

var (
	_ Buffer     = (*Host)(nil)
	_ HostBinder = (*Host)(nil)
	_ Buffer     = Raw{}
	_ HostBinder = Raw{}
)
