// Package slices provides pooled slices for buffers that are reused across
// reads.
package slices

import "sync"

// SlicePool hands out slices with at least the configured capacity.
type SlicePool[T any] struct {
	pool     sync.Pool
	capacity int
}

func NewSlicePool[T any](capacity int) *SlicePool[T] {
	p := &SlicePool[T]{capacity: capacity}
	p.pool.New = func() any {
		s := make([]T, 0, capacity)
		return &s
	}
	return p
}

// Get returns a slice of length size.
func (p *SlicePool[T]) Get(size int) *[]T {
	s := p.pool.Get().(*[]T)
	if cap(*s) < size {
		*s = make([]T, size)
	} else {
		*s = (*s)[:size]
	}
	return s
}

// Put returns s to the pool. Slices that grew far beyond the configured
// capacity are dropped so a single large message does not pin memory.
func (p *SlicePool[T]) Put(s *[]T) {
	if cap(*s) > 4*p.capacity {
		return
	}
	*s = (*s)[:0]
	p.pool.Put(s)
}
