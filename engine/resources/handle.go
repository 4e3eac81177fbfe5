package resources

import "sync/atomic"

// Handle is a shared, immutable resource. Every holder owns one reference and
// gives it back with Release; a cache considers the entry unused once no
// references are left. The cache entry itself stays until it is evicted.
type Handle[T any] struct {
	value T
	refs  atomic.Int64
}

// NewHandle wraps v with no references taken.
func NewHandle[T any](v T) *Handle[T] {
	return &Handle[T]{value: v}
}

// Get returns the wrapped value. It must be treated as read-only.
func (h *Handle[T]) Get() T {
	return h.value
}

// Retain takes one more reference and returns h.
func (h *Handle[T]) Retain() *Handle[T] {
	h.refs.Add(1)
	return h
}

// Release gives one reference back. Extra releases are ignored.
func (h *Handle[T]) Release() {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return
		}
		if h.refs.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Refs returns the number of outstanding references.
func (h *Handle[T]) Refs() int64 {
	return h.refs.Load()
}

// Unused reports whether nobody holds a reference.
func (h *Handle[T]) Unused() bool {
	return h.refs.Load() == 0
}
