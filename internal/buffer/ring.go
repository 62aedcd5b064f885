// Package buffer holds a fixed-capacity ring used for log and event history.
package buffer

// Ring keeps the newest Cap() entries, evicting the oldest on overflow.
// It is not safe for concurrent use.
type Ring[T any] struct {
	entries []T
	start   int
	count   int
}

func NewRing[T any](size int) *Ring[T] {
	if size <= 0 {
		size = 1
	}
	return &Ring[T]{
		entries: make([]T, size),
	}
}

func (r *Ring[T]) Add(entry T) {
	if r == nil || len(r.entries) == 0 {
		return
	}

	if r.count < len(r.entries) {
		r.entries[r.index(r.count)] = entry
		r.count++
		return
	}

	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

func (r *Ring[T]) Len() int {
	if r == nil {
		return 0
	}
	return r.count
}

func (r *Ring[T]) Cap() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// List returns every entry, oldest first.
func (r *Ring[T]) List() []T {
	return r.Last(0)
}

// Last returns the newest n entries, oldest first. A non-positive n, or one
// larger than Len, returns everything.
func (r *Ring[T]) Last(n int) []T {
	if r == nil || r.count == 0 {
		return nil
	}
	if n <= 0 || n > r.count {
		n = r.count
	}

	out := make([]T, n)
	skip := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[r.index(skip+i)]
	}
	return out
}

// Reset drops every entry and releases references to them.
func (r *Ring[T]) Reset() {
	if r == nil {
		return
	}
	clear(r.entries)
	r.start = 0
	r.count = 0
}

func (r *Ring[T]) index(offset int) int {
	return (r.start + offset) % len(r.entries)
}
