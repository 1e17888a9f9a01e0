package fatigue

// ring is a fixed-capacity FIFO. Pushing onto a full ring evicts the oldest entry.
type ring[T any] struct {
	data []T
	pos  int
	full bool
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{data: make([]T, capacity)}
}

// Push adds a value to the ring buffer.
func (r *ring[T]) Push(v T) {
	r.data[r.pos] = v
	r.pos++
	if r.pos >= len(r.data) {
		r.pos = 0
		r.full = true
	}
}

// Len returns the number of elements in the buffer.
func (r *ring[T]) Len() int {
	if r.full {
		return len(r.data)
	}
	return r.pos
}

// Do calls fn for each element in insertion order without allocating.
func (r *ring[T]) Do(fn func(T)) {
	if r.full {
		for _, v := range r.data[r.pos:] {
			fn(v)
		}
	}
	for _, v := range r.data[:r.pos] {
		fn(v)
	}
}

// Slice returns the buffer contents in insertion order.
func (r *ring[T]) Slice() []T {
	out := make([]T, 0, r.Len())
	r.Do(func(v T) { out = append(out, v) })
	return out
}

func (r *ring[T]) Reset() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.pos = 0
	r.full = false
}
