package world

// Handle refers to a value stored in an Arena. A handle stays comparable
// after its value is removed, but never resolves again: removal bumps the
// slot's generation.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether h is the zero handle, which never resolves.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena stores values in generation-tagged slots. Freed slots are reused.
// Arena is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		// Generations start at 1 so the zero handle never resolves.
		a.slots = append(a.slots, slot[T]{generation: 1})
	}

	s := &a.slots[idx]
	s.value = v
	s.occupied = true
	a.live++
	return Handle{Index: idx, Generation: s.generation}
}

// Valid reports whether h refers to a stored value.
func (a *Arena[T]) Valid(h Handle) bool {
	if int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	return s.occupied && s.generation == h.Generation
}

// Get returns the value for h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	if !a.Valid(h) {
		var zero T
		return zero, false
	}
	return a.slots[h.Index].value, true
}

// Remove frees the slot of h. It reports whether h was valid.
func (a *Arena[T]) Remove(h Handle) bool {
	if !a.Valid(h) {
		return false
	}
	s := &a.slots[h.Index]
	var zero T
	s.value = zero
	s.occupied = false
	s.generation++
	a.free = append(a.free, h.Index)
	a.live--
	return true
}

// Len returns the number of stored values.
func (a *Arena[T]) Len() int {
	return a.live
}

// Each calls fn for every stored value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(Handle{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}
