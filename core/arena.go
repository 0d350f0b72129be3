package core

// Handle addresses an arena slot. Generation changes when a slot is reused,
// so a stale handle never resolves to a newer object.
type Handle struct {
	Index      uint32
	Generation uint32
}

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// arena stores objects in insertion order and recycles freed slots in LIFO
// order. Iteration always walks slots by index.
type arena[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *arena[T]) insert(v T) Handle {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.generation++
		s.live = true
		s.value = v
		a.live++
		return Handle{Index: idx, Generation: s.generation}
	}
	a.slots = append(a.slots, slot[T]{live: true, value: v})
	a.live++
	return Handle{Index: uint32(len(a.slots) - 1)}
}

func (a *arena[T]) get(h Handle) (*T, bool) {
	if int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if !s.live || s.generation != h.Generation {
		return nil, false
	}
	return &s.value, true
}

func (a *arena[T]) remove(h Handle) (T, bool) {
	var zero T
	if _, ok := a.get(h); !ok {
		return zero, false
	}
	s := &a.slots[h.Index]
	v := s.value
	s.value = zero
	s.live = false
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

func (a *arena[T]) each(fn func(h Handle, v *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		fn(Handle{Index: uint32(i), Generation: s.generation}, &s.value)
	}
}

func (a *arena[T]) clone(copyValue func(T) T) arena[T] {
	out := arena[T]{
		slots: make([]slot[T], len(a.slots)),
		free:  append([]uint32(nil), a.free...),
		live:  a.live,
	}
	for i, s := range a.slots {
		out.slots[i] = slot[T]{generation: s.generation, live: s.live}
		if s.live {
			out.slots[i].value = copyValue(s.value)
		}
	}
	return out
}
