// Package arena implements the generational-index slot tables used by
// every handle kind in the scheduler: tasks, waitable sets, stream and
// future ends, and error contexts.
//
// Cyclic references between those entities (a task's subtasks, a
// waitable set's members, a subtask's parent) are represented as
// Index values, never as Go pointers between arena-owned values — this
// is the re-architecture called for when porting a reference-heavy
// object graph: parent/child links become indices into a slot table,
// and a stale index (one whose generation has moved on) is detected
// instead of silently dereferencing freed memory.
package arena

import "fmt"

// Index identifies a slot within an Arena. The zero Index never refers
// to a live slot; Arena reserves slot 0 as a permanent tombstone so a
// zero-valued Index can always mean "none" without ambiguity.
type Index struct {
	Slot uint32
	Gen  uint32
}

// IsZero reports whether idx is the zero value (used as "no handle").
func (idx Index) IsZero() bool {
	return idx.Slot == 0 && idx.Gen == 0
}

func (idx Index) String() string {
	return fmt.Sprintf("%d#%d", idx.Slot, idx.Gen)
}

type slot[T any] struct {
	gen   uint32
	alive bool
	value T
}

// Arena is a generational-index table of T. The zero value is not
// usable; construct with New.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
}

// New returns an empty, ready-to-use Arena.
func New[T any]() *Arena[T] {
	a := &Arena[T]{
		// slot 0 is a permanent tombstone, reserved so the zero Index
		// never aliases a real entry.
		slots: make([]slot[T], 1),
	}
	return a
}

// Insert stores v in a free slot and returns its Index.
func (a *Arena[T]) Insert(v T) Index {
	if n := len(a.free); n > 0 {
		i := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[i]
		s.alive = true
		s.value = v
		return Index{Slot: i, Gen: s.gen}
	}
	i := uint32(len(a.slots))
	a.slots = append(a.slots, slot[T]{gen: 1, alive: true, value: v})
	return Index{Slot: i, Gen: 1}
}

// Get returns the value at idx and true, or the zero value and false if
// idx is stale (slot freed and reused, or never allocated).
func (a *Arena[T]) Get(idx Index) (T, bool) {
	var zero T
	if idx.Slot == 0 || int(idx.Slot) >= len(a.slots) {
		return zero, false
	}
	s := &a.slots[idx.Slot]
	if !s.alive || s.gen != idx.Gen {
		return zero, false
	}
	return s.value, true
}

// MustGet is Get but panics on a stale index; used internally once a
// caller has already validated ownership and a miss would indicate a
// scheduler bug rather than guest misuse.
func (a *Arena[T]) MustGet(idx Index) T {
	v, ok := a.Get(idx)
	if !ok {
		panic(fmt.Sprintf("arena: dangling index %s", idx))
	}
	return v
}

// Set overwrites the value at idx in place, returning false if idx is
// stale.
func (a *Arena[T]) Set(idx Index, v T) bool {
	if idx.Slot == 0 || int(idx.Slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[idx.Slot]
	if !s.alive || s.gen != idx.Gen {
		return false
	}
	s.value = v
	return true
}

// Remove frees the slot at idx, bumping its generation so any
// previously-issued Index for that slot becomes stale. Returns false if
// idx was already stale.
func (a *Arena[T]) Remove(idx Index) bool {
	if idx.Slot == 0 || int(idx.Slot) >= len(a.slots) {
		return false
	}
	s := &a.slots[idx.Slot]
	if !s.alive || s.gen != idx.Gen {
		return false
	}
	var zero T
	s.alive = false
	s.value = zero
	s.gen++
	a.free = append(a.free, idx.Slot)
	return true
}

// Contains reports whether idx currently refers to a live slot.
func (a *Arena[T]) Contains(idx Index) bool {
	_, ok := a.Get(idx)
	return ok
}

// Len returns the number of live entries.
func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.free) - 1
}

// Each calls fn for every live entry, in slot order. fn must not mutate
// the Arena.
func (a *Arena[T]) Each(fn func(Index, T)) {
	for i := 1; i < len(a.slots); i++ {
		s := &a.slots[i]
		if s.alive {
			fn(Index{Slot: uint32(i), Gen: s.gen}, s.value)
		}
	}
}
