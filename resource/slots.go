package resource

import (
	"sync"

	"github.com/wippyai/native-bridge/errors"
)

// ErrClosed is returned by Insert after Close.
var ErrClosed = errors.Released(errors.PhaseHandle, "slot table")

// SlotID names a slot. The low 32 bits hold index+1 and the high 32 bits
// the slot generation, so an ID kept past Remove never reaches the value
// that later reuses the slot. The zero SlotID is never issued.
type SlotID uint64

func makeSlotID(index, gen uint32) SlotID {
	return SlotID(uint64(gen)<<32 | uint64(index+1))
}

func (id SlotID) index() (uint32, bool) {
	lo := uint32(id)
	if lo == 0 {
		return 0, false
	}
	return lo - 1, true
}

func (id SlotID) generation() uint32 {
	return uint32(id >> 32)
}

// Slots is an in-memory table of values addressed by SlotID, with a free
// list and a per-slot reference count.
type Slots[T any] struct {
	entries []slot[T]
	free    []uint32
	live    int
	mu      sync.RWMutex
	closed  bool
}

type slot[T any] struct {
	value T
	gen   uint32
	refs  uint32
	valid bool
}

// NewSlots creates an empty table.
func NewSlots[T any]() *Slots[T] {
	return &Slots[T]{
		entries: make([]slot[T], 0, 64),
		free:    make([]uint32, 0, 16),
	}
}

// Insert stores v with a reference count of one.
func (s *Slots[T]) Insert(v T) (SlotID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	s.live++

	if n := len(s.free); n > 0 {
		idx := s.free[n-1]
		s.free = s.free[:n-1]
		e := &s.entries[idx]
		e.value, e.refs, e.valid = v, 1, true
		return makeSlotID(idx, e.gen), nil
	}

	s.entries = append(s.entries, slot[T]{value: v, refs: 1, valid: true})
	return makeSlotID(uint32(len(s.entries)-1), 0), nil
}

// lookup returns the live slot for id. Callers hold the lock.
func (s *Slots[T]) lookup(id SlotID) *slot[T] {
	idx, ok := id.index()
	if !ok || int(idx) >= len(s.entries) {
		return nil
	}
	e := &s.entries[idx]
	if !e.valid || e.gen != id.generation() {
		return nil
	}
	return e
}

// Get retrieves the value stored under id.
func (s *Slots[T]) Get(id SlotID) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.lookup(id); e != nil {
		return e.value, true
	}
	var zero T
	return zero, false
}

// Retain increments the reference count of id.
func (s *Slots[T]) Retain(id SlotID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		return false
	}
	e.refs++
	return true
}

// RefCount returns the reference count of id, or 0 if id is not live.
func (s *Slots[T]) RefCount(id SlotID) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.lookup(id); e != nil {
		return e.refs
	}
	return 0
}

// Drop decrements the reference count of id. When the count reaches zero
// the slot is freed and its value returned with true.
func (s *Slots[T]) Drop(id SlotID) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero T
	e := s.lookup(id)
	if e == nil {
		return zero, false
	}
	if e.refs > 1 {
		e.refs--
		return zero, false
	}
	return s.release(id, e), true
}

// Remove frees the slot regardless of its reference count.
func (s *Slots[T]) Remove(id SlotID) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(id)
	if e == nil {
		var zero T
		return zero, false
	}
	return s.release(id, e), true
}

func (s *Slots[T]) release(id SlotID, e *slot[T]) T {
	var zero T
	v := e.value
	e.value = zero
	e.refs = 0
	e.valid = false
	e.gen++
	s.live--
	idx, _ := id.index()
	s.free = append(s.free, idx)
	return v
}

// Len returns the number of live slots.
func (s *Slots[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.live
}

// Each iterates over live slots until fn returns false. fn must not call
// back into the table.
func (s *Slots[T]) Each(fn func(SlotID, T) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.entries {
		e := &s.entries[i]
		if e.valid && !fn(makeSlotID(uint32(i), e.gen), e.value) {
			return
		}
	}
}

// Close frees every slot, calling Drop on values that implement Dropper.
// Later inserts fail with ErrClosed.
func (s *Slots[T]) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var drop []Dropper
	for i := range s.entries {
		if s.entries[i].valid {
			if d, ok := any(s.entries[i].value).(Dropper); ok {
				drop = append(drop, d)
			}
		}
	}
	s.entries = nil
	s.free = nil
	s.live = 0
	s.mu.Unlock()

	for _, d := range drop {
		d.Drop()
	}
	return nil
}
