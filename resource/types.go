package resource

import (
	"context"
	"fmt"

	"github.com/wippyai/native-bridge/bincode"
)

// Handle is an opaque reference to a native object. The bridge never
// dereferences Addr; Meta carries whatever the peer needs alongside it
// (a type tag, a vtable index, a length).
type Handle struct {
	Addr uint64
	Meta uint64
}

// IsZero reports whether h is the null handle.
func (h Handle) IsZero() bool {
	return h.Addr == 0 && h.Meta == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("handle(%#x/%d)", h.Addr, h.Meta)
}

// MarshalBincode writes the handle as two u64 values.
func (h Handle) MarshalBincode(w *bincode.Writer) error {
	w.WriteU64(h.Addr)
	w.WriteU64(h.Meta)
	return nil
}

// UnmarshalBincode reads a handle written by MarshalBincode.
func (h *Handle) UnmarshalBincode(r *bincode.Reader) error {
	addr, err := r.ReadU64()
	if err != nil {
		return err
	}
	meta, err := r.ReadU64()
	if err != nil {
		return err
	}
	*h = Handle{Addr: addr, Meta: meta}
	return nil
}

// Releaser is the native side of handle ownership.
type Releaser interface {
	// Release frees the native object behind h.
	Release(ctx context.Context, h Handle) error

	// RefCount returns the number of live native references to h.
	RefCount(ctx context.Context, h Handle) (uint32, error)
}

// EventType identifies a handle lifecycle transition.
type EventType uint8

const (
	EventAdopted EventType = iota
	EventDeferred
	EventReleased
	EventAbandoned
)

func (t EventType) String() string {
	switch t {
	case EventAdopted:
		return "adopted"
	case EventDeferred:
		return "deferred"
	case EventReleased:
		return "released"
	case EventAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Handle   Handle
	RefCount uint32
	Type     EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnHandleEvent calls f(e).
func (f ObserverFunc) OnHandleEvent(e Event) { f(e) }

// Dropper is optionally implemented by slot values that need cleanup when
// their slot table is closed.
type Dropper interface {
	Drop()
}
