package callback

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/resource"
)

// ID is the plain integer a peer uses to name a registered closure.
// Zero is never issued.
type ID uint64

// MarshalBincode writes the ID as a u64.
func (id ID) MarshalBincode(w *bincode.Writer) error {
	w.WriteU64(uint64(id))
	return nil
}

// UnmarshalBincode reads an ID written by MarshalBincode.
func (id *ID) UnmarshalBincode(r *bincode.Reader) error {
	v, err := r.ReadU64()
	*id = ID(v)
	return err
}

// Func is a closure exposed to the peer. arg is owned by the peer and only
// valid for the duration of the call.
type Func func(ctx context.Context, arg []byte) error

// StatusCode tags the result handed back to the peer.
type StatusCode uint32

const (
	StatusOK StatusCode = iota
	StatusError
	StatusUnknown
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", uint32(c))
	}
}

// Status is the trampoline result seen by the peer.
type Status struct {
	Message string
	Code    StatusCode
}

// OK reports whether the callback completed without error.
func (s Status) OK() bool { return s.Code == StatusOK }

// Invoker runs callbacks on behalf of a peer.
type Invoker interface {
	Invoke(ctx context.Context, id ID, arg []byte) Status
}

// PanicError carries a panic recovered inside a callback.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Record is a registered closure. It belongs to the call scope that
// registered it and must be released when that scope ends.
type Record struct {
	fn       Func
	table    *Table
	err      error
	id       ID
	mu       sync.Mutex
	released atomic.Bool
}

// ID returns the identifier passed across the boundary.
func (r *Record) ID() ID { return r.id }

// Err returns the first error the closure produced, if any.
func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Release frees the record's slot. Later calls are no-ops.
func (r *Record) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.table.slots.Remove(resource.SlotID(r.id))
}

func (r *Record) capture(err error) {
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}

func (r *Record) call(ctx context.Context, arg []byte) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return r.fn(ctx, arg)
}

// Table is the context-owned registry of live callbacks.
type Table struct {
	slots *resource.Slots[*Record]
	log   *zap.Logger
}

// Option configures a Table.
type Option func(*Table)

// WithLogger sets the logger used for callback failures.
func WithLogger(l *zap.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTable creates an empty callback table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		slots: resource.NewSlots[*Record](),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register boxes fn and returns its record.
func (t *Table) Register(fn Func) (*Record, error) {
	if fn == nil {
		return nil, errors.New(errors.PhaseCallback, errors.KindNilPointer).
			Detail("callback function is nil").
			Build()
	}
	rec := &Record{fn: fn, table: t}
	id, err := t.slots.Insert(rec)
	if err != nil {
		return nil, err
	}
	rec.id = ID(id)
	return rec, nil
}

// Lookup returns the live record for id.
func (t *Table) Lookup(id ID) (*Record, bool) {
	return t.slots.Get(resource.SlotID(id))
}

// Invoke runs the closure registered under id synchronously. Errors and
// panics never escape: they are kept on the record and reported to the
// peer as StatusError.
func (t *Table) Invoke(ctx context.Context, id ID, arg []byte) Status {
	rec, ok := t.Lookup(id)
	if !ok {
		t.log.Debug("unknown callback invoked", zap.Uint64("id", uint64(id)))
		return Status{Code: StatusUnknown, Message: fmt.Sprintf("unknown callback %d", id)}
	}

	if err := rec.call(ctx, arg); err != nil {
		rec.capture(err)
		t.log.Warn("callback failed",
			zap.Uint64("id", uint64(id)),
			zap.Error(err))
		return Status{Code: StatusError, Message: err.Error()}
	}
	return Status{Code: StatusOK}
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return t.slots.Len()
}

// Close drops every record. Later registrations fail.
func (t *Table) Close() error {
	return t.slots.Close()
}
