package resource

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/errors"
)

const (
	stateLive int32 = iota
	statePending
	stateReleased
)

// ownership is the shared state behind an Owned handle. It outlives the
// Owned value so the cleanup can queue it without resurrecting the owner.
type ownership struct {
	handle Handle
	state  atomic.Int32
}

// Tracker owns adopted handles on behalf of a bridge context. Release is
// issued at most once per adoption. Handles the program forgets are queued
// by the garbage collector and released by the next Sweep; the collector
// never calls into native code itself.
type Tracker struct {
	rel       Releaser
	log       *zap.Logger
	pending   []*ownership
	observers []*observerEntry
	live      atomic.Int64
	mu        sync.Mutex
	obsMu     sync.RWMutex
}

type observerEntry struct {
	o Observer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

// NewTracker creates a tracker releasing handles through rel.
func NewTracker(rel Releaser, opts ...TrackerOption) *Tracker {
	t := &Tracker{rel: rel, log: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Owned is a handle the Go side is responsible for releasing.
type Owned struct {
	own     *ownership
	tracker *Tracker
	cleanup runtime.Cleanup
}

// Adopt takes ownership of h. The returned value must be closed; if it is
// dropped instead, the handle is queued for the next Sweep.
func (t *Tracker) Adopt(h Handle) *Owned {
	own := &ownership{handle: h}
	o := &Owned{own: own, tracker: t}
	o.cleanup = runtime.AddCleanup(o, t.abandon, own)
	t.live.Add(1)
	t.notify(Event{Type: EventAdopted, Handle: h})
	return o
}

// Handle returns the underlying handle.
func (o *Owned) Handle() Handle {
	return o.own.handle
}

// Released reports whether the native release has been issued.
func (o *Owned) Released() bool {
	return o.own.state.Load() == stateReleased
}

// Close gives up ownership. If the native side still holds other
// references the release is deferred to a later Sweep. Closing twice is a
// no-op.
func (o *Owned) Close(ctx context.Context) error {
	if !o.own.state.CompareAndSwap(stateLive, statePending) {
		return nil
	}
	o.cleanup.Stop()
	return o.tracker.settle(ctx, o.own)
}

// Borrow returns the handle for use in a call, failing once released.
func (o *Owned) Borrow() (Handle, error) {
	if o.own.state.Load() != stateLive {
		return Handle{}, errors.Released(errors.PhaseHandle, o.own.handle.String())
	}
	return o.own.handle, nil
}

// abandon runs on the cleanup goroutine. It only queues.
func (t *Tracker) abandon(own *ownership) {
	if !own.state.CompareAndSwap(stateLive, statePending) {
		return
	}
	t.mu.Lock()
	t.pending = append(t.pending, own)
	t.mu.Unlock()
	t.notify(Event{Type: EventAbandoned, Handle: own.handle})
}

// settle releases own when the native reference count allows it and
// queues it otherwise.
func (t *Tracker) settle(ctx context.Context, own *ownership) error {
	n, err := t.rel.RefCount(ctx, own.handle)
	if err != nil {
		t.queue(own, 0)
		return errors.Wrap(errors.PhaseHandle, errors.KindNativeFailure, err, "query reference count")
	}
	if n > 1 {
		t.queue(own, n)
		return nil
	}
	if !own.state.CompareAndSwap(statePending, stateReleased) {
		return nil
	}
	t.live.Add(-1)
	if err := t.rel.Release(ctx, own.handle); err != nil {
		t.log.Warn("handle release failed",
			zap.Stringer("handle", own.handle),
			zap.Error(err))
		return errors.Wrap(errors.PhaseHandle, errors.KindNativeFailure, err, "release handle")
	}
	t.notify(Event{Type: EventReleased, Handle: own.handle, RefCount: n})
	return nil
}

func (t *Tracker) queue(own *ownership, refs uint32) {
	t.mu.Lock()
	t.pending = append(t.pending, own)
	t.mu.Unlock()
	t.log.Debug("handle release deferred",
		zap.Stringer("handle", own.handle),
		zap.Uint32("refcount", refs))
	t.notify(Event{Type: EventDeferred, Handle: own.handle, RefCount: refs})
}

// Sweep retries every queued release. It must run on the goroutine that
// owns the native side, between calls. Handles that still have other
// references stay queued. The first error is returned after all queued
// handles were attempted.
func (t *Tracker) Sweep(ctx context.Context) error {
	t.mu.Lock()
	queued := t.pending
	t.pending = nil
	t.mu.Unlock()

	var first error
	for _, own := range queued {
		if err := t.settle(ctx, own); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Pending returns the number of queued releases.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Live returns the number of adopted handles not yet released.
func (t *Tracker) Live() int {
	return int(t.live.Load())
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it.
func (t *Tracker) Subscribe(o Observer) (unsubscribe func()) {
	entry := &observerEntry{o: o}
	t.obsMu.Lock()
	t.observers = append(t.observers, entry)
	t.obsMu.Unlock()

	return func() {
		t.obsMu.Lock()
		defer t.obsMu.Unlock()
		for i, e := range t.observers {
			if e == entry {
				t.observers = append(t.observers[:i], t.observers[i+1:]...)
				return
			}
		}
	}
}

func (t *Tracker) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, entry := range t.observers {
		entry.o.OnHandleEvent(e)
	}
}
