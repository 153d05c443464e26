package resource

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

type fakeNative struct {
	mu       sync.Mutex
	refs     map[Handle]uint32
	released map[Handle]int
	failRef  bool
}

func newFakeNative() *fakeNative {
	return &fakeNative{refs: map[Handle]uint32{}, released: map[Handle]int{}}
}

func (f *fakeNative) RefCount(_ context.Context, h Handle) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRef {
		return 0, fmt.Errorf("peer unavailable")
	}
	return f.refs[h], nil
}

func (f *fakeNative) Release(_ context.Context, h Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[h]++
	return nil
}

func (f *fakeNative) set(h Handle, n uint32) {
	f.mu.Lock()
	f.refs[h] = n
	f.mu.Unlock()
}

func (f *fakeNative) releases(h Handle) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[h]
}

type recorder struct {
	mu     sync.Mutex
	events []EventType
}

func (r *recorder) OnHandleEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e.Type)
	r.mu.Unlock()
}

func TestTracker_CloseReleasesOnce(t *testing.T) {
	ctx := context.Background()
	native := newFakeNative()
	h := Handle{Addr: 0x1000, Meta: 1}
	native.set(h, 1)

	tr := NewTracker(native)
	rec := &recorder{}
	tr.Subscribe(rec)

	o := tr.Adopt(h)
	if got, err := o.Borrow(); err != nil || got != h {
		t.Fatalf("Borrow = %v, %v", got, err)
	}
	if err := o.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := o.Close(ctx); err != nil {
		t.Fatal(err)
	}

	if n := native.releases(h); n != 1 {
		t.Errorf("releases = %d, want 1", n)
	}
	if !o.Released() {
		t.Error("Released() = false")
	}
	if tr.Live() != 0 {
		t.Errorf("Live = %d, want 0", tr.Live())
	}
	if _, err := o.Borrow(); !errors.IsKind(err, errors.KindReleased) {
		t.Errorf("Borrow after Close: err = %v, want released", err)
	}
	if diff := cmp.Diff([]EventType{EventAdopted, EventReleased}, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_SharedHandleDeferred(t *testing.T) {
	ctx := context.Background()
	native := newFakeNative()
	h := Handle{Addr: 0x2000}
	native.set(h, 2)

	tr := NewTracker(native)
	o := tr.Adopt(h)
	if err := o.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if native.releases(h) != 0 {
		t.Fatal("released while another reference was alive")
	}
	if tr.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", tr.Pending())
	}

	// Still shared: stays queued.
	if err := tr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if tr.Pending() != 1 || native.releases(h) != 0 {
		t.Fatalf("Pending = %d, releases = %d", tr.Pending(), native.releases(h))
	}

	native.set(h, 1)
	if err := tr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if tr.Pending() != 0 || native.releases(h) != 1 {
		t.Fatalf("Pending = %d, releases = %d", tr.Pending(), native.releases(h))
	}

	// Another sweep must not release again.
	if err := tr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if native.releases(h) != 1 {
		t.Errorf("releases = %d, want 1", native.releases(h))
	}
}

func TestTracker_RefCountFailureKeepsQueued(t *testing.T) {
	ctx := context.Background()
	native := newFakeNative()
	h := Handle{Addr: 0x3000}
	native.set(h, 1)
	native.failRef = true

	tr := NewTracker(native)
	o := tr.Adopt(h)
	err := o.Close(ctx)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseHandle, Kind: errors.KindNativeFailure}) {
		t.Fatalf("err = %v, want handle/native_failure", err)
	}
	if tr.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", tr.Pending())
	}

	native.mu.Lock()
	native.failRef = false
	native.mu.Unlock()
	if err := tr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if native.releases(h) != 1 {
		t.Errorf("releases = %d, want 1", native.releases(h))
	}
}

func TestTracker_AbandonedHandleQueued(t *testing.T) {
	ctx := context.Background()
	native := newFakeNative()
	h := Handle{Addr: 0x4000}
	native.set(h, 1)

	tr := NewTracker(native)
	func() {
		tr.Adopt(h)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for tr.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("abandoned handle was never queued")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}

	// The collector only queues.
	if native.releases(h) != 0 {
		t.Fatal("release issued from the cleanup goroutine")
	}
	if err := tr.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if native.releases(h) != 1 {
		t.Errorf("releases = %d, want 1", native.releases(h))
	}
}

func TestTracker_Unsubscribe(t *testing.T) {
	native := newFakeNative()
	tr := NewTracker(native)
	rec := &recorder{}
	unsubscribe := tr.Subscribe(rec)
	o := tr.Adopt(Handle{Addr: 1})
	unsubscribe()
	_ = o.Close(context.Background())

	if diff := cmp.Diff([]EventType{EventAdopted}, rec.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestHandle_Wire(t *testing.T) {
	h := Handle{Addr: 0xDEADBEEF, Meta: 3}
	w := bincode.NewWriter(bincode.DefaultConfig())
	if err := h.MarshalBincode(w); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xEF, 0xBE, 0xAD, 0xDE, 0, 0, 0, 0, 3, 0, 0, 0, 0, 0, 0, 0}
	if diff := cmp.Diff(want, w.Bytes()); diff != "" {
		t.Fatalf("bytes mismatch (-want +got):\n%s", diff)
	}

	var got Handle
	if err := got.UnmarshalBincode(bincode.NewReader(w.Bytes(), bincode.DefaultConfig())); err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("got %v, want %v", got, h)
	}
	if !(Handle{}).IsZero() || h.IsZero() {
		t.Error("IsZero mismatch")
	}
}
