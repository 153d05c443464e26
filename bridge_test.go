package nativebridge_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/peer/local"
	"github.com/wippyai/native-bridge/resource"
)

const (
	fnAdd nativebridge.Ordinal = iota + 1
	fnGreet
	fnForEach
	fnFail
	fnNewCounter
	fnCounterGet
	fnEcho
	fnScale
)

type Point struct {
	X, Y float64
}

type counter struct {
	n       int64
	dropped *bool
}

func (c *counter) Drop() { *c.dropped = true }

func newPeer(t *testing.T, dropped *bool) *local.Peer {
	t.Helper()
	p := local.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(local.Func2(p, fnAdd, "add", func(_ context.Context, _ *local.Call, a, b int32) (int32, error) {
		return a + b, nil
	}))
	must(local.Func1(p, fnGreet, "greet", func(_ context.Context, _ *local.Call, name bincode.Option[string]) (string, error) {
		if v, ok := name.Get(); ok {
			return "hello " + v, nil
		}
		return "hello nobody", nil
	}))
	must(local.Func2(p, fnForEach, "for_each", func(ctx context.Context, call *local.Call, id callback.ID, items []uint32) (bincode.Unit, error) {
		for _, it := range items {
			if err := local.Callback1(ctx, call, id, it); err != nil {
				return bincode.Unit{}, err
			}
		}
		return bincode.Unit{}, nil
	}))
	must(local.Func0(p, fnFail, "fail", func(context.Context, *local.Call) (bincode.Unit, error) {
		return bincode.Unit{}, fmt.Errorf("widget id clash")
	}))
	must(local.Func1(p, fnNewCounter, "new_counter", func(_ context.Context, call *local.Call, start int64) (resource.Handle, error) {
		return call.Peer().NewObject(&counter{n: start, dropped: dropped}, 1)
	}))
	must(local.Func1(p, fnCounterGet, "counter_get", func(_ context.Context, call *local.Call, h resource.Handle) (int64, error) {
		v, ok := call.Peer().Object(h)
		if !ok {
			return 0, fmt.Errorf("no object %v", h)
		}
		return v.(*counter).n, nil
	}))
	must(dispatch.RegisterStruct[Point](p.Cache()))
	must(local.Func1(p, fnEcho, "echo", func(_ context.Context, _ *local.Call, pts []Point) ([]Point, error) {
		return pts, nil
	}))
	return p
}

func newThread(t *testing.T, p nativebridge.Peer, opts ...nativebridge.Option) (*nativebridge.Context, *nativebridge.Thread) {
	t.Helper()
	bctx, err := nativebridge.New(p, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return bctx, bctx.NewThread()
}

func TestCall_Basic(t *testing.T) {
	ctx := context.Background()
	_, th := newThread(t, newPeer(t, new(bool)))

	sum, err := nativebridge.Call2[int32, int32, int32](ctx, th, fnAdd, 40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 42 {
		t.Errorf("sum = %d, want 42", sum)
	}

	tests := []struct {
		in   bincode.Option[string]
		want string
	}{
		{bincode.Some("ana"), "hello ana"},
		{bincode.None[string](), "hello nobody"},
	}
	for _, tt := range tests {
		got, err := nativebridge.Call1[bincode.Option[string], string](ctx, th, fnGreet, tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("greet(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if th.Depth() != 0 {
		t.Errorf("Depth = %d after calls", th.Depth())
	}
}

func TestCall_NoCodecFailsBeforeInvoke(t *testing.T) {
	type unregistered struct{ A int32 }
	invoked := false
	p := local.New()
	_ = p.Bind(fnEcho, "echo", func(context.Context, *local.Call) error {
		invoked = true
		return nil
	})
	_, th := newThread(t, p)

	_, err := nativebridge.Call2[int32, unregistered, bincode.Unit](context.Background(), th, fnEcho, 1, unregistered{})
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindNoCodec}) {
		t.Fatalf("err = %v, want resolve/no_codec", err)
	}
	if invoked {
		t.Fatal("peer was invoked")
	}
}

func TestCall_NativeFailure(t *testing.T) {
	_, th := newThread(t, newPeer(t, new(bool)))

	_, err := nativebridge.Call0[bincode.Unit](context.Background(), th, fnFail)
	var e *errors.Error
	if !errors.As(err, &e) {
		t.Fatalf("err = %v", err)
	}
	if e.Kind != errors.KindNativeFailure || e.Value != "widget id clash" {
		t.Errorf("got kind %s value %v", e.Kind, e.Value)
	}

	_, err = nativebridge.Call0[bincode.Unit](context.Background(), th, 999)
	if !errors.IsKind(err, errors.KindNativeFailure) {
		t.Errorf("unbound: err = %v", err)
	}
}

func TestCall_ResultTypeMismatch(t *testing.T) {
	_, th := newThread(t, newPeer(t, new(bool)))
	// add returns 4 bytes; decoding a u64 runs out of input.
	_, err := nativebridge.Call2[int32, int32, uint64](context.Background(), th, fnAdd, 1, 2)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindOutOfBounds}) {
		t.Errorf("err = %v, want decode/out_of_bounds", err)
	}
	// and a u16 leaves bytes behind.
	_, err = nativebridge.Call2[int32, int32, uint16](context.Background(), th, fnAdd, 1, 2)
	if !errors.IsKind(err, errors.KindInvalidData) {
		t.Errorf("err = %v, want invalid_data", err)
	}
}

func TestCall_StructRoundTrip(t *testing.T) {
	p := newPeer(t, new(bool))
	bctx, th := newThread(t, p)

	pts := []Point{{1, 2}, {-3.5, 1e300}}
	if _, err := nativebridge.Call1[[]Point, []Point](context.Background(), th, fnEcho, pts); !errors.IsKind(err, errors.KindNoCodec) {
		t.Fatalf("unregistered struct: err = %v", err)
	}
	// Structs are opt-in on each side.
	if err := dispatch.RegisterStruct[Point](bctx.Cache()); err != nil {
		t.Fatal(err)
	}
	got, err := nativebridge.Call1[[]Point, []Point](context.Background(), th, fnEcho, pts)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(pts, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWithCallback_ReceivesEveryItem(t *testing.T) {
	ctx := context.Background()
	bctx, th := newThread(t, newPeer(t, new(bool)))

	var seen []uint32
	err := nativebridge.WithCallback1(th, func(_ context.Context, v uint32) error {
		seen = append(seen, v)
		return nil
	}, func(id callback.ID) error {
		_, err := nativebridge.Call2[callback.ID, []uint32, bincode.Unit](ctx, th, fnForEach, id, []uint32{3, 1, 4})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint32{3, 1, 4}, seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
	if bctx.Callbacks().Len() != 0 {
		t.Errorf("callback records leaked: %d", bctx.Callbacks().Len())
	}
}

func TestWithCallback_ErrorIdentity(t *testing.T) {
	ctx := context.Background()
	bctx, th := newThread(t, newPeer(t, new(bool)))
	sentinel := fmt.Errorf("item rejected: %w", io.ErrShortWrite)

	var seen []uint32
	err := nativebridge.WithCallback1(th, func(_ context.Context, v uint32) error {
		seen = append(seen, v)
		if v == 1 {
			return sentinel
		}
		return nil
	}, func(id callback.ID) error {
		_, err := nativebridge.Call2[callback.ID, []uint32, bincode.Unit](ctx, th, fnForEach, id, []uint32{3, 1, 4})
		return err
	})
	if err != sentinel {
		t.Fatalf("err = %v, want the callback's own error", err)
	}
	if !errors.Is(err, io.ErrShortWrite) {
		t.Error("wrapped cause lost")
	}
	if diff := cmp.Diff([]uint32{3, 1}, seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
	if bctx.Callbacks().Len() != 0 {
		t.Errorf("callback records leaked: %d", bctx.Callbacks().Len())
	}
}

func TestWithCallback_PanicCaptured(t *testing.T) {
	ctx := context.Background()
	_, th := newThread(t, newPeer(t, new(bool)))

	err := nativebridge.WithCallback1(th, func(context.Context, uint32) error {
		panic("callback blew up")
	}, func(id callback.ID) error {
		_, err := nativebridge.Call2[callback.ID, []uint32, bincode.Unit](ctx, th, fnForEach, id, []uint32{1})
		return err
	})
	var pe *callback.PanicError
	if !errors.As(err, &pe) || pe.Value != "callback blew up" {
		t.Fatalf("err = %v, want *callback.PanicError", err)
	}
}

func TestCall_ReentrantFromCallback(t *testing.T) {
	ctx := context.Background()
	_, th := newThread(t, newPeer(t, new(bool)))

	var sums []int32
	var depths []int
	err := nativebridge.WithCallback1(th, func(ctx context.Context, v uint32) error {
		depths = append(depths, th.Depth())
		sum, err := nativebridge.Call2[int32, int32, int32](ctx, th, fnAdd, int32(v), 100)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
		return nil
	}, func(id callback.ID) error {
		// A long argument list makes clobbering of the outer buffer visible.
		items := make([]uint32, 64)
		for i := range items {
			items[i] = uint32(i)
		}
		_, err := nativebridge.Call2[callback.ID, []uint32, bincode.Unit](ctx, th, fnForEach, id, items)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 64 || sums[0] != 100 || sums[63] != 163 {
		t.Fatalf("sums = %v", sums)
	}
	for _, d := range depths {
		if d != 1 {
			t.Fatalf("callback ran at depth %d, want 1", d)
		}
	}
}

func TestHandles_AdoptAndRelease(t *testing.T) {
	ctx := context.Background()
	dropped := false
	p := newPeer(t, &dropped)
	bctx, th := newThread(t, p)

	h, err := nativebridge.Call1[int64, resource.Handle](ctx, th, fnNewCounter, 5)
	if err != nil {
		t.Fatal(err)
	}
	owned := bctx.Adopt(h)

	borrowed, err := owned.Borrow()
	if err != nil {
		t.Fatal(err)
	}
	n, err := nativebridge.Call1[resource.Handle, int64](ctx, th, fnCounterGet, borrowed)
	if err != nil || n != 5 {
		t.Fatalf("counter_get = %d, %v", n, err)
	}

	// The peer holds a second reference; Close must defer.
	p.RetainObject(h)
	if err := owned.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if dropped || bctx.Tracker().Pending() != 1 {
		t.Fatalf("dropped = %v, pending = %d", dropped, bctx.Tracker().Pending())
	}

	// Peer lets go of its reference; the next top-level call sweeps.
	if err := p.Release(ctx, h); err != nil {
		t.Fatal(err)
	}
	if _, err := nativebridge.Call2[int32, int32, int32](ctx, th, fnAdd, 1, 1); err != nil {
		t.Fatal(err)
	}
	if !dropped || bctx.Tracker().Pending() != 0 || p.Objects() != 0 {
		t.Fatalf("dropped = %v, pending = %d, objects = %d", dropped, bctx.Tracker().Pending(), p.Objects())
	}
	if _, err := owned.Borrow(); !errors.IsKind(err, errors.KindReleased) {
		t.Errorf("Borrow after release: err = %v", err)
	}
}

func TestContext_CloseRejectsCalls(t *testing.T) {
	bctx, th := newThread(t, newPeer(t, new(bool)))
	if err := bctx.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := nativebridge.Call2[int32, int32, int32](context.Background(), th, fnAdd, 1, 1)
	if !errors.IsKind(err, errors.KindReleased) {
		t.Errorf("err = %v, want released", err)
	}
	if _, err := nativebridge.New(nil); !errors.IsKind(err, errors.KindNilPointer) {
		t.Errorf("nil peer: err = %v", err)
	}
}

func TestContext_ConcurrentThreads(t *testing.T) {
	bctx, _ := newThread(t, newPeer(t, new(bool)))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int32) {
			defer wg.Done()
			th := bctx.NewThread()
			for i := int32(0); i < 100; i++ {
				sum, err := nativebridge.Call2[int32, int32, int32](context.Background(), th, fnAdd, g, i)
				if err != nil {
					t.Error(err)
					return
				}
				if sum != g+i {
					t.Errorf("sum = %d, want %d", sum, g+i)
					return
				}
			}
		}(int32(g))
	}
	wg.Wait()
}

func TestContext_LogsNativeFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	_, th := newThread(t, newPeer(t, new(bool)), nativebridge.WithLogger(zap.New(core)))

	_, _ = nativebridge.Call0[bincode.Unit](context.Background(), th, fnFail)

	if logs.FilterMessage("invoke").Len() != 1 {
		t.Errorf("invoke debug entries = %d, want 1", logs.FilterMessage("invoke").Len())
	}
	warn := logs.FilterMessage("native call failed").All()
	if len(warn) != 1 {
		t.Fatalf("warn entries = %d, want 1", len(warn))
	}
	if got := warn[0].ContextMap()["message"]; got != "widget id clash" {
		t.Errorf("logged message = %v", got)
	}
}

func TestContext_VarintConfig(t *testing.T) {
	cfg := bincode.DefaultConfig()
	cfg.IntEncoding = bincode.VarintEncoding
	p := local.New(local.WithConfig(cfg))
	_ = local.Func1(p, fnScale, "scale", func(_ context.Context, _ *local.Call, v []uint64) (uint64, error) {
		var total uint64
		for _, x := range v {
			total += x
		}
		return total, nil
	})
	_, th := newThread(t, p, nativebridge.WithConfig(cfg))

	total, err := nativebridge.Call1[[]uint64, uint64](context.Background(), th, fnScale, []uint64{1, 300, 70000, 1 << 40})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1+300+70000+1<<40 {
		t.Errorf("total = %d", total)
	}
}

func TestInvokeRaw(t *testing.T) {
	_, th := newThread(t, newPeer(t, new(bool)))
	w := bincode.NewWriter(bincode.DefaultConfig())
	w.WriteI32(2)
	w.WriteI32(3)
	out, err := th.InvokeRaw(context.Background(), fnAdd, w.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{5, 0, 0, 0}, out); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}
