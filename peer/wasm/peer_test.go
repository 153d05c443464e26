package wasm

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/resource"
)

// Binary module assembly helpers.

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func vec(items ...[]byte) []byte {
	return cat(uleb(uint64(len(items))), cat(items...))
}

func name(s string) []byte {
	return cat(uleb(uint64(len(s))), []byte(s))
}

func section(id byte, items ...[]byte) []byte {
	body := vec(items...)
	return cat([]byte{id}, uleb(uint64(len(body))), body)
}

func funcType(params, results []byte) []byte {
	return cat([]byte{0x60}, uleb(uint64(len(params))), params, uleb(uint64(len(results))), results)
}

func codeEntry(locals []byte, body ...[]byte) []byte {
	fn := cat(locals, cat(body...), []byte{opEnd})
	return cat(uleb(uint64(len(fn))), fn)
}

const (
	i32 = 0x7f
	i64 = 0x7e

	opUnreachable = 0x00
	opBlock       = 0x02
	opLoop        = 0x03
	opIf          = 0x04
	opEnd         = 0x0b
	opBr          = 0x0c
	opBrIf        = 0x0d
	opReturn      = 0x0f
	opCall        = 0x10
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI64Load     = 0x29
	opI32Store    = 0x36
	opI32Const    = 0x41
	opI32Eq       = 0x46
	opI32GeU      = 0x4f
	opI32Add      = 0x6a
	blockVoid     = 0x40
)

func i32c(v int64) []byte { return cat([]byte{opI32Const}, sleb(v)) }
func op(b ...byte) []byte { return b }
func load32(off byte) []byte { return op(opI32Load, 0x02, off) }
func load64(off byte) []byte { return op(opI64Load, 0x03, off) }
func store32(off byte) []byte { return op(opI32Store, 0x02, off) }
func getLocal(i byte) []byte { return op(opLocalGet, i) }
func setLocal(i byte) []byte { return op(opLocalSet, i) }
func getGlobal(i byte) []byte { return op(opGlobalGet, i) }
func setGlobal(i byte) []byte { return op(opGlobalSet, i) }

const (
	recordAddr = 1040
	sumAddr    = 1024
	itemAddr   = 1028
	errCbAddr  = 512
	errFnAddr  = 560
)

var (
	msgCallbackFailed = "callback failed"
	msgUnknown        = "unknown function"
)

// record writes {status, ptr, len} at recordAddr and returns its address.
func record(status, ptr, n int64) []byte {
	return cat(
		i32c(recordAddr), i32c(status), store32(0),
		i32c(recordAddr), i32c(ptr), store32(4),
		i32c(recordAddr), i32c(n), store32(8),
		i32c(recordAddr), op(opReturn),
	)
}

// guestModule implements:
//
//	fn 1 add(a i32, b i32) -> i32
//	fn 2 each(cb u64, n u32) -> (), calling cb with 0..n-1 as u32
//	fn 3 traps
//	anything else fails with "unknown function"
//
// bridge_release counts calls in the exported "released" global.
func guestModule() []byte {
	types := section(1,
		funcType([]byte{i64, i32, i32}, []byte{i32}), // 0 callback
		funcType([]byte{i32}, []byte{i32}),           // 1 alloc
		funcType([]byte{i32, i32, i32}, []byte{i32}), // 2 invoke
		funcType([]byte{i64, i64}, []byte{i32}),      // 3 refcount
		funcType([]byte{i64, i64}, nil),              // 4 release
	)
	imports := section(2, cat(name(ImportModule), name(ImportCallback), []byte{0x00}, uleb(0)))
	funcs := section(3, uleb(1), uleb(2), uleb(3), uleb(4))
	memory := section(5, []byte{0x00, 0x01})
	globals := section(6,
		cat([]byte{i32, 0x01}, i32c(4096), []byte{opEnd}), // bump pointer
		cat([]byte{i32, 0x01}, i32c(0), []byte{opEnd}),    // released
	)
	exports := section(7,
		cat(name(ExportMemory), []byte{0x02}, uleb(0)),
		cat(name(ExportAlloc), []byte{0x00}, uleb(1)),
		cat(name(ExportInvoke), []byte{0x00}, uleb(2)),
		cat(name(ExportRefCount), []byte{0x00}, uleb(3)),
		cat(name(ExportRelease), []byte{0x00}, uleb(4)),
		cat(name("released"), []byte{0x03}, uleb(1)),
	)

	alloc := codeEntry(vec(),
		getGlobal(0),
		getGlobal(0), getLocal(0), op(opI32Add), setGlobal(0),
	)

	// params: fn=0 ptr=1 len=2; locals: i=3 n=4
	invoke := codeEntry(vec(cat(uleb(2), []byte{i32})),
		// fn 1
		getLocal(0), i32c(1), op(opI32Eq), op(opIf, blockVoid),
		i32c(sumAddr),
		getLocal(1), load32(0),
		getLocal(1), load32(4),
		op(opI32Add), store32(0),
		record(0, sumAddr, 4),
		op(opEnd),

		// fn 2
		getLocal(0), i32c(2), op(opI32Eq), op(opIf, blockVoid),
		getLocal(1), load32(8), setLocal(4),
		i32c(0), setLocal(3),
		op(opBlock, blockVoid), op(opLoop, blockVoid),
		getLocal(3), getLocal(4), op(opI32GeU), op(opBrIf, 1),
		i32c(itemAddr), getLocal(3), store32(0),
		getLocal(1), load64(0), i32c(itemAddr), i32c(4), op(opCall, 0),
		op(opIf, blockVoid),
		record(1, errCbAddr, int64(len(msgCallbackFailed))),
		op(opEnd),
		getLocal(3), i32c(1), op(opI32Add), setLocal(3),
		op(opBr, 0),
		op(opEnd), op(opEnd),
		record(0, sumAddr, 0),
		op(opEnd),

		// fn 3
		getLocal(0), i32c(3), op(opI32Eq), op(opIf, blockVoid),
		op(opUnreachable),
		op(opEnd),

		record(1, errFnAddr, int64(len(msgUnknown))),
	)

	refcount := codeEntry(vec(), i32c(1))
	release := codeEntry(vec(),
		getGlobal(1), i32c(1), op(opI32Add), setGlobal(1),
	)
	code := section(10, alloc, invoke, refcount, release)

	data := section(11,
		cat([]byte{0x00}, i32c(errCbAddr), []byte{opEnd}, name(msgCallbackFailed)),
		cat([]byte{0x00}, i32c(errFnAddr), []byte{opEnd}, name(msgUnknown)),
	)

	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	return cat(header, types, imports, funcs, memory, globals, exports, code, data)
}

func loadGuest(t *testing.T) (*Peer, *nativebridge.Context, *nativebridge.Thread) {
	t.Helper()
	ctx := context.Background()
	p, err := Load(ctx, guestModule(), WithMemoryLimitPages(16))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close(ctx) })

	bctx, err := nativebridge.New(p)
	if err != nil {
		t.Fatal(err)
	}
	return p, bctx, bctx.NewThread()
}

func TestPeer_Add(t *testing.T) {
	_, _, th := loadGuest(t)
	sum, err := nativebridge.Call2[int32, int32, int32](context.Background(), th, 1, 40, 2)
	if err != nil {
		t.Fatal(err)
	}
	if sum != 42 {
		t.Errorf("sum = %d, want 42", sum)
	}
}

func TestPeer_Failures(t *testing.T) {
	_, _, th := loadGuest(t)
	ctx := context.Background()

	_, err := nativebridge.Call0[bincode.Unit](ctx, th, 99)
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindNativeFailure || e.Value != msgUnknown {
		t.Fatalf("unknown fn: err = %v", err)
	}

	_, err = nativebridge.Call0[bincode.Unit](ctx, th, 3)
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseInvoke, Kind: errors.KindNativeFailure}) {
		t.Fatalf("trap: err = %v", err)
	}
}

func TestPeer_CallbacksAndReentry(t *testing.T) {
	_, bctx, th := loadGuest(t)
	ctx := context.Background()

	var sums []int32
	err := nativebridge.WithCallback1(th, func(ctx context.Context, v uint32) error {
		sum, err := nativebridge.Call2[int32, int32, int32](ctx, th, 1, int32(v), 1000)
		if err != nil {
			return err
		}
		sums = append(sums, sum)
		return nil
	}, func(id callback.ID) error {
		_, err := nativebridge.Call2[callback.ID, uint32, bincode.Unit](ctx, th, 2, id, 4)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int32{1000, 1001, 1002, 1003}, sums); diff != "" {
		t.Errorf("sums mismatch (-want +got):\n%s", diff)
	}
	if bctx.Callbacks().Len() != 0 {
		t.Errorf("callback records leaked: %d", bctx.Callbacks().Len())
	}
}

func TestPeer_CallbackErrorIdentity(t *testing.T) {
	_, _, th := loadGuest(t)
	ctx := context.Background()
	stop := fmt.Errorf("stop at two")

	var seen []uint32
	err := nativebridge.WithCallback1(th, func(_ context.Context, v uint32) error {
		seen = append(seen, v)
		if v == 2 {
			return stop
		}
		return nil
	}, func(id callback.ID) error {
		_, err := nativebridge.Call2[callback.ID, uint32, bincode.Unit](ctx, th, 2, id, 10)
		return err
	})
	if err != stop {
		t.Fatalf("err = %v, want the callback's own error", err)
	}
	if diff := cmp.Diff([]uint32{0, 1, 2}, seen); diff != "" {
		t.Errorf("seen mismatch (-want +got):\n%s", diff)
	}
}

func TestPeer_UnknownCallbackID(t *testing.T) {
	_, _, th := loadGuest(t)
	_, err := nativebridge.Call2[callback.ID, uint32, bincode.Unit](context.Background(), th, 2, callback.ID(12345), 1)
	var e *errors.Error
	if !errors.As(err, &e) || e.Value != msgCallbackFailed {
		t.Fatalf("err = %v, want native failure %q", err, msgCallbackFailed)
	}
}

func TestPeer_ReleaseHandle(t *testing.T) {
	p, bctx, _ := loadGuest(t)
	ctx := context.Background()

	owned := bctx.Adopt(resource.Handle{Addr: 0x10, Meta: 2})
	if err := owned.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := owned.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if got := p.Module().ExportedGlobal("released").Get(); got != 1 {
		t.Errorf("guest saw %d releases, want 1", got)
	}
}

func TestLoad_MissingExports(t *testing.T) {
	module := cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(5, []byte{0x00, 0x01}),
		section(7, cat(name(ExportMemory), []byte{0x02}, uleb(0))),
	)
	_, err := Load(context.Background(), module)

	var missing *errors.MissingExportsError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want *MissingExportsError", err)
	}
	if diff := cmp.Diff([]string{ExportAlloc, ExportInvoke}, missing.Exports); diff != "" {
		t.Errorf("exports mismatch (-want +got):\n%s", diff)
	}
	if !errors.Is(err, &errors.Error{Kind: errors.KindMissingExport}) {
		t.Error("error does not match missing_export")
	}
}

func TestLoad_InvalidBinary(t *testing.T) {
	_, err := Load(context.Background(), []byte("not wasm"))
	if !errors.Is(err, &errors.Error{Phase: errors.PhaseLoad}) {
		t.Fatalf("err = %v, want a load error", err)
	}
}

func TestPeer_ClosedRejectsCalls(t *testing.T) {
	p, _, th := loadGuest(t)
	if err := p.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := nativebridge.Call2[int32, int32, int32](context.Background(), th, 1, 1, 1)
	if !errors.IsKind(err, errors.KindReleased) {
		t.Errorf("err = %v, want released", err)
	}
}
