package wasm

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/resource"
)

// Guest ABI names.
const (
	ExportMemory   = "memory"
	ExportAlloc    = "bridge_alloc"    // (size i32) -> ptr i32
	ExportInvoke   = "bridge_invoke"   // (fn i32, ptr i32, len i32) -> record i32
	ExportRelease  = "bridge_release"  // (addr i64, meta i64) -> ()
	ExportRefCount = "bridge_refcount" // (addr i64, meta i64) -> i32

	ImportModule   = "bridge"
	ImportCallback = "callback" // (id i64, ptr i32, len i32) -> status i32
)

// Result record status words written by bridge_invoke.
const (
	statusOK     = 0
	statusFailed = 1
)

const minArgArea = 256

// Peer runs native functions exported by a WebAssembly module.
//
// bridge_invoke returns the address of a 12-byte record
// {status u32, ptr u32, len u32} describing the result payload in guest
// memory. A Peer drives one module instance and must not be used from more
// than one goroutine at a time; calls nested through callbacks are fine.
type Peer struct {
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory
	alloc    api.Function
	invoke   api.Function
	release  api.Function
	refcount api.Function
	log      *zap.Logger
	areas    []argArea
	depth    int
	closed   atomic.Bool
}

// argArea is guest memory reserved for the arguments of one nesting level.
type argArea struct {
	ptr  uint32
	size uint32
}

type invokerKey struct{}

// Option configures Load.
type Option func(*options)

type options struct {
	log              *zap.Logger
	memoryLimitPages uint32
}

// WithMemoryLimitPages caps guest memory, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *options) {
		o.memoryLimitPages = pages
	}
}

// WithLogger sets the peer logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Load compiles and instantiates a guest module.
func Load(ctx context.Context, wasm []byte, opts ...Option) (*Peer, error) {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := wazero.NewRuntimeConfig()
	if o.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(o.memoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	p := &Peer{runtime: rt, log: o.log}
	if err := p.load(ctx, wasm); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return p, nil
}

func (p *Peer) load(ctx context.Context, wasm []byte) error {
	_, err := p.runtime.NewHostModuleBuilder(ImportModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(p.hostCallback),
			[]api.ValueType{api.ValueTypeI64, api.ValueTypeI32, api.ValueTypeI32},
			[]api.ValueType{api.ValueTypeI32}).
		WithParameterNames("id", "ptr", "len").
		Export(ImportCallback).
		Instantiate(ctx)
	if err != nil {
		return errors.Load("instantiate host module", err)
	}

	compiled, err := p.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return errors.Load("compile module", err)
	}

	var missing []string
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		missing = append(missing, ExportMemory)
	}
	funcs := compiled.ExportedFunctions()
	for _, name := range []string{ExportAlloc, ExportInvoke} {
		if _, ok := funcs[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &errors.MissingExportsError{Exports: missing}
	}

	mod, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.Load("instantiate module", err)
	}
	p.module = mod
	p.memory = mod.ExportedMemory(ExportMemory)
	p.alloc = mod.ExportedFunction(ExportAlloc)
	p.invoke = mod.ExportedFunction(ExportInvoke)
	p.release = mod.ExportedFunction(ExportRelease)
	p.refcount = mod.ExportedFunction(ExportRefCount)

	p.log.Debug("guest module loaded",
		zap.Uint32("memory_bytes", p.memory.Size()),
		zap.Bool("handles", p.release != nil))
	return nil
}

// Module returns the guest instance.
func (p *Peer) Module() api.Module { return p.module }

// Invoke implements nativebridge.Peer.
func (p *Peer) Invoke(ctx context.Context, fn nativebridge.Ordinal, args []byte, cb callback.Invoker) (nativebridge.Result, error) {
	if p.closed.Load() {
		return nativebridge.Result{}, errors.Released(errors.PhaseInvoke, "wasm peer")
	}
	level := p.depth
	p.depth++
	defer func() { p.depth-- }()

	ptr, err := p.argArea(ctx, level, uint32(len(args)))
	if err != nil {
		return nativebridge.Result{}, err
	}
	if len(args) > 0 && !p.memory.Write(ptr, args) {
		return nativebridge.Result{}, outOfRange("argument area", ptr, uint32(len(args)))
	}

	ctx = context.WithValue(ctx, invokerKey{}, cb)
	ret, err := p.invoke.Call(ctx, uint64(fn), uint64(ptr), uint64(len(args)))
	if err != nil {
		return nativebridge.Result{}, errors.Wrap(errors.PhaseInvoke, errors.KindNativeFailure, err, "guest trapped")
	}

	rec := api.DecodeU32(ret[0])
	status, ok1 := p.memory.ReadUint32Le(rec)
	off, ok2 := p.memory.ReadUint32Le(rec + 4)
	n, ok3 := p.memory.ReadUint32Le(rec + 8)
	if !ok1 || !ok2 || !ok3 {
		return nativebridge.Result{}, outOfRange("result record", rec, 12)
	}

	payload, ok := p.memory.Read(off, n)
	if !ok {
		return nativebridge.Result{}, outOfRange("result payload", off, n)
	}

	switch status {
	case statusOK:
		return nativebridge.Result{OK: true, Payload: payload}, nil
	case statusFailed:
		return nativebridge.Result{Payload: payload}, nil
	default:
		return nativebridge.Result{}, errors.New(errors.PhaseInvoke, errors.KindInvalidData).
			Value(status).
			Detail("unknown result status %d from function %d", status, fn).
			Build()
	}
}

// argArea returns guest memory for n argument bytes at the given nesting
// level, growing the area through bridge_alloc when needed.
func (p *Peer) argArea(ctx context.Context, level int, n uint32) (uint32, error) {
	for len(p.areas) <= level {
		p.areas = append(p.areas, argArea{})
	}
	a := &p.areas[level]
	if a.size >= n && (a.ptr != 0 || n == 0) {
		return a.ptr, nil
	}

	size := max(n, minArgArea, a.size*2)
	ret, err := p.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseInvoke, errors.KindNativeFailure, err, "allocate argument area")
	}
	ptr := api.DecodeU32(ret[0])
	if ptr == 0 {
		return 0, errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
			Value(size).
			Detail("guest could not allocate %d bytes", size).
			Build()
	}
	*a = argArea{ptr: ptr, size: size}
	return ptr, nil
}

// hostCallback is the trampoline imported by the guest.
func (p *Peer) hostCallback(ctx context.Context, m api.Module, stack []uint64) {
	id := callback.ID(stack[0])
	ptr := api.DecodeU32(stack[1])
	n := api.DecodeU32(stack[2])

	inv, _ := ctx.Value(invokerKey{}).(callback.Invoker)
	if inv == nil {
		p.log.Debug("callback outside of a call", zap.Uint64("id", uint64(id)))
		stack[0] = uint64(callback.StatusUnknown)
		return
	}
	arg, ok := m.Memory().Read(ptr, n)
	if !ok {
		p.log.Warn("callback argument out of range",
			zap.Uint32("ptr", ptr),
			zap.Uint32("len", n))
		stack[0] = uint64(callback.StatusError)
		return
	}
	// Nested calls may grow memory; the closure gets its own copy.
	st := inv.Invoke(ctx, id, bytes.Clone(arg))
	stack[0] = uint64(st.Code)
}

// RefCount implements resource.Releaser. A guest without bridge_refcount
// is treated as never sharing handles.
func (p *Peer) RefCount(ctx context.Context, h resource.Handle) (uint32, error) {
	if p.refcount == nil {
		return 1, nil
	}
	ret, err := p.refcount.Call(ctx, h.Addr, h.Meta)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHandle, errors.KindNativeFailure, err, "query reference count")
	}
	return api.DecodeU32(ret[0]), nil
}

// Release implements resource.Releaser.
func (p *Peer) Release(ctx context.Context, h resource.Handle) error {
	if p.release == nil {
		return &errors.MissingExportsError{Exports: []string{ExportRelease}}
	}
	if _, err := p.release.Call(ctx, h.Addr, h.Meta); err != nil {
		return errors.Wrap(errors.PhaseHandle, errors.KindNativeFailure, err, "release handle")
	}
	return nil
}

// Close tears down the guest instance.
func (p *Peer) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.runtime.Close(ctx)
}

func outOfRange(what string, ptr, n uint32) error {
	return errors.New(errors.PhaseInvoke, errors.KindOutOfBounds).
		Detail("%s [%d, +%d) outside guest memory", what, ptr, n).
		Build()
}
