package local

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/resource"
)

// Handler implements one native function. It reads its arguments from
// call.Args and writes its result to call.Ret. A returned error becomes a
// failed Result carrying the error message.
type Handler func(ctx context.Context, call *Call) error

// FuncInfo describes a bound function.
type FuncInfo struct {
	Name    string
	Ordinal nativebridge.Ordinal
}

type binding struct {
	handler Handler
	name    string
}

// Peer is an in-process native peer. Functions are Go handlers bound to
// ordinals; native objects live in a slot table and are exposed as handles
// whose Addr is the slot ID.
type Peer struct {
	funcs   map[nativebridge.Ordinal]binding
	objects *resource.Slots[any]
	cache   *dispatch.Cache
	log     *zap.Logger
	cfg     bincode.Config
	mu      sync.RWMutex
}

// Option configures a Peer.
type Option func(*Peer)

// WithConfig sets the wire configuration. It must match the bridge context.
func WithConfig(cfg bincode.Config) Option {
	return func(p *Peer) {
		p.cfg = cfg
	}
}

// WithLogger sets the peer logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Peer) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a peer with no functions bound.
func New(opts ...Option) *Peer {
	p := &Peer{
		funcs:   make(map[nativebridge.Ordinal]binding),
		objects: resource.NewSlots[any](),
		cfg:     bincode.DefaultConfig(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cache = dispatch.New(dispatch.WithLogger(p.log))
	return p
}

// Cache returns the codec cache used by typed handlers.
func (p *Peer) Cache() *dispatch.Cache { return p.cache }

// Bind registers h under fn.
func (p *Peer) Bind(fn nativebridge.Ordinal, name string, h Handler) error {
	if h == nil {
		return errors.New(errors.PhaseLoad, errors.KindNilPointer).
			Detail("handler for %s is nil", name).
			Build()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.funcs[fn]; ok {
		return errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("ordinal %d already bound to %s", fn, prev.name).
			Build()
	}
	p.funcs[fn] = binding{handler: h, name: name}
	p.log.Debug("function bound", zap.Uint32("ordinal", uint32(fn)), zap.String("name", name))
	return nil
}

// Functions lists bound functions ordered by ordinal.
func (p *Peer) Functions() []FuncInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]FuncInfo, 0, len(p.funcs))
	for fn, b := range p.funcs {
		out = append(out, FuncInfo{Ordinal: fn, Name: b.name})
	}
	slices.SortFunc(out, func(a, b FuncInfo) int {
		return int(a.Ordinal) - int(b.Ordinal)
	})
	return out
}

// Invoke runs the handler bound to fn.
func (p *Peer) Invoke(ctx context.Context, fn nativebridge.Ordinal, args []byte, cb callback.Invoker) (res nativebridge.Result, err error) {
	p.mu.RLock()
	b, ok := p.funcs[fn]
	p.mu.RUnlock()
	if !ok {
		return failed("function %d not bound", fn), nil
	}

	call := &Call{
		Args: bincode.NewReader(args, p.cfg),
		Ret:  bincode.NewWriter(p.cfg),
		peer: p,
		cb:   cb,
	}

	defer func() {
		if v := recover(); v != nil {
			p.log.Error("native function panicked",
				zap.String("name", b.name),
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()))
			err = errors.New(errors.PhaseInvoke, errors.KindNativeFailure).
				Value(v).
				Detail("%s panicked: %v", b.name, v).
				Build()
		}
	}()

	if err := b.handler(ctx, call); err != nil {
		return failed("%v", err), nil
	}
	if call.Args.Remaining() > 0 {
		return failed("%s: %d unread argument bytes", b.name, call.Args.Remaining()), nil
	}
	return nativebridge.Result{OK: true, Payload: call.Ret.Bytes()}, nil
}

func failed(format string, args ...any) nativebridge.Result {
	return nativebridge.Result{Payload: []byte(fmt.Sprintf(format, args...))}
}

// NewObject stores v and returns a handle to it with one reference.
func (p *Peer) NewObject(v any, meta uint64) (resource.Handle, error) {
	id, err := p.objects.Insert(v)
	if err != nil {
		return resource.Handle{}, err
	}
	return resource.Handle{Addr: uint64(id), Meta: meta}, nil
}

// Object returns the value behind h.
func (p *Peer) Object(h resource.Handle) (any, bool) {
	return p.objects.Get(resource.SlotID(h.Addr))
}

// RetainObject adds a native reference to h.
func (p *Peer) RetainObject(h resource.Handle) bool {
	return p.objects.Retain(resource.SlotID(h.Addr))
}

// Objects returns the number of live objects.
func (p *Peer) Objects() int {
	return p.objects.Len()
}

// RefCount implements resource.Releaser.
func (p *Peer) RefCount(_ context.Context, h resource.Handle) (uint32, error) {
	n := p.objects.RefCount(resource.SlotID(h.Addr))
	if n == 0 {
		return 0, errors.NotFound(errors.PhaseHandle, "object", h.String())
	}
	return n, nil
}

// Release implements resource.Releaser. It drops one reference and frees
// the object when none remain.
func (p *Peer) Release(_ context.Context, h resource.Handle) error {
	if p.objects.RefCount(resource.SlotID(h.Addr)) == 0 {
		return errors.NotFound(errors.PhaseHandle, "object", h.String())
	}
	if v, freed := p.objects.Drop(resource.SlotID(h.Addr)); freed {
		if d, ok := v.(resource.Dropper); ok {
			d.Drop()
		}
	}
	return nil
}

// Close drops every object.
func (p *Peer) Close() error {
	return p.objects.Close()
}
