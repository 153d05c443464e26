package nativebridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/errors"
)

// Thread is the call state of one goroutine. Calls issued from a callback
// run one level deeper and use their own argument buffer, so the outer
// call's buffer stays intact. A Thread must not be shared between
// goroutines.
type Thread struct {
	bctx    *Context
	writers []*bincode.Writer
	scopes  []scope
	depth   int
}

// scope is a callback registered at a nesting level.
type scope struct {
	rec   *callback.Record
	depth int
}

// Context returns the owning context.
func (t *Thread) Context() *Context { return t.bctx }

// Depth returns the current nesting level; zero outside any call.
func (t *Thread) Depth() int { return t.depth }

// writer returns the argument buffer for the current nesting level.
func (t *Thread) writer() *bincode.Writer {
	for len(t.writers) <= t.depth {
		t.writers = append(t.writers, bincode.NewWriter(t.bctx.cfg))
	}
	w := t.writers[t.depth]
	w.Reset()
	return w
}

// InvokeRaw calls fn with pre-encoded args and returns the peer's payload.
// The payload is only valid until the next call on this thread.
func (t *Thread) InvokeRaw(ctx context.Context, fn Ordinal, args []byte) ([]byte, error) {
	c := t.bctx
	if c.closed.Load() {
		return nil, errors.Released(errors.PhaseInvoke, "bridge context")
	}
	if t.depth == 0 {
		if err := c.tracker.Sweep(ctx); err != nil {
			c.log.Warn("handle sweep failed", zap.Error(err))
		}
	}

	level := t.depth
	t.depth++
	defer func() { t.depth-- }()

	if ce := c.log.Check(zap.DebugLevel, "invoke"); ce != nil {
		ce.Write(
			zap.Uint32("ordinal", uint32(fn)),
			zap.Int("arg_bytes", len(args)),
			zap.Int("depth", level))
	}

	res, err := c.peer.Invoke(ctx, fn, args, c.callbacks)
	if cbErr := t.callbackErr(level); cbErr != nil {
		return nil, cbErr
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInvoke, errors.KindNativeFailure, err, "peer fault")
	}
	if !res.OK {
		msg := string(res.Payload)
		c.log.Warn("native call failed",
			zap.Uint32("ordinal", uint32(fn)),
			zap.String("message", msg))
		return nil, errors.NativeFailure(uint32(fn), msg)
	}
	return res.Payload, nil
}

// callbackErr returns the first error captured by a callback registered
// at level.
func (t *Thread) callbackErr(level int) error {
	for i := len(t.scopes) - 1; i >= 0 && t.scopes[i].depth >= level; i-- {
		if t.scopes[i].depth != level {
			continue
		}
		if err := t.scopes[i].rec.Err(); err != nil {
			return err
		}
	}
	return nil
}

// WithCallback registers fn for the duration of body. body receives the ID
// to pass to the peer. The record is released on every exit path, and an
// error raised by fn during any call in body is returned unchanged.
func (t *Thread) WithCallback(fn callback.Func, body func(id callback.ID) error) error {
	rec, err := t.bctx.callbacks.Register(fn)
	if err != nil {
		return err
	}
	t.scopes = append(t.scopes, scope{rec: rec, depth: t.depth})
	n := len(t.scopes)
	defer func() {
		t.scopes = t.scopes[:n-1]
		rec.Release()
	}()

	if err := body(rec.ID()); err != nil {
		return err
	}
	return rec.Err()
}

// WithCallback1 is WithCallback for a callback taking one decoded argument.
func WithCallback1[A any](t *Thread, fn func(ctx context.Context, arg A) error, body func(id callback.ID) error) error {
	codec, err := dispatch.For[A](t.bctx.cache)
	if err != nil {
		return err
	}
	cfg := t.bctx.cfg
	return t.WithCallback(func(ctx context.Context, arg []byte) error {
		r := bincode.NewReader(arg, cfg)
		a, err := codec.Decode(r)
		if err != nil {
			return err
		}
		if err := r.Finish(); err != nil {
			return err
		}
		return fn(ctx, a)
	}, body)
}
