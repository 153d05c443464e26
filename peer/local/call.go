package local

import (
	"context"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/errors"
)

// Call is the state of one native invocation.
type Call struct {
	Args *bincode.Reader
	Ret  *bincode.Writer
	peer *Peer
	cb   callback.Invoker
}

// Peer returns the peer running the call.
func (c *Call) Peer() *Peer { return c.peer }

// Callback invokes a Go callback synchronously with an encoded argument.
// A callback that did not complete yields an error carrying its status.
func (c *Call) Callback(ctx context.Context, id callback.ID, arg []byte) error {
	if c.cb == nil {
		return errors.New(errors.PhaseCallback, errors.KindNilPointer).
			Detail("no callback invoker for this call").
			Build()
	}
	st := c.cb.Invoke(ctx, id, arg)
	if st.OK() {
		return nil
	}
	return errors.New(errors.PhaseCallback, errors.KindCallbackFailed).
		Value(uint64(id)).
		Detail("callback %d: %s: %s", id, st.Code, st.Message).
		Build()
}

// Callback1 encodes arg and invokes the callback.
func Callback1[A any](ctx context.Context, call *Call, id callback.ID, arg A) error {
	codec, err := dispatch.For[A](call.peer.cache)
	if err != nil {
		return err
	}
	w := bincode.NewWriter(call.peer.cfg)
	if err := codec.Encode(w, arg); err != nil {
		return err
	}
	return call.Callback(ctx, id, w.Bytes())
}

func read[T any](call *Call, c dispatch.Codec[T]) (T, error) {
	return c.Decode(call.Args)
}

func write[R any](call *Call, c dispatch.Codec[R], v R) error {
	return c.Encode(call.Ret, v)
}

// Func0 binds a typed function without arguments.
func Func0[R any](p *Peer, fn nativebridge.Ordinal, name string, f func(context.Context, *Call) (R, error)) error {
	cr, err := dispatch.For[R](p.cache)
	if err != nil {
		return err
	}
	return p.Bind(fn, name, func(ctx context.Context, call *Call) error {
		r, err := f(ctx, call)
		if err != nil {
			return err
		}
		return write(call, cr, r)
	})
}

// Func1 binds a typed function of one argument.
func Func1[A, R any](p *Peer, fn nativebridge.Ordinal, name string, f func(context.Context, *Call, A) (R, error)) error {
	ca, err := dispatch.For[A](p.cache)
	if err != nil {
		return err
	}
	cr, err := dispatch.For[R](p.cache)
	if err != nil {
		return err
	}
	return p.Bind(fn, name, func(ctx context.Context, call *Call) error {
		a, err := read(call, ca)
		if err != nil {
			return err
		}
		r, err := f(ctx, call, a)
		if err != nil {
			return err
		}
		return write(call, cr, r)
	})
}

// Func2 binds a typed function of two arguments.
func Func2[A, B, R any](p *Peer, fn nativebridge.Ordinal, name string, f func(context.Context, *Call, A, B) (R, error)) error {
	ca, err := dispatch.For[A](p.cache)
	if err != nil {
		return err
	}
	cb, err := dispatch.For[B](p.cache)
	if err != nil {
		return err
	}
	cr, err := dispatch.For[R](p.cache)
	if err != nil {
		return err
	}
	return p.Bind(fn, name, func(ctx context.Context, call *Call) error {
		a, err := read(call, ca)
		if err != nil {
			return err
		}
		b, err := read(call, cb)
		if err != nil {
			return err
		}
		r, err := f(ctx, call, a, b)
		if err != nil {
			return err
		}
		return write(call, cr, r)
	})
}

// Func3 binds a typed function of three arguments.
func Func3[A, B, C, R any](p *Peer, fn nativebridge.Ordinal, name string, f func(context.Context, *Call, A, B, C) (R, error)) error {
	ca, err := dispatch.For[A](p.cache)
	if err != nil {
		return err
	}
	cb, err := dispatch.For[B](p.cache)
	if err != nil {
		return err
	}
	cc, err := dispatch.For[C](p.cache)
	if err != nil {
		return err
	}
	cr, err := dispatch.For[R](p.cache)
	if err != nil {
		return err
	}
	return p.Bind(fn, name, func(ctx context.Context, call *Call) error {
		a, err := read(call, ca)
		if err != nil {
			return err
		}
		b, err := read(call, cb)
		if err != nil {
			return err
		}
		c, err := read(call, cc)
		if err != nil {
			return err
		}
		r, err := f(ctx, call, a, b, c)
		if err != nil {
			return err
		}
		return write(call, cr, r)
	})
}
