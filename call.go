package nativebridge

import (
	"context"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/dispatch"
)

// Every codec is resolved before any byte is written, so a type without a
// codec fails the call before the peer is reached.

// Call0 invokes fn without arguments.
func Call0[R any](ctx context.Context, t *Thread, fn Ordinal) (R, error) {
	var zero R
	cr, err := dispatch.For[R](t.bctx.cache)
	if err != nil {
		return zero, err
	}
	return finish(ctx, t, fn, t.writer(), cr)
}

// Call1 invokes fn with one argument.
func Call1[A, R any](ctx context.Context, t *Thread, fn Ordinal, a A) (R, error) {
	var zero R
	c := t.bctx.cache
	ca, err := dispatch.For[A](c)
	if err != nil {
		return zero, err
	}
	cr, err := dispatch.For[R](c)
	if err != nil {
		return zero, err
	}
	w := t.writer()
	if err := ca.Encode(w, a); err != nil {
		return zero, err
	}
	return finish(ctx, t, fn, w, cr)
}

// Call2 invokes fn with two arguments.
func Call2[A, B, R any](ctx context.Context, t *Thread, fn Ordinal, a A, b B) (R, error) {
	var zero R
	c := t.bctx.cache
	ca, err := dispatch.For[A](c)
	if err != nil {
		return zero, err
	}
	cb, err := dispatch.For[B](c)
	if err != nil {
		return zero, err
	}
	cr, err := dispatch.For[R](c)
	if err != nil {
		return zero, err
	}
	w := t.writer()
	if err := ca.Encode(w, a); err != nil {
		return zero, err
	}
	if err := cb.Encode(w, b); err != nil {
		return zero, err
	}
	return finish(ctx, t, fn, w, cr)
}

// Call3 invokes fn with three arguments.
func Call3[A, B, C, R any](ctx context.Context, t *Thread, fn Ordinal, a A, b B, c C) (R, error) {
	var zero R
	cache := t.bctx.cache
	ca, err := dispatch.For[A](cache)
	if err != nil {
		return zero, err
	}
	cb, err := dispatch.For[B](cache)
	if err != nil {
		return zero, err
	}
	cc, err := dispatch.For[C](cache)
	if err != nil {
		return zero, err
	}
	cr, err := dispatch.For[R](cache)
	if err != nil {
		return zero, err
	}
	w := t.writer()
	if err := ca.Encode(w, a); err != nil {
		return zero, err
	}
	if err := cb.Encode(w, b); err != nil {
		return zero, err
	}
	if err := cc.Encode(w, c); err != nil {
		return zero, err
	}
	return finish(ctx, t, fn, w, cr)
}

// Call4 invokes fn with four arguments.
func Call4[A, B, C, D, R any](ctx context.Context, t *Thread, fn Ordinal, a A, b B, c C, d D) (R, error) {
	var zero R
	cache := t.bctx.cache
	ca, err := dispatch.For[A](cache)
	if err != nil {
		return zero, err
	}
	cb, err := dispatch.For[B](cache)
	if err != nil {
		return zero, err
	}
	cc, err := dispatch.For[C](cache)
	if err != nil {
		return zero, err
	}
	cd, err := dispatch.For[D](cache)
	if err != nil {
		return zero, err
	}
	cr, err := dispatch.For[R](cache)
	if err != nil {
		return zero, err
	}
	w := t.writer()
	if err := ca.Encode(w, a); err != nil {
		return zero, err
	}
	if err := cb.Encode(w, b); err != nil {
		return zero, err
	}
	if err := cc.Encode(w, c); err != nil {
		return zero, err
	}
	if err := cd.Encode(w, d); err != nil {
		return zero, err
	}
	return finish(ctx, t, fn, w, cr)
}

// finish sends the encoded arguments and decodes the result, requiring the
// payload to be consumed exactly.
func finish[R any](ctx context.Context, t *Thread, fn Ordinal, w *bincode.Writer, cr dispatch.Codec[R]) (R, error) {
	var zero R
	payload, err := t.InvokeRaw(ctx, fn, w.Bytes())
	if err != nil {
		return zero, err
	}
	r := bincode.NewReader(payload, t.bctx.cfg)
	v, err := cr.Decode(r)
	if err != nil {
		return zero, err
	}
	if err := r.Finish(); err != nil {
		return zero, err
	}
	return v, nil
}
