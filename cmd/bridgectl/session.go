package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/config"
	"github.com/wippyai/native-bridge/peer/wasm"
	"github.com/wippyai/native-bridge/schema"
)

// session is an open bridge to one peer with the functions declared for it.
type session struct {
	bctx   *nativebridge.Context
	thread *nativebridge.Thread
	cfg    *config.Config
	close  func(context.Context) error
}

func openWasm(ctx context.Context, cfg *config.Config, log *zap.Logger) (*session, error) {
	if cfg.Peer.Wasm == "" {
		return nil, fmt.Errorf("no peer module: set [peer] wasm or pass -wasm")
	}
	data, err := os.ReadFile(cfg.Peer.Wasm)
	if err != nil {
		return nil, fmt.Errorf("read peer: %w", err)
	}
	opts := []wasm.Option{wasm.WithLogger(log.Named("peer"))}
	if cfg.Peer.MemoryLimitPages > 0 {
		opts = append(opts, wasm.WithMemoryLimitPages(cfg.Peer.MemoryLimitPages))
	}
	p, err := wasm.Load(ctx, data, opts...)
	if err != nil {
		return nil, fmt.Errorf("load peer: %w", err)
	}
	s, err := newSession(p, cfg, log)
	if err != nil {
		_ = p.Close(ctx)
		return nil, err
	}
	inner := s.close
	s.close = func(ctx context.Context) error {
		err := inner(ctx)
		if cerr := p.Close(ctx); err == nil {
			err = cerr
		}
		return err
	}
	return s, nil
}

func newSession(p nativebridge.Peer, cfg *config.Config, log *zap.Logger) (*session, error) {
	bctx, err := nativebridge.New(p,
		nativebridge.WithConfig(cfg.Wire()),
		nativebridge.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return &session{
		bctx:   bctx,
		thread: bctx.NewThread(),
		cfg:    cfg,
		close:  bctx.Close,
	}, nil
}

// call invokes f with values shaped by its parameter types.
func (s *session) call(ctx context.Context, f config.Function, args []any) (any, error) {
	if len(args) != len(f.Params) {
		return nil, fmt.Errorf("%s takes %d argument(s), got %d", f.Name, len(f.Params), len(args))
	}
	w := bincode.NewWriter(s.cfg.Wire())
	for i, p := range f.Params {
		if err := schema.Encode(w, p, args[i]); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
	}
	payload, err := s.thread.InvokeRaw(ctx, nativebridge.Ordinal(f.Ordinal), w.Bytes())
	if err != nil {
		return nil, err
	}
	r := bincode.NewReader(payload, s.cfg.Wire())
	v, err := schema.Decode(r, f.Result)
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	if err := r.Finish(); err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	return v, nil
}

// callJSON parses a JSON argument array and renders the result as JSON.
func (s *session) callJSON(ctx context.Context, name, argsJSON string) (string, error) {
	f, ok := s.cfg.Function(name)
	if !ok {
		return "", fmt.Errorf("function %q is not declared in the config", name)
	}
	args, err := schema.ParseArgs(f.Params, argsJSON)
	if err != nil {
		return "", err
	}
	v, err := s.call(ctx, f, args)
	if err != nil {
		return "", err
	}
	return schema.Format(v), nil
}
