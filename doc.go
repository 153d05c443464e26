// Package nativebridge marshals typed Go calls to a native peer and lets the
// peer call back into Go.
//
// A call flows through four stages:
//
//	caller -> dispatch (resolve codecs) -> bincode (encode args)
//	       -> Peer.Invoke -> bincode (decode result) -> caller
//
// and callbacks flow the other way:
//
//	peer -> callback.Table.Invoke -> Go closure -> (nested calls) -> Status
//
// # Architecture Overview
//
//	nativebridge/        Context, Thread and the typed Call functions
//	├── bincode/         Binary wire format: Writer, Reader, helpers
//	├── dispatch/        Per-context cache of Go type codecs
//	├── callback/        Callback table, trampoline and Status
//	├── resource/        Opaque handles, ownership tracker, slot tables
//	├── errors/          Structured error types
//	├── schema/          Dynamic values described by WIT type expressions
//	├── config/          TOML configuration
//	├── peer/local/      In-process peer backed by Go functions
//	├── peer/wasm/       Peer backed by a WebAssembly module on wazero
//	└── cmd/bridgectl/   Command line and interactive caller
//
// # Quick Start
//
//	peer := local.New()
//	local.Func2(peer, 1, "add", func(ctx context.Context, _ *local.Call, a, b int32) (int32, error) {
//	    return a + b, nil
//	})
//
//	bctx, err := nativebridge.New(peer)
//	thread := bctx.NewThread()
//	sum, err := nativebridge.Call2[int32, int32, int32](ctx, thread, 1, 2, 3)
//
// # Callbacks
//
// Closures are registered for the duration of a scope and cross the
// boundary as a callback.ID:
//
//	err := nativebridge.WithCallback1(thread, func(ctx context.Context, n uint32) error {
//	    return visit(n)
//	}, func(id callback.ID) error {
//	    _, err := nativebridge.Call1[callback.ID, bincode.Unit](ctx, thread, forEach, id)
//	    return err
//	})
//
// An error returned by the closure aborts nothing on the native side; it is
// captured, the native call finishes, and the same error value is returned
// from the scope.
//
// # Handles
//
// Native objects are returned as resource.Handle values. Adopt them to tie
// their release to Go ownership:
//
//	owned := bctx.Adopt(h)
//	defer owned.Close(ctx)
//
// # Threads
//
// A Thread holds per-goroutine call state, including one argument buffer
// per nesting level so callbacks may call back into the peer. Use one
// Thread per goroutine; the Context itself is shared.
package nativebridge
