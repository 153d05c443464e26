// Package wasm implements a native peer backed by a WebAssembly module
// running on wazero.
//
// The guest exports its memory and two functions:
//
//	bridge_alloc(size i32) -> i32
//	bridge_invoke(fn i32, args_ptr i32, args_len i32) -> i32
//
// bridge_invoke returns the address of a {status, ptr, len} record of three
// little-endian u32 values; status 0 means ptr/len hold the encoded result,
// status 1 means they hold a UTF-8 error message. Guests that hand out
// handles also export bridge_release(addr i64, meta i64) and optionally
// bridge_refcount(addr i64, meta i64) -> i32.
//
// Callbacks are reached through the host import bridge.callback(id i64,
// ptr i32, len i32) -> i32, which returns the callback.StatusCode.
//
//	peer, err := wasm.Load(ctx, module, wasm.WithMemoryLimitPages(256))
//	defer peer.Close(ctx)
//	bctx, err := nativebridge.New(peer)
package wasm
