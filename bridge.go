package nativebridge

import (
	"context"

	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/resource"
)

// Ordinal identifies a native function. The set of ordinals is fixed and
// shared with the peer; an ordinal never changes meaning between versions.
type Ordinal uint32

// Result is what a peer returns from one invocation. On success Payload is
// the encoded return value; on failure it is a UTF-8 error message. Payload
// belongs to the peer and is only valid until the next call on the same
// thread.
type Result struct {
	Payload []byte
	OK      bool
}

// Peer is the native side of the bridge.
type Peer interface {
	// Invoke runs fn with encoded args. Callbacks issued during the call go
	// through cb on the calling goroutine. A returned error is a peer fault,
	// such as a trap; a failed native operation returns Result.OK == false.
	Invoke(ctx context.Context, fn Ordinal, args []byte, cb callback.Invoker) (Result, error)

	resource.Releaser
}
