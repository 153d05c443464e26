package nativebridge

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/callback"
	"github.com/wippyai/native-bridge/dispatch"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/resource"
)

// Context is a marshaling context bound to one peer. It owns the codec
// cache, the callback table and the handle tracker. A Context is safe for
// concurrent use; the calls themselves run on Threads.
type Context struct {
	peer      Peer
	cache     *dispatch.Cache
	callbacks *callback.Table
	tracker   *resource.Tracker
	log       *zap.Logger
	cfg       bincode.Config
	closed    atomic.Bool
}

// Option configures a Context.
type Option func(*Context)

// WithConfig sets the wire configuration.
func WithConfig(cfg bincode.Config) Option {
	return func(c *Context) {
		c.cfg = cfg
	}
}

// WithLogger sets the context logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Context) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCache shares a codec cache between contexts that use the same wire
// configuration.
func WithCache(cache *dispatch.Cache) Option {
	return func(c *Context) {
		c.cache = cache
	}
}

// New creates a context for peer.
func New(peer Peer, opts ...Option) (*Context, error) {
	if peer == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindNilPointer).
			Detail("peer cannot be nil").
			Build()
	}
	c := &Context{
		peer: peer,
		cfg:  bincode.DefaultConfig(),
		log:  Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = dispatch.New(dispatch.WithLogger(c.log.Named("dispatch")))
	}
	c.callbacks = callback.NewTable(callback.WithLogger(c.log.Named("callback")))
	c.tracker = resource.NewTracker(peer, resource.WithTrackerLogger(c.log.Named("handle")))
	return c, nil
}

// Peer returns the bound peer.
func (c *Context) Peer() Peer { return c.peer }

// Config returns the wire configuration.
func (c *Context) Config() bincode.Config { return c.cfg }

// Cache returns the codec cache.
func (c *Context) Cache() *dispatch.Cache { return c.cache }

// Callbacks returns the callback table.
func (c *Context) Callbacks() *callback.Table { return c.callbacks }

// Tracker returns the handle tracker.
func (c *Context) Tracker() *resource.Tracker { return c.tracker }

// Logger returns the context logger.
func (c *Context) Logger() *zap.Logger { return c.log }

// Adopt takes ownership of a handle returned by the peer.
func (c *Context) Adopt(h resource.Handle) *resource.Owned {
	return c.tracker.Adopt(h)
}

// NewThread creates call state for one goroutine.
func (c *Context) NewThread() *Thread {
	return &Thread{bctx: c}
}

// Close releases queued handles and drops remaining callbacks. Calls made
// after Close fail.
func (c *Context) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.tracker.Sweep(ctx)
	if pending := c.tracker.Pending(); pending > 0 {
		c.log.Warn("handles still shared at close", zap.Int("pending", pending))
	}
	if cerr := c.callbacks.Close(); err == nil {
		err = cerr
	}
	return err
}
