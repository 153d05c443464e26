package dispatch

import (
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

// EncodeFunc writes v, a value of the entry's type.
type EncodeFunc func(w *bincode.Writer, v reflect.Value) error

// DecodeFunc reads into v, a settable value of the entry's type.
type DecodeFunc func(r *bincode.Reader, v reflect.Value) error

// Entry is the resolved codec for one Go type. Entries are immutable once
// published and may be shared freely between goroutines.
type Entry struct {
	Type   reflect.Type
	Encode EncodeFunc
	Decode DecodeFunc

	// Blittable marks fixed-width numeric layouts without padding whose
	// memory image equals their fixint wire form.
	Blittable bool
}

// Cache maps Go types to codec entries. Each bridge context owns one.
type Cache struct {
	entries   sync.Map // reflect.Type -> *Entry
	group     singleflight.Group
	published atomic.Int64
	log       *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for resolution events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Published returns the number of entries published so far.
func (c *Cache) Published() int {
	return int(c.published.Load())
}

// Resolve returns the entry for t, computing and publishing it on first use.
// Concurrent first resolutions of the same type converge on one entry.
func (c *Cache) Resolve(t reflect.Type) (*Entry, error) {
	if t == nil {
		return nil, errors.New(errors.PhaseResolve, errors.KindNilPointer).
			Detail("type cannot be nil").
			Build()
	}
	if e, ok := c.entries.Load(t); ok {
		return e.(*Entry), nil
	}

	v, err, _ := c.group.Do(t.String(), func() (any, error) {
		if e, ok := c.entries.Load(t); ok {
			return e, nil
		}
		return c.build(t, false)
	})
	if err != nil {
		return nil, err
	}
	e := v.(*Entry)
	if e.Type != t {
		// Distinct types with the same printed name shared a flight.
		return c.build(t, false)
	}
	return e, nil
}

// Lookup returns the published entry for t without resolving it.
func (c *Cache) Lookup(t reflect.Type) (*Entry, bool) {
	e, ok := c.entries.Load(t)
	if !ok {
		return nil, false
	}
	return e.(*Entry), true
}

// build compiles t and everything it references, then publishes the new
// entries. Nothing is published when any part fails.
func (c *Cache) build(t reflect.Type, derive bool) (*Entry, error) {
	s := &session{
		cache:   c,
		derive:  derive,
		pending: make(map[reflect.Type]*Entry),
	}
	if _, err := s.resolve(t, nil); err != nil {
		return nil, err
	}

	var root *Entry
	for _, e := range s.order {
		actual := c.publish(e)
		if e.Type == t {
			root = actual
		}
	}
	return root, nil
}

func (c *Cache) publish(e *Entry) *Entry {
	actual, loaded := c.entries.LoadOrStore(e.Type, e)
	if !loaded {
		c.published.Add(1)
		c.log.Debug("dispatch entry published",
			zap.Stringer("type", e.Type),
			zap.Bool("blittable", e.Blittable))
	}
	return actual.(*Entry)
}

// session tracks one resolution pass. Entries under construction live in
// pending so recursive types can refer to themselves.
type session struct {
	cache   *Cache
	derive  bool
	pending map[reflect.Type]*Entry
	order   []*Entry
}

func (s *session) resolve(t reflect.Type, path []string) (*Entry, error) {
	if e, ok := s.cache.entries.Load(t); ok {
		return e.(*Entry), nil
	}
	if e, ok := s.pending[t]; ok {
		return e, nil
	}

	e := &Entry{Type: t}
	s.pending[t] = e
	if err := s.compile(e, path); err != nil {
		delete(s.pending, t)
		return nil, err
	}
	s.order = append(s.order, e)
	return e, nil
}
