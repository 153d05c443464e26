package dispatch

import (
	"reflect"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

// Codec is a typed view of a resolved entry.
type Codec[T any] struct {
	entry *Entry
}

// For resolves the codec for T.
func For[T any](c *Cache) (Codec[T], error) {
	e, err := c.Resolve(reflect.TypeFor[T]())
	if err != nil {
		return Codec[T]{}, err
	}
	return Codec[T]{entry: e}, nil
}

// Entry returns the underlying entry.
func (c Codec[T]) Entry() *Entry {
	return c.entry
}

// Encode writes v.
func (c Codec[T]) Encode(w *bincode.Writer, v T) error {
	return c.entry.Encode(w, reflect.ValueOf(&v).Elem())
}

// Decode reads one value.
func (c Codec[T]) Decode(r *bincode.Reader) (T, error) {
	var v T
	err := c.entry.Decode(r, reflect.ValueOf(&v).Elem())
	return v, err
}

// Register publishes a hand-written codec for T. It fails if T already has
// a published entry.
func Register[T any](c *Cache, enc func(*bincode.Writer, T) error, dec func(*bincode.Reader) (T, error)) error {
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Interface {
		return errors.New(errors.PhaseResolve, errors.KindUnsupported).
			GoType(t.String()).
			Detail("cannot register a codec for an interface type").
			Build()
	}
	e := &Entry{
		Type: t,
		Encode: func(w *bincode.Writer, v reflect.Value) error {
			return enc(w, v.Interface().(T))
		},
		Decode: func(r *bincode.Reader, v reflect.Value) error {
			if err := r.EnterContainer(); err != nil {
				return err
			}
			defer r.LeaveContainer()
			x, err := dec(r)
			if err != nil {
				return err
			}
			v.Set(reflect.ValueOf(&x).Elem())
			return nil
		},
	}
	if actual := c.publish(e); actual != e {
		return errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			GoType(t.String()).
			Detail("a codec is already published for this type").
			Build()
	}
	return nil
}

// RegisterStruct derives and publishes a field-by-field codec for the struct
// type T and for every struct type reachable from its fields that has no
// codec yet.
func RegisterStruct[T any](c *Cache) error {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return errors.TypeMismatch(errors.PhaseResolve, nil, t.String(), "struct")
	}
	if _, ok := c.Lookup(t); ok {
		return nil
	}
	_, err := c.build(t, true)
	return err
}

// Marshal encodes v into a fresh byte slice.
func Marshal[T any](c *Cache, cfg bincode.Config, v T) ([]byte, error) {
	codec, err := For[T](c)
	if err != nil {
		return nil, err
	}
	return bincode.Marshal(cfg, func(w *bincode.Writer) error {
		return codec.Encode(w, v)
	})
}

// Unmarshal decodes data as a T, requiring all input to be consumed.
func Unmarshal[T any](c *Cache, cfg bincode.Config, data []byte) (T, error) {
	var zero T
	codec, err := For[T](c)
	if err != nil {
		return zero, err
	}
	r := bincode.NewReader(data, cfg)
	v, err := codec.Decode(r)
	if err != nil {
		return zero, err
	}
	if err := r.Finish(); err != nil {
		return zero, err
	}
	return v, nil
}
