package bincode

import "github.com/wippyai/native-bridge/errors"

// Helpers for hand-written Marshaler and Unmarshaler implementations.

// WriteOption writes o using fn for the payload.
func WriteOption[T any](w *Writer, o Option[T], fn func(*Writer, T) error) error {
	w.WriteOptionTag(o.Valid)
	if !o.Valid {
		return nil
	}
	return fn(w, o.Value)
}

// ReadOption reads an optional value using fn for the payload.
func ReadOption[T any](r *Reader, fn func(*Reader) (T, error)) (Option[T], error) {
	present, err := r.ReadOptionTag()
	if err != nil || !present {
		return Option[T]{}, err
	}
	if err := r.EnterContainer(); err != nil {
		return Option[T]{}, err
	}
	defer r.LeaveContainer()
	v, err := fn(r)
	if err != nil {
		return Option[T]{}, err
	}
	return Some(v), nil
}

// WriteSeq writes a length-prefixed sequence.
func WriteSeq[T any](w *Writer, items []T, fn func(*Writer, T) error) error {
	w.WriteLen(len(items))
	for _, it := range items {
		if err := fn(w, it); err != nil {
			return err
		}
	}
	return nil
}

// ReadSeq reads a length-prefixed sequence.
func ReadSeq[T any](r *Reader, fn func(*Reader) (T, error)) ([]T, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	defer r.LeaveContainer()
	out := make([]T, 0, min(n, r.Remaining()))
	for range n {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteFixed writes exactly size items with no length prefix. A length
// mismatch fails before anything is written.
func WriteFixed[T any](w *Writer, items []T, size int, fn func(*Writer, T) error) error {
	if len(items) != size {
		return errors.LengthMismatch(errors.PhaseEncode, nil, len(items), size)
	}
	for _, it := range items {
		if err := fn(w, it); err != nil {
			return err
		}
	}
	return nil
}

// ReadFixed reads exactly size items.
func ReadFixed[T any](r *Reader, size int, fn func(*Reader) (T, error)) ([]T, error) {
	out := make([]T, size)
	for i := range out {
		v, err := fn(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// WriteMap writes m with its entries in canonical key-byte order.
func WriteMap[K comparable, V any](w *Writer, m map[K]V, kf func(*Writer, K) error, vf func(*Writer, V) error) error {
	w.WriteLen(len(m))
	offsets := make([]int, 0, len(m))
	for k, v := range m {
		offsets = append(offsets, w.Len())
		if err := kf(w, k); err != nil {
			return err
		}
		if err := vf(w, v); err != nil {
			return err
		}
	}
	w.SortMapEntries(offsets)
	return nil
}

// ReadMap reads a map, rejecting keys that are not strictly increasing.
func ReadMap[K comparable, V any](r *Reader, kf func(*Reader) (K, error), vf func(*Reader) (V, error)) (map[K]V, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	if err := r.EnterContainer(); err != nil {
		return nil, err
	}
	defer r.LeaveContainer()
	out := make(map[K]V, min(n, r.Remaining()))
	var prev Span
	for i := range n {
		start := r.Offset()
		k, err := kf(r)
		if err != nil {
			return nil, err
		}
		key := r.SpanFrom(start)
		if i > 0 {
			if err := r.CheckKeyOrder(prev, key, i); err != nil {
				return nil, err
			}
		}
		prev = key
		v, err := vf(r)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
