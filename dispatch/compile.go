package dispatch

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

// compile fills e in resolution order: named wire types, enumerations,
// user codecs, scalar kinds, generic shapes, then derived structs.
func (s *session) compile(e *Entry, path []string) error {
	t := e.Type

	if b, ok := exactBuiltin(t); ok {
		e.Encode, e.Decode = b.Encode, b.Decode
		return nil
	}
	if isEnum(t) {
		return s.compileEnum(e, path)
	}
	if hasCodec(t) {
		return s.compileUserCodec(e, path)
	}
	if b, ok := primitive(t); ok {
		e.Encode, e.Decode, e.Blittable = b.Encode, b.Decode, b.Blittable
		return nil
	}

	switch {
	case bincode.IsOption(t):
		return s.compileOption(e, path)
	case bincode.IsTuple(t):
		return s.compileTuple(e, path)
	}

	switch t.Kind() {
	case reflect.Pointer:
		return s.compilePointer(e, path)
	case reflect.Slice:
		return s.compileSlice(e, path)
	case reflect.Array:
		return s.compileArray(e, path)
	case reflect.Map:
		return s.compileMap(e, path)
	case reflect.Struct:
		if s.derive {
			return s.compileStruct(e, path)
		}
	}
	return errors.NoCodec(path, t.String())
}

func isEnum(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
	default:
		return false
	}
	return t.Implements(enumType) || reflect.PointerTo(t).Implements(enumType)
}

func hasCodec(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface:
		return false
	}
	enc := t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType)
	return enc && reflect.PointerTo(t).Implements(unmarshalerType)
}

func variantCount(t reflect.Type) uint32 {
	if t.Implements(enumType) {
		return reflect.Zero(t).Interface().(bincode.Enum).VariantCount()
	}
	return reflect.New(t).Interface().(bincode.Enum).VariantCount()
}

func (s *session) compileEnum(e *Entry, path []string) error {
	t := e.Type
	count := variantCount(t)
	if count == 0 {
		return errors.New(errors.PhaseResolve, errors.KindInvalidInput).
			Path(path...).
			GoType(t.String()).
			Detail("enumeration declares no variants").
			Build()
	}
	signed := t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		var idx uint64
		if signed {
			if v.Int() < 0 {
				return errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
					GoType(t.String()).
					Value(v.Int()).
					Detail("negative variant %d", v.Int()).
					Build()
			}
			idx = uint64(v.Int())
		} else {
			idx = v.Uint()
		}
		if idx >= uint64(count) {
			return errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
				GoType(t.String()).
				Value(idx).
				Detail("variant %d out of range (%d variants)", idx, count).
				Build()
		}
		w.WriteVariantIndex(uint32(idx))
		return nil
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		idx, err := r.ReadVariantIndex(count)
		if err != nil {
			return err
		}
		if signed {
			if v.OverflowInt(int64(idx)) {
				return overflow(idx, t)
			}
			v.SetInt(int64(idx))
		} else {
			if v.OverflowUint(uint64(idx)) {
				return overflow(idx, t)
			}
			v.SetUint(uint64(idx))
		}
		return nil
	}
	return nil
}

func (s *session) compileUserCodec(e *Entry, _ []string) error {
	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		m, ok := v.Interface().(bincode.Marshaler)
		if !ok {
			m = addressable(v).Addr().Interface().(bincode.Marshaler)
		}
		return m.MarshalBincode(w)
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		if err := r.EnterContainer(); err != nil {
			return err
		}
		defer r.LeaveContainer()
		return v.Addr().Interface().(bincode.Unmarshaler).UnmarshalBincode(r)
	}
	return nil
}

func (s *session) compileOption(e *Entry, path []string) error {
	t := e.Type
	field, _ := t.FieldByName("Value")
	elem, err := s.resolve(field.Type, appendPath(path, "[some]"))
	if err != nil {
		return err
	}
	valueIdx := field.Index[0]
	valid, _ := t.FieldByName("Valid")
	validIdx := valid.Index[0]

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		present := v.Field(validIdx).Bool()
		w.WriteOptionTag(present)
		if !present {
			return nil
		}
		return encodeNested(w, elem, v.Field(valueIdx), "[some]")
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		present, err := r.ReadOptionTag()
		if err != nil || !present {
			return err
		}
		if err := decodeNested(r, elem, v.Field(valueIdx), "[some]"); err != nil {
			return err
		}
		v.Field(validIdx).SetBool(true)
		return nil
	}
	return nil
}

// compilePointer treats *T as a nullable T.
func (s *session) compilePointer(e *Entry, path []string) error {
	t := e.Type
	elem, err := s.resolve(t.Elem(), appendPath(path, "[some]"))
	if err != nil {
		return err
	}

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		if v.IsNil() {
			w.WriteOptionTag(false)
			return nil
		}
		w.WriteOptionTag(true)
		return encodeNested(w, elem, v.Elem(), "[some]")
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		present, err := r.ReadOptionTag()
		if err != nil {
			return err
		}
		if !present {
			v.SetZero()
			return nil
		}
		p := reflect.New(t.Elem())
		if err := decodeNested(r, elem, p.Elem(), "[some]"); err != nil {
			return err
		}
		v.Set(p)
		return nil
	}
	return nil
}

func (s *session) compileTuple(e *Entry, path []string) error {
	t := e.Type
	elems := make([]*Entry, t.NumField())
	for i := range elems {
		f := t.Field(i)
		fe, err := s.resolve(f.Type, appendPath(path, f.Name))
		if err != nil {
			return err
		}
		elems[i] = fe
	}
	e.Encode, e.Decode = fieldCodecs(elems, identityIndex(len(elems)), fieldNames(t))
	return nil
}

func (s *session) compileSlice(e *Entry, path []string) error {
	t := e.Type
	if t.Elem().Kind() == reflect.Uint8 && !isEnum(t.Elem()) && !hasCodec(t.Elem()) {
		b := bytesEntry()
		e.Encode, e.Decode = b.Encode, b.Decode
		return nil
	}
	elem, err := s.resolve(t.Elem(), appendPath(path, "[elem]"))
	if err != nil {
		return err
	}
	size := int(t.Elem().Size())

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		n := v.Len()
		w.WriteLen(n)
		if elem.Blittable && w.CanBlit() {
			w.WriteRaw(rawBytes(v.UnsafePointer(), n, size))
			return nil
		}
		if err := w.EnterContainer(); err != nil {
			return err
		}
		defer w.LeaveContainer()
		for i := 0; i < n; i++ {
			if err := elem.Encode(w, v.Index(i)); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		return nil
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		n, err := r.ReadLen()
		if err != nil {
			return err
		}
		if elem.Blittable && r.CanBlit() {
			p, err := r.ReadRaw(n * size)
			if err != nil {
				return err
			}
			out := reflect.MakeSlice(t, n, n)
			copy(rawBytes(out.UnsafePointer(), n, size), p)
			v.Set(out)
			return nil
		}
		if err := r.EnterContainer(); err != nil {
			return err
		}
		defer r.LeaveContainer()

		out := reflect.New(t).Elem()
		out.Set(reflect.MakeSlice(t, 0, min(n, r.Remaining())))
		for i := 0; i < n; i++ {
			out.Grow(1)
			out.SetLen(i + 1)
			if err := elem.Decode(r, out.Index(i)); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		v.Set(out)
		return nil
	}
	return nil
}

func (s *session) compileArray(e *Entry, path []string) error {
	t := e.Type
	elem, err := s.resolve(t.Elem(), appendPath(path, "[elem]"))
	if err != nil {
		return err
	}
	n := t.Len()
	size := int(t.Elem().Size())
	e.Blittable = elem.Blittable

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		if elem.Blittable && w.CanBlit() {
			w.WriteRaw(rawBytes(addressable(v).Addr().UnsafePointer(), n, size))
			return nil
		}
		if err := w.EnterContainer(); err != nil {
			return err
		}
		defer w.LeaveContainer()
		for i := 0; i < n; i++ {
			if err := elem.Encode(w, v.Index(i)); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		return nil
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		if elem.Blittable && r.CanBlit() {
			p, err := r.ReadRaw(n * size)
			if err != nil {
				return err
			}
			copy(rawBytes(v.Addr().UnsafePointer(), n, size), p)
			return nil
		}
		if err := r.EnterContainer(); err != nil {
			return err
		}
		defer r.LeaveContainer()
		for i := 0; i < n; i++ {
			if err := elem.Decode(r, v.Index(i)); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		return nil
	}
	return nil
}

// compileMap writes entries in canonical key-byte order and rejects
// out-of-order keys when reading.
func (s *session) compileMap(e *Entry, path []string) error {
	t := e.Type
	key, err := s.resolve(t.Key(), appendPath(path, "[key]"))
	if err != nil {
		return err
	}
	val, err := s.resolve(t.Elem(), appendPath(path, "[value]"))
	if err != nil {
		return err
	}

	e.Encode = func(w *bincode.Writer, v reflect.Value) error {
		w.WriteLen(v.Len())
		if err := w.EnterContainer(); err != nil {
			return err
		}
		defer w.LeaveContainer()

		offsets := make([]int, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			offsets = append(offsets, w.Len())
			if err := key.Encode(w, iter.Key()); err != nil {
				return withPath(err, "[key]")
			}
			if err := val.Encode(w, iter.Value()); err != nil {
				return withPath(err, fmt.Sprint(iter.Key().Interface()))
			}
		}
		w.SortMapEntries(offsets)
		return nil
	}
	e.Decode = func(r *bincode.Reader, v reflect.Value) error {
		n, err := r.ReadLen()
		if err != nil {
			return err
		}
		if err := r.EnterContainer(); err != nil {
			return err
		}
		defer r.LeaveContainer()

		out := reflect.MakeMapWithSize(t, min(n, r.Remaining()))
		var prev bincode.Span
		for i := 0; i < n; i++ {
			start := r.Offset()
			k := reflect.New(t.Key()).Elem()
			if err := key.Decode(r, k); err != nil {
				return withPath(err, "[key]")
			}
			span := r.SpanFrom(start)
			if i > 0 {
				if err := r.CheckKeyOrder(prev, span, i); err != nil {
					return err
				}
			}
			prev = span
			x := reflect.New(t.Elem()).Elem()
			if err := val.Decode(r, x); err != nil {
				return withPath(err, fmt.Sprint(k.Interface()))
			}
			out.SetMapIndex(k, x)
		}
		v.Set(out)
		return nil
	}
	return nil
}

// compileStruct derives a field-by-field codec in declaration order.
// Tags: `bincode:"-"` skips a field, `bincode:"fixed=N"` writes a slice
// field as an N-element array without a length.
func (s *session) compileStruct(e *Entry, path []string) error {
	t := e.Type
	var (
		elems   []*Entry
		indexes []int
		names   []string
		fixed   = map[int]int{}
		sum     uintptr
	)
	skipped := false

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("bincode")
		if tag == "-" {
			skipped = true
			continue
		}
		if !f.IsExported() {
			return errors.New(errors.PhaseResolve, errors.KindUnsupported).
				Path(appendPath(path, f.Name)...).
				GoType(t.String()).
				Detail("unexported field %s needs a `bincode:\"-\"` tag", f.Name).
				Build()
		}

		fieldType := f.Type
		if size, ok, err := parseFixed(tag); err != nil {
			return errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				Path(appendPath(path, f.Name)...).
				Detail("bad bincode tag %q", tag).
				Cause(err).
				Build()
		} else if ok {
			if fieldType.Kind() != reflect.Slice {
				return errors.TypeMismatch(errors.PhaseResolve, appendPath(path, f.Name), fieldType.String(), "fixed array")
			}
			fixed[len(elems)] = size
			fieldType = fieldType.Elem()
		}

		fe, err := s.resolve(fieldType, appendPath(path, f.Name))
		if err != nil {
			return err
		}
		elems = append(elems, fe)
		indexes = append(indexes, i)
		names = append(names, f.Name)
		sum += f.Type.Size()
	}

	if len(fixed) > 0 {
		for pos, size := range fixed {
			elems[pos] = fixedEntry(elems[pos], size)
		}
	}

	blit := !skipped && len(fixed) == 0 && sum == t.Size() && len(elems) > 0
	for _, fe := range elems {
		blit = blit && fe.Blittable
	}
	e.Blittable = blit
	e.Encode, e.Decode = fieldCodecs(elems, indexes, names)
	return nil
}

func parseFixed(tag string) (int, bool, error) {
	for _, part := range strings.Split(tag, ",") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(part), "fixed="); ok {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return 0, false, fmt.Errorf("invalid fixed size %q", v)
			}
			return n, true, nil
		}
	}
	return 0, false, nil
}

// fixedEntry wraps the element codec of a slice field declared with a fixed
// size. A length mismatch fails before any element is written.
func fixedEntry(elem *Entry, size int) *Entry {
	return &Entry{
		Encode: func(w *bincode.Writer, v reflect.Value) error {
			if v.Len() != size {
				return errors.LengthMismatch(errors.PhaseEncode, nil, v.Len(), size)
			}
			for i := 0; i < size; i++ {
				if err := elem.Encode(w, v.Index(i)); err != nil {
					return withPath(err, indexPath(i))
				}
			}
			return nil
		},
		Decode: func(r *bincode.Reader, v reflect.Value) error {
			out := reflect.MakeSlice(v.Type(), size, size)
			for i := 0; i < size; i++ {
				if err := elem.Decode(r, out.Index(i)); err != nil {
					return withPath(err, indexPath(i))
				}
			}
			v.Set(out)
			return nil
		},
	}
}

// fieldCodecs builds encode and decode functions over the given struct
// fields. Decoding counts as one container level.
func fieldCodecs(elems []*Entry, indexes []int, names []string) (EncodeFunc, DecodeFunc) {
	enc := func(w *bincode.Writer, v reflect.Value) error {
		if err := w.EnterContainer(); err != nil {
			return err
		}
		defer w.LeaveContainer()
		for i, fe := range elems {
			if err := fe.Encode(w, v.Field(indexes[i])); err != nil {
				return withPath(err, names[i])
			}
		}
		return nil
	}
	dec := func(r *bincode.Reader, v reflect.Value) error {
		if err := r.EnterContainer(); err != nil {
			return err
		}
		defer r.LeaveContainer()
		for i, fe := range elems {
			if err := fe.Decode(r, v.Field(indexes[i])); err != nil {
				return withPath(err, names[i])
			}
		}
		return nil
	}
	return enc, dec
}

func encodeNested(w *bincode.Writer, e *Entry, v reflect.Value, seg string) error {
	if err := w.EnterContainer(); err != nil {
		return err
	}
	defer w.LeaveContainer()
	if err := e.Encode(w, v); err != nil {
		return withPath(err, seg)
	}
	return nil
}

func decodeNested(r *bincode.Reader, e *Entry, v reflect.Value, seg string) error {
	if err := r.EnterContainer(); err != nil {
		return err
	}
	defer r.LeaveContainer()
	if err := e.Decode(r, v); err != nil {
		return withPath(err, seg)
	}
	return nil
}

func identityIndex(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func fieldNames(t reflect.Type) []string {
	names := make([]string, t.NumField())
	for i := range names {
		names[i] = t.Field(i).Name
	}
	return names
}

// addressable returns v itself when addressable, otherwise an addressable copy.
func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v
	}
	p := reflect.New(v.Type()).Elem()
	p.Set(v)
	return p
}

func appendPath(path []string, seg string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, seg)
}

func indexPath(i int) string {
	return "[" + strconv.Itoa(i) + "]"
}

func withPath(err error, seg string) error {
	if e, ok := err.(*errors.Error); ok {
		return e.WithPath(seg)
	}
	return err
}

func overflow(v any, t reflect.Type) error {
	return errors.Overflow(errors.PhaseDecode, nil, v, t.String())
}
