package schema

import (
	"fmt"
	"strconv"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

// Value representation used by Encode and Decode:
//
//	bool                          bool
//	u8..u64, s8..s64              uint8..uint64, int8..int64
//	f32, f64                      float32, float64
//	char, string                  string
//	list<u8>                      []byte
//	list<T>, tuple<...>           []any
//	option<T>                     nil or the payload
//	enum                          case name
//	record                        map[string]any keyed by field name
//	variant, result               map[string]any{"case": name, "value": payload}
//	unit                          nil
//
// Encode also accepts the shapes produced by encoding/json: float64 and
// json.Number for integers, []any for list<u8>.

// Case and value keys of a variant or result.
const (
	CaseKey  = "case"
	ValueKey = "value"
)

// Result case names.
const (
	CaseOK  = "ok"
	CaseErr = "err"
)

// Encode writes v as type t.
func Encode(w *bincode.Writer, t wit.Type, v any) error {
	switch t := t.(type) {
	case nil:
		return nil
	case wit.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(v, "bool")
		}
		w.WriteBool(b)
		return nil
	case wit.U8:
		n, err := toUint(v, 8, "u8")
		if err != nil {
			return err
		}
		w.WriteU8(uint8(n))
		return nil
	case wit.U16:
		n, err := toUint(v, 16, "u16")
		if err != nil {
			return err
		}
		w.WriteU16(uint16(n))
		return nil
	case wit.U32:
		n, err := toUint(v, 32, "u32")
		if err != nil {
			return err
		}
		w.WriteU32(uint32(n))
		return nil
	case wit.U64:
		n, err := toUint(v, 64, "u64")
		if err != nil {
			return err
		}
		w.WriteU64(n)
		return nil
	case wit.S8:
		n, err := toInt(v, 8, "s8")
		if err != nil {
			return err
		}
		w.WriteI8(int8(n))
		return nil
	case wit.S16:
		n, err := toInt(v, 16, "s16")
		if err != nil {
			return err
		}
		w.WriteI16(int16(n))
		return nil
	case wit.S32:
		n, err := toInt(v, 32, "s32")
		if err != nil {
			return err
		}
		w.WriteI32(int32(n))
		return nil
	case wit.S64:
		n, err := toInt(v, 64, "s64")
		if err != nil {
			return err
		}
		w.WriteI64(n)
		return nil
	case wit.F32:
		f, err := toFloat(v, "f32")
		if err != nil {
			return err
		}
		w.WriteF32(float32(f))
		return nil
	case wit.F64:
		f, err := toFloat(v, "f64")
		if err != nil {
			return err
		}
		w.WriteF64(f)
		return nil
	case wit.Char:
		r, err := toChar(v)
		if err != nil {
			return err
		}
		return w.WriteChar(bincode.Char(r))
	case wit.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(v, "string")
		}
		return w.WriteString(s)
	case *wit.TypeDef:
		return encodeDef(w, t, v)
	}
	return errors.Unsupported(errors.PhaseEncode, fmt.Sprintf("type %T", t))
}

func encodeDef(w *bincode.Writer, td *wit.TypeDef, v any) error {
	switch k := td.Kind.(type) {
	case *wit.List:
		return encodeList(w, k.Type, v)
	case *wit.Option:
		if v == nil {
			w.WriteOptionTag(false)
			return nil
		}
		w.WriteOptionTag(true)
		return nested(w, "[some]", func() error { return Encode(w, k.Type, v) })
	case *wit.Tuple:
		items, ok := v.([]any)
		if !ok {
			return mismatch(v, "tuple")
		}
		if len(items) != len(k.Types) {
			return errors.LengthMismatch(errors.PhaseEncode, nil, len(items), len(k.Types))
		}
		return nestedSeq(w, k.Types, items)
	case *wit.Enum:
		name, ok := v.(string)
		if !ok {
			return mismatch(v, "enum")
		}
		for i, c := range k.Cases {
			if c.Name == name {
				w.WriteVariantIndex(uint32(i))
				return nil
			}
		}
		return unknownCase(name)
	case *wit.Record:
		m, ok := v.(map[string]any)
		if !ok {
			return mismatch(v, "record")
		}
		if len(m) != len(k.Fields) {
			if err := extraFields(m, k.Fields); err != nil {
				return err
			}
		}
		return nested(w, "", func() error {
			for _, f := range k.Fields {
				fv, ok := m[f.Name]
				if !ok && f.Type != nil {
					if _, isOpt := optionOf(f.Type); !isOpt {
						return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
							Path(f.Name).
							Detail("missing record field").
							Build()
					}
				}
				if err := Encode(w, f.Type, fv); err != nil {
					return withPath(err, f.Name)
				}
			}
			return nil
		})
	case *wit.Variant:
		return encodeCase(w, k.Cases, v)
	case *wit.Result:
		return encodeCase(w, resultCases(k), v)
	}
	return errors.Unsupported(errors.PhaseEncode, fmt.Sprintf("type %T", td.Kind))
}

func encodeList(w *bincode.Writer, elem wit.Type, v any) error {
	if _, ok := elem.(wit.U8); ok {
		if b, ok := v.([]byte); ok {
			w.WriteBytes(b)
			return nil
		}
	}
	items, ok := v.([]any)
	if !ok {
		return mismatch(v, "list")
	}
	w.WriteLen(len(items))
	return nested(w, "", func() error {
		for i, item := range items {
			if err := Encode(w, elem, item); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		return nil
	})
}

func nestedSeq(w *bincode.Writer, types []wit.Type, items []any) error {
	return nested(w, "", func() error {
		for i, t := range types {
			if err := Encode(w, t, items[i]); err != nil {
				return withPath(err, indexPath(i))
			}
		}
		return nil
	})
}

func encodeCase(w *bincode.Writer, cases []wit.Case, v any) error {
	m, ok := v.(map[string]any)
	if !ok {
		return mismatch(v, "variant")
	}
	name, ok := m[CaseKey].(string)
	if !ok {
		return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Detail("variant value needs a %q name", CaseKey).
			Build()
	}
	for i, c := range cases {
		if c.Name != name {
			continue
		}
		w.WriteVariantIndex(uint32(i))
		if c.Type == nil {
			return nil
		}
		return nested(w, "<"+name+">", func() error { return Encode(w, c.Type, m[ValueKey]) })
	}
	return unknownCase(name)
}

// Decode reads one value of type t.
func Decode(r *bincode.Reader, t wit.Type) (any, error) {
	switch t := t.(type) {
	case nil:
		return nil, nil
	case wit.Bool:
		return r.ReadBool()
	case wit.U8:
		return r.ReadU8()
	case wit.U16:
		return r.ReadU16()
	case wit.U32:
		return r.ReadU32()
	case wit.U64:
		return r.ReadU64()
	case wit.S8:
		return r.ReadI8()
	case wit.S16:
		return r.ReadI16()
	case wit.S32:
		return r.ReadI32()
	case wit.S64:
		return r.ReadI64()
	case wit.F32:
		return r.ReadF32()
	case wit.F64:
		return r.ReadF64()
	case wit.Char:
		c, err := r.ReadChar()
		if err != nil {
			return nil, err
		}
		return string(rune(c)), nil
	case wit.String:
		return r.ReadString()
	case *wit.TypeDef:
		return decodeDef(r, t)
	}
	return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("type %T", t))
}

func decodeDef(r *bincode.Reader, td *wit.TypeDef) (any, error) {
	switch k := td.Kind.(type) {
	case *wit.List:
		if _, ok := k.Type.(wit.U8); ok {
			return r.ReadBytes()
		}
		n, err := r.ReadLen()
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, min(n, r.Remaining()))
		err = enter(r, "", func() error {
			for i := range n {
				v, err := Decode(r, k.Type)
				if err != nil {
					return withPath(err, indexPath(i))
				}
				items = append(items, v)
			}
			return nil
		})
		return items, err
	case *wit.Option:
		some, err := r.ReadOptionTag()
		if err != nil || !some {
			return nil, err
		}
		var v any
		err = enter(r, "[some]", func() error {
			v, err = Decode(r, k.Type)
			return err
		})
		return v, err
	case *wit.Tuple:
		items := make([]any, len(k.Types))
		err := enter(r, "", func() error {
			for i, t := range k.Types {
				v, err := Decode(r, t)
				if err != nil {
					return withPath(err, indexPath(i))
				}
				items[i] = v
			}
			return nil
		})
		return items, err
	case *wit.Enum:
		i, err := r.ReadVariantIndex(uint32(len(k.Cases)))
		if err != nil {
			return nil, err
		}
		return k.Cases[i].Name, nil
	case *wit.Record:
		m := make(map[string]any, len(k.Fields))
		err := enter(r, "", func() error {
			for _, f := range k.Fields {
				v, err := Decode(r, f.Type)
				if err != nil {
					return withPath(err, f.Name)
				}
				m[f.Name] = v
			}
			return nil
		})
		return m, err
	case *wit.Variant:
		return decodeCase(r, k.Cases)
	case *wit.Result:
		return decodeCase(r, resultCases(k))
	}
	return nil, errors.Unsupported(errors.PhaseDecode, fmt.Sprintf("type %T", td.Kind))
}

func decodeCase(r *bincode.Reader, cases []wit.Case) (any, error) {
	i, err := r.ReadVariantIndex(uint32(len(cases)))
	if err != nil {
		return nil, err
	}
	c := cases[i]
	m := map[string]any{CaseKey: c.Name}
	if c.Type == nil {
		return m, nil
	}
	err = enter(r, "<"+c.Name+">", func() error {
		v, err := Decode(r, c.Type)
		m[ValueKey] = v
		return err
	})
	return m, err
}

func resultCases(k *wit.Result) []wit.Case {
	return []wit.Case{{Name: CaseOK, Type: k.OK}, {Name: CaseErr, Type: k.Err}}
}

func optionOf(t wit.Type) (wit.Type, bool) {
	td, ok := t.(*wit.TypeDef)
	if !ok {
		return nil, false
	}
	o, ok := td.Kind.(*wit.Option)
	if !ok {
		return nil, false
	}
	return o.Type, true
}

func nested(w *bincode.Writer, seg string, fn func() error) error {
	if err := w.EnterContainer(); err != nil {
		return err
	}
	defer w.LeaveContainer()
	if err := fn(); err != nil {
		if seg != "" {
			return withPath(err, seg)
		}
		return err
	}
	return nil
}

func enter(r *bincode.Reader, seg string, fn func() error) error {
	if err := r.EnterContainer(); err != nil {
		return err
	}
	defer r.LeaveContainer()
	if err := fn(); err != nil {
		if seg != "" {
			return withPath(err, seg)
		}
		return err
	}
	return nil
}

func extraFields(m map[string]any, fields []wit.Field) error {
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}
	for name := range m {
		if !known[name] {
			return errors.New(errors.PhaseEncode, errors.KindInvalidInput).
				Path(name).
				Detail("unknown record field").
				Build()
		}
	}
	return nil
}

func unknownCase(name string) error {
	return errors.New(errors.PhaseEncode, errors.KindInvalidVariant).
		Value(name).
		Detail("unknown case %q", name).
		Build()
}

func mismatch(v any, wire string) error {
	return errors.TypeMismatch(errors.PhaseEncode, nil, fmt.Sprintf("%T", v), wire)
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
