package dispatch

import (
	"reflect"
	"unsafe"

	"github.com/wippyai/native-bridge/bincode"
)

var (
	marshalerType   = reflect.TypeFor[bincode.Marshaler]()
	unmarshalerType = reflect.TypeFor[bincode.Unmarshaler]()
	enumType        = reflect.TypeFor[bincode.Enum]()
	charType        = reflect.TypeFor[bincode.Char]()
	u128Type        = reflect.TypeFor[bincode.Uint128]()
	i128Type        = reflect.TypeFor[bincode.Int128]()
	unitType        = reflect.TypeFor[bincode.Unit]()
	emptyStructType = reflect.TypeFor[struct{}]()
)

// exactBuiltin covers the named wire types that share a Go kind with
// something else (Char is an int32, the 128-bit integers are structs).
func exactBuiltin(t reflect.Type) (*Entry, bool) {
	switch t {
	case charType:
		return &Entry{
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				return w.WriteChar(bincode.Char(v.Int()))
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				c, err := r.ReadChar()
				if err != nil {
					return err
				}
				v.SetInt(int64(c))
				return nil
			},
		}, true
	case u128Type:
		return &Entry{
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteU128(bincode.Uint128{Lo: v.Field(0).Uint(), Hi: v.Field(1).Uint()})
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadU128()
				if err != nil {
					return err
				}
				v.Field(0).SetUint(x.Lo)
				v.Field(1).SetUint(x.Hi)
				return nil
			},
		}, true
	case i128Type:
		return &Entry{
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteI128(bincode.Int128{Lo: v.Field(0).Uint(), Hi: v.Field(1).Int()})
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadI128()
				if err != nil {
					return err
				}
				v.Field(0).SetUint(x.Lo)
				v.Field(1).SetInt(x.Hi)
				return nil
			},
		}, true
	case unitType, emptyStructType:
		return &Entry{
			Encode: func(*bincode.Writer, reflect.Value) error { return nil },
			Decode: func(*bincode.Reader, reflect.Value) error { return nil },
		}, true
	}
	return nil, false
}

// primitive returns the codec for scalar kinds. int and uint travel as
// 64-bit values.
func primitive(t reflect.Type) (*Entry, bool) {
	switch t.Kind() {
	case reflect.Bool:
		return &Entry{
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteBool(v.Bool())
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				b, err := r.ReadBool()
				v.SetBool(b)
				return err
			},
		}, true
	case reflect.Int8:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteI8(int8(v.Int()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadI8()
				v.SetInt(int64(x))
				return err
			},
		}, true
	case reflect.Int16:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteI16(int16(v.Int()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadI16()
				v.SetInt(int64(x))
				return err
			},
		}, true
	case reflect.Int32:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteI32(int32(v.Int()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadI32()
				v.SetInt(int64(x))
				return err
			},
		}, true
	case reflect.Int64, reflect.Int:
		return &Entry{
			Blittable: t.Kind() == reflect.Int64,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteI64(v.Int())
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadI64()
				if err != nil {
					return err
				}
				if v.OverflowInt(x) {
					return overflow(x, t)
				}
				v.SetInt(x)
				return nil
			},
		}, true
	case reflect.Uint8:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteU8(uint8(v.Uint()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadU8()
				v.SetUint(uint64(x))
				return err
			},
		}, true
	case reflect.Uint16:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteU16(uint16(v.Uint()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadU16()
				v.SetUint(uint64(x))
				return err
			},
		}, true
	case reflect.Uint32:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteU32(uint32(v.Uint()))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadU32()
				v.SetUint(uint64(x))
				return err
			},
		}, true
	case reflect.Uint64, reflect.Uint:
		return &Entry{
			Blittable: t.Kind() == reflect.Uint64,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteU64(v.Uint())
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadU64()
				if err != nil {
					return err
				}
				if v.OverflowUint(x) {
					return overflow(x, t)
				}
				v.SetUint(x)
				return nil
			},
		}, true
	case reflect.Float32:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteF32(loadF32(v))
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadF32()
				if err != nil {
					return err
				}
				*(*float32)(v.Addr().UnsafePointer()) = x
				return nil
			},
		}, true
	case reflect.Float64:
		return &Entry{
			Blittable: true,
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				w.WriteF64(v.Float())
				return nil
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				x, err := r.ReadF64()
				v.SetFloat(x)
				return err
			},
		}, true
	case reflect.String:
		return &Entry{
			Encode: func(w *bincode.Writer, v reflect.Value) error {
				return w.WriteString(v.String())
			},
			Decode: func(r *bincode.Reader, v reflect.Value) error {
				s, err := r.ReadString()
				v.SetString(s)
				return err
			},
		}, true
	}
	return nil, false
}

// loadF32 reads the float32 without a round trip through float64 so NaN
// payloads keep their exact bits.
func loadF32(v reflect.Value) float32 {
	if v.CanAddr() {
		return *(*float32)(v.Addr().UnsafePointer())
	}
	return float32(v.Float())
}

// bytesEntry handles []byte and named byte slices.
func bytesEntry() *Entry {
	return &Entry{
		Encode: func(w *bincode.Writer, v reflect.Value) error {
			w.WriteBytes(v.Bytes())
			return nil
		},
		Decode: func(r *bincode.Reader, v reflect.Value) error {
			b, err := r.ReadBytes()
			if err != nil {
				return err
			}
			v.SetBytes(b)
			return nil
		},
	}
}

// rawBytes views the backing memory of n elements of size starting at p.
func rawBytes(p unsafe.Pointer, n, size int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n*size)
}
