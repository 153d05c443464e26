package bincode

import (
	"reflect"
	"unsafe"

	"github.com/wippyai/native-bridge/errors"
)

// Blittable covers fixed-width numeric element types whose in-memory form
// matches their fixint wire form on a little-endian host.
type Blittable interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~uint64 | ~int64 | ~float32 | ~float64
}

var littleEndianHost = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// CanBlit reports whether raw memory copies produce valid wire bytes.
func (w *Writer) CanBlit() bool {
	return littleEndianHost && w.cfg.IntEncoding == FixintEncoding
}

// CanBlit reports whether wire bytes can be copied directly into memory.
func (r *Reader) CanBlit() bool {
	return littleEndianHost && r.cfg.IntEncoding == FixintEncoding
}

func asBytes[T Blittable](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

// WriteBlittable writes a length-prefixed numeric sequence, copying memory
// in one block when CanBlit and element by element otherwise.
func WriteBlittable[T Blittable](w *Writer, s []T) {
	w.WriteLen(len(s))
	if w.CanBlit() {
		w.buf = append(w.buf, asBytes(s)...)
		return
	}
	writeElements(w, s)
}

// ReadBlittable reads a length-prefixed numeric sequence.
func ReadBlittable[T Blittable](r *Reader) ([]T, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	if r.CanBlit() {
		p, err := r.take(n * size)
		if err != nil {
			return nil, err
		}
		out := make([]T, n)
		copy(asBytes(out), p)
		return out, nil
	}
	if n > r.Remaining() {
		return nil, errors.ShortBuffer(nil, n, r.Remaining())
	}
	out := make([]T, n)
	if err := readElements(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeElements[T Blittable](w *Writer, s []T) {
	if len(s) == 0 {
		return
	}
	p := unsafe.Pointer(unsafe.SliceData(s))
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Uint8:
		w.buf = append(w.buf, unsafe.Slice((*uint8)(p), len(s))...)
	case reflect.Int8:
		for _, v := range unsafe.Slice((*int8)(p), len(s)) {
			w.WriteI8(v)
		}
	case reflect.Uint16:
		for _, v := range unsafe.Slice((*uint16)(p), len(s)) {
			w.WriteU16(v)
		}
	case reflect.Int16:
		for _, v := range unsafe.Slice((*int16)(p), len(s)) {
			w.WriteI16(v)
		}
	case reflect.Uint32:
		for _, v := range unsafe.Slice((*uint32)(p), len(s)) {
			w.WriteU32(v)
		}
	case reflect.Int32:
		for _, v := range unsafe.Slice((*int32)(p), len(s)) {
			w.WriteI32(v)
		}
	case reflect.Uint64:
		for _, v := range unsafe.Slice((*uint64)(p), len(s)) {
			w.WriteU64(v)
		}
	case reflect.Int64:
		for _, v := range unsafe.Slice((*int64)(p), len(s)) {
			w.WriteI64(v)
		}
	case reflect.Float32:
		for _, v := range unsafe.Slice((*float32)(p), len(s)) {
			w.WriteF32(v)
		}
	case reflect.Float64:
		for _, v := range unsafe.Slice((*float64)(p), len(s)) {
			w.WriteF64(v)
		}
	}
}

func readElements[T Blittable](r *Reader, out []T) error {
	if len(out) == 0 {
		return nil
	}
	p := unsafe.Pointer(unsafe.SliceData(out))
	var err error
	switch reflect.TypeFor[T]().Kind() {
	case reflect.Uint8:
		var b []byte
		if b, err = r.take(len(out)); err == nil {
			copy(unsafe.Slice((*uint8)(p), len(out)), b)
		}
	case reflect.Int8:
		dst := unsafe.Slice((*int8)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadI8(); err != nil {
				break
			}
		}
	case reflect.Uint16:
		dst := unsafe.Slice((*uint16)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadU16(); err != nil {
				break
			}
		}
	case reflect.Int16:
		dst := unsafe.Slice((*int16)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadI16(); err != nil {
				break
			}
		}
	case reflect.Uint32:
		dst := unsafe.Slice((*uint32)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadU32(); err != nil {
				break
			}
		}
	case reflect.Int32:
		dst := unsafe.Slice((*int32)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadI32(); err != nil {
				break
			}
		}
	case reflect.Uint64:
		dst := unsafe.Slice((*uint64)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadU64(); err != nil {
				break
			}
		}
	case reflect.Int64:
		dst := unsafe.Slice((*int64)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadI64(); err != nil {
				break
			}
		}
	case reflect.Float32:
		dst := unsafe.Slice((*float32)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadF32(); err != nil {
				break
			}
		}
	case reflect.Float64:
		dst := unsafe.Slice((*float64)(p), len(out))
		for i := range dst {
			if dst[i], err = r.ReadF64(); err != nil {
				break
			}
		}
	}
	return err
}
