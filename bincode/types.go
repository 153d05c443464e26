package bincode

import (
	"reflect"
	"strings"
)

// Marshaler is implemented by types that write their own wire form.
type Marshaler interface {
	MarshalBincode(w *Writer) error
}

// Unmarshaler is implemented by pointers to types that read their own wire form.
type Unmarshaler interface {
	UnmarshalBincode(r *Reader) error
}

// Enum is implemented by integer-kinded types that form a closed enumeration.
// Values are written as a bare variant index in [0, VariantCount()).
type Enum interface {
	VariantCount() uint32
}

// Unit is the zero-byte value.
type Unit struct{}

// Char is a single Unicode scalar value, written as its UTF-8 bytes.
type Char rune

// Uint128 is an unsigned 128-bit integer.
type Uint128 struct {
	Lo, Hi uint64
}

// Int128 is a two's complement signed 128-bit integer.
type Int128 struct {
	Lo uint64
	Hi int64
}

// Int128From sign-extends v.
func Int128From(v int64) Int128 {
	return Int128{Lo: uint64(v), Hi: v >> 63}
}

// Option is an optional value: a presence byte followed by the payload when present.
type Option[T any] struct {
	Value T
	Valid bool
}

// Some returns a present option.
func Some[T any](v T) Option[T] {
	return Option[T]{Value: v, Valid: true}
}

// None returns an absent option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Tuple2 is a heterogeneous pair written as its elements in order.
type Tuple2[A, B any] struct {
	V0 A
	V1 B
}

// Tuple3 is a heterogeneous triple.
type Tuple3[A, B, C any] struct {
	V0 A
	V1 B
	V2 C
}

// Tuple4 is a heterogeneous quadruple.
type Tuple4[A, B, C, D any] struct {
	V0 A
	V1 B
	V2 C
	V3 D
}

var pkgPath = reflect.TypeFor[Unit]().PkgPath()

// IsOption reports whether t is an instantiation of Option.
func IsOption(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.PkgPath() == pkgPath && strings.HasPrefix(t.Name(), "Option[")
}

// IsTuple reports whether t is an instantiation of one of the tuple types.
func IsTuple(t reflect.Type) bool {
	if t.Kind() != reflect.Struct || t.PkgPath() != pkgPath {
		return false
	}
	name := t.Name()
	return strings.HasPrefix(name, "Tuple2[") ||
		strings.HasPrefix(name, "Tuple3[") ||
		strings.HasPrefix(name, "Tuple4[")
}
