// Package dispatch resolves Go types to wire codecs and caches the result.
//
// A Cache belongs to one bridge context. Resolution runs once per type;
// published entries are immutable and the lookup path takes no locks.
// Concurrent first use of a type is collapsed into a single resolution.
//
// Resolution order:
//
//  1. named wire types: bincode.Char, bincode.Uint128, bincode.Int128, bincode.Unit
//  2. enumerations: integer types implementing bincode.Enum
//  3. user codecs: types implementing bincode.Marshaler with *T implementing
//     bincode.Unmarshaler, and codecs published with Register
//  4. scalar kinds: bool, fixed-width integers, int and uint as 64-bit,
//     floats, strings
//  5. generic shapes: bincode.Option, bincode.Tuple2..4, *T as nullable T,
//     []byte, []T, [N]T, map[K]V
//  6. structs derived field by field, opt-in through RegisterStruct
//
// Anything else fails with a no_codec error naming the type and the field
// path that reached it:
//
//	cache := dispatch.New()
//	if err := dispatch.RegisterStruct[Vertex](cache); err != nil { ... }
//	codec, err := dispatch.For[[]Vertex](cache)
//	err = codec.Encode(w, vertices)
//
// Slices and arrays of fixed-width numbers, and of padding-free structs made
// only of them, are copied as one memory block when the wire encoding allows.
package dispatch
