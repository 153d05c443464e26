// Package bincode implements the binary wire format shared with the native peer.
//
// The format is bincode 1.x compatible. With the default FixintEncoding:
//
//	bool          1 byte, 0 or 1
//	u8..u64/i*    fixed width, little-endian
//	u128/i128     low 64 bits then high 64 bits
//	f32/f64       IEEE-754 bits, little-endian
//	char          UTF-8 bytes of one scalar value
//	string/bytes  u64 length then raw bytes
//	option        1 presence byte then the payload when present
//	enum/union    u32 variant index then the payload
//	sequence/map  u64 length then elements; map entries sorted by key bytes
//	fixed array   elements only, no length
//	tuple/struct  fields in declared order, no framing
//
// VarintEncoding switches every integer wider than 8 bits, lengths and
// variant indices included, to the bincode varint scheme.
//
// Writer and Reader are the low-level primitives. The dispatch package builds
// typed codecs on top of them; hand-written codecs implement Marshaler and
// Unmarshaler:
//
//	func (p Point) MarshalBincode(w *bincode.Writer) error {
//		w.WriteF32(p.X)
//		w.WriteF32(p.Y)
//		return nil
//	}
//
// Decoding is strict: bool and option tags other than 0 and 1, variant
// indices outside the declared range, map keys out of order, malformed UTF-8
// and nesting deeper than the configured container budget all fail.
package bincode
