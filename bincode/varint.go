package bincode

import (
	"encoding/binary"
	"fmt"

	"github.com/wippyai/native-bridge/errors"
)

// Varint markers. Values below singleByteMax are written as one byte.
const (
	singleByteMax = 250
	u16Marker     = 251
	u32Marker     = 252
	u64Marker     = 253
	u128Marker    = 254
)

func appendVarint(buf []byte, v uint64) []byte {
	switch {
	case v <= singleByteMax:
		return append(buf, byte(v))
	case v <= 0xFFFF:
		buf = append(buf, u16Marker)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xFFFFFFFF:
		buf = append(buf, u32Marker)
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, u64Marker)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}

func appendVarint128(buf []byte, v Uint128) []byte {
	if v.Hi == 0 {
		return appendVarint(buf, v.Lo)
	}
	buf = append(buf, u128Marker)
	buf = binary.LittleEndian.AppendUint64(buf, v.Lo)
	return binary.LittleEndian.AppendUint64(buf, v.Hi)
}

func zigzag(v int64) uint64 {
	return uint64(v<<1) ^ uint64(v>>63)
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

func zigzag128(v Int128) Uint128 {
	// (v << 1) ^ (v >> 127) over 128 bits.
	sign := uint64(v.Hi >> 63)
	lo := v.Lo<<1 ^ sign
	hi := (uint64(v.Hi)<<1 | v.Lo>>63) ^ sign
	return Uint128{Lo: lo, Hi: hi}
}

func unzigzag128(v Uint128) Int128 {
	neg := -(v.Lo & 1)
	lo := (v.Lo>>1 | v.Hi<<63) ^ neg
	hi := (v.Hi >> 1) ^ neg
	return Int128{Lo: lo, Hi: int64(hi)}
}

// readVarint decodes one varint and checks it fits in max.
func (r *Reader) readVarint(max uint64, what string) (uint64, error) {
	v, err := r.readVarint128(what)
	if err != nil {
		return 0, err
	}
	if v.Hi != 0 || v.Lo > max {
		return 0, errors.Overflow(errors.PhaseDecode, nil, fmt.Sprintf("%d:%d", v.Hi, v.Lo), what)
	}
	return v.Lo, nil
}

func (r *Reader) readVarint128(what string) (Uint128, error) {
	b, err := r.take(1)
	if err != nil {
		return Uint128{}, err
	}
	switch m := b[0]; {
	case m <= singleByteMax:
		return Uint128{Lo: uint64(m)}, nil
	case m == u16Marker:
		p, err := r.take(2)
		if err != nil {
			return Uint128{}, err
		}
		return Uint128{Lo: uint64(binary.LittleEndian.Uint16(p))}, nil
	case m == u32Marker:
		p, err := r.take(4)
		if err != nil {
			return Uint128{}, err
		}
		return Uint128{Lo: uint64(binary.LittleEndian.Uint32(p))}, nil
	case m == u64Marker:
		p, err := r.take(8)
		if err != nil {
			return Uint128{}, err
		}
		return Uint128{Lo: binary.LittleEndian.Uint64(p)}, nil
	case m == u128Marker:
		p, err := r.take(16)
		if err != nil {
			return Uint128{}, err
		}
		return Uint128{Lo: binary.LittleEndian.Uint64(p), Hi: binary.LittleEndian.Uint64(p[8:])}, nil
	default:
		return Uint128{}, errors.InvalidTag(nil, what+" varint", m)
	}
}
