package bincode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wippyai/native-bridge/errors"
)

// Reader decodes wire-encoded values from a byte slice.
//
// The slice may be owned by the native peer. Every string and byte slice the
// reader returns is a copy, so decoded values never alias the input.
type Reader struct {
	data   []byte
	pos    int
	cfg    Config
	budget int
}

// NewReader creates a Reader over data.
func NewReader(data []byte, cfg Config) *Reader {
	cfg = cfg.normalize()
	return &Reader{
		data:   data,
		cfg:    cfg,
		budget: cfg.MaxContainerDepth,
	}
}

// Reset points the reader at new input and restores the depth budget.
func (r *Reader) Reset(data []byte) {
	r.data = data
	r.pos = 0
	r.budget = r.cfg.MaxContainerDepth
}

// Config returns the reader's configuration.
func (r *Reader) Config() Config {
	return r.cfg
}

// Offset returns the current read position.
func (r *Reader) Offset() int {
	return r.pos
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Finish fails if unread bytes remain.
func (r *Reader) Finish() error {
	if n := r.Remaining(); n > 0 {
		return errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("%d trailing bytes", n))
	}
	return nil
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > len(r.data)-r.pos {
		return nil, errors.ShortBuffer(nil, n, len(r.data)-r.pos)
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

// ReadRaw returns the next n bytes without copying.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	return r.take(n)
}

func (r *Reader) varint() bool {
	return r.cfg.IntEncoding == VarintEncoding
}

// ReadBool accepts only 0 and 1.
func (r *Reader) ReadBool() (bool, error) {
	p, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch p[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.InvalidTag(nil, "bool", p[0])
	}
}

func (r *Reader) ReadU8() (uint8, error) {
	p, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (r *Reader) ReadU16() (uint16, error) {
	if r.varint() {
		v, err := r.readVarint(math.MaxUint16, "u16")
		return uint16(v), err
	}
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(p), nil
}

func (r *Reader) ReadU32() (uint32, error) {
	if r.varint() {
		v, err := r.readVarint(math.MaxUint32, "u32")
		return uint32(v), err
	}
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(p), nil
}

func (r *Reader) ReadU64() (uint64, error) {
	if r.varint() {
		return r.readVarint(math.MaxUint64, "u64")
	}
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(p), nil
}

func (r *Reader) ReadU128() (Uint128, error) {
	if r.varint() {
		return r.readVarint128("u128")
	}
	p, err := r.take(16)
	if err != nil {
		return Uint128{}, err
	}
	return Uint128{Lo: binary.LittleEndian.Uint64(p), Hi: binary.LittleEndian.Uint64(p[8:])}, nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadI16() (int16, error) {
	if r.varint() {
		v, err := r.readVarint(math.MaxUint64, "i16")
		if err != nil {
			return 0, err
		}
		s := unzigzag(v)
		if s < math.MinInt16 || s > math.MaxInt16 {
			return 0, errors.Overflow(errors.PhaseDecode, nil, s, "i16")
		}
		return int16(s), nil
	}
	p, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(p)), nil
}

func (r *Reader) ReadI32() (int32, error) {
	if r.varint() {
		v, err := r.readVarint(math.MaxUint64, "i32")
		if err != nil {
			return 0, err
		}
		s := unzigzag(v)
		if s < math.MinInt32 || s > math.MaxInt32 {
			return 0, errors.Overflow(errors.PhaseDecode, nil, s, "i32")
		}
		return int32(s), nil
	}
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(p)), nil
}

func (r *Reader) ReadI64() (int64, error) {
	if r.varint() {
		v, err := r.readVarint(math.MaxUint64, "i64")
		return unzigzag(v), err
	}
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(p)), nil
}

func (r *Reader) ReadI128() (Int128, error) {
	if r.varint() {
		v, err := r.readVarint128("i128")
		if err != nil {
			return Int128{}, err
		}
		return unzigzag128(v), nil
	}
	p, err := r.take(16)
	if err != nil {
		return Int128{}, err
	}
	return Int128{Lo: binary.LittleEndian.Uint64(p), Hi: int64(binary.LittleEndian.Uint64(p[8:]))}, nil
}

func (r *Reader) ReadF32() (float32, error) {
	p, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p)), nil
}

func (r *Reader) ReadF64() (float64, error) {
	p, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(p)), nil
}

// ReadChar reads one UTF-8 encoded scalar value.
func (r *Reader) ReadChar() (Char, error) {
	if r.Remaining() == 0 {
		return 0, errors.ShortBuffer(nil, 1, 0)
	}
	n := utf8Width(r.data[r.pos])
	if n == 0 {
		return 0, errors.InvalidUTF8(errors.PhaseDecode, nil, r.data[r.pos:r.pos+1])
	}
	p, err := r.take(n)
	if err != nil {
		return 0, err
	}
	c, size := utf8.DecodeRune(p)
	if size != n {
		return 0, errors.InvalidUTF8(errors.PhaseDecode, nil, p)
	}
	return Char(c), nil
}

func utf8Width(b byte) int {
	switch {
	case b < 0x80:
		return 1
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 0
	}
}

// ReadLen reads a sequence, string or map length.
func (r *Reader) ReadLen() (int, error) {
	n, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	if n > r.cfg.MaxSeqLen || n > math.MaxInt {
		return 0, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Value(n).
			Detail("length %d exceeds limit %d", n, r.cfg.MaxSeqLen).
			Build()
	}
	return int(n), nil
}

// ReadString reads a length-prefixed UTF-8 string.
func (r *Reader) ReadString() (string, error) {
	p, err := r.readSized()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", errors.InvalidUTF8(errors.PhaseDecode, nil, p)
	}
	return string(p), nil
}

// ReadBytes reads a length-prefixed byte sequence into a fresh slice.
func (r *Reader) ReadBytes() ([]byte, error) {
	p, err := r.readSized()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(p), nil
}

func (r *Reader) readSized() ([]byte, error) {
	n, err := r.ReadLen()
	if err != nil {
		return nil, err
	}
	if n > r.cfg.MaxStringSize {
		return nil, errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Value(n).
			Detail("size %d exceeds limit %d", n, r.cfg.MaxStringSize).
			Build()
	}
	return r.take(n)
}

// ReadVariantIndex reads a variant index and checks it against count.
func (r *Reader) ReadVariantIndex(count uint32) (uint32, error) {
	i, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if i >= count {
		return 0, errors.InvalidVariant(nil, i, count)
	}
	return i, nil
}

// ReadOptionTag reads a presence byte; anything but 0 or 1 fails.
func (r *Reader) ReadOptionTag() (bool, error) {
	p, err := r.take(1)
	if err != nil {
		return false, err
	}
	switch p[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errors.InvalidTag(nil, "option", p[0])
	}
}

// EnterContainer consumes one level of the depth budget.
func (r *Reader) EnterContainer() error {
	if r.budget == 0 {
		return errors.DepthExceeded(errors.PhaseDecode, r.cfg.MaxContainerDepth)
	}
	r.budget--
	return nil
}

// LeaveContainer returns one level to the depth budget.
func (r *Reader) LeaveContainer() {
	r.budget++
}

// Span marks a range of already consumed input.
type Span struct {
	Start, End int
}

// SpanFrom returns the span from start to the current position.
func (r *Reader) SpanFrom(start int) Span {
	return Span{Start: start, End: r.pos}
}

// CheckKeyOrder fails unless the key bytes in cur sort strictly after prev.
// index is the position of cur within the map, used in the error.
func (r *Reader) CheckKeyOrder(prev, cur Span, index int) error {
	if bytes.Compare(r.data[prev.Start:prev.End], r.data[cur.Start:cur.End]) >= 0 {
		return errors.KeyOrder(nil, index)
	}
	return nil
}
