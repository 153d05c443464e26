package bincode

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/wippyai/native-bridge/errors"
)

// Writer appends wire-encoded values to a reusable buffer.
type Writer struct {
	buf    []byte
	cfg    Config
	budget int
}

// NewWriter creates a Writer for cfg.
func NewWriter(cfg Config) *Writer {
	cfg = cfg.normalize()
	return &Writer{
		buf:    make([]byte, 0, 64),
		cfg:    cfg,
		budget: cfg.MaxContainerDepth,
	}
}

// Config returns the writer's configuration.
func (w *Writer) Config() Config {
	return w.cfg
}

// Reset empties the buffer, keeping its capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.budget = w.cfg.MaxContainerDepth
}

// Bytes returns the encoded bytes. The slice aliases the writer's buffer and
// is only valid until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return len(w.buf)
}

// WriteRaw appends p unchanged.
func (w *Writer) WriteRaw(p []byte) {
	w.buf = append(w.buf, p...)
}

func (w *Writer) varint() bool {
	return w.cfg.IntEncoding == VarintEncoding
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteU8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) WriteU16(v uint16) {
	if w.varint() {
		w.buf = appendVarint(w.buf, uint64(v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteU32(v uint32) {
	if w.varint() {
		w.buf = appendVarint(w.buf, uint64(v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *Writer) WriteU64(v uint64) {
	if w.varint() {
		w.buf = appendVarint(w.buf, v)
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// WriteU128 writes the low half then the high half.
func (w *Writer) WriteU128(v Uint128) {
	if w.varint() {
		w.buf = appendVarint128(w.buf, v)
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v.Lo)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v.Hi)
}

func (w *Writer) WriteI8(v int8) {
	w.buf = append(w.buf, uint8(v))
}

func (w *Writer) WriteI16(v int16) {
	if w.varint() {
		w.buf = appendVarint(w.buf, zigzag(int64(v)))
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

func (w *Writer) WriteI32(v int32) {
	if w.varint() {
		w.buf = appendVarint(w.buf, zigzag(int64(v)))
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteI64(v int64) {
	if w.varint() {
		w.buf = appendVarint(w.buf, zigzag(v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteI128(v Int128) {
	if w.varint() {
		w.buf = appendVarint128(w.buf, zigzag128(v))
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v.Lo)
	w.buf = binary.LittleEndian.AppendUint64(w.buf, uint64(v.Hi))
}

// WriteF32 writes the IEEE-754 bits unchanged, NaN payloads included.
func (w *Writer) WriteF32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

func (w *Writer) WriteF64(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

// WriteChar writes c as 1 to 4 UTF-8 bytes.
func (w *Writer) WriteChar(c Char) error {
	r := rune(c)
	if r < 0 || r > utf8.MaxRune || (r >= 0xD800 && r <= 0xDFFF) {
		return errors.New(errors.PhaseEncode, errors.KindInvalidData).
			WireType("char").
			Value(r).
			Detail("invalid Unicode scalar value U+%04X", r).
			Build()
	}
	w.buf = utf8.AppendRune(w.buf, r)
	return nil
}

// WriteLen writes a sequence, string or map length.
func (w *Writer) WriteLen(n int) {
	w.WriteU64(uint64(n))
}

// WriteString writes a length-prefixed UTF-8 string.
func (w *Writer) WriteString(s string) error {
	if !utf8.ValidString(s) {
		return errors.InvalidUTF8(errors.PhaseEncode, nil, []byte(s))
	}
	w.WriteLen(len(s))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteBytes writes a length-prefixed byte sequence.
func (w *Writer) WriteBytes(p []byte) {
	w.WriteLen(len(p))
	w.buf = append(w.buf, p...)
}

// WriteVariantIndex writes the index selecting an enum or union variant.
func (w *Writer) WriteVariantIndex(i uint32) {
	w.WriteU32(i)
}

// WriteOptionTag writes the presence byte of an optional value.
func (w *Writer) WriteOptionTag(present bool) {
	w.WriteBool(present)
}

// WriteUnit writes nothing.
func (w *Writer) WriteUnit() {}

// EnterContainer consumes one level of the depth budget. Encoding a cyclic
// pointer graph fails here instead of recursing without bound.
func (w *Writer) EnterContainer() error {
	if w.budget == 0 {
		return errors.DepthExceeded(errors.PhaseEncode, w.cfg.MaxContainerDepth)
	}
	w.budget--
	return nil
}

// LeaveContainer returns one level to the depth budget.
func (w *Writer) LeaveContainer() {
	w.budget++
}

// SortMapEntries reorders map entries written since offsets[0] into
// ascending order of their serialized bytes. offsets holds the start of each
// entry; the last entry runs to the end of the buffer. Keys are unique and
// self-delimiting so this orders entries by key bytes.
func (w *Writer) SortMapEntries(offsets []int) {
	if len(offsets) < 2 {
		return
	}
	start := offsets[0]
	entries := make([][]byte, len(offsets))
	for i, off := range offsets {
		end := len(w.buf)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		}
		entries[i] = w.buf[off:end]
	}
	slices.SortFunc(entries, bytes.Compare)

	sorted := make([]byte, 0, len(w.buf)-start)
	for _, e := range entries {
		sorted = append(sorted, e...)
	}
	copy(w.buf[start:], sorted)
}
