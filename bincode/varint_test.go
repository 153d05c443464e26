package bincode

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/native-bridge/errors"
)

func varintConfig() Config {
	cfg := DefaultConfig()
	cfg.IntEncoding = VarintEncoding
	return cfg
}

func TestVarint_Encoding(t *testing.T) {
	tests := []struct {
		name  string
		write func(w *Writer)
		want  []byte
	}{
		{"zero", func(w *Writer) { w.WriteU64(0) }, []byte{0}},
		{"single byte max", func(w *Writer) { w.WriteU64(250) }, []byte{250}},
		{"u16 marker", func(w *Writer) { w.WriteU64(251) }, []byte{251, 251, 0}},
		{"u16 max", func(w *Writer) { w.WriteU32(0xFFFF) }, []byte{251, 0xFF, 0xFF}},
		{"u32 marker", func(w *Writer) { w.WriteU64(0x10000) }, []byte{252, 0, 0, 1, 0}},
		{"u64 marker", func(w *Writer) { w.WriteU64(1 << 32) }, []byte{253, 0, 0, 0, 0, 1, 0, 0, 0}},
		{"u128 marker", func(w *Writer) { w.WriteU128(Uint128{Hi: 1}) },
			[]byte{254, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}},
		{"zigzag minus one", func(w *Writer) { w.WriteI32(-1) }, []byte{1}},
		{"zigzag one", func(w *Writer) { w.WriteI32(1) }, []byte{2}},
		{"zigzag minus 126", func(w *Writer) { w.WriteI64(-126) }, []byte{251, 251, 0}},
		{"u8 stays raw", func(w *Writer) { w.WriteU8(255) }, []byte{255}},
		{"f32 stays fixed", func(w *Writer) { w.WriteF32(1.5) }, []byte{0, 0, 0xC0, 0x3F}},
		{"length", func(w *Writer) { w.WriteLen(3) }, []byte{3}},
		{"variant index", func(w *Writer) { w.WriteVariantIndex(2) }, []byte{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWriter(varintConfig())
			tt.write(w)
			if diff := cmp.Diff(tt.want, w.Bytes()); diff != "" {
				t.Errorf("bytes mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVarint_DecodeErrors(t *testing.T) {
	t.Run("reserved marker", func(t *testing.T) {
		r := NewReader([]byte{255}, varintConfig())
		_, err := r.ReadU64()
		if !errors.IsKind(err, errors.KindInvalidTag) {
			t.Errorf("err = %v, want invalid_tag", err)
		}
	})

	t.Run("overflow into u16", func(t *testing.T) {
		r := NewReader([]byte{252, 0, 0, 1, 0}, varintConfig())
		_, err := r.ReadU16()
		if !errors.IsKind(err, errors.KindOverflow) {
			t.Errorf("err = %v, want overflow", err)
		}
	})

	t.Run("overflow into i16", func(t *testing.T) {
		w := NewWriter(varintConfig())
		w.WriteI64(1 << 20)
		_, err := NewReader(w.Bytes(), varintConfig()).ReadI16()
		if !errors.IsKind(err, errors.KindOverflow) {
			t.Errorf("err = %v, want overflow", err)
		}
	})

	t.Run("truncated payload", func(t *testing.T) {
		r := NewReader([]byte{253, 1, 2}, varintConfig())
		_, err := r.ReadU64()
		if !errors.IsKind(err, errors.KindOutOfBounds) {
			t.Errorf("err = %v, want out_of_bounds", err)
		}
	})
}

func TestZigzag128(t *testing.T) {
	values := []Int128{
		Int128From(0),
		Int128From(-1),
		Int128From(1),
		Int128From(-1 << 63),
		{Lo: 1<<63 | 5, Hi: 1 << 40},
		{Lo: 0, Hi: -1 << 62},
	}
	for _, v := range values {
		if got := unzigzag128(zigzag128(v)); got != v {
			t.Errorf("zigzag round trip %+v -> %+v", v, got)
		}
	}
	if got := zigzag128(Int128From(-1)); got != (Uint128{Lo: 1}) {
		t.Errorf("zigzag128(-1) = %+v, want 1", got)
	}
}
