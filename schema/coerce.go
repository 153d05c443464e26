package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/wippyai/native-bridge/errors"
)

func toUint(v any, bits int, wire string) (uint64, error) {
	var n uint64
	switch x := v.(type) {
	case uint8:
		n = uint64(x)
	case uint16:
		n = uint64(x)
	case uint32:
		n = uint64(x)
	case uint64:
		n = x
	case uint:
		n = uint64(x)
	case int, int8, int16, int32, int64:
		i := signed(x)
		if i < 0 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = uint64(i)
	case float64:
		if x < 0 || x != math.Trunc(x) || x >= math.Ldexp(1, bits) {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = uint64(x)
	case json.Number:
		u, err := strconv.ParseUint(string(x), 10, 64)
		if err != nil {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = u
	default:
		return 0, mismatch(v, wire)
	}
	if bits < 64 && n >= 1<<bits {
		return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
	}
	return n, nil
}

func toInt(v any, bits int, wire string) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int, int8, int16, int32, int64:
		n = signed(x)
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = int64(x)
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = int64(x)
	case float64:
		limit := math.Ldexp(1, bits-1)
		if x != math.Trunc(x) || x < -limit || x >= limit {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = int64(x)
	case json.Number:
		i, err := strconv.ParseInt(string(x), 10, 64)
		if err != nil {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		n = i
	default:
		return 0, mismatch(v, wire)
	}
	if bits < 64 {
		limit := int64(1) << (bits - 1)
		if n < -limit || n >= limit {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
	}
	return n, nil
}

func signed(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	}
	panic(fmt.Sprintf("schema: %T is not a signed integer", v))
}

func toFloat(v any, wire string) (float64, error) {
	switch x := v.(type) {
	case float64:
		if wire == "f32" && !math.IsInf(x, 0) && !math.IsNaN(x) && math.Abs(x) > math.MaxFloat32 {
			return 0, errors.Overflow(errors.PhaseEncode, nil, v, wire)
		}
		return x, nil
	case float32:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, mismatch(v, wire)
		}
		return toFloat(f, wire)
	case string:
		// NaN and infinities, as written by Format.
		f, err := strconv.ParseFloat(x, 64)
		if err != nil || !math.IsNaN(f) && !math.IsInf(f, 0) {
			return 0, mismatch(v, wire)
		}
		return f, nil
	case int, int8, int16, int32, int64:
		return float64(signed(x)), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	}
	return 0, mismatch(v, wire)
}

func toChar(v any) (rune, error) {
	switch x := v.(type) {
	case string:
		r, size := utf8.DecodeRuneInString(x)
		if size == 0 || size != len(x) || r == utf8.RuneError && size == 1 {
			return 0, errors.New(errors.PhaseEncode, errors.KindInvalidData).
				WireType("char").
				Value(x).
				Detail("char needs exactly one character, got %q", x).
				Build()
		}
		return r, nil
	case rune:
		return x, nil
	}
	return 0, mismatch(v, "char")
}
