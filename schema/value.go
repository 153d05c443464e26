package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/native-bridge/bincode"
	"github.com/wippyai/native-bridge/errors"
)

// ParseValue reads a JSON literal as a value of type t. The result has the
// same shape Decode produces.
func ParseValue(t wit.Type, text string) (any, error) {
	raw, err := readJSON(text)
	if err != nil {
		return nil, err
	}
	return normalize(t, raw)
}

// ParseArgs reads a JSON array holding one value per parameter type.
func ParseArgs(params []wit.Type, text string) ([]any, error) {
	if strings.TrimSpace(text) == "" {
		text = "[]"
	}
	raw, err := readJSON(text)
	if err != nil {
		return nil, err
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, errors.New(errors.PhaseParse, errors.KindTypeMismatch).
			Detail("arguments must be a JSON array").
			Build()
	}
	if len(items) != len(params) {
		return nil, errors.LengthMismatch(errors.PhaseParse, nil, len(items), len(params))
	}
	out := make([]any, len(items))
	for i, p := range params {
		v, err := normalize(p, items[i])
		if err != nil {
			return nil, withPath(err, indexPath(i))
		}
		out[i] = v
	}
	return out, nil
}

func readJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.ParseFailed("JSON value", err)
	}
	if dec.More() {
		return nil, errors.ParseFailed("JSON value", fmt.Errorf("trailing data after value"))
	}
	return v, nil
}

// normalize checks v against t by a round trip through the wire format.
func normalize(t wit.Type, v any) (any, error) {
	w := bincode.GetWriter(bincode.DefaultConfig())
	defer bincode.PutWriter(w)
	if err := Encode(w, t, v); err != nil {
		return nil, err
	}
	r := bincode.NewReader(w.Bytes(), w.Config())
	out, err := Decode(r, t)
	if err != nil {
		return nil, err
	}
	return out, r.Finish()
}

// Format renders v as JSON. Values produced by Decode read back through
// ParseValue unchanged; list<u8> renders as an array of numbers.
func Format(v any) string {
	var b bytes.Buffer
	format(&b, v)
	return b.String()
}

func format(b *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case string:
		q, _ := json.Marshal(x)
		b.Write(q)
	case float32:
		formatFloat(b, float64(x), 32)
	case float64:
		formatFloat(b, x, 64)
	case int8, int16, int32, int64, int, uint16, uint32, uint64, uint:
		fmt.Fprint(b, x)
	case uint8:
		b.WriteString(strconv.Itoa(int(x)))
	case []byte:
		b.WriteByte('[')
		for i, c := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Itoa(int(c)))
		}
		b.WriteByte(']')
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			format(b, e)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			format(b, k)
			b.WriteByte(':')
			format(b, x[k])
		}
		b.WriteByte('}')
	default:
		q, err := json.Marshal(x)
		if err != nil {
			fmt.Fprintf(b, "%q", fmt.Sprint(x))
			return
		}
		b.Write(q)
	}
}

// formatFloat writes NaN and infinities as strings since JSON has no
// literal for them.
func formatFloat(b *bytes.Buffer, f float64, bits int) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		fmt.Fprintf(b, "%q", strconv.FormatFloat(f, 'g', -1, bits))
		return
	}
	b.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
}
