package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
)

// FromJSON converts a JSON document into a Value, preserving numeric widths
// where possible: integers that fit in int64/uint64 are encoded as CBOR
// integers, everything else as CBOR floats.
func FromJSON(doc []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return Value{}, fmt.Errorf("value: decode json: %w", err)
	}

	normalized, err := normalizeJSONNumbers(generic)
	if err != nil {
		return Value{}, err
	}

	b, err := encMode().Marshal(normalized)
	if err != nil {
		return Value{}, fmt.Errorf("value: encode cbor: %w", err)
	}
	return Value{cbor: b}, nil
}

// normalizeJSONNumbers walks a decoded-with-UseNumber JSON tree, replacing
// json.Number leaves with the narrowest Go numeric type that round-trips
// exactly, so the resulting CBOR carries the same numeric width the source
// JSON text implied.
func normalizeJSONNumbers(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		if u, ok := new(big.Int).SetString(x.String(), 10); ok && u.Sign() >= 0 {
			if u.IsUint64() {
				return u.Uint64(), nil
			}
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("value: number %q out of range: %w", x.String(), err)
		}
		return f, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			converted, err := normalizeJSONNumbers(elem)
			if err != nil {
				return nil, err
			}
			out[k] = converted
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, elem := range x {
			converted, err := normalizeJSONNumbers(elem)
			if err != nil {
				return nil, err
			}
			out[i] = converted
		}
		return out, nil
	default:
		return v, nil
	}
}

// ToJSON converts the Value's CBOR bytes to a JSON document. CBOR byte
// strings (major type 2) are rendered as standard-alphabet base64 strings,
// matching encoding/json's native []byte handling.
func (v Value) ToJSON() ([]byte, error) {
	if len(v.cbor) == 0 {
		return []byte("null"), nil
	}

	var generic any
	if err := decMode().Unmarshal(v.cbor, &generic); err != nil {
		return nil, fmt.Errorf("value: decode cbor: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("value: encode json: %w", err)
	}
	return out, nil
}
