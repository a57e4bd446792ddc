// Package value implements the opaque CBOR-bearing exchange type shared by
// the host and guest sides of a sandbox call.
package value

import (
	"bytes"
)

// Value is the canonical guest/host exchange type: an opaque wrapper over a
// sequence of CBOR bytes. Equality is byte equality; a Value carries no
// schema of its own. JSON and struct views are conversions, never
// representations.
type Value struct {
	cbor []byte
}

// FromCBOR wraps an already-encoded CBOR byte sequence. The bytes are not
// copied; callers must not mutate them afterward.
func FromCBOR(b []byte) Value {
	return Value{cbor: b}
}

// Nil is the Value whose CBOR encoding is the `null` item.
var Nil = Value{cbor: []byte{0xf6}}

// CBOR returns the wrapped byte sequence.
func (v Value) CBOR() []byte {
	return v.cbor
}

// MarshalCBOR implements cbor.Marshaler so a Value embedded in a struct,
// slice or map is encoded as its own raw CBOR item rather than as a
// two-field struct wrapping an unexported byte slice.
func (v Value) MarshalCBOR() ([]byte, error) {
	if len(v.cbor) == 0 {
		return Nil.cbor, nil
	}
	return v.cbor, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler, the inverse of MarshalCBOR.
func (v *Value) UnmarshalCBOR(data []byte) error {
	v.cbor = append([]byte(nil), data...)
	return nil
}

// IsEmpty reports whether the Value carries no bytes at all (distinct from
// Nil, which carries the one-byte CBOR encoding of `null`).
func (v Value) IsEmpty() bool {
	return len(v.cbor) == 0
}

// Equal reports byte equality between two Values, per the data model's
// equality invariant.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.cbor, other.cbor)
}

// FromStruct serializes any CBOR-serializable Go value into a Value. A nil
// interface serializes as the CBOR `null` item, mirroring the `unit`
// convention carried over from the source specification.
func FromStruct(src any) (Value, error) {
	b, err := encMode().Marshal(src)
	if err != nil {
		return Value{}, err
	}
	return Value{cbor: b}, nil
}

// ToStruct deserializes the Value's CBOR bytes into dst, which must be a
// pointer.
func (v Value) ToStruct(dst any) error {
	if len(v.cbor) == 0 {
		return nil
	}
	return decMode().Unmarshal(v.cbor, dst)
}

// Bytes wraps a raw byte string as a Value, i.e. a CBOR major-type-2 item.
func Bytes(b []byte) (Value, error) {
	return FromStruct(b)
}
