package value

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	cases := []string{
		`{"key":"value","num":42}`,
		`{}`,
		`null`,
		`{"nullfield":null}`,
		`{"true_val":true,"false_val":false}`,
		`{"array":[1,2,3],"nested":[[1,2],[3,4]]}`,
		`{"outer":{"inner":{"deep":"value"}},"another":{"data":42}}`,
		`{"unicode":"🚀","special":"quotes\"and\\backslash"}`,
		`{"large_int":9223372036854775807}`,
	}

	for _, in := range cases {
		v, err := FromJSON([]byte(in))
		require.NoError(t, err)

		out, err := v.ToJSON()
		require.NoError(t, err)

		assert.JSONEq(t, in, string(out))
	}
}

func TestInvalidInputs(t *testing.T) {
	_, err := FromCBOR([]byte("notcbor")).ToJSON()
	assert.Error(t, err)

	_, err = FromJSON([]byte("{not json}"))
	assert.Error(t, err)
}

func TestBytesEncodeAsBase64JSON(t *testing.T) {
	raw := []byte("Hello, World!")
	v, err := Bytes(raw)
	require.NoError(t, err)

	out, err := v.ToJSON()
	require.NoError(t, err)

	expected := `"` + base64.StdEncoding.EncodeToString(raw) + `"`
	assert.JSONEq(t, expected, string(out))
	assert.Equal(t, `"SGVsbG8sIFdvcmxkIQ=="`, string(out))
}

func TestEqualIsByteEquality(t *testing.T) {
	a := FromCBOR([]byte{0x01})
	b := FromCBOR([]byte{0x01})
	c := FromCBOR([]byte{0x02})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestStructRoundTrip(t *testing.T) {
	type payload struct {
		A int    `cbor:"a"`
		B string `cbor:"b"`
	}

	in := payload{A: 7, B: "seven"}
	v, err := FromStruct(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, v.ToStruct(&out))
	assert.Equal(t, in, out)
}

func TestNilValueIsCBORNull(t *testing.T) {
	out, err := Nil.ToJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
