package decode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S1: Signed{l:2,m:1,d:-2,b:0} over 0xE7 0xFF decodes to -0.25.
func TestDecodeSignedFixedPoint(t *testing.T) {
	c := SignedConverter(2, 1, -2, 0)
	v, err := Decode(c, []byte{0xE7, 0xFF})
	require.NoError(t, err)
	require.Equal(t, ValueNumeric, v.Kind)
	assert.Equal(t, "-0.250000", v.String())
	assert.InDelta(t, -0.25, v.Float64(), 1e-9)
}

// S2: Unsigned{l:2,m:1,d:0,b:-6} over 0xC0 0x0C: raw little-endian octets
// decode to 3264, scaled by 2^-6 to 51.0 (see DESIGN.md for the narrative
// vs. raw-formula discrepancy in the source scenario).
func TestDecodeUnsignedBinaryExponent(t *testing.T) {
	c := UnsignedConverter(2, 1, 0, -6)
	v, err := Decode(c, []byte{0xC0, 0x0C})
	require.NoError(t, err)
	require.Equal(t, ValueNumeric, v.Kind)
	assert.InDelta(t, 51.0, v.Float64(), 1e-9)
}

func TestDecodeUtf8(t *testing.T) {
	v, err := Decode(Utf8Converter(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, ValueText, v.Kind)
	assert.Equal(t, "hello", v.Text)
}

func TestDecodeUtf8Invalid(t *testing.T) {
	_, err := Decode(Utf8Converter(), []byte{0xff, 0xfe, 0xfd})
	require.Error(t, err)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrKindBadUtf8, de.Kind)
}

// Testable property: a short read never panics and always returns
// ErrKindShortRead.
func TestDecodeShortReadNeverPanics(t *testing.T) {
	c := SignedConverter(4, 1, 0, 0)
	assert.NotPanics(t, func() {
		_, err := Decode(c, []byte{0x01})
		require.Error(t, err)
		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, ErrKindShortRead, de.Kind)
	})
}

func TestDecodeSignedNegativeOne(t *testing.T) {
	c := SignedConverter(1, 1, 0, 0)
	v, err := Decode(c, []byte{0xFF})
	require.NoError(t, err)
	assert.Equal(t, float64(-1), v.Float64())
}

func TestDecodeUnsignedMax64(t *testing.T) {
	c := UnsignedConverter(8, 1, 0, 0)
	v, err := Decode(c, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.NotNil(t, v.Num)
	assert.Equal(t, "18446744073709551615", v.Num.RatString())
}

func TestDecodeF32(t *testing.T) {
	// 1.5f = 0x3FC00000 little-endian bytes.
	v, err := Decode(F32Converter(), []byte{0x00, 0x00, 0xC0, 0x3F})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v.Float64(), 1e-9)
}

func TestDecodeF64(t *testing.T) {
	// 2.5 = 0x4004000000000000 little-endian bytes.
	v, err := Decode(F64Converter(), []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x04, 0x40})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v.Float64(), 1e-9)
}

func TestDecodeBadConverterKind(t *testing.T) {
	_, err := Decode(Converter{Kind: Kind(99)}, []byte{0x01})
	require.Error(t, err)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrKindBadConverter, de.Kind)
}
