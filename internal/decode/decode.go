// Package decode implements the GATT Specification Supplement value decoder
// (C1): turning raw characteristic octets into a typed scalar or string per
// a declarative Converter spec, without losing precision before a sink
// demands a float.
package decode

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"unicode/utf8"
)

// Kind tags a Converter variant.
type Kind int

const (
	KindUtf8 Kind = iota
	KindSigned
	KindUnsigned
	KindF32
	KindF64
)

// Converter describes how to turn raw octets into a Value. L is the octet
// length (integer forms only, 1..8). The decoded integer n is rescaled as
// m * n * 10^d * 2^b.
type Converter struct {
	Kind Kind
	L    int
	M    int64
	D    int
	B    int
}

// Utf8Converter decodes the full slice as a UTF-8 string.
func Utf8Converter() Converter { return Converter{Kind: KindUtf8} }

// SignedConverter decodes l little-endian two's-complement octets and
// rescales by m * 10^d * 2^b.
func SignedConverter(l int, m int64, d, b int) Converter {
	return Converter{Kind: KindSigned, L: l, M: m, D: d, B: b}
}

// UnsignedConverter decodes l little-endian unsigned octets and rescales by
// m * 10^d * 2^b.
func UnsignedConverter(l int, m int64, d, b int) Converter {
	return Converter{Kind: KindUnsigned, L: l, M: m, D: d, B: b}
}

// F32Converter decodes 4 little-endian IEEE-754 octets.
func F32Converter() Converter { return Converter{Kind: KindF32, L: 4} }

// F64Converter decodes 8 little-endian IEEE-754 octets.
func F64Converter() Converter { return Converter{Kind: KindF64, L: 8} }

// ErrorKind distinguishes the documented failure modes of Decode.
type ErrorKind int

const (
	ErrKindBadUtf8 ErrorKind = iota
	ErrKindShortRead
	ErrKindBadConverter
)

// DecodeError is returned by Decode for any of its documented failure modes.
// It never panics and never returns any other kind of error.
type DecodeError struct {
	Kind ErrorKind
	Msg  string
}

func (e *DecodeError) Error() string { return e.Msg }

func shortRead(l, got int) error {
	return &DecodeError{Kind: ErrKindShortRead, Msg: fmt.Sprintf("short read: need %d octets, got %d", l, got)}
}

// ValueKind tags a decoded Value.
type ValueKind int

const (
	ValueText ValueKind = iota
	ValueNumeric
)

// Value is the decoder's output: either a string or an exact rational
// number. Numeric carries enough precision for u64/i64 * 10^d * 2^b without
// lossy rounding; callers that need a float call Float64 explicitly so
// widening never happens before a sink demands it.
type Value struct {
	Kind Kind2
	Text string
	Num  *big.Rat
}

// Kind2 avoids colliding with the Converter Kind type while keeping the
// same vocabulary at the call site (Value{}.Kind == decode.ValueNumeric).
type Kind2 = ValueKind

// Float64 returns the numeric value widened to float64. Only valid when
// Kind == ValueNumeric.
func (v Value) Float64() float64 {
	if v.Num == nil {
		return 0
	}
	f, _ := v.Num.Float64()
	return f
}

// String renders the value for logging/debugging; for ValueNumeric it uses
// the rational's decimal form at enough precision to round-trip typical
// sensor ranges.
func (v Value) String() string {
	if v.Kind == ValueText {
		return v.Text
	}
	if v.Num == nil {
		return "0"
	}
	return v.Num.FloatString(6)
}

// Decode converts raw into a Value according to c. It is pure, synchronous,
// and infallible except for the documented DecodeError kinds.
func Decode(c Converter, raw []byte) (Value, error) {
	switch c.Kind {
	case KindUtf8:
		return decodeUtf8(raw)
	case KindSigned:
		return decodeInt(c, raw, true)
	case KindUnsigned:
		return decodeInt(c, raw, false)
	case KindF32:
		return decodeF32(raw)
	case KindF64:
		return decodeF64(raw)
	default:
		return Value{}, &DecodeError{Kind: ErrKindBadConverter, Msg: fmt.Sprintf("unknown converter kind %d", c.Kind)}
	}
}

func decodeUtf8(raw []byte) (Value, error) {
	if !utf8.Valid(raw) {
		return Value{}, &DecodeError{Kind: ErrKindBadUtf8, Msg: "invalid UTF-8"}
	}
	return Value{Kind: ValueText, Text: string(raw)}, nil
}

// decodeInt handles both Signed and Unsigned converters: read the first L
// octets little-endian, sign-extend if requested, then scale exactly via
// big.Rat so the d/b exponents never touch a float.
func decodeInt(c Converter, raw []byte, signed bool) (Value, error) {
	if c.L < 1 || c.L > 8 {
		return Value{}, &DecodeError{Kind: ErrKindBadConverter, Msg: fmt.Sprintf("invalid octet length %d", c.L)}
	}
	if len(raw) < c.L {
		return Value{}, shortRead(c.L, len(raw))
	}

	var buf [8]byte
	copy(buf[:c.L], raw[:c.L])
	u := binary.LittleEndian.Uint64(buf[:])
	// Mask off any bytes beyond L that Uint64 read as zero padding already.
	if c.L < 8 {
		u &= (uint64(1) << (uint(c.L) * 8)) - 1
	}

	n := new(big.Int).SetUint64(u)
	if signed && c.L < 8 {
		signBit := uint64(1) << (uint(c.L)*8 - 1)
		if u&signBit != 0 {
			n.Sub(n, new(big.Int).Lsh(big.NewInt(1), uint(c.L)*8))
		}
	} else if signed && c.L == 8 {
		n.SetInt64(int64(u))
	}

	rat := new(big.Rat).SetInt(n)
	rat = scale(rat, c.M, c.D, c.B)
	return Value{Kind: ValueNumeric, Num: rat}, nil
}

// scale computes m * n * 10^d * 2^b exactly, as a big.Rat.
func scale(n *big.Rat, m int64, d, b int) *big.Rat {
	out := new(big.Rat).Mul(n, big.NewRat(m, 1))
	if d != 0 {
		out = mulPow(out, big.NewInt(10), d)
	}
	if b != 0 {
		out = mulPow(out, big.NewInt(2), b)
	}
	return out
}

// mulPow multiplies r by base^exp, exp possibly negative, without ever
// rounding to a float.
func mulPow(r *big.Rat, base *big.Int, exp int) *big.Rat {
	abs := exp
	if abs < 0 {
		abs = -abs
	}
	p := new(big.Int).Exp(base, big.NewInt(int64(abs)), nil)
	factor := new(big.Rat).SetInt(p)
	if exp < 0 {
		factor.Inv(factor)
	}
	return new(big.Rat).Mul(r, factor)
}

func decodeF32(raw []byte) (Value, error) {
	if len(raw) < 4 {
		return Value{}, shortRead(4, len(raw))
	}
	bits := binary.LittleEndian.Uint32(raw[:4])
	f := math.Float32frombits(bits)
	rat := new(big.Rat).SetFloat64(float64(f))
	if rat == nil {
		return Value{}, &DecodeError{Kind: ErrKindBadConverter, Msg: "non-finite f32 value"}
	}
	return Value{Kind: ValueNumeric, Num: rat}, nil
}

func decodeF64(raw []byte) (Value, error) {
	if len(raw) < 8 {
		return Value{}, shortRead(8, len(raw))
	}
	bits := binary.LittleEndian.Uint64(raw[:8])
	f := math.Float64frombits(bits)
	rat := new(big.Rat).SetFloat64(f)
	if rat == nil {
		return Value{}, &DecodeError{Kind: ErrKindBadConverter, Msg: "non-finite f64 value"}
	}
	return Value{Kind: ValueNumeric, Num: rat}, nil
}
