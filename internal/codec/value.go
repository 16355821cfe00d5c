package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is a tagged union of the two value shapes a cell may carry. Kept
// as int64/float64 (not collapsed to a single float64) so integer values up
// to 8 bytes round-trip exactly through encode/decode, per invariant 3 of
// spec.md §8.
type Value struct {
	IsFloat bool
	Int     int64
	Float   float64
}

// Float64 returns the value as a float64 regardless of its native kind,
// for consumers (pipeline nodes) that only care about numeric magnitude.
func (v Value) Float64() float64 {
	if v.IsFloat {
		return v.Float
	}
	return float64(v.Int)
}

// IntValue builds an integer Value.
func IntValue(i int64) Value { return Value{Int: i} }

// FloatValue builds a float Value.
func FloatValue(f float64) Value { return Value{IsFloat: true, Float: f} }

// widthForInt returns the narrowest width in {1,2,4,8} that represents i
// exactly.
func widthForInt(i int64) int {
	switch {
	case i >= math.MinInt8 && i <= math.MaxInt8:
		return 1
	case i >= math.MinInt16 && i <= math.MaxInt16:
		return 2
	case i >= math.MinInt32 && i <= math.MaxInt32:
		return 4
	default:
		return 8
	}
}

// EncodeValue picks the narrowest exact width for an integer value, or the
// configured precision (4 or 8 bytes) for a float value, and returns the
// encoded bytes plus the Flags describing them (ValueLen/IsFloat only —
// caller fills in IsMillis on the qualifier side).
func EncodeValue(v Value, floatPrecisionBytes int) ([]byte, Flags, error) {
	if v.IsFloat {
		if floatPrecisionBytes != 4 && floatPrecisionBytes != 8 {
			return nil, Flags{}, fmt.Errorf("codec: float precision must be 4 or 8 bytes, got %d", floatPrecisionBytes)
		}
		b := make([]byte, floatPrecisionBytes)
		if floatPrecisionBytes == 4 {
			binary.BigEndian.PutUint32(b, math.Float32bits(float32(v.Float)))
		} else {
			binary.BigEndian.PutUint64(b, math.Float64bits(v.Float))
		}
		return b, Flags{IsFloat: true, ValueLen: floatPrecisionBytes}, nil
	}

	width := widthForInt(v.Int)
	b := make([]byte, width)
	switch width {
	case 1:
		b[0] = byte(v.Int)
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v.Int))
	case 4:
		binary.BigEndian.PutUint32(b, uint32(v.Int))
	case 8:
		binary.BigEndian.PutUint64(b, uint64(v.Int))
	}
	return b, Flags{IsFloat: false, ValueLen: width}, nil
}

// DecodeValue interprets value bytes per flags: IEEE-754 big-endian if
// IsFloat, else a sign-extended big-endian signed integer of flags.ValueLen
// bytes.
func DecodeValue(b []byte, flags Flags) (Value, error) {
	if len(b) != flags.ValueLen {
		return Value{}, fmt.Errorf("codec: truncated value, got %d bytes want %d", len(b), flags.ValueLen)
	}

	if flags.IsFloat {
		switch flags.ValueLen {
		case 4:
			return Value{IsFloat: true, Float: float64(math.Float32frombits(binary.BigEndian.Uint32(b)))}, nil
		case 8:
			return Value{IsFloat: true, Float: math.Float64frombits(binary.BigEndian.Uint64(b))}, nil
		default:
			return Value{}, fmt.Errorf("codec: invalid float value length %d", flags.ValueLen)
		}
	}

	// Sign-extend by reading into a padded 8-byte buffer.
	var padded [8]byte
	if b[0]&0x80 != 0 {
		for i := range padded {
			padded[i] = 0xFF
		}
	}
	copy(padded[8-flags.ValueLen:], b)
	return Value{Int: int64(binary.BigEndian.Uint64(padded[:]))}, nil
}
