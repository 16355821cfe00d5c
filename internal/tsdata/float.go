// Package tsdata holds the value and series types shared across the
// codecs, pipeline nodes and join engine: a Float that round-trips NaN
// through JSON as null (adapted from the teacher's pkg/schema.Float/Series
// pair), and the time-series/result envelopes from spec.md §3.
package tsdata

import (
	"math"
	"strconv"
)

// Float is a float64 that marshals NaN and +/-Inf as JSON null instead of
// raising an encoding error, matching what every downstream consumer of a
// partial-hit or gap-filled series expects to see on the wire.
type Float float64

// IsNaN reports whether f is NaN.
func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

// MarshalJSON implements json.Marshaler, emitting null for NaN/Inf.
func (f Float) MarshalJSON() ([]byte, error) {
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(f), 'f', -1, 64), nil
}

// UnmarshalJSON implements json.Unmarshaler, treating null as NaN.
func (f *Float) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// NaN returns the fill-policy "no data" sentinel.
func NaN() Float { return Float(math.NaN()) }
