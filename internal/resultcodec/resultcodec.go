// Package resultcodec serializes an assembled tsdata.Result to the opaque
// byte payload internal/segcache stores and returns (spec.md §6 "segment
// cache"). It is the one place the engine's live SubQuery callback and its
// cache-hit path both call, so the wire shape only needs to be decided
// here.
package resultcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/linkedin/goavro/v2"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// schema flattens every series kind to parallel timestamp/value arrays.
// Array- and Summary-kind series are expanded to one point per tick at
// encode time (SPEC_FULL.md §3): a cached segment's payload is always the
// query's finished output, never an intermediate streaming representation,
// so the richer in-process Series shape doesn't need to round-trip.
const schema = `
{
  "type": "record",
  "name": "SeriesSet",
  "fields": [
    {"name": "series", "type": {"type": "array", "items": {
      "type": "record",
      "name": "Series",
      "fields": [
        {"name": "tsuid", "type": "bytes"},
        {"name": "tags", "type": {"type": "map", "values": "string"}},
        {"name": "timestamps", "type": {"type": "array", "items": "long"}},
        {"name": "values", "type": {"type": "array", "items": "double"}}
      ]
    }}}
  ]
}`

var codec = mustCodec()

func mustCodec() *goavro.Codec {
	c, err := goavro.NewCodec(schema)
	if err != nil {
		panic(fmt.Sprintf("resultcodec: invalid schema: %v", err))
	}
	return c
}

var zstdEncoder, _ = zstd.NewWriter(nil)

// Encode flattens res to the avro SeriesSet record and zstd-compresses it.
func Encode(res tsdata.Result) ([]byte, error) {
	series := make([]interface{}, 0, len(res.Series))
	for _, s := range res.Series {
		ts, vals := flatten(s)
		series = append(series, map[string]interface{}{
			"tsuid":      []byte(s.ID.TSUID),
			"tags":       toAvroMap(s.Tags),
			"timestamps": toLongSlice(ts),
			"values":     toDoubleSlice(vals),
		})
	}
	native := map[string]interface{}{"series": series}
	raw, err := codec.BinaryFromNative(nil, native)
	if err != nil {
		return nil, fmt.Errorf("resultcodec: encode: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// Decode reverses Encode, reconstructing scalar-kind series only: the
// segment cache never stores pre-downsample array data (SPEC_FULL.md §3).
func Decode(payload []byte) (tsdata.Result, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return tsdata.Result{}, fmt.Errorf("resultcodec: zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(payload, nil)
	if err != nil {
		return tsdata.Result{}, fmt.Errorf("resultcodec: decompress: %w", err)
	}

	native, _, err := codec.NativeFromBinary(raw)
	if err != nil {
		return tsdata.Result{}, fmt.Errorf("resultcodec: decode: %w", err)
	}
	top, ok := native.(map[string]interface{})
	if !ok {
		return tsdata.Result{}, fmt.Errorf("resultcodec: unexpected avro root type %T", native)
	}
	rawSeries, _ := top["series"].([]interface{})

	res := tsdata.Result{Series: make([]tsdata.Series, 0, len(rawSeries))}
	for _, rs := range rawSeries {
		m, ok := rs.(map[string]interface{})
		if !ok {
			continue
		}
		tsuid, _ := m["tsuid"].([]byte)
		tags := fromAvroMap(m["tags"])
		timestamps := fromLongSlice(m["timestamps"])
		values := fromDoubleSlice(m["values"])

		points := make([]tsdata.Point, 0, len(timestamps))
		for i := range timestamps {
			points = append(points, tsdata.Point{Timestamp: timestamps[i], Value: tsdata.Float(values[i])})
		}
		res.Series = append(res.Series, tsdata.Series{
			ID:     tsdata.ID{TSUID: tsuid},
			Kind:   tsdata.ValueScalar,
			Tags:   tags,
			Points: points,
		})
	}
	return res, nil
}

func flatten(s tsdata.Series) ([]int64, []float64) {
	switch s.Kind {
	case tsdata.ValueScalar:
		ts := make([]int64, len(s.Points))
		vals := make([]float64, len(s.Points))
		for i, p := range s.Points {
			ts[i] = p.Timestamp
			vals[i] = float64(p.Value)
		}
		return ts, vals
	case tsdata.ValueSummary:
		// A cached segment's summary series is already the query's final
		// per-tick output; emit the lowest aggregator id (by convention the
		// rollup's primary aggregator, e.g. sum=0) as its flattened value.
		ts := make([]int64, len(s.Summary))
		vals := make([]float64, len(s.Summary))
		for i, p := range s.Summary {
			ts[i] = p.Timestamp
			vals[i] = float64(firstAggregatorValue(p.Values))
		}
		return ts, vals
	case tsdata.ValueArray:
		if s.Array == nil {
			return nil, nil
		}
		ts := make([]int64, len(s.Array.Values))
		vals := make([]float64, len(s.Array.Values))
		for i, v := range s.Array.Values {
			ts[i] = s.Array.Spec.Start + int64(i)*s.Array.Spec.Interval
			vals[i] = float64(v)
		}
		return ts, vals
	default:
		return nil, nil
	}
}

func firstAggregatorValue(values map[byte]tsdata.Float) tsdata.Float {
	if len(values) == 0 {
		return tsdata.NaN()
	}
	var lowest byte
	found := false
	for k := range values {
		if !found || k < lowest {
			lowest = k
			found = true
		}
	}
	return values[lowest]
}

func toAvroMap(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fromAvroMap(v interface{}) map[string]string {
	m, _ := v.(map[string]interface{})
	out := make(map[string]string, len(m))
	for k, vv := range m {
		s, _ := vv.(string)
		out[k] = s
	}
	return out
}

func toLongSlice(v []int64) []interface{} {
	out := make([]interface{}, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func toDoubleSlice(v []float64) []interface{} {
	out := make([]interface{}, len(v))
	for i, x := range v {
		out[i] = x
	}
	return out
}

func fromLongSlice(v interface{}) []int64 {
	raw, _ := v.([]interface{})
	out := make([]int64, len(raw))
	for i, x := range raw {
		out[i], _ = x.(int64)
	}
	return out
}

func fromDoubleSlice(v interface{}) []float64 {
	raw, _ := v.([]interface{})
	out := make([]float64, len(raw))
	for i, x := range raw {
		out[i], _ = x.(float64)
	}
	return out
}
