package codec

import (
	"fmt"
	"sort"

	"github.com/tsqueng/coreengine/internal/queryerr"
	"github.com/tsqueng/coreengine/internal/tsdata"
)

// QualifierStyle selects how the aggregator is carried on a rollup
// qualifier: a single assigned byte id (current format) or a
// length-prefixed aggregator name (legacy format), per spec.md §3.
type QualifierStyle int

const (
	StyleAggregatorID QualifierStyle = iota
	StyleAggregatorName
)

// AggregatorTable maps aggregator names to their assigned ids (sum=0,
// count=1, ... per the rollup configuration) and back.
type AggregatorTable struct {
	nameToID map[string]byte
	idToName map[byte]string
}

// NewAggregatorTable builds a table from an ordered list of aggregator
// names; position in the slice is the assigned id.
func NewAggregatorTable(names []string) AggregatorTable {
	t := AggregatorTable{nameToID: map[string]byte{}, idToName: map[byte]string{}}
	for i, n := range names {
		t.nameToID[n] = byte(i)
		t.idToName[byte(i)] = n
	}
	return t
}

func (t AggregatorTable) ID(name string) (byte, bool) {
	id, ok := t.nameToID[name]
	return id, ok
}

func (t AggregatorTable) Name(id byte) (string, bool) {
	n, ok := t.idToName[id]
	return n, ok
}

// RollupCell is a decoded rollup per-cell sample.
type RollupCell struct {
	Timestamp  int64
	Aggregator byte
	Value      Value
}

// splitRollupPrefix extracts the aggregator id and the remaining qualifier
// bytes (the raw per-cell offset+flags suffix, if any) from a rollup
// qualifier under style.
func splitRollupPrefix(qualifier []byte, style QualifierStyle, table AggregatorTable) (aggID byte, rest []byte, err error) {
	if len(qualifier) < 1 {
		return 0, nil, fmt.Errorf("codec: empty rollup qualifier")
	}
	switch style {
	case StyleAggregatorID:
		return qualifier[0], qualifier[1:], nil
	case StyleAggregatorName:
		n := int(qualifier[0])
		if len(qualifier) < 1+n {
			return 0, nil, fmt.Errorf("codec: truncated aggregator name in rollup qualifier")
		}
		name := string(qualifier[1 : 1+n])
		id, ok := table.ID(name)
		if !ok {
			return 0, nil, fmt.Errorf("codec: unknown legacy aggregator name %q", name)
		}
		return id, qualifier[1+n:], nil
	default:
		return 0, nil, fmt.Errorf("codec: unknown qualifier style %d", style)
	}
}

// DecodeRollupCell decodes one rollup per-cell (qualifier, value) pair:
// qualifier is [aggregator_id][offset_bits||flag_bits...] or the
// length-prefixed-name variant.
func DecodeRollupCell(baseTime int64, qualifier, value []byte, style QualifierStyle, table AggregatorTable) (RollupCell, error) {
	aggID, rest, err := splitRollupPrefix(qualifier, style, table)
	if err != nil {
		return RollupCell{}, queryerr.New(queryerr.KindDecode, "DecodeRollupCell", err)
	}
	offset, flags, err := DecodeQualifier(rest)
	if err != nil {
		return RollupCell{}, queryerr.New(queryerr.KindDecode, "DecodeRollupCell", err)
	}
	v, err := DecodeValue(value, flags)
	if err != nil {
		return RollupCell{}, queryerr.New(queryerr.KindDecode, "DecodeRollupCell", err)
	}
	return RollupCell{Timestamp: baseTime + OffsetSeconds(offset, flags), Aggregator: aggID, Value: v}, nil
}

// BlobFormat describes the fixed per-record layout of a rollup
// append-blob: bucket offsets and values are both fixed-width, with no
// per-record flag byte (spec.md §3: "a fixed interval within the row span").
type BlobFormat struct {
	OffsetWidth  int // bytes, 2 or 4
	IntervalSecs int64
	ValueLen     int // bytes
	IsFloat      bool
}

// DecodeRollupAppendBlob decodes a rollup append-blob cell: qualifier is
// just the aggregator prefix ([aggregator_id] or [aggregator_id,0,0]);
// value is a concatenation of (bucket_index||value) fixed-width records.
func DecodeRollupAppendBlob(baseTime int64, qualifier, blob []byte, style QualifierStyle, table AggregatorTable, format BlobFormat) (byte, []RollupCell, error) {
	aggID, _, err := splitRollupPrefix(qualifier, style, table)
	if err != nil {
		return 0, nil, queryerr.New(queryerr.KindDecode, "DecodeRollupAppendBlob", err)
	}

	byOffset := make(map[int64]RollupCell)
	pos := 0
	recordLen := format.OffsetWidth + format.ValueLen
	for pos < len(blob) {
		if pos+recordLen > len(blob) {
			return 0, nil, queryerr.New(queryerr.KindDecode, "DecodeRollupAppendBlob", fmt.Errorf("truncated rollup blob record"))
		}
		bucket, err := decodeUint(blob[pos : pos+format.OffsetWidth])
		if err != nil {
			return 0, nil, queryerr.New(queryerr.KindDecode, "DecodeRollupAppendBlob", err)
		}
		pos += format.OffsetWidth

		v, err := DecodeValue(blob[pos:pos+format.ValueLen], Flags{IsFloat: format.IsFloat, ValueLen: format.ValueLen})
		if err != nil {
			return 0, nil, queryerr.New(queryerr.KindDecode, "DecodeRollupAppendBlob", err)
		}
		pos += format.ValueLen

		ts := baseTime + bucket*format.IntervalSecs
		byOffset[ts] = RollupCell{Timestamp: ts, Aggregator: aggID, Value: v}
	}

	cells := make([]RollupCell, 0, len(byOffset))
	for _, c := range byOffset {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Timestamp < cells[j].Timestamp })
	return aggID, cells, nil
}

func decodeUint(b []byte) (int64, error) {
	var v int64
	for _, x := range b {
		v = v<<8 | int64(x)
	}
	return v, nil
}

// AlignRollups merges per-aggregator cell streams into one numeric-summary
// stream indexed by timestamp, so a summary covering all requested
// aggregators is produced in a single sweep, per spec.md §4.2.
func AlignRollups(byAggregator map[byte][]RollupCell) []tsdata.SummaryPoint {
	byTimestamp := make(map[int64]map[byte]tsdata.Float)
	for agg, cells := range byAggregator {
		for _, c := range cells {
			m, ok := byTimestamp[c.Timestamp]
			if !ok {
				m = make(map[byte]tsdata.Float)
				byTimestamp[c.Timestamp] = m
			}
			m[agg] = tsdata.Float(c.Value.Float64())
		}
	}

	timestamps := make([]int64, 0, len(byTimestamp))
	for ts := range byTimestamp {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	out := make([]tsdata.SummaryPoint, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, tsdata.SummaryPoint{Timestamp: ts, Values: byTimestamp[ts]})
	}
	return out
}
