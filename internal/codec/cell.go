package codec

import (
	"fmt"
	"sort"

	"github.com/tsqueng/coreengine/internal/queryerr"
)

// Cell is a single decoded (timestamp, value) sample. Timestamp is the
// absolute epoch second (base_time + offset).
type Cell struct {
	Timestamp int64
	Value     Value
}

// DecodeError wraps a per-cell decode failure with the offending qualifier
// bytes, so a caller applying the "skip-bad-cells" policy can log and
// continue past it.
type DecodeError struct {
	Qualifier []byte
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("codec: cell decode error for qualifier % x: %v", e.Qualifier, e.Err)
}
func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeRawCell decodes one raw per-cell (qualifier, value) pair relative
// to baseTime.
func DecodeRawCell(baseTime int64, qualifier, value []byte) (Cell, error) {
	offset, flags, err := DecodeQualifier(qualifier)
	if err != nil {
		return Cell{}, &DecodeError{Qualifier: qualifier, Err: err}
	}
	v, err := DecodeValue(value, flags)
	if err != nil {
		return Cell{}, &DecodeError{Qualifier: qualifier, Err: err}
	}
	return Cell{Timestamp: baseTime + OffsetSeconds(offset, flags), Value: v}, nil
}

// EncodeRawCell encodes one raw per-cell (qualifier, value) pair. offset is
// the seconds-or-millis distance from base_time depending on useMillis.
func EncodeRawCell(offset int64, useMillis bool, v Value, floatPrecisionBytes int) (qualifier, value []byte, err error) {
	value, flags, err := EncodeValue(v, floatPrecisionBytes)
	if err != nil {
		return nil, nil, err
	}
	flags.IsMillis = useMillis
	qualifier, err = EncodeQualifier(offset, flags)
	if err != nil {
		return nil, nil, err
	}
	return qualifier, value, nil
}

// Policy controls how a decode failure is handled.
type Policy int

const (
	// PolicyFailScan aborts the whole row/scan on the first decode error
	// (the default, per spec.md §4.2).
	PolicyFailScan Policy = iota
	// PolicySkipBadCells drops the bad cell without logging it and
	// continues with subsequent cells of the same row.
	PolicySkipBadCells
)

// DecodeRow decodes every qualifier/value pair in a row, sorted ascending
// by timestamp. A row's qualifiers may be a mix of ordinary per-cell
// qualifiers and a compacted append-blob qualifier (OpenTSDB-style column
// compaction merges a row's individual cells into one blob); RawKindOf
// classifies each qualifier and DecodeRawQualifier expands it, so the
// caller doesn't need to know which shape a given row was written in.
func DecodeRow(baseTime int64, qualifiers, values [][]byte, policy Policy) ([]Cell, error) {
	if len(qualifiers) != len(values) {
		return nil, fmt.Errorf("codec: qualifier/value count mismatch")
	}

	cells := make([]Cell, 0, len(qualifiers))
	for i := range qualifiers {
		decoded, err := DecodeRawQualifier(RawKindOf(qualifiers[i]), baseTime, qualifiers[i], values[i], policy)
		if err != nil {
			if policy == PolicySkipBadCells {
				continue
			}
			if queryerr.Is(err, queryerr.KindDecode) {
				return nil, err
			}
			return nil, queryerr.New(queryerr.KindDecode, "DecodeRow", err)
		}
		cells = append(cells, decoded...)
	}

	sort.Slice(cells, func(i, j int) bool { return cells[i].Timestamp < cells[j].Timestamp })
	return cells, nil
}
