package codec

import "fmt"

// RawKind tags the qualifier shape a raw-table cell was encoded with.
type RawKind string

const (
	KindRawCell   RawKind = "raw-cell"
	KindRawAppend RawKind = "raw-append"
)

// RawDecoder decodes one raw-table (qualifier, value) pair into zero or
// more Cells (a per-cell decoder always produces exactly one; an
// append-blob decoder may produce many).
type RawDecoder func(baseTime int64, qualifier, value []byte, policy Policy) ([]Cell, error)

var rawRegistry = map[RawKind]RawDecoder{}

// RegisterRawDecoder adds a RawDecoder for the given kind tag. Intended to
// be called from this package's init(); exported so a caller embedding a
// custom raw qualifier shape can extend the registry the same way
// internal/nodes/* subpackages register pipeline.Factory implementations.
func RegisterRawDecoder(k RawKind, d RawDecoder) { rawRegistry[k] = d }

func init() {
	RegisterRawDecoder(KindRawCell, func(baseTime int64, qualifier, value []byte, _ Policy) ([]Cell, error) {
		c, err := DecodeRawCell(baseTime, qualifier, value)
		if err != nil {
			return nil, err
		}
		return []Cell{c}, nil
	})
	RegisterRawDecoder(KindRawAppend, func(baseTime int64, qualifier, value []byte, policy Policy) ([]Cell, error) {
		return DecodeAppendBlob(baseTime, qualifier, value, policy)
	})
}

// RawKindOf classifies a raw-table qualifier: OpenTSDB-style column
// compaction rewrites a row's individual per-cell qualifiers into one
// append-blob qualifier ([AppendPrefix, 0, 0]), which DecodeRow must
// expand rather than decode as a single cell.
func RawKindOf(qualifier []byte) RawKind {
	if isAppendQualifier(qualifier) {
		return KindRawAppend
	}
	return KindRawCell
}

// DecodeRawQualifier dispatches to the registered RawDecoder for kind.
func DecodeRawQualifier(k RawKind, baseTime int64, qualifier, value []byte, policy Policy) ([]Cell, error) {
	d, ok := rawRegistry[k]
	if !ok {
		return nil, fmt.Errorf("codec: no decoder registered for raw kind %q", k)
	}
	return d(baseTime, qualifier, value, policy)
}

// RollupKind tags the qualifier shape a rollup-table cell was encoded
// with. Unlike RawKind this isn't recoverable from the qualifier bytes
// alone (a rollup qualifier's only fixed prefix is the aggregator id, not
// a distinguishing marker byte); it follows from the column family's
// configured BlobFormat instead.
type RollupKind string

const (
	KindRollupCell   RollupKind = "rollup-cell"
	KindRollupAppend RollupKind = "rollup-append"
)

// RollupDecoder decodes one rollup-table (qualifier, value) pair into the
// aggregator id and the cells it carries.
type RollupDecoder func(baseTime int64, qualifier, value []byte, style QualifierStyle, table AggregatorTable, format *BlobFormat) (aggID byte, cells []RollupCell, err error)

var rollupRegistry = map[RollupKind]RollupDecoder{}

// RegisterRollupDecoder adds a RollupDecoder for the given kind tag.
func RegisterRollupDecoder(k RollupKind, d RollupDecoder) { rollupRegistry[k] = d }

func init() {
	RegisterRollupDecoder(KindRollupCell, func(baseTime int64, qualifier, value []byte, style QualifierStyle, table AggregatorTable, _ *BlobFormat) (byte, []RollupCell, error) {
		c, err := DecodeRollupCell(baseTime, qualifier, value, style, table)
		if err != nil {
			return 0, nil, err
		}
		return c.Aggregator, []RollupCell{c}, nil
	})
	RegisterRollupDecoder(KindRollupAppend, func(baseTime int64, qualifier, value []byte, style QualifierStyle, table AggregatorTable, format *BlobFormat) (byte, []RollupCell, error) {
		return DecodeRollupAppendBlob(baseTime, qualifier, value, style, table, *format)
	})
}

// RollupKindOf classifies a rollup column family from its configured
// BlobFormat: present means every qualifier in the family is a compacted
// append-blob, absent means ordinary per-cell rollup qualifiers.
func RollupKindOf(format *BlobFormat) RollupKind {
	if format != nil {
		return KindRollupAppend
	}
	return KindRollupCell
}

// DecodeRollupQualifier dispatches to the registered RollupDecoder for kind.
func DecodeRollupQualifier(k RollupKind, baseTime int64, qualifier, value []byte, style QualifierStyle, table AggregatorTable, format *BlobFormat) (byte, []RollupCell, error) {
	d, ok := rollupRegistry[k]
	if !ok {
		return 0, nil, fmt.Errorf("codec: no decoder registered for rollup kind %q", k)
	}
	return d(baseTime, qualifier, value, style, table, format)
}
