package codec

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/tsqueng/coreengine/internal/queryerr"
)

// isAppendQualifier reports whether qualifier marks a compacted
// append-blob cell rather than an ordinary per-cell qualifier.
func isAppendQualifier(qualifier []byte) bool {
	return len(qualifier) == 3 && qualifier[0] == AppendPrefix && qualifier[1] == 0 && qualifier[2] == 0
}

// zstdFrameMagic is the 4-byte little-endian magic every zstd frame opens
// with; used to detect a compressed append-blob value without a schema
// flag, since append-blob compression is opt-in per spec.md §4.2.
var zstdFrameMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var appendBlobEncoder, _ = zstd.NewWriter(nil)

// CompressAppendBlob zstd-compresses an append-blob's raw record bytes
// before it's written to storage (spec.md §4.2: "Append-blob values MAY be
// zstd-compressed before storage").
func CompressAppendBlob(blob []byte) []byte {
	return appendBlobEncoder.EncodeAll(blob, nil)
}

// decompressAppendBlob transparently reverses CompressAppendBlob; a blob
// with no zstd frame header is assumed uncompressed and returned as-is, so
// compressed and plain blobs can coexist in the same column.
func decompressAppendBlob(blob []byte) ([]byte, error) {
	if len(blob) < 4 || !bytes.Equal(blob[:4], zstdFrameMagic) {
		return blob, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("codec: zstd reader: %w", err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("codec: decompress append blob: %w", err)
	}
	return raw, nil
}

// DecodeAppendBlob decodes a raw append-blob cell: value is a concatenation
// of (qualifier2||value) records written in publish order, optionally
// zstd-compressed as a whole. Records may arrive out of time order and may
// duplicate an offset; per spec.md §3 the reader sorts by offset and,
// within an offset, keeps the last record written (i.e. the last one
// encountered while scanning the blob in storage order).
func DecodeAppendBlob(baseTime int64, qualifier, blob []byte, policy Policy) ([]Cell, error) {
	if !isAppendQualifier(qualifier) {
		return nil, queryerr.New(queryerr.KindDecode, "DecodeAppendBlob", fmt.Errorf("bad append qualifier % x", qualifier))
	}
	blob, err := decompressAppendBlob(blob)
	if err != nil {
		return nil, queryerr.New(queryerr.KindDecode, "DecodeAppendBlob", err)
	}

	byOffset := make(map[int64]Cell)
	pos := 0
	for pos < len(blob) {
		if pos+2 > len(blob) {
			return nil, truncated(policy, "DecodeAppendBlob", "qualifier")
		}
		innerQ := blob[pos : pos+2]
		offset, flags, err := DecodeQualifier(innerQ)
		if err != nil {
			return nil, truncated(policy, "DecodeAppendBlob", "qualifier")
		}
		pos += 2

		if pos+flags.ValueLen > len(blob) {
			return nil, truncated(policy, "DecodeAppendBlob", "value")
		}
		v, err := DecodeValue(blob[pos:pos+flags.ValueLen], flags)
		if err != nil {
			return nil, truncated(policy, "DecodeAppendBlob", "value")
		}
		pos += flags.ValueLen

		ts := baseTime + OffsetSeconds(offset, flags)
		// Overwrite on duplicate offset: later records in scan order win.
		byOffset[ts] = Cell{Timestamp: ts, Value: v}
	}

	cells := make([]Cell, 0, len(byOffset))
	for _, c := range byOffset {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Timestamp < cells[j].Timestamp })
	return cells, nil
}

// truncated always fails regardless of policy: a mid-record truncation
// means the remaining record boundaries are unknown, so "skip this one bad
// cell and continue" isn't well-defined the way it is for a list of
// independent per-cell qualifiers.
func truncated(_ Policy, op, what string) error {
	return queryerr.New(queryerr.KindDecode, op, fmt.Errorf("truncated %s in append blob", what))
}

// EncodeAppendRecord builds one (qualifier2||value) record for appending to
// a raw append-blob cell's value.
func EncodeAppendRecord(offsetSeconds int64, v Value, floatPrecisionBytes int) ([]byte, error) {
	value, flags, err := EncodeValue(v, floatPrecisionBytes)
	if err != nil {
		return nil, err
	}
	q, err := EncodeQualifier(offsetSeconds, flags)
	if err != nil {
		return nil, err
	}
	return append(q, value...), nil
}
