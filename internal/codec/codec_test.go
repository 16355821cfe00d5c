package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellRoundTripIntegerWidths(t *testing.T) {
	cases := []int64{0, 1, -1, 127, -128, 128, 32000, -32768, 70000, -2147483649, 1<<62 - 1}
	for _, baseTime := range []int64{0, 1517443200} {
		for _, useMillis := range []bool{false, true} {
			for _, want := range cases {
				var offset int64 = 42
				if useMillis {
					offset = 4200
				}
				q, v, err := EncodeRawCell(offset, useMillis, IntValue(want), 8)
				require.NoError(t, err)
				cell, err := DecodeRawCell(baseTime, q, v)
				require.NoError(t, err)
				require.Equal(t, want, cell.Value.Int)
				require.False(t, cell.Value.IsFloat)
				if useMillis {
					require.Equal(t, baseTime+offset/1000, cell.Timestamp)
				} else {
					require.Equal(t, baseTime+offset, cell.Timestamp)
				}
			}
		}
	}
}

func TestCellRoundTripFloat(t *testing.T) {
	for _, want := range []float64{0, 1.5, -1.5, 3.14159265, 1e10} {
		q, v, err := EncodeRawCell(10, false, FloatValue(want), 8)
		require.NoError(t, err)
		cell, err := DecodeRawCell(0, q, v)
		require.NoError(t, err)
		require.True(t, cell.Value.IsFloat)
		require.Equal(t, want, cell.Value.Float)
	}

	for _, want := range []float64{0, 1.5, -1.5, 3.25} {
		q, v, err := EncodeRawCell(10, false, FloatValue(want), 4)
		require.NoError(t, err)
		cell, err := DecodeRawCell(0, q, v)
		require.NoError(t, err)
		require.True(t, cell.Value.IsFloat)
		require.InDelta(t, want, cell.Value.Float, 1e-6)
	}
}

func TestAppendBlobDedupKeepsLastWrite(t *testing.T) {
	q := []byte{AppendPrefix, 0, 0}

	r1, err := EncodeAppendRecord(10, IntValue(1), 8)
	require.NoError(t, err)
	r2, err := EncodeAppendRecord(10, IntValue(2), 8)
	require.NoError(t, err)
	r3, err := EncodeAppendRecord(5, IntValue(99), 8)
	require.NoError(t, err)

	blob := append(append(append([]byte{}, r1...), r3...), r2...)

	cells, err := DecodeAppendBlob(0, q, blob, PolicyFailScan)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	require.Equal(t, int64(5), cells[0].Timestamp)
	require.Equal(t, int64(99), cells[0].Value.Int)
	require.Equal(t, int64(10), cells[1].Timestamp)
	require.Equal(t, int64(2), cells[1].Value.Int, "later write for the same offset must win")
}

func TestDecodeRowSortsAscending(t *testing.T) {
	q1, v1, _ := EncodeRawCell(20, false, IntValue(2), 8)
	q2, v2, _ := EncodeRawCell(5, false, IntValue(1), 8)

	cells, err := DecodeRow(0, [][]byte{q1, q2}, [][]byte{v1, v2}, PolicyFailScan)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	require.Equal(t, int64(5), cells[0].Timestamp)
	require.Equal(t, int64(20), cells[1].Timestamp)
}

func TestDecodeRowSkipBadCellsPolicy(t *testing.T) {
	good, gv, _ := EncodeRawCell(5, false, IntValue(1), 8)
	bad := []byte{1} // truncated qualifier

	cells, err := DecodeRow(0, [][]byte{good, bad}, [][]byte{gv, {0}}, PolicySkipBadCells)
	require.NoError(t, err)
	require.Len(t, cells, 1)

	_, err = DecodeRow(0, [][]byte{good, bad}, [][]byte{gv, {0}}, PolicyFailScan)
	require.Error(t, err)
}

func TestRollupCellRoundTripByID(t *testing.T) {
	table := NewAggregatorTable([]string{"sum", "count"})
	q, v, err := EncodeRawCell(60, false, FloatValue(10), 8)
	require.NoError(t, err)
	fullQualifier := append([]byte{0}, q...) // aggregator id 0 = sum

	cell, err := DecodeRollupCell(0, fullQualifier, v, StyleAggregatorID, table)
	require.NoError(t, err)
	require.Equal(t, byte(0), cell.Aggregator)
	require.Equal(t, int64(60), cell.Timestamp)
	require.Equal(t, 10.0, cell.Value.Float)
}

func TestRollupCellRoundTripByName(t *testing.T) {
	table := NewAggregatorTable([]string{"sum", "count"})
	q, v, err := EncodeRawCell(60, false, IntValue(5), 8)
	require.NoError(t, err)
	name := "count"
	fullQualifier := append(append([]byte{byte(len(name))}, []byte(name)...), q...)

	cell, err := DecodeRollupCell(0, fullQualifier, v, StyleAggregatorName, table)
	require.NoError(t, err)
	require.Equal(t, byte(1), cell.Aggregator)
}

func TestDecodeRowExpandsEmbeddedAppendBlob(t *testing.T) {
	rawQ, rawV, _ := EncodeRawCell(5, false, IntValue(1), 8)

	appendQ := []byte{AppendPrefix, 0, 0}
	r1, _ := EncodeAppendRecord(10, IntValue(2), 8)
	r2, _ := EncodeAppendRecord(20, IntValue(3), 8)
	appendBlob := append(append([]byte{}, r1...), r2...)

	cells, err := DecodeRow(0, [][]byte{rawQ, appendQ}, [][]byte{rawV, appendBlob}, PolicyFailScan)
	require.NoError(t, err)
	require.Len(t, cells, 3, "one ordinary cell plus two records expanded from the append blob")
	require.Equal(t, int64(5), cells[0].Timestamp)
	require.Equal(t, int64(10), cells[1].Timestamp)
	require.Equal(t, int64(20), cells[2].Timestamp)
}

func TestDecodeAppendBlobTransparentlyDecompresses(t *testing.T) {
	q := []byte{AppendPrefix, 0, 0}
	r1, _ := EncodeAppendRecord(10, IntValue(42), 8)

	compressed := CompressAppendBlob(r1)
	require.NotEqual(t, r1, compressed, "a real record should actually shrink/transform under zstd framing")

	cells, err := DecodeAppendBlob(0, q, compressed, PolicyFailScan)
	require.NoError(t, err)
	require.Len(t, cells, 1)
	require.Equal(t, int64(10), cells[0].Timestamp)
	require.Equal(t, int64(42), cells[0].Value.Int)

	plain, err := DecodeAppendBlob(0, q, r1, PolicyFailScan)
	require.NoError(t, err)
	require.Equal(t, cells, plain, "compressed and plain blobs must decode identically")
}

func TestRollupRegistryDispatchesByBlobFormat(t *testing.T) {
	table := NewAggregatorTable([]string{"sum", "count"})
	q, v, err := EncodeRawCell(30, false, FloatValue(5), 8)
	require.NoError(t, err)
	cellQ := append([]byte{0}, q...) // aggregator id 0 = sum

	kind := RollupKindOf(nil)
	require.Equal(t, KindRollupCell, kind)
	aggID, cells, err := DecodeRollupQualifier(kind, 0, cellQ, v, StyleAggregatorID, table, nil)
	require.NoError(t, err)
	require.Equal(t, byte(0), aggID)
	require.Len(t, cells, 1)
	require.Equal(t, int64(30), cells[0].Timestamp)

	blobKind := RollupKindOf(&BlobFormat{OffsetWidth: 2, IntervalSecs: 60, ValueLen: 8, IsFloat: true})
	require.Equal(t, KindRollupAppend, blobKind)
}

func TestAlignRollupsMergesByTimestamp(t *testing.T) {
	byAgg := map[byte][]RollupCell{
		0: {{Timestamp: 100, Aggregator: 0, Value: FloatValue(5)}},
		1: {{Timestamp: 100, Aggregator: 1, Value: IntValue(2)}},
	}
	summary := AlignRollups(byAgg)
	require.Len(t, summary, 1)
	require.Equal(t, int64(100), summary[0].Timestamp)
	require.Equal(t, 5.0, float64(summary[0].Values[0]))
	require.Equal(t, 2.0, float64(summary[0].Values[1]))
}
