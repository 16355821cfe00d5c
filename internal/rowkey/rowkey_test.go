package rowkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testPairs() []TagPair {
	return []TagPair{
		{TagK: []byte{0, 0, 1}, TagV: []byte{0, 0, 7}},
		{TagK: []byte{0, 0, 2}, TagV: []byte{0, 0, 8}},
	}
}

func TestRowKeyRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	metric := []byte{1, 2, 3}
	baseTime := int64(1517443200)

	key, err := EncodeRowKey(cfg, metric, baseTime, testPairs())
	require.NoError(t, err)

	tsuid, err := DecodeTSUID(cfg, key)
	require.NoError(t, err)

	want := append(append([]byte{}, metric...), byteSlices(testPairs())...)
	require.Equal(t, want, tsuid)

	bt, err := BaseTime(cfg, key)
	require.NoError(t, err)
	require.EqualValues(t, cfg.AlignBaseTime(baseTime), bt)
}

func byteSlices(pairs []TagPair) []byte {
	var out []byte
	for _, p := range pairs {
		out = append(out, p.TagK...)
		out = append(out, p.TagV...)
	}
	return out
}

func TestEncodeRowKeyRejectsUnsortedTags(t *testing.T) {
	cfg := DefaultConfig()
	pairs := []TagPair{
		{TagK: []byte{0, 0, 2}, TagV: []byte{0, 0, 8}},
		{TagK: []byte{0, 0, 1}, TagV: []byte{0, 0, 7}},
	}
	_, err := EncodeRowKey(cfg, []byte{1, 2, 3}, 100, pairs)
	require.Error(t, err)
}

func TestSaltStableAcrossCalls(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SaltWidth = 1
	cfg.SaltBuckets = 16
	cfg.SaltMode = SaltTimeless

	metric := []byte{9, 9, 9}
	k1, err := EncodeRowKey(cfg, metric, 1000*3600, testPairs())
	require.NoError(t, err)
	k2, err := EncodeRowKey(cfg, metric, 1000*3600, testPairs())
	require.NoError(t, err)
	require.Equal(t, k1[0], k2[0])
}

func TestSaltTimelessSameAcrossBaseTimes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SaltWidth = 1
	cfg.SaltBuckets = 16
	cfg.SaltMode = SaltTimeless

	metric := []byte{9, 9, 9}
	k1, err := EncodeRowKey(cfg, metric, 0, testPairs())
	require.NoError(t, err)
	k2, err := EncodeRowKey(cfg, metric, 3600*5000, testPairs())
	require.NoError(t, err)
	require.Equal(t, k1[0], k2[0], "timeless salting must not depend on base_time")
}

func TestSaltPerIntervalCanDifferAcrossBaseTimes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SaltWidth = 1
	cfg.SaltBuckets = 256
	cfg.SaltMode = SaltPerInterval

	metric := []byte{9, 9, 9}
	differed := false
	for bt := int64(0); bt < 20; bt++ {
		k1, err := EncodeRowKey(cfg, metric, bt*3600, testPairs())
		require.NoError(t, err)
		k0, err := EncodeRowKey(cfg, metric, 0, testPairs())
		require.NoError(t, err)
		if k1[0] != k0[0] {
			differed = true
			break
		}
	}
	require.True(t, differed, "per-interval salting should vary with base_time across enough samples")
}

func TestNextRowKeyForScan(t *testing.T) {
	cfg := DefaultConfig()
	metric := []byte{1, 2, 3}
	key, err := EncodeRowKey(cfg, metric, 0, testPairs())
	require.NoError(t, err)
	tsuid, err := DecodeTSUID(cfg, key)
	require.NoError(t, err)

	next, err := NextRowKeyForScan(cfg, tsuid, cfg.RowSpanSeconds)
	require.NoError(t, err)

	bt, err := BaseTime(cfg, next)
	require.NoError(t, err)
	require.EqualValues(t, cfg.RowSpanSeconds, bt)
}
