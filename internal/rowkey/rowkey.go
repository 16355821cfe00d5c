package rowkey

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// TagPair is tagk_bytes||tagv_bytes, the ordered concatenation used both
// inside the row key and for the salt hash. Tag pairs are sorted
// lexicographically by tagk bytes ascending before a key is built.
type TagPair struct {
	TagK []byte
	TagV []byte
}

// sortedByTagK reports whether pairs are already in ascending tagk order.
func sortedByTagK(pairs []TagPair) bool {
	for i := 1; i < len(pairs); i++ {
		if bytes.Compare(pairs[i-1].TagK, pairs[i].TagK) > 0 {
			return false
		}
	}
	return true
}

// EncodeRowKey builds [salt_prefix?][metric_uid][base_time][tagk1][tagv1]...
// Tag pairs must already be sorted by tagk ascending; an unsorted input is
// a build error, not silently corrected.
func EncodeRowKey(cfg Config, metricUID []byte, baseTime int64, pairs []TagPair) ([]byte, error) {
	if len(metricUID) != cfg.MetricUIDWidth {
		return nil, fmt.Errorf("rowkey: metric uid width %d, want %d", len(metricUID), cfg.MetricUIDWidth)
	}
	if !sortedByTagK(pairs) {
		return nil, fmt.Errorf("rowkey: tag pairs not sorted by tagk ascending")
	}
	for i, p := range pairs {
		if len(p.TagK) != cfg.TagKUIDWidth || len(p.TagV) != cfg.TagVUIDWidth {
			return nil, fmt.Errorf("rowkey: tag pair %d has wrong uid width", i)
		}
	}

	aligned := cfg.AlignBaseTime(baseTime)

	total := cfg.SaltWidth + cfg.MetricUIDWidth + 4 + len(pairs)*cfg.tagPairWidth()
	key := make([]byte, total)

	off := cfg.SaltWidth
	off += copy(key[off:], metricUID)
	binary.BigEndian.PutUint32(key[off:off+4], uint32(aligned))
	off += 4
	for _, p := range pairs {
		off += copy(key[off:], p.TagK)
		off += copy(key[off:], p.TagV)
	}

	if cfg.SaltWidth > 0 {
		if err := PrefixSalt(cfg, key); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// DecodeTSUID strips the salt prefix and base_time, returning
// [metric_uid][tagk1][tagv1]... — the stable identity of the series.
func DecodeTSUID(cfg Config, key []byte) ([]byte, error) {
	start := cfg.SaltWidth + cfg.MetricUIDWidth + 4
	if len(key) < start {
		return nil, fmt.Errorf("rowkey: key too short for tsuid")
	}
	tsuid := make([]byte, 0, len(key)-cfg.SaltWidth-4)
	tsuid = append(tsuid, key[cfg.SaltWidth:cfg.SaltWidth+cfg.MetricUIDWidth]...)
	tsuid = append(tsuid, key[start:]...)
	return tsuid, nil
}

// BaseTime reads the base_time_u32_be field. Invariant 1 of spec.md §3:
// derived only from bytes [salt_width+metric_width, salt_width+metric_width+4).
func BaseTime(cfg Config, key []byte) (uint32, error) {
	lo := cfg.SaltWidth + cfg.MetricUIDWidth
	hi := lo + 4
	if len(key) < hi {
		return 0, fmt.Errorf("rowkey: key too short for base_time")
	}
	return binary.BigEndian.Uint32(key[lo:hi]), nil
}

// NextRowKeyForScan returns the row key for tsuid at nextBaseTime (normally
// the current base_time plus one row span), used to advance a scan cursor
// past the current row without re-reading it.
func NextRowKeyForScan(cfg Config, tsuid []byte, nextBaseTime int64) ([]byte, error) {
	if len(tsuid) < cfg.MetricUIDWidth {
		return nil, fmt.Errorf("rowkey: tsuid too short")
	}
	metricUID := tsuid[:cfg.MetricUIDWidth]
	tagBytes := tsuid[cfg.MetricUIDWidth:]
	pairWidth := cfg.tagPairWidth()
	if pairWidth > 0 && len(tagBytes)%pairWidth != 0 {
		return nil, fmt.Errorf("rowkey: tsuid tag bytes not a multiple of pair width")
	}

	var pairs []TagPair
	for i := 0; i+pairWidth <= len(tagBytes); i += pairWidth {
		pairs = append(pairs, TagPair{
			TagK: tagBytes[i : i+cfg.TagKUIDWidth],
			TagV: tagBytes[i+cfg.TagKUIDWidth : i+pairWidth],
		})
	}
	return EncodeRowKey(cfg, metricUID, nextBaseTime, pairs)
}

// saltHashSeed is the fixed seed so salt computation is deterministic
// across processes, as required by invariant 2 of spec.md §8.
const saltHashSeed uint64 = 0

// PrefixSalt mutates the leading cfg.SaltWidth bytes of key in place,
// writing hash(relevantBytes) mod buckets big-endian.
func PrefixSalt(cfg Config, key []byte) error {
	if cfg.SaltWidth == 0 {
		return nil
	}
	if len(key) < cfg.SaltWidth {
		return fmt.Errorf("rowkey: key shorter than salt width")
	}
	if cfg.SaltWidth < 0 || cfg.SaltWidth > 3 {
		return fmt.Errorf("rowkey: salt width must be in [0,3], got %d", cfg.SaltWidth)
	}

	var region []byte
	switch cfg.SaltMode {
	case SaltTimeless:
		// Hash excludes base_time: salt .. metric .. (skip base_time) .. tags.
		metricEnd := cfg.SaltWidth + cfg.MetricUIDWidth
		region = append(append([]byte{}, key[cfg.SaltWidth:metricEnd]...), key[metricEnd+4:]...)
	case SaltPerInterval:
		region = key[cfg.SaltWidth:]
	case SaltLegacy:
		tagStart := cfg.SaltWidth + cfg.MetricUIDWidth + 4
		if tagStart > len(key) {
			tagStart = len(key)
		}
		region = key[tagStart:]
	default:
		return fmt.Errorf("rowkey: unknown salt mode %d", cfg.SaltMode)
	}

	h := xxhash.Sum64(region) ^ saltHashSeed
	buckets := uint64(cfg.SaltBuckets)
	if buckets == 0 {
		buckets = 1
	}
	bucket := h % buckets

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], bucket)
	copy(key[:cfg.SaltWidth], buf[8-cfg.SaltWidth:])
	return nil
}
