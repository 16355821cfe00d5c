// Package rowkey implements the wide-row binary schema: row-key layout,
// base-time arithmetic and salt computation (spec.md §3, §4.1).
package rowkey

// SaltMode selects which bytes of the key feed the salt-bucket hash.
type SaltMode int

const (
	// SaltTimeless hashes everything after the salt prefix excluding
	// base_time, so all base_times for one series land in the same bucket.
	SaltTimeless SaltMode = iota
	// SaltPerInterval hashes from after the salt through the end of the
	// key including base_time, so different base_times may land in
	// different buckets.
	SaltPerInterval
	// SaltLegacy hashes only the tag-pair suffix (OLD_SALTING_KEY).
	// Preserved for read compatibility only; spec.md §9(c) marks it
	// read-only for new writes, so no encode path defaults to it.
	SaltLegacy
)

// Config parameterizes row-key layout. UID widths, salting and row span are
// independently configurable per the data model in spec.md §3.
type Config struct {
	MetricUIDWidth int
	TagKUIDWidth   int
	TagVUIDWidth   int

	// RowSpanSeconds is the base_time alignment span; default 3600 (1h)
	// for raw data, configurable per rollup interval.
	RowSpanSeconds int64

	SaltWidth   int // 0..3 bytes
	SaltBuckets int // 1..256^SaltWidth
	SaltMode    SaltMode
}

// DefaultConfig matches the spec's stated defaults: 3-byte UIDs, 1h rows,
// no salting.
func DefaultConfig() Config {
	return Config{
		MetricUIDWidth: 3,
		TagKUIDWidth:   3,
		TagVUIDWidth:   3,
		RowSpanSeconds: 3600,
		SaltWidth:      0,
		SaltBuckets:    1,
		SaltMode:       SaltTimeless,
	}
}

// tagPairWidth is the encoded width of one tag pair under cfg.
func (c Config) tagPairWidth() int {
	return c.TagKUIDWidth + c.TagVUIDWidth
}

// AlignBaseTime rounds down epochSeconds to the row span boundary.
func (c Config) AlignBaseTime(epochSeconds int64) int64 {
	span := c.RowSpanSeconds
	if span <= 0 {
		span = 3600
	}
	return epochSeconds - (epochSeconds % span)
}
