// Package timeutil implements the time model shared by every pipeline node:
// timestamps carried as (epoch seconds, nanos-in-second), arithmetic done in
// integer ms/ns where possible, and the array-aligned time spec that array
// iterators write into.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Timestamp is an absolute instant with nanosecond precision preserved
// end-to-end, even though downsample/group-by buckets usually operate on
// millisecond boundaries.
type Timestamp struct {
	Sec   int64
	Nanos int32
	Zone  *time.Location
}

// UnixMilli returns the timestamp rounded to milliseconds since the epoch.
func (t Timestamp) UnixMilli() int64 {
	return t.Sec*1000 + int64(t.Nanos)/1_000_000
}

// Time converts to a standard library time.Time in the carried zone.
func (t Timestamp) Time() time.Time {
	loc := t.Zone
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(t.Sec, int64(t.Nanos)).In(loc)
}

// FromUnixSeconds builds a Timestamp at second resolution in UTC.
func FromUnixSeconds(sec int64) Timestamp {
	return Timestamp{Sec: sec, Zone: time.UTC}
}

// FromUnixMilli builds a Timestamp from a millisecond epoch value.
func FromUnixMilli(ms int64) Timestamp {
	return Timestamp{Sec: ms / 1000, Nanos: int32((ms % 1000) * 1_000_000), Zone: time.UTC}
}

// Spec describes the aligned buckets array iterators write into: count
// samples starting at Start, interval apart, all in the same unit (seconds
// unless StepIsMillis is set).
type Spec struct {
	Start        int64
	Interval     int64
	Count        int
	StepIsMillis bool
}

// At returns the timestamp (in the Spec's unit) of bucket i.
func (s Spec) At(i int) int64 {
	return s.Start + int64(i)*s.Interval
}

// IndexOf returns the bucket index containing ts, or -1 if out of range.
func (s Spec) IndexOf(ts int64) int {
	if s.Interval <= 0 || ts < s.Start {
		return -1
	}
	i := int((ts - s.Start) / s.Interval)
	if i >= s.Count {
		return -1
	}
	return i
}

// FillPolicy controls how gaps in a downsampled or windowed series are
// filled when no raw sample lands in a bucket.
type FillPolicy int

const (
	FillNone FillPolicy = iota
	FillZero
	FillNaN
	FillNull
	FillScalar
	FillPreferPrevious
	FillPreferNext
)

// relativeExpr matches relative time expressions like "1h", "15m", "2d", "3w".
var relativeExpr = regexp.MustCompile(`^(\d+)(s|m|h|d|w)$`)

// ParseTimeSpec resolves an ISO-8601 absolute timestamp or a relative
// expression "Ns|Nm|Nh|Nd|Nw" (seconds/minutes/hours/days/weeks before now)
// into an absolute Unix-second timestamp, matching the query config wire
// format of spec.md §6.
func ParseTimeSpec(s string, now time.Time) (int64, error) {
	if m := relativeExpr.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timeutil: invalid relative time %q: %w", s, err)
		}
		var unit time.Duration
		switch m[2] {
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return now.Add(-time.Duration(n) * unit).Unix(), nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("timeutil: invalid absolute time %q: %w", s, err)
	}
	return t.Unix(), nil
}
