// Package aggregate implements the scalar reducers shared by the downsample,
// group-by, and summarizer nodes (spec.md §4.5): sum, min, max, count, avg,
// first, last, and percentiles. The reducers do not filter NaN themselves:
// a NaN in the input reaches the arithmetic, so callers drop NaN samples
// before reducing wherever they want them skipped.
package aggregate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Func reduces a slice of samples (NaNs already filtered by the caller if
// desired) to a single value. An empty input yields NaN, except for sum
// and count, which yield 0.
type Func func(values []float64) float64

func sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return float64(tsdata.NaN())
	}
	return sum(values) / float64(len(values))
}

func min(values []float64) float64 {
	if len(values) == 0 {
		return float64(tsdata.NaN())
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func max(values []float64) float64 {
	if len(values) == 0 {
		return float64(tsdata.NaN())
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func count(values []float64) float64 { return float64(len(values)) }

func first(values []float64) float64 {
	if len(values) == 0 {
		return float64(tsdata.NaN())
	}
	return values[0]
}

func last(values []float64) float64 {
	if len(values) == 0 {
		return float64(tsdata.NaN())
	}
	return values[len(values)-1]
}

// percentile mirrors the nearest-rank calculation the teacher's
// schema.JobMetric.AddPercentiles uses: sort ascending, index at
// len*p/100.
func percentile(p int) Func {
	return func(values []float64) float64 {
		if len(values) == 0 {
			return float64(tsdata.NaN())
		}
		sorted := append([]float64{}, values...)
		sort.Float64s(sorted)
		idx := (len(sorted) * p) / 100
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
}

// Lookup resolves an aggregator name to a Func. Names "p1".."p99" select a
// percentile reducer.
func Lookup(name string) (Func, error) {
	switch strings.ToLower(name) {
	case "sum":
		return sum, nil
	case "avg", "mean":
		return mean, nil
	case "min":
		return min, nil
	case "max":
		return max, nil
	case "count":
		return count, nil
	case "first":
		return first, nil
	case "last":
		return last, nil
	}
	if strings.HasPrefix(name, "p") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 1 && n <= 99 {
			return percentile(n), nil
		}
	}
	return nil, fmt.Errorf("aggregate: unknown aggregator %q", name)
}
