package expression

import (
	"math"
	"testing"

	"github.com/expr-lang/expr"
	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

// Scenario C (spec.md §8): expression A + B over two series of value 1,
// 16 points -> one series with value 2.
func TestExpressionScenarioC(t *testing.T) {
	points := make([]tsdata.Point, 16)
	for i := range points {
		points[i] = tsdata.Point{Timestamp: int64(i) * 3600, Value: 1}
	}
	a := tsdata.Series{ID: tsdata.ID{Label: "A"}, Points: points}
	b := tsdata.Series{ID: tsdata.ID{Label: "B"}, Points: points}

	program, err := expr.Compile("A + B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a, b}, program, Config{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Points, 16)
	for _, p := range out[0].Points {
		require.Equal(t, tsdata.Float(2), p.Value)
	}
}

// Scenario F (spec.md §8): ternary (A > 10) ? A : B with A=[5,15],
// B=[99,99] -> [99, 15].
func TestExpressionScenarioFTernary(t *testing.T) {
	a := tsdata.Series{ID: tsdata.ID{Label: "A"}, Points: []tsdata.Point{
		{Timestamp: 0, Value: 5}, {Timestamp: 1, Value: 15},
	}}
	b := tsdata.Series{ID: tsdata.ID{Label: "B"}, Points: []tsdata.Point{
		{Timestamp: 0, Value: 99}, {Timestamp: 1, Value: 99},
	}}

	program, err := expr.Compile("A > 10 ? A : B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a, b}, program, Config{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Points, 2)
	require.Equal(t, tsdata.Float(99), out[0].Points[0].Value)
	require.Equal(t, tsdata.Float(15), out[0].Points[1].Value)
}

// A single present operand passes through a nil-guarded ternary unchanged.
func TestExpressionNilGuardKeepsPresentOperand(t *testing.T) {
	a := tsdata.Series{ID: tsdata.ID{Label: "A"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}}
	program, err := expr.Compile("A != nil ? A : 0", expr.AsFloat64())
	require.NoError(t, err)
	out, err := Evaluate([]tsdata.Series{a}, program, Config{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, tsdata.Float(1), out[0].Points[0].Value)
}

// A present NaN sample (e.g. a downsample gap) must not poison the
// expression under the default non-infectious behavior (spec.md §4.5,
// testable property 7: "NaN + x = x").
func TestExpressionNonInfectiousNaNTreatedAsNeutral(t *testing.T) {
	a := tsdata.Series{ID: tsdata.ID{Label: "A"}, Points: []tsdata.Point{{Timestamp: 0, Value: tsdata.Float(math.NaN())}}}
	b := tsdata.Series{ID: tsdata.ID{Label: "B"}, Points: []tsdata.Point{{Timestamp: 0, Value: 5}}}

	program, err := expr.Compile("A + B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a, b}, program, Config{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, tsdata.Float(5), out[0].Points[0].Value)
}

// A missing operand (no sample at this tick, e.g. an unmatched LEFT-join
// side) must also bind to the neutral value by default, rather than being
// omitted from env and failing expr.Run with an undefined-variable error.
func TestExpressionMissingOperandTreatedAsNeutralByDefault(t *testing.T) {
	a1 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}}
	a2 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h2"}, Points: []tsdata.Point{{Timestamp: 0, Value: 10}}}
	b1 := tsdata.Series{ID: tsdata.ID{Label: "B"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 2}}}

	program, err := expr.Compile("A + B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a1, a2, b1}, program, Config{Variant: "left"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	byHost := map[string]tsdata.Float{}
	for _, s := range out {
		byHost[s.Tags["host"]] = s.Points[0].Value
	}
	require.Equal(t, tsdata.Float(3), byHost["h1"])
	require.Equal(t, tsdata.Float(10), byHost["h2"], "h2's missing B operand should default to the neutral value, not fail or NaN")
}

func TestExpressionJoinsMultiSeriesOperandsByTagKey(t *testing.T) {
	a1 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}}
	a2 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h2"}, Points: []tsdata.Point{{Timestamp: 0, Value: 10}}}
	b1 := tsdata.Series{ID: tsdata.ID{Label: "B"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 2}}}
	b2 := tsdata.Series{ID: tsdata.ID{Label: "B"}, Tags: map[string]string{"host": "h2"}, Points: []tsdata.Point{{Timestamp: 0, Value: 20}}}

	program, err := expr.Compile("A + B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a1, a2, b1, b2}, program, Config{})
	require.NoError(t, err)
	require.Len(t, out, 2, "one result series per matched host, not one blended series")

	byHost := map[string]tsdata.Float{}
	for _, s := range out {
		byHost[s.Tags["host"]] = s.Points[0].Value
	}
	require.Equal(t, tsdata.Float(3), byHost["h1"])
	require.Equal(t, tsdata.Float(30), byHost["h2"])
}

func TestExpressionLeftJoinKeepsUnmatchedLeft(t *testing.T) {
	a1 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 1}}}
	a2 := tsdata.Series{ID: tsdata.ID{Label: "A"}, Tags: map[string]string{"host": "h2"}, Points: []tsdata.Point{{Timestamp: 0, Value: 10}}}
	b1 := tsdata.Series{ID: tsdata.ID{Label: "B"}, Tags: map[string]string{"host": "h1"}, Points: []tsdata.Point{{Timestamp: 0, Value: 2}}}

	program, err := expr.Compile("A + B", expr.AsFloat64())
	require.NoError(t, err)

	out, err := Evaluate([]tsdata.Series{a1, a2, b1}, program, Config{Variant: "left", InfectiousNaN: true})
	require.NoError(t, err)
	require.Len(t, out, 2)

	byHost := map[string]tsdata.Float{}
	for _, s := range out {
		byHost[s.Tags["host"]] = s.Points[0].Value
	}
	require.Equal(t, tsdata.Float(3), byHost["h1"])
	require.True(t, byHost["h2"] != byHost["h2"], "h2's missing B operand should propagate as NaN under infectious_nan")
}
