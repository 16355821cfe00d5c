package join

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/tsdata"
)

func series(label, host string) tsdata.Series {
	return tsdata.Series{ID: tsdata.ID{Label: label}, Tags: map[string]string{"host": host}}
}

func TestInnerJoinOnlyEmitsMatchingKeys(t *testing.T) {
	left := []tsdata.Series{series("A", "web01"), series("A", "web02")}
	right := []tsdata.Series{series("B", "web01")}
	key := KeysFromTagList([]string{"host"})

	out := Run(left, right, key, Inner)
	require.Len(t, out, 1)
	require.Equal(t, "A", out[0].Left.ID.Label)
	require.Equal(t, "B", out[0].Right.ID.Label)
}

func TestLeftJoinKeepsUnmatchedLeft(t *testing.T) {
	left := []tsdata.Series{series("A", "web01"), series("A", "web02")}
	right := []tsdata.Series{series("B", "web01")}
	key := KeysFromTagList([]string{"host"})

	out := Run(left, right, key, Left)
	require.Len(t, out, 2)
}

func TestCartesianTieBreakOnDuplicateKeys(t *testing.T) {
	left := []tsdata.Series{series("A1", "web01"), series("A2", "web01")}
	right := []tsdata.Series{series("B1", "web01"), series("B2", "web01")}
	key := KeysFromTagList([]string{"host"})

	out := Run(left, right, key, Inner)
	require.Len(t, out, 4, "2x2 Cartesian product for the shared key")
}

func TestNaturalOuterOnlyEmitsDisjointKeys(t *testing.T) {
	left := []tsdata.Series{series("A", "web01"), series("A", "web02")}
	right := []tsdata.Series{series("B", "web01")}
	key := KeysFromTagList([]string{"host"})

	out := Run(left, right, key, NaturalOuter)
	require.Len(t, out, 1)
	require.True(t, out[0].HasLeft)
	require.False(t, out[0].HasRight)
}

func TestRunTernaryRequiresAllThreeSides(t *testing.T) {
	left := []tsdata.Series{series("A", "web01")}
	right := []tsdata.Series{series("B", "web01")}
	cond := []tsdata.Series{series("C", "web01")}
	key := KeysFromTagList([]string{"host"})

	out := RunTernary(left, right, cond, key)
	require.Len(t, out, 1)
	require.Equal(t, "C", out[0].Cond.ID.Label)
}
