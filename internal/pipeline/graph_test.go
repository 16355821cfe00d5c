package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/queryerr"
)

func TestPlanDetectsCycle(t *testing.T) {
	configs := []NodeConfig{
		{ID: "a", Type: "expression", Sources: []string{"b"}},
		{ID: "b", Type: "expression", Sources: []string{"a"}},
	}
	_, err := Plan(configs, []string{"a"})
	require.Error(t, err)
	require.True(t, queryerr.Is(err, queryerr.KindFatal))
}

func TestPlanRejectsUnknownSource(t *testing.T) {
	configs := []NodeConfig{
		{ID: "a", Type: "expression", Sources: []string{"missing"}},
	}
	_, err := Plan(configs, []string{"a"})
	require.Error(t, err)
	require.True(t, queryerr.Is(err, queryerr.KindValidation))
}

func TestPlanComputesSerializationSources(t *testing.T) {
	configs := []NodeConfig{
		{ID: "ds1", Type: dataSourceNodeType},
		{ID: "ds2", Type: dataSourceNodeType},
		{ID: "expr", Type: "expression", Sources: []string{"ds1", "ds2"}},
	}
	g, err := Plan(configs, []string{"expr"})
	require.NoError(t, err)
	require.Equal(t, []string{"ds1", "ds2"}, g.SerializationSources("expr"))
	require.Equal(t, []string{"ds1", "ds2", "expr"}, g.Order)
}

func TestPlanAbsorbsPushDownDataSource(t *testing.T) {
	configs := []NodeConfig{
		{ID: "ds1", Type: dataSourceNodeType, PushDown: true},
		{ID: "rate1", Type: "rate", Sources: []string{"ds1"}, PushDown: true},
	}
	g, err := Plan(configs, []string{"rate1"})
	require.NoError(t, err)
	require.Equal(t, "ds1", g.Absorbed["rate1"])
}
