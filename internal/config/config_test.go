package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tsqueng/coreengine/internal/datasource"
	"github.com/tsqueng/coreengine/internal/storeapi"
)

func TestLoadMergesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"logLevel": "debug",
		"catalog": {"positiveSize": 1024},
		"dataSource": {"rawTable": "customtable"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 1024, cfg.Catalog.PositiveSize)
	require.Equal(t, "customtable", cfg.DataSource.RawTable)
	// Untouched sections keep Default()'s values.
	require.Equal(t, Default().RowKey, cfg.RowKey)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bogusField": true}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestApplyWiresDatasourceDeps(t *testing.T) {
	store := storeapi.NewMemStore()
	reg := prometheus.NewRegistry()

	rt, err := Apply(Default(), store, reg)
	require.NoError(t, err)
	defer rt.Close()

	require.NotNil(t, datasource.Deps.Catalog)
	require.NotNil(t, datasource.Deps.Store)
	require.NotNil(t, rt.SegCache)
	require.Nil(t, rt.NatsResolver) // disabled by default
}

func TestLoadRejectsSchemaViolation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"catalog": {"positiveSize": "not-a-number"}}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
