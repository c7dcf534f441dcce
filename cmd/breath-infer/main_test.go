package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/breath.report/internal/config"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/store"
)

func testRunConfig(t *testing.T) *config.RunConfig {
	t.Helper()
	cfg, err := config.LoadRunConfig(filepath.Join("..", "..", config.DefaultConfigPath))
	require.NoError(t, err)

	dir := t.TempDir()
	henry := filepath.Join("..", "..", "testdata", "henrys_coefficients.tsv")
	samples := filepath.Join("..", "..", "testdata", "breath_samples.json")
	dbPath := filepath.Join(dir, "results.db")
	results := filepath.Join(dir, "results")
	cfg.HenrysDataPath = &henry
	cfg.BreathSamplesPath = &samples
	cfg.DBPath = &dbPath
	cfg.ResultsPath = &results
	return cfg
}

func TestRunBatchClosesStoreOnFailure(t *testing.T) {
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	cfg := testRunConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runBatch(ctx, cfg, 1, false)
	require.ErrorIs(t, err, context.Canceled)

	dbPath := cfg.GetDBPath()
	_, statErr := os.Stat(dbPath + "-wal")
	assert.True(t, os.IsNotExist(statErr), "WAL file left behind after a failed batch")

	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunCanceled, runs[0].Status)
	assert.NotNil(t, runs[0].CompletedAt)
}

func TestGridFlags(t *testing.T) {
	var g gridFlags
	require.NoError(t, g.Set("CO2=0:0.1:0.01"))
	require.NoError(t, g.Set("argon=0:0.05:0.005"))
	assert.Len(t, g, 2)
	assert.Equal(t, "CO2=0:0.1:0.01,argon=0:0.05:0.005", g.String())
	assert.Error(t, g.Set("CO2"))
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"ZIF-8", "MOF-5"}, splitList(" ZIF-8, ,MOF-5 "))
}
