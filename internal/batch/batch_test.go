package batch

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/breath.report/internal/config"
	"github.com/banshee-data/breath.report/internal/inference"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/report"
	"github.com/banshee-data/breath.report/internal/store"
)

const henryTable = `material	gas	k_h_gas	k_h_air	max_composition	pure_air_mass
m1	CO2	12	2	0.2	5
m2	CO2	25	5	0.2	3
m3	CO2	8	1	0.01	4
`

const samplesJSON = `[
  {"id": "good", "readings": {"m1": {"mass": 8, "error": 0.05}, "m2": {"mass": 9, "error": 0.05}}, "true_composition": {"CO2": 0.3}},
  {"id": "far", "readings": {"m1": {"mass": 500, "error": 0.05}, "m2": {"mass": 500, "error": 0.05}}},
  {"id": "partial", "readings": {"m1": {"mass": 8, "error": 0.05}}},
  {"id": "good2", "readings": {"m1": {"mass": 7, "error": 0.05}, "m2": {"mass": 7}}, "true_composition": {"CO2": 0.2}}
]`

func f64(v float64) *float64 { return &v }
func str(v string) *string    { return &v }
func integer(v int) *int      { return &v }
func boolean(v bool) *bool    { return &v }

func quiet(t *testing.T) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
}

func testConfig(t *testing.T) *config.RunConfig {
	t.Helper()
	dir := t.TempDir()
	henryPath := filepath.Join(dir, "henry.tsv")
	samplesPath := filepath.Join(dir, "samples.json")
	require.NoError(t, os.WriteFile(henryPath, []byte(henryTable), 0o644))
	require.NoError(t, os.WriteFile(samplesPath, []byte(samplesJSON), 0o644))

	return &config.RunConfig{
		Gases: []config.GasConfig{{
			Name:             "CO2",
			InitLimits:       []float64{0, 1},
			InitSpacing:      f64(0.1),
			ConvergenceLimit: f64(0.01),
		}},
		HenrysDataPath:    str(henryPath),
		BreathSamplesPath: str(samplesPath),
		FractionToKeep:    f64(0.2),
		ErrorAmount:       f64(0.05),
		MaxCycles:         integer(12),
		Workers:           integer(2),
	}
}

func TestBuildArray(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)
	set, err := cfg.GasSet()
	require.NoError(t, err)

	arr, err := BuildArray(cfg, set)
	require.NoError(t, err)
	// m3 fails the composition filter.
	assert.Equal(t, []string{"m1", "m2"}, arr.IDs())
	assert.InDelta(t, 5.0, arr.Element(0).Baseline, 1e-12)

	cfg.ArraySize = integer(1)
	cfg.ArrayIndex = integer(1)
	arr, err = BuildArray(cfg, set)
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, arr.IDs())

	cfg.ArrayIndex = integer(5)
	_, err = BuildArray(cfg, set)
	assert.ErrorIs(t, err, inference.ErrConfiguration)

	cfg.ArrayIndex = nil
	cfg.Array = []string{"m3"}
	_, err = BuildArray(cfg, set)
	assert.ErrorIs(t, err, inference.ErrConfiguration)
}

func TestRunBatch(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)

	db, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer db.Close()
	outDir := t.TempDir()
	w, err := report.NewWriter(outDir, false)
	require.NoError(t, err)

	r, err := NewRunner(cfg, WithStore(db), WithWriter(w), WithVersion("test"))
	require.NoError(t, err)
	samples, err := r.LoadSamples(0)
	require.NoError(t, err)
	require.Len(t, samples, 4)

	sum, err := r.Run(context.Background(), samples)
	require.NoError(t, err)
	require.Len(t, sum.Outcomes, 4)
	assert.NotEmpty(t, sum.RunID)

	good := sum.Outcomes[0]
	require.NoError(t, good.Err)
	assert.Contains(t, []inference.ExitReason{inference.ExitConverged, inference.ExitConvergedMaxCycles}, good.Exit)
	assert.True(t, good.Result.Final.Ranges[0].Contains(0.3))
	require.NotNil(t, good.Analytic)
	assert.InDelta(t, 0.3, good.Analytic.Fractions[0], 1e-9)

	far := sum.Outcomes[1]
	assert.Equal(t, inference.ExitDegenerate, far.Exit)
	var degenerate *inference.DegenerateError
	require.True(t, errors.As(far.Err, &degenerate))
	assert.Equal(t, "far", degenerate.SampleID)

	assert.Equal(t, inference.ExitInvalidSample, sum.Outcomes[2].Exit)
	assert.ErrorIs(t, sum.Outcomes[2].Err, inference.ErrInvalidSample)

	assert.NoError(t, sum.Outcomes[3].Err)
	assert.Equal(t, 1, sum.Counts[inference.ExitDegenerate])
	assert.Equal(t, 1, sum.Counts[inference.ExitInvalidSample])

	run, err := db.GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, run.Status)
	assert.Equal(t, []string{"m1", "m2"}, run.Materials)
	assert.Equal(t, "test", run.Version)

	stored, err := db.SampleResults(sum.RunID)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, "degenerate", stored[1].ExitReason)
	assert.InDelta(t, 0.3, stored[0].Truth["CO2"], 1e-12)

	cycles, err := db.CycleRanges(sum.RunID, "good")
	require.NoError(t, err)
	assert.NotEmpty(t, cycles)

	for _, name := range []string{"settings.csv", "summary.csv", "samples/good/cycles.csv", "samples/good/pmf.html", "samples/far/cycles.csv"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
}

func TestRunVariationAndSeeding(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)
	cfg.Variation = str("almost_perfect")
	cfg.AddedError = f64(0.01)
	cfg.TrueCompAtStart = boolean(true)

	r, err := NewRunner(cfg)
	require.NoError(t, err)
	samples, err := r.LoadSamples(0)
	require.NoError(t, err)

	sum, err := r.Run(context.Background(), samples)
	require.NoError(t, err)
	assert.Empty(t, sum.RunID)

	// Samples without a true composition cannot be varied.
	assert.Equal(t, inference.ExitInvalidSample, sum.Outcomes[1].Exit)
	require.NoError(t, sum.Outcomes[0].Err)
	assert.InDelta(t, 0.3, sum.Outcomes[0].Result.Final.Ranges[0].Mid(), 0.01)

	again, err := r.Run(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, sum.Outcomes[0].Result.Final, again.Outcomes[0].Result.Final, "seeded variation must be reproducible")
}

func TestRunLimit(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)
	cfg.NumSamples = integer(3)
	r, err := NewRunner(cfg)
	require.NoError(t, err)

	samples, err := r.LoadSamples(0)
	require.NoError(t, err)
	assert.Len(t, samples, 3)

	samples, err = r.LoadSamples(1)
	require.NoError(t, err)
	assert.Len(t, samples, 1)
}

func TestRunCanceled(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)
	db, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer db.Close()

	r, err := NewRunner(cfg, WithStore(db))
	require.NoError(t, err)
	samples, err := r.LoadSamples(0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := r.Run(ctx, samples)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, sum.Outcomes, 1)
	assert.Equal(t, inference.ExitCanceled, sum.Outcomes[0].Exit)

	run, err := db.GetRun(sum.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunCanceled, run.Status)
}

func TestNewRunnerConfigurationErrors(t *testing.T) {
	quiet(t)
	tests := []struct {
		name   string
		mutate func(*config.RunConfig)
	}{
		{"no gases", func(c *config.RunConfig) { c.Gases = nil }},
		{"no henry path", func(c *config.RunConfig) { c.HenrysDataPath = nil }},
		{"bad variation", func(c *config.RunConfig) { c.Variation = str("wild") }},
		{"gas missing from table", func(c *config.RunConfig) { c.Gases[0].Name = "argon" }},
		{"seed grid not integral", func(c *config.RunConfig) { c.Gases[0].InitSpacing = f64(0.3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			_, err := NewRunner(cfg)
			assert.ErrorIs(t, err, inference.ErrConfiguration)
		})
	}
}

func TestClassify(t *testing.T) {
	res := &inference.Result{Exit: inference.ExitMaxCycles}

	exit, err := classify(res, nil)
	assert.NoError(t, err)
	assert.Equal(t, inference.ExitMaxCycles, exit)

	exit, _ = classify(res, &inference.DegenerateError{Cycle: 2, SampleID: "x"})
	assert.Equal(t, inference.ExitDegenerate, exit)

	exit, err = classify(nil, errors.New("boom"))
	assert.Empty(t, exit)
	assert.ErrorIs(t, err, inference.ErrConfiguration)
}

func TestRunUnencodableConfig(t *testing.T) {
	quiet(t)
	cfg := testConfig(t)
	db, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer db.Close()

	r, err := NewRunner(cfg, WithStore(db))
	require.NoError(t, err)
	cfg.AddedError = f64(math.NaN())

	samples, err := r.LoadSamples(1)
	require.NoError(t, err)
	sum, err := r.Run(context.Background(), samples)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode run config")
	assert.Nil(t, sum)

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
