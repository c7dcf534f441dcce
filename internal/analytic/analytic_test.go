package analytic

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/sensor"
)

func array(t *testing.T, set gas.Set, baseline []float64, coeffs [][]float64) *sensor.Array {
	t.Helper()
	elems := make([]sensor.Element, len(coeffs))
	for i, row := range coeffs {
		k := make(map[gas.ID]float64, len(row))
		for j, v := range row {
			k[gas.ID(j)] = v
		}
		elems[i] = sensor.Element{ID: string(rune('a' + i)), Baseline: baseline[i], Coefficients: k}
	}
	arr, err := sensor.NewArray(set, elems)
	require.NoError(t, err)
	return arr
}

func masses(baseline []float64, coeffs [][]float64, x []float64) []float64 {
	out := make([]float64, len(coeffs))
	for i, row := range coeffs {
		out[i] = baseline[i]
		for j, v := range row {
			out[i] += v * x[j]
		}
	}
	return out
}

func TestSolve(t *testing.T) {
	set := gas.MustNewSet([]string{"CO2", "argon"}, "")
	truth := []float64{0.04, 0.01}

	tests := []struct {
		name     string
		baseline []float64
		coeffs   [][]float64
		exact    bool
		rank     int
	}{
		{
			name:     "square",
			baseline: []float64{40, 30},
			coeffs:   [][]float64{{80, 10}, {20, 60}},
			exact:    true,
			rank:     2,
		},
		{
			name:     "overdetermined",
			baseline: []float64{40, 30, 20},
			coeffs:   [][]float64{{80, 10}, {20, 60}, {5, 5}},
			rank:     2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := array(t, set, tt.baseline, tt.coeffs)
			est, err := Solve(arr, masses(tt.baseline, tt.coeffs, truth))
			require.NoError(t, err)
			assert.Equal(t, tt.exact, est.Exact)
			assert.Equal(t, tt.rank, est.Rank)
			if diff := cmp.Diff(truth, est.Fractions, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
				t.Errorf("fractions mismatch (-want +got):\n%s", diff)
			}
			assert.InDelta(t, 0.04, est.Named(set)["CO2"], 1e-9)
		})
	}
}

func TestSolveUnderdetermined(t *testing.T) {
	set := gas.MustNewSet([]string{"CO2", "argon"}, "")
	arr := array(t, set, []float64{0}, [][]float64{{1, 1}})

	est, err := Solve(arr, []float64{2})
	require.NoError(t, err)
	assert.Equal(t, 1, est.Rank)
	assert.False(t, est.Exact)
	// Minimum-norm solution splits the mass evenly.
	assert.InDelta(t, 1.0, est.Fractions[0], 1e-12)
	assert.InDelta(t, 1.0, est.Fractions[1], 1e-12)
}

func TestSolveErrors(t *testing.T) {
	set := gas.MustNewSet([]string{"CO2"}, "")
	arr := array(t, set, []float64{1, 2}, [][]float64{{0}, {0}})

	_, err := Solve(arr, []float64{1})
	assert.Error(t, err)

	_, err = Solve(arr, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrRankDeficient))
}

func TestSolveSample(t *testing.T) {
	set := gas.MustNewSet([]string{"CO2"}, "")
	arr := array(t, set, []float64{10, 20}, [][]float64{{100}, {50}})
	sample := &sensor.Sample{
		ID: "s1",
		Readings: map[string]sensor.Reading{
			"a": {Mass: 15},
			"b": {Mass: 22.5},
		},
	}
	est, err := SolveSample(arr, sample)
	require.NoError(t, err)
	assert.InDelta(t, 0.05, est.Fractions[0], 1e-12)

	delete(sample.Readings, "b")
	_, err = SolveSample(arr, sample)
	assert.Error(t, err)
}
