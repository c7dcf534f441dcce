package inference

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/breath.report/internal/sensor"
)

func randomPredictions(n, sensors int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]float64, n*sensors)
	for i := range data {
		data[i] = 1 + rng.Float64()
	}
	return mat.NewDense(n, sensors, data)
}

func TestNewLikelihoodRejectsBadConfig(t *testing.T) {
	testCases := []struct {
		name   string
		model  ErrorModel
		amount float64
		sigma  float64
	}{
		{"unknown_model", ErrorModel("absolute"), 0.01, 100},
		{"zero_fixed_amount", ErrorFixed, 0, 100},
		{"negative_fixed_amount", ErrorFixed, -1, 100},
		{"zero_cutoff", ErrorFixed, 0.01, 0},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewLikelihood(tc.model, tc.amount, tc.sigma, 1)
			assert.True(t, errors.Is(err, ErrConfiguration), "got %v", err)
		})
	}
}

func TestLikelihoodTruncatedNormalDensity(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.8, 100, 1)
	require.NoError(t, err)

	predicted := mat.NewDense(3, 1, []float64{2, 0.1, 0})
	readings := []sensor.Reading{{Mass: 2.5}}
	scores, err := lk.Evaluate(context.Background(), predicted, readings)
	require.NoError(t, err)

	for i, mu := range []float64{2, 0.1, 0} {
		n := distuv.Normal{Mu: mu, Sigma: 0.8}
		want := n.Prob(2.5) / (1 - n.CDF(0))
		assert.InDelta(t, math.Log(want), scores.LogDensity.At(i, 0), 1e-9, "mu=%g", mu)
	}
}

func TestLikelihoodPerSensorNormalisation(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.2, 100, 4)
	require.NoError(t, err)

	predicted := randomPredictions(1000, 4, 7)
	readings := []sensor.Reading{{Mass: 1.2}, {Mass: 1.5}, {Mass: 1.9}, {Mass: 1.01}}
	scores, err := lk.Evaluate(context.Background(), predicted, readings)
	require.NoError(t, err)
	assert.Zero(t, scores.Warnings)

	for s := 0; s < 4; s++ {
		col := mat.Col(nil, s, scores.Prob)
		assert.InDelta(t, 1.0, floats.Sum(col), 1e-12, "sensor %d", s)
		for i, p := range col {
			assert.InDelta(t, math.Exp(scores.LogProb.At(i, s)), p, 1e-12)
		}
	}
}

func TestLikelihoodRelativeErrorModel(t *testing.T) {
	lk, err := NewLikelihood(ErrorRelative, 0, 100, 1)
	require.NoError(t, err)

	predicted := mat.NewDense(2, 2, []float64{1, 1, 1.1, 1.1})
	scales, err := lk.Scales([]sensor.Reading{{Mass: 1, Error: 0.05}, {Mass: 1, Error: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.05, 0.5}, scales)

	scores, err := lk.Evaluate(context.Background(), predicted, []sensor.Reading{{Mass: 1, Error: 0.05}, {Mass: 1, Error: 0.5}})
	require.NoError(t, err)
	// The tighter sensor discriminates more sharply between the two candidates.
	assert.Greater(t, scores.Prob.At(0, 0), scores.Prob.At(0, 1))

	_, err = lk.Evaluate(context.Background(), predicted, []sensor.Reading{{Mass: 1, Error: 0}, {Mass: 1, Error: 0.5}})
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLikelihoodNonFiniteDensityIsWarning(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.01, 100, 1)
	require.NoError(t, err)

	predicted := mat.NewDense(3, 1, []float64{math.NaN(), 0.5, 0.51})
	scores, err := lk.Evaluate(context.Background(), predicted, []sensor.Reading{{Mass: 0.5}})
	require.NoError(t, err)

	assert.Equal(t, 1, scores.Warnings)
	assert.Zero(t, scores.Prob.At(0, 0))
	assert.InDelta(t, 1.0, scores.Prob.At(1, 0)+scores.Prob.At(2, 0), 1e-12)
}

func TestLikelihoodResidualCutoff(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.01, 10, 1)
	require.NoError(t, err)

	// 5σ survives, 20σ does not.
	predicted := mat.NewDense(2, 1, []float64{0.55, 0.7})
	scores, err := lk.Evaluate(context.Background(), predicted, []sensor.Reading{{Mass: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores.Prob.At(0, 0))
	assert.Zero(t, scores.Prob.At(1, 0))
	assert.Zero(t, scores.Warnings)
}

func TestLikelihoodSensorSupportingNothingIsAllZero(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.01, 100, 1)
	require.NoError(t, err)

	predicted := mat.NewDense(2, 2, []float64{1, 1, 2, 2})
	// A negative mass lies outside the truncated support for every candidate.
	scores, err := lk.Evaluate(context.Background(), predicted, []sensor.Reading{{Mass: 1}, {Mass: -1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, mat.Col(nil, 1, scores.Prob))
	assert.InDelta(t, 1.0, floats.Sum(mat.Col(nil, 0, scores.Prob)), 1e-12)
}

func TestLikelihoodIndependentOfWorkerCount(t *testing.T) {
	predicted := randomPredictions(5000, 3, 42)
	readings := []sensor.Reading{{Mass: 1.3}, {Mass: 1.7}, {Mass: 1.1}}

	var reference *ElementScores
	for _, workers := range []int{1, 2, 3, 8} {
		lk, err := NewLikelihood(ErrorFixed, 0.05, 100, workers)
		require.NoError(t, err)
		scores, err := lk.Evaluate(context.Background(), predicted, readings)
		require.NoError(t, err)
		if reference == nil {
			reference = scores
			continue
		}
		assert.True(t, mat.Equal(reference.Prob, scores.Prob), "workers=%d", workers)
		assert.True(t, mat.Equal(reference.LogProb, scores.LogProb), "workers=%d", workers)
	}
}

func TestLikelihoodReadingCountMismatch(t *testing.T) {
	lk, err := NewLikelihood(ErrorFixed, 0.01, 100, 1)
	require.NoError(t, err)
	_, err = lk.Evaluate(context.Background(), mat.NewDense(1, 2, nil), []sensor.Reading{{Mass: 1}})
	assert.True(t, errors.Is(err, ErrConfiguration))
}
