package inference

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/breath.report/internal/sensor"
)

func scoresFromLogs(n, sensors int, logs []float64) *ElementScores {
	lp := mat.NewDense(n, sensors, logs)
	prob := mat.NewDense(n, sensors, nil)
	prob.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, lp)
	return &ElementScores{LogDensity: lp, LogProb: lp, Prob: prob}
}

func TestAggregateJointSumsToOne(t *testing.T) {
	m := twoGasModel(t)
	seed, err := UniformGrid([]GridAxis{
		{Lower: 0, Upper: 0.3, Spacing: 0.01},
		{Lower: 0, Upper: 0.3, Spacing: 0.01},
	}, DefaultRoundDecimals)
	require.NoError(t, err)

	sample := sampleFor(t, m, "s", 0.12, 0.05)
	readings, err := sample.Aligned(m.Array())
	require.NoError(t, err)

	lk, err := NewLikelihood(ErrorFixed, 0.05, 100, 2)
	require.NoError(t, err)
	scores, err := lk.Evaluate(context.Background(), m.PredictBatch(seed), readings)
	require.NoError(t, err)

	pmf, err := aggregate(seed, scores)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, floats.SumCompensated(pmf.Joint), 1e-12)
	assert.Equal(t, []float64{0.12, 0.05}, seed.Row(pmf.Best()))

	for i := 1; i < len(pmf.Ranking); i++ {
		assert.GreaterOrEqual(t, pmf.Joint[pmf.Ranking[i-1]], pmf.Joint[pmf.Ranking[i]])
	}
}

func TestAggregateManySensorsDoNotUnderflow(t *testing.T) {
	// 400 sensors each giving 1e-3 would underflow a direct product.
	const n, sensors = 3, 400
	logs := make([]float64, n*sensors)
	for i := range logs {
		logs[i] = math.Log(1e-3)
	}
	for s := 0; s < sensors; s++ {
		logs[s] = math.Log(2e-3)
	}
	cs := NewCandidateSet(1, n)
	for _, v := range []float64{0.1, 0.2, 0.3} {
		require.NoError(t, cs.Append([]float64{v}))
	}

	pmf, err := aggregate(cs, scoresFromLogs(n, sensors, logs))
	require.NoError(t, err)
	assert.Equal(t, 0, pmf.Best())
	assert.InDelta(t, 1.0, pmf.Joint[0], 1e-12)
	assert.InDelta(t, 1.0, floats.Sum(pmf.Joint), 1e-12)
}

func TestAggregateStableRanking(t *testing.T) {
	cs := NewCandidateSet(1, 4)
	for _, v := range []float64{0.1, 0.2, 0.3, 0.4} {
		require.NoError(t, cs.Append([]float64{v}))
	}
	logs := []float64{math.Log(0.1), math.Log(0.4), math.Log(0.1), math.Log(0.4)}

	pmf, err := aggregate(cs, scoresFromLogs(4, 1, logs))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 0, 2}, pmf.Ranking)
}

func TestAggregateAllZeroIsDegenerate(t *testing.T) {
	cs := NewCandidateSet(1, 2)
	require.NoError(t, cs.Append([]float64{0.1}))
	require.NoError(t, cs.Append([]float64{0.9}))

	// Each candidate is ruled out by a different sensor.
	inf := math.Inf(-1)
	logs := []float64{0, inf, inf, 0}

	_, err := aggregate(cs, scoresFromLogs(2, 2, logs))
	assert.True(t, errors.Is(err, errZeroJoint))
}

func TestAggregateSingleCandidate(t *testing.T) {
	m := singleGasModel(t)
	cs := NewCandidateSet(1, 1)
	require.NoError(t, cs.Append([]float64{0.5}))

	lk, err := NewLikelihood(ErrorFixed, 0.01, 100, 1)
	require.NoError(t, err)
	scores, err := lk.Evaluate(context.Background(), m.PredictBatch(cs), []sensor.Reading{{Mass: 0.5}})
	require.NoError(t, err)

	pmf, err := aggregate(cs, scores)
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, pmf.Joint)
	assert.Equal(t, []int{0}, pmf.Ranking)
}
