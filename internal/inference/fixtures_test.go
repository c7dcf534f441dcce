package inference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// singleGasModel is one gas "A" seen by one element with unit response and
// zero baseline, so predicted mass equals the mole fraction of A.
func singleGasModel(t *testing.T) *ResponseModel {
	t.Helper()
	set := gas.MustNewSet([]string{"A"}, "")
	arr, err := sensor.NewArray(set, []sensor.Element{
		{ID: "unit", Baseline: 0, Coefficients: map[gas.ID]float64{0: 1}},
	})
	require.NoError(t, err)
	m, err := NewResponseModel(arr)
	require.NoError(t, err)
	return m
}

// twoGasModel has three elements with distinct responses to two gases.
func twoGasModel(t *testing.T) *ResponseModel {
	t.Helper()
	set := gas.MustNewSet([]string{"ammonia", "CO2"}, "Air")
	arr, err := sensor.NewArray(set, []sensor.Element{
		{ID: "ZIF-8", Baseline: 10, Coefficients: map[gas.ID]float64{0: 2, 1: 3}},
		{ID: "PDMS", Baseline: 5, Coefficients: map[gas.ID]float64{0: -1, 1: 4}},
		{ID: "HKUST-1", Baseline: 8, Coefficients: map[gas.ID]float64{0: 6, 1: 0.5}},
	})
	require.NoError(t, err)
	m, err := NewResponseModel(arr)
	require.NoError(t, err)
	return m
}

func singleGasParams() Params {
	return Params{
		Gases:            gas.MustNewSet([]string{"A"}, ""),
		Steps:            []float64{1},
		Limits:           []float64{0.02},
		FractionToKeep:   DefaultFractionToKeep,
		ErrorModel:       ErrorFixed,
		ErrorAmount:      0.01,
		MaxCycles:        DefaultMaxCycles,
		RoundDecimals:    DefaultRoundDecimals,
		MaxResidualSigma: DefaultMaxResidualSigma,
		Workers:          1,
	}
}

func singleGasSeed(t *testing.T) *CandidateSet {
	t.Helper()
	seed, err := UniformGrid([]GridAxis{{Lower: 0, Upper: 1, Spacing: 1}}, DefaultRoundDecimals)
	require.NoError(t, err)
	return seed
}

// sampleFor builds a perfect sample for the model at the given composition.
func sampleFor(t *testing.T, m *ResponseModel, id string, values ...float64) *sensor.Sample {
	t.Helper()
	c, err := gas.NewComposition(values)
	require.NoError(t, err)
	masses := m.Predict(c)
	s := &sensor.Sample{ID: id, Readings: make(map[string]sensor.Reading, len(masses))}
	for i, mass := range masses {
		s.Readings[m.Array().Element(i).ID] = sensor.Reading{Mass: mass, Error: 0.01}
	}
	return s
}

func quietLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}
