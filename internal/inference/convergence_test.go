package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerUpdate(t *testing.T) {
	testCases := []struct {
		name      string
		points    [][]float64
		limits    []float64
		converged []bool
	}{
		{"width_below_limit", [][]float64{{0.10, 0.2}, {0.11, 0.2}}, []float64{0.02, 0.01}, []bool{true, true}},
		{"width_equals_limit", [][]float64{{0.1, 0.5}, {0.3, 0.5}}, []float64{0.2, 0}, []bool{true, true}},
		{"width_above_limit", [][]float64{{0.1, 0.5}, {0.3, 0.6}}, []float64{0.19, 0.2}, []bool{false, true}},
		{"zero_limit_single_point", [][]float64{{0.25, 0.25}}, []float64{0, 0}, []bool{true, true}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewController(tc.limits, 10, DefaultRoundDecimals)
			require.NoError(t, err)
			state := c.Update(candidates(t, 2, tc.points...))
			assert.Equal(t, tc.converged, state.Converged)
		})
	}
}

func TestMeasureRangesIncludesBackground(t *testing.T) {
	cs := candidates(t, 2, []float64{0.1, 0.2}, []float64{0.3, 0.1}, []float64{0.2, 0.6})
	ranges, bg := MeasureRanges(cs)

	assert.Equal(t, []Range{{Min: 0.1, Max: 0.3}, {Min: 0.1, Max: 0.6}}, ranges)
	assert.InDelta(t, 0.2, bg.Min, 1e-12)
	assert.InDelta(t, 0.7, bg.Max, 1e-12)
}

func TestControllerBackgroundNeverTested(t *testing.T) {
	// The background spans 0.5 while every gas is within its limit.
	cs := candidates(t, 2, []float64{0.2, 0.0}, []float64{0.2, 0.5})
	c, err := NewController([]float64{0, 1}, 10, DefaultRoundDecimals)
	require.NoError(t, err)

	state := c.Update(cs)
	assert.True(t, state.AllConverged())
	assert.InDelta(t, 0.5, state.Background.Width(), 1e-12)
}

func TestControllerExit(t *testing.T) {
	c, err := NewController([]float64{0.1}, 3, DefaultRoundDecimals)
	require.NoError(t, err)

	converged := ConvergenceState{Ranges: []Range{{0.4, 0.45}}, Converged: []bool{true}}
	running := ConvergenceState{Ranges: []Range{{0, 1}}, Converged: []bool{false}}

	testCases := []struct {
		name  string
		state ConvergenceState
		cycle int
		want  ExitReason
	}{
		{"keep_running", running, 1, ""},
		{"converged_early", converged, 2, ExitConverged},
		{"max_cycles", running, 3, ExitMaxCycles},
		{"both_on_last_cycle", converged, 3, ExitConvergedMaxCycles},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, c.Exit(tc.state, tc.cycle))
		})
	}
}

func TestNewControllerRejectsZeroCycles(t *testing.T) {
	_, err := NewController([]float64{0.1}, 0, DefaultRoundDecimals)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestRange(t *testing.T) {
	r := Range{Min: 0.2, Max: 0.6}
	assert.InDelta(t, 0.4, r.Width(), 1e-15)
	assert.InDelta(t, 0.4, r.Mid(), 1e-15)
	assert.True(t, r.Contains(0.2))
	assert.False(t, r.Contains(0.61))
}
