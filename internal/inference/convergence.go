package inference

import (
	"math"

	"github.com/banshee-data/breath.report/internal/gas"
)

// ExitReason records why a run stopped.
type ExitReason string

const (
	ExitConverged          ExitReason = "converged"
	ExitMaxCycles          ExitReason = "max_cycles_reached"
	ExitConvergedMaxCycles ExitReason = "converged_and_max_cycles_reached"
	ExitDegenerate         ExitReason = "degenerate"
	ExitInvalidSample      ExitReason = "invalid_sample"
	ExitCanceled           ExitReason = "canceled"
)

// Range is the span of one component's mole fraction over a candidate set.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max-Min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Mid returns the midpoint of the range.
func (r Range) Mid() float64 { return (r.Min + r.Max) / 2 }

// Contains reports whether x lies within the range.
func (r Range) Contains(x float64) bool { return x >= r.Min && x <= r.Max }

// ConvergenceState is the per-gas range snapshot of one cycle.
type ConvergenceState struct {
	Ranges     []Range `json:"ranges"`
	Background Range   `json:"background"`
	Converged  []bool  `json:"converged"`
}

// AllConverged reports whether every gas is within its limit.
func (s ConvergenceState) AllConverged() bool {
	for _, c := range s.Converged {
		if !c {
			return false
		}
	}
	return len(s.Converged) > 0
}

// Midpoints returns the centre of each gas range.
func (s ConvergenceState) Midpoints() []float64 {
	out := make([]float64, len(s.Ranges))
	for g, r := range s.Ranges {
		out[g] = r.Mid()
	}
	return out
}

// MeasureRanges returns each gas's (min, max) over cs and the background's.
func MeasureRanges(cs *CandidateSet) ([]Range, Range) {
	gases := cs.Gases()
	ranges := make([]Range, gases)
	for g := range ranges {
		ranges[g] = Range{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	bg := Range{Min: math.Inf(1), Max: math.Inf(-1)}
	for i := 0; i < cs.Len(); i++ {
		for g, v := range cs.Row(i) {
			ranges[g].Min = math.Min(ranges[g].Min, v)
			ranges[g].Max = math.Max(ranges[g].Max, v)
		}
		b := cs.Background(i)
		bg.Min = math.Min(bg.Min, b)
		bg.Max = math.Max(bg.Max, b)
	}
	return ranges, bg
}

// Controller decides per-gas convergence and when a run exits.
type Controller struct {
	limits    []float64
	maxCycles int
	decimals  int
}

// NewController returns a Controller with one convergence limit per gas.
func NewController(limits []float64, maxCycles, decimals int) (*Controller, error) {
	if maxCycles < 1 {
		return nil, configErrorf("max_cycles %d must be at least 1", maxCycles)
	}
	l := make([]float64, len(limits))
	copy(l, limits)
	return &Controller{limits: l, maxCycles: maxCycles, decimals: decimals}, nil
}

// Update measures cs and marks each gas converged when its width, rounded
// to the controller's precision, is at most its limit. The background is
// measured but never tested.
func (c *Controller) Update(cs *CandidateSet) ConvergenceState {
	ranges, bg := MeasureRanges(cs)
	state := ConvergenceState{Ranges: ranges, Background: bg, Converged: make([]bool, len(ranges))}
	for g, r := range ranges {
		state.Converged[g] = c.converged(gas.ID(g), r)
	}
	return state
}

func (c *Controller) converged(g gas.ID, r Range) bool {
	return roundTo(r.Width(), c.decimals) <= c.limits[g]
}

// Exit returns the reason to stop after the given 1-based cycle, or "" to
// keep running.
func (c *Controller) Exit(state ConvergenceState, cycle int) ExitReason {
	done := state.AllConverged()
	last := cycle >= c.maxCycles
	switch {
	case done && last:
		return ExitConvergedMaxCycles
	case done:
		return ExitConverged
	case last:
		return ExitMaxCycles
	}
	return ""
}
