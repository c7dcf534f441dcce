package inference

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// errZeroJoint is returned by aggregate when no candidate has a non-zero
// joint probability. The engine turns it into a DegenerateError.
var errZeroJoint = errors.New("joint probability is zero for every candidate")

// PMFTable is one cycle's probability table over the candidate set.
type PMFTable struct {
	Candidates *CandidateSet
	// Element holds per-sensor probabilities, normalised per sensor.
	Element *mat.Dense
	// Joint holds each candidate's joint probability, normalised to sum to one.
	Joint []float64
	// LogJoint is the log of the unnormalised product of Element probabilities.
	LogJoint []float64
	// LogDensity is the log of the unnormalised product of raw densities.
	LogDensity []float64
	// Ranking lists candidate indices by descending joint probability, ties
	// in candidate order.
	Ranking []int
}

// Best returns the index of the most probable candidate.
func (t *PMFTable) Best() int { return t.Ranking[0] }

// aggregate multiplies per-sensor probabilities into a joint probability per
// candidate, normalises it over the set, and ranks the candidates.
// Products are taken as sums of logs so many small factors do not underflow.
func aggregate(cs *CandidateSet, scores *ElementScores) (*PMFTable, error) {
	n, _ := scores.LogProb.Dims()
	t := &PMFTable{
		Candidates: cs,
		Element:    scores.Prob,
		Joint:      make([]float64, n),
		LogJoint:   make([]float64, n),
		LogDensity: make([]float64, n),
		Ranking:    make([]int, n),
	}

	for i := 0; i < n; i++ {
		t.LogJoint[i] = sumLogs(scores.LogProb.RawRowView(i))
		t.LogDensity[i] = sumLogs(scores.LogDensity.RawRowView(i))
	}

	peak := floats.Max(t.LogJoint)
	if math.IsInf(peak, -1) {
		return nil, errZeroJoint
	}
	for i, lj := range t.LogJoint {
		t.Joint[i] = math.Exp(lj - peak)
	}
	total := floats.SumCompensated(t.Joint)
	floats.Scale(1/total, t.Joint)

	for i := range t.Ranking {
		t.Ranking[i] = i
	}
	sort.SliceStable(t.Ranking, func(a, b int) bool {
		return t.Joint[t.Ranking[a]] > t.Joint[t.Ranking[b]]
	})
	return t, nil
}

// sumLogs adds log factors in index order. Any -Inf factor makes the product
// zero; compensated summation would turn that into NaN, so it is checked first.
func sumLogs(logs []float64) float64 {
	for _, v := range logs {
		if math.IsInf(v, -1) {
			return math.Inf(-1)
		}
	}
	return floats.SumCompensated(logs)
}
