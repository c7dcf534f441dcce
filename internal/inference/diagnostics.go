package inference

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Diagnostics summarises how decisive one cycle's joint distribution was.
type Diagnostics struct {
	// KLD is the Kullback-Leibler divergence of the joint PMF from uniform,
	// scaled by log2(N) to lie in [0, 1]. Zero means no candidate is favoured.
	KLD float64 `json:"kld"`
	// PRatio is the best candidate's raw joint density over the largest
	// density any candidate could reach, a perfect match on every sensor.
	PRatio float64 `json:"p_ratio"`
	// BestJoint is the normalised joint probability of the best candidate.
	BestJoint float64 `json:"best_joint"`
	// Best is the best candidate's composition.
	Best []float64 `json:"best"`
}

// NormalizedKLD returns Σ p·log2(p·N) / log2(N), or 0 for a single candidate.
func NormalizedKLD(joint []float64) float64 {
	n := float64(len(joint))
	if len(joint) < 2 {
		return 0
	}
	var kld float64
	for _, p := range joint {
		if p > 0 {
			kld += p * math.Log2(p*n)
		}
	}
	return kld / math.Log2(n)
}

// logPeakDensity is the log of the product over sensors of the untruncated
// normal density at its own mean.
func logPeakDensity(scales []float64) float64 {
	var lp float64
	for _, s := range scales {
		lp += distuv.UnitNormal.LogProb(0) - math.Log(s)
	}
	return lp
}

func diagnose(pmf *PMFTable, scales []float64) Diagnostics {
	best := pmf.Best()
	row := pmf.Candidates.Row(best)
	d := Diagnostics{
		KLD:       NormalizedKLD(pmf.Joint),
		PRatio:    math.Exp(pmf.LogDensity[best] - logPeakDensity(scales)),
		BestJoint: pmf.Joint[best],
		Best:      make([]float64, len(row)),
	}
	copy(d.Best, row)
	return d
}
