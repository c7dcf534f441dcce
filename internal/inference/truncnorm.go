package inference

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// truncNormal is a normal distribution truncated to [0, +Inf).
type truncNormal struct {
	mu, sigma float64
	logNorm   float64 // log(sigma · P(X ≥ 0))
}

func newTruncNormal(mu, sigma float64) truncNormal {
	// P(X ≥ 0) = 0.5·erfc(-mu/(sigma·√2)); erfc keeps precision in the tail
	// where 1-Φ would cancel.
	tail := 0.5 * math.Erfc(-mu/(sigma*math.Sqrt2))
	return truncNormal{mu: mu, sigma: sigma, logNorm: math.Log(sigma) + math.Log(tail)}
}

// logProb returns the log density at x. It is -Inf outside the support and
// may be non-finite when the mean lies so far below zero that the retained
// tail underflows.
func (d truncNormal) logProb(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	z := (x - d.mu) / d.sigma
	return distuv.UnitNormal.LogProb(z) - d.logNorm
}

// residual returns |x-mu| in units of sigma.
func (d truncNormal) residual(x float64) float64 {
	return math.Abs(x-d.mu) / d.sigma
}
