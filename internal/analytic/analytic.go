// Package analytic computes a closed-form composition estimate by inverting
// the linear sensor response. It ignores measurement error and the
// composition constraints, so it is only a reference point for the
// grid-refinement result.
package analytic

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// RankTolerance is the relative singular value cutoff for the pseudo-inverse.
const RankTolerance = 1e-12

// ErrRankDeficient is returned when the response matrix has rank zero.
var ErrRankDeficient = errors.New("analytic: response matrix has no usable rank")

// Estimate is the analytical solution for one sample.
type Estimate struct {
	// Fractions holds one unconstrained value per gas, in gas.ID order.
	Fractions []float64
	// Rank is the numerical rank of the response matrix.
	Rank int
	// Exact is true when the matrix was square and of full rank.
	Exact bool
}

// Named returns the estimate keyed by gas name.
func (e Estimate) Named(set gas.Set) map[string]float64 {
	out := make(map[string]float64, len(e.Fractions))
	for _, id := range set.IDs() {
		out[set.Name(id)] = e.Fractions[id]
	}
	return out
}

// Solve estimates gas fractions from masses aligned to arr, solving
// K·x = m - baseline with an SVD pseudo-inverse. This gives the exact
// inverse for square full-rank arrays, least squares for overdetermined
// arrays and the minimum-norm solution for underdetermined ones.
func Solve(arr *sensor.Array, masses []float64) (Estimate, error) {
	s, g := arr.Len(), arr.Gases().Len()
	if len(masses) != s {
		return Estimate{}, fmt.Errorf("analytic: %d masses for %d sensors", len(masses), s)
	}

	k := mat.NewDense(s, g, nil)
	b := mat.NewVecDense(s, nil)
	for i := 0; i < s; i++ {
		el := arr.Element(i)
		for _, id := range arr.Gases().IDs() {
			v, ok := el.Coefficient(id)
			if !ok {
				return Estimate{}, fmt.Errorf("analytic: sensor %s has no coefficient for %s", el.ID, arr.Gases().Name(id))
			}
			k.Set(i, int(id), v)
		}
		b.SetVec(i, masses[i]-el.Baseline)
	}

	var svd mat.SVD
	if ok := svd.Factorize(k, mat.SVDThin); !ok {
		return Estimate{}, fmt.Errorf("analytic: SVD factorisation failed")
	}
	rank := svd.Rank(RankTolerance)
	if rank == 0 {
		return Estimate{}, ErrRankDeficient
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, b, rank)

	est := Estimate{Fractions: make([]float64, g), Rank: rank, Exact: s == g && rank == g}
	for j := range est.Fractions {
		est.Fractions[j] = x.AtVec(j)
	}
	return est, nil
}

// SolveSample aligns a sample to arr and solves it.
func SolveSample(arr *sensor.Array, sample *sensor.Sample) (Estimate, error) {
	readings, err := sample.Aligned(arr)
	if err != nil {
		return Estimate{}, err
	}
	masses := make([]float64, len(readings))
	for i, r := range readings {
		masses[i] = r.Mass
	}
	return Solve(arr, masses)
}
