package inference

import (
	"math"

	"gonum.org/v1/gonum/stat/combin"
)

// retainSlack absorbs representation error in N·fraction before rounding up,
// so 100·0.03 keeps 3 candidates rather than 4.
const retainSlack = 1e-9

// Refiner keeps the most probable candidates of a cycle and subdivides the
// grid around them.
type Refiner struct {
	fraction float64
	decimals int
}

// NewRefiner returns a Refiner keeping ceil(N·fraction) candidates and
// rounding new coordinates to decimals places.
func NewRefiner(fraction float64, decimals int) (*Refiner, error) {
	if !(fraction > 0) || fraction > 1 {
		return nil, configErrorf("fraction_to_keep %g must be in (0, 1]", fraction)
	}
	if decimals < 1 || decimals > maxRoundDecimals {
		return nil, configErrorf("round_decimals %d must be in [1, %d]", decimals, maxRoundDecimals)
	}
	return &Refiner{fraction: fraction, decimals: decimals}, nil
}

// RetainCount returns how many of n candidates survive filtering.
func (r *Refiner) RetainCount(n int) (int, error) {
	keep := int(math.Ceil(float64(n)*r.fraction - retainSlack))
	if keep < 1 {
		return 0, configErrorf("fraction_to_keep %g retains no candidates out of %d", r.fraction, n)
	}
	if keep > n {
		keep = n
	}
	return keep, nil
}

// Refine filters pmf's candidates to the top fraction by joint probability
// and subdivides around them with the given per-gas steps. It returns the
// next candidate set and the number of candidates retained.
func (r *Refiner) Refine(pmf *PMFTable, steps []float64) (*CandidateSet, int, error) {
	keep, err := r.RetainCount(pmf.Candidates.Len())
	if err != nil {
		return nil, 0, err
	}
	return r.Subdivide(pmf.Candidates, pmf.Ranking[:keep], steps), keep, nil
}

// Subdivide expands each listed candidate into the Cartesian product of
// {v, v+step, v-step} per gas. Offsets leaving [0, 1] are dropped, as are
// points whose background would be negative. Coordinates are rounded and
// duplicates removed, keeping the first occurrence.
func (r *Refiner) Subdivide(cs *CandidateSet, rows []int, steps []float64) *CandidateSet {
	gases := cs.Gases()
	out := newDedupSet(gases, len(rows)*3)

	options := make([][]float64, gases)
	for g := range options {
		options[g] = make([]float64, 0, 3)
	}
	idx := make([]int, gases)
	point := make([]float64, gases)

	for _, row := range rows {
		base := cs.Row(row)
		for g, v := range base {
			options[g] = options[g][:0]
			for _, cand := range [3]float64{v, v + steps[g], v - steps[g]} {
				cand = roundTo(cand, r.decimals)
				if cand < 0 || cand > 1 {
					continue
				}
				options[g] = append(options[g], cand)
			}
		}

		lens := make([]int, gases)
		for g := range options {
			lens[g] = len(options[g])
		}
		gen := combin.NewCartesianGenerator(lens)
		for gen.Next() {
			idx = gen.Product(idx)
			for g := range point {
				point[g] = options[g][idx[g]]
			}
			if validPoint(point) {
				out.add(point)
			}
		}
	}
	return out.cs
}
