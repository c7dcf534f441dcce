package inference

import (
	"math"

	"gonum.org/v1/gonum/stat/combin"

	"github.com/banshee-data/breath.report/internal/gas"
)

const (
	// gridTolerance is how far (upper-lower)/spacing may sit from a whole
	// number of steps.
	gridTolerance = 1e-6

	// maxValuesPerGas and maxSeedPoints bound seed grid allocation.
	maxValuesPerGas = 10000
	maxSeedPoints   = 5_000_000
)

// GridAxis is one gas's seed grid: evenly spaced values from Lower to Upper.
type GridAxis struct {
	Lower   float64
	Upper   float64
	Spacing float64
}

// Values returns Lower, Lower+Spacing, ..., Upper rounded to decimals.
func (a GridAxis) Values(decimals int) ([]float64, error) {
	if a.Lower < 0 || a.Upper > 1 || a.Lower > a.Upper {
		return nil, configErrorf("grid limits [%g, %g] must satisfy 0 ≤ lower ≤ upper ≤ 1", a.Lower, a.Upper)
	}
	if !(a.Spacing > 0) {
		return nil, configErrorf("grid spacing %g must be positive", a.Spacing)
	}
	steps := (a.Upper - a.Lower) / a.Spacing
	n := math.Round(steps)
	if math.Abs(steps-n) > gridTolerance {
		return nil, configErrorf("spacing %g does not divide [%g, %g] into whole steps", a.Spacing, a.Lower, a.Upper)
	}
	if n+1 > maxValuesPerGas {
		return nil, configErrorf("grid [%g, %g] step %g has more than %d values", a.Lower, a.Upper, a.Spacing, maxValuesPerGas)
	}
	values := make([]float64, int(n)+1)
	for i := range values {
		values[i] = roundTo(a.Lower+float64(i)*a.Spacing, decimals)
	}
	return values, nil
}

// UniformGrid builds the seed candidate set: the Cartesian product of every
// gas's axis values, keeping only points whose background is non-negative.
func UniformGrid(axes []GridAxis, decimals int) (*CandidateSet, error) {
	if len(axes) == 0 {
		return nil, configErrorf("seed grid needs at least one gas")
	}
	values := make([][]float64, len(axes))
	lens := make([]int, len(axes))
	total := 1
	for g, a := range axes {
		v, err := a.Values(decimals)
		if err != nil {
			return nil, err
		}
		values[g] = v
		lens[g] = len(v)
		total *= len(v)
		if total > maxSeedPoints {
			return nil, configErrorf("seed grid would exceed %d points", maxSeedPoints)
		}
	}

	out := newDedupSet(len(axes), total)
	point := make([]float64, len(axes))
	var idx []int
	gen := combin.NewCartesianGenerator(lens)
	for gen.Next() {
		idx = gen.Product(idx)
		for g := range point {
			point[g] = values[g][idx[g]]
		}
		if validPoint(point) {
			out.add(point)
		}
	}
	if out.cs.Len() == 0 {
		return nil, configErrorf("seed grid has no point with a non-negative background")
	}
	return out.cs, nil
}

// AddPoints appends extra compositions to a seed set, rounded to decimals,
// skipping any already present.
func AddPoints(cs *CandidateSet, decimals int, points ...gas.Composition) (*CandidateSet, error) {
	out := newDedupSet(cs.Gases(), cs.Len()+len(points))
	for i := 0; i < cs.Len(); i++ {
		out.add(cs.Row(i))
	}
	rounded := make([]float64, cs.Gases())
	for _, p := range points {
		if p.Len() != cs.Gases() {
			return nil, configErrorf("extra point has %d gases, want %d", p.Len(), cs.Gases())
		}
		for g, v := range p.Values() {
			rounded[g] = roundTo(v, decimals)
		}
		if !validPoint(rounded) {
			return nil, configErrorf("extra point %v is not a valid composition after rounding", rounded)
		}
		out.add(rounded)
	}
	return out.cs, nil
}
