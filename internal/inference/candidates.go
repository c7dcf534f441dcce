package inference

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/breath.report/internal/gas"
)

// CandidateSet holds one cycle's composition points as a flat row-major
// slice, one row per candidate and one column per gas. Points are read out
// as gas.Composition values; the flat layout feeds the batch forward model
// without copying.
type CandidateSet struct {
	gases  int
	values []float64
}

// NewCandidateSet returns an empty set for points over the given number of
// gases, with room for capacity points.
func NewCandidateSet(gases, capacity int) *CandidateSet {
	return &CandidateSet{gases: gases, values: make([]float64, 0, gases*capacity)}
}

// CandidatesFrom builds a set from explicit compositions.
func CandidatesFrom(points ...gas.Composition) (*CandidateSet, error) {
	if len(points) == 0 {
		return nil, configErrorf("candidate set needs at least one point")
	}
	cs := NewCandidateSet(points[0].Len(), len(points))
	for _, p := range points {
		if err := cs.Append(p.Values()); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// Append copies one point into the set. The point must hold one value per
// gas, each in [0, 1], with a non-negative background.
func (cs *CandidateSet) Append(point []float64) error {
	if len(point) != cs.gases {
		return fmt.Errorf("point has %d components, want %d", len(point), cs.gases)
	}
	if !validPoint(point) {
		return fmt.Errorf("point %v is not a valid composition", point)
	}
	cs.values = append(cs.values, point...)
	return nil
}

// Len returns the number of candidates.
func (cs *CandidateSet) Len() int {
	if cs.gases == 0 {
		return 0
	}
	return len(cs.values) / cs.gases
}

// Gases returns the number of gases per point.
func (cs *CandidateSet) Gases() int { return cs.gases }

// Row returns candidate i's values. The slice aliases the set's storage and
// must not be modified.
func (cs *CandidateSet) Row(i int) []float64 {
	return cs.values[i*cs.gases : (i+1)*cs.gases : (i+1)*cs.gases]
}

// Value returns the mole fraction of gas g in candidate i.
func (cs *CandidateSet) Value(i int, g gas.ID) float64 {
	return cs.values[i*cs.gases+int(g)]
}

// Background returns candidate i's background mole fraction.
func (cs *CandidateSet) Background(i int) float64 {
	bg := 1 - sumRow(cs.Row(i))
	if bg < 0 {
		return 0
	}
	return bg
}

// Point returns candidate i as a Composition.
func (cs *CandidateSet) Point(i int) gas.Composition {
	c, err := gas.NewComposition(cs.Row(i))
	if err != nil {
		// Append validates every row, so this is unreachable.
		panic(fmt.Sprintf("candidate %d: %v", i, err))
	}
	return c
}

// Points returns every candidate as a Composition.
func (cs *CandidateSet) Points() []gas.Composition {
	out := make([]gas.Composition, cs.Len())
	for i := range out {
		out[i] = cs.Point(i)
	}
	return out
}

// Raw returns the flat storage. It must not be modified.
func (cs *CandidateSet) Raw() []float64 { return cs.values }

func validPoint(point []float64) bool {
	for _, v := range point {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return false
		}
	}
	return sumRow(point) <= 1+gas.SumTolerance
}

// sumRow uses the same summation as gas.Composition so both agree on validity.
func sumRow(row []float64) float64 { return floats.SumCompensated(row) }

// roundTo rounds x to the given number of decimal places. Negative zero is
// folded into zero so equal points share one dedup key.
func roundTo(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	r := math.Round(x*scale) / scale
	if r == 0 {
		return 0
	}
	return r
}

// pointKey encodes a rounded point as a map key.
func pointKey(buf []byte, point []float64) []byte {
	buf = buf[:0]
	for _, v := range point {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

// dedupSet accumulates points, skipping any already present. Insertion order
// is preserved.
type dedupSet struct {
	cs   *CandidateSet
	seen map[string]struct{}
	buf  []byte
}

func newDedupSet(gases, capacity int) *dedupSet {
	return &dedupSet{
		cs:   NewCandidateSet(gases, capacity),
		seen: make(map[string]struct{}, capacity),
		buf:  make([]byte, 0, 8*gases),
	}
}

// add inserts an already rounded, valid point and reports whether it was new.
func (d *dedupSet) add(point []float64) bool {
	d.buf = pointKey(d.buf, point)
	if _, dup := d.seen[string(d.buf)]; dup {
		return false
	}
	d.seen[string(d.buf)] = struct{}{}
	d.cs.values = append(d.cs.values, point...)
	return true
}
