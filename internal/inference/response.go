package inference

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// Forward predicts sensor masses for every candidate in a set.
type Forward interface {
	// Array returns the sensor array predictions are made for.
	Array() *sensor.Array
	// PredictBatch returns an n×S matrix of predicted masses, one row per
	// candidate and one column per array element.
	PredictBatch(cs *CandidateSet) *mat.Dense
}

// ResponseModel is the linear adsorption model
//
//	mass[s] = baseline[s] + Σ_g k[s][g]·x[g]
//
// where the background's contribution is already folded into the baseline.
type ResponseModel struct {
	arr      *sensor.Array
	baseline []float64
	k        *mat.Dense // S×G
}

// NewResponseModel binds the array's coefficients into a dense matrix. Every
// element must have a coefficient for every gas.
func NewResponseModel(arr *sensor.Array) (*ResponseModel, error) {
	set := arr.Gases()
	m := &ResponseModel{
		arr:      arr,
		baseline: make([]float64, arr.Len()),
		k:        mat.NewDense(arr.Len(), set.Len(), nil),
	}
	for s := 0; s < arr.Len(); s++ {
		e := arr.Element(s)
		m.baseline[s] = e.Baseline
		for _, id := range set.IDs() {
			k, ok := e.Coefficient(id)
			if !ok {
				return nil, configErrorf("element %q has no coefficient for gas %q", e.ID, set.Name(id))
			}
			m.k.Set(s, int(id), k)
		}
	}
	return m, nil
}

// Array implements Forward.
func (m *ResponseModel) Array() *sensor.Array { return m.arr }

// Predict returns the predicted mass of every element for one composition.
func (m *ResponseModel) Predict(c gas.Composition) []float64 {
	out := make([]float64, len(m.baseline))
	x := mat.NewVecDense(c.Len(), c.Values())
	var y mat.VecDense
	y.MulVec(m.k, x)
	for s := range out {
		out[s] = m.baseline[s] + y.AtVec(s)
	}
	return out
}

// PredictBatch implements Forward with one X·Kᵀ product over the set's flat
// storage followed by a baseline broadcast.
func (m *ResponseModel) PredictBatch(cs *CandidateSet) *mat.Dense {
	n := cs.Len()
	if n == 0 {
		return &mat.Dense{}
	}
	x := mat.NewDense(n, cs.Gases(), cs.Raw())
	out := mat.NewDense(n, len(m.baseline), nil)
	out.Mul(x, m.k.T())
	for i := 0; i < n; i++ {
		floats.Add(out.RawRowView(i), m.baseline)
	}
	return out
}
