package inference

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/breath.report/internal/sensor"
)

// minChunk is the smallest number of candidates handed to one goroutine.
const minChunk = 256

// ElementScores holds one cycle's per-sensor scores, n candidates by S sensors.
type ElementScores struct {
	// LogDensity is the raw log density of each reading under each candidate.
	LogDensity *mat.Dense
	// LogProb is LogDensity normalised per sensor over the candidate set.
	LogProb *mat.Dense
	// Prob is exp(LogProb); every column sums to one unless the sensor
	// supports no candidate at all, in which case it is all zero.
	Prob *mat.Dense
	// Warnings counts non-finite densities that were replaced by zero.
	Warnings int
}

// Likelihood scores predicted masses against observed readings under a
// truncated-normal error model.
type Likelihood struct {
	model    ErrorModel
	amount   float64
	maxSigma float64
	workers  int
}

// NewLikelihood validates the error model and returns a scorer using at most
// workers goroutines.
func NewLikelihood(model ErrorModel, amount, maxSigma float64, workers int) (*Likelihood, error) {
	if _, err := ParseErrorModel(string(model)); err != nil {
		return nil, err
	}
	if model == ErrorFixed && !(amount > 0) {
		return nil, configErrorf("fixed error amount %g must be positive", amount)
	}
	if !(maxSigma > 0) {
		return nil, configErrorf("max residual sigma %g must be positive", maxSigma)
	}
	if workers < 1 {
		workers = 1
	}
	return &Likelihood{model: model, amount: amount, maxSigma: maxSigma, workers: workers}, nil
}

// Scales returns the error scale used for each reading.
func (l *Likelihood) Scales(readings []sensor.Reading) ([]float64, error) {
	scales := make([]float64, len(readings))
	for s, r := range readings {
		switch l.model {
		case ErrorFixed:
			scales[s] = l.amount
		case ErrorRelative:
			if !(r.Error > 0) || math.IsInf(r.Error, 0) {
				return nil, configErrorf("relative error model needs a positive error for sensor %d, got %g", s, r.Error)
			}
			scales[s] = r.Error
		}
	}
	return scales, nil
}

// Evaluate scores every candidate row of predicted against readings and
// normalises each sensor's scores over the candidates. Rows are split into
// chunks scored concurrently; each chunk writes only its own rows, and each
// column is normalised in candidate order, so the result does not depend on
// the worker count.
func (l *Likelihood) Evaluate(ctx context.Context, predicted *mat.Dense, readings []sensor.Reading) (*ElementScores, error) {
	n, sensors := predicted.Dims()
	if n == 0 {
		return nil, configErrorf("no candidates to score")
	}
	if sensors != len(readings) {
		return nil, configErrorf("predicted %d sensors but sample has %d readings", sensors, len(readings))
	}
	scales, err := l.Scales(readings)
	if err != nil {
		return nil, err
	}

	logDensity := mat.NewDense(n, sensors, nil)
	chunk := (n + l.workers - 1) / l.workers
	if chunk < minChunk {
		chunk = minChunk
	}
	chunks := (n + chunk - 1) / chunk
	warnings := make([]int, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for c := 0; c < chunks; c++ {
		lo, hi := c*chunk, min((c+1)*chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			warnings[c] = l.scoreRows(predicted, logDensity, readings, scales, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := &ElementScores{
		LogDensity: logDensity,
		LogProb:    mat.NewDense(n, sensors, nil),
		Prob:       mat.NewDense(n, sensors, nil),
	}
	for _, w := range warnings {
		scores.Warnings += w
	}

	g, _ = errgroup.WithContext(ctx)
	g.SetLimit(l.workers)
	for s := 0; s < sensors; s++ {
		g.Go(func() error {
			normaliseColumn(logDensity, scores.LogProb, scores.Prob, s)
			return nil
		})
	}
	_ = g.Wait()
	return scores, nil
}

// scoreRows fills logDensity rows [lo, hi) and returns the number of
// non-finite values that were replaced by -Inf.
func (l *Likelihood) scoreRows(predicted, logDensity *mat.Dense, readings []sensor.Reading, scales []float64, lo, hi int) int {
	warnings := 0
	for i := lo; i < hi; i++ {
		pred := predicted.RawRowView(i)
		out := logDensity.RawRowView(i)
		for s, r := range readings {
			d := newTruncNormal(pred[s], scales[s])
			lp := d.logProb(r.Mass)
			switch {
			case math.IsNaN(lp) || math.IsInf(lp, 1):
				warnings++
				lp = math.Inf(-1)
			case d.residual(r.Mass) > l.maxSigma:
				lp = math.Inf(-1)
			}
			out[s] = lp
		}
	}
	return warnings
}

// normaliseColumn converts column s of logDensity into probabilities that sum
// to one over the candidates. The column maximum is factored out before
// exponentiating so readings far from every prediction do not underflow.
func normaliseColumn(logDensity, logProb, prob *mat.Dense, s int) {
	n, _ := logDensity.Dims()
	col := mat.Col(nil, s, logDensity)

	peak := floats.Max(col)
	if math.IsInf(peak, -1) {
		for i := 0; i < n; i++ {
			logProb.Set(i, s, math.Inf(-1))
			prob.Set(i, s, 0)
		}
		return
	}

	w := make([]float64, n)
	for i, lp := range col {
		w[i] = math.Exp(lp - peak)
	}
	logTotal := math.Log(floats.SumCompensated(w))
	total := math.Exp(logTotal)
	for i, lp := range col {
		logProb.Set(i, s, lp-peak-logTotal)
		prob.Set(i, s, w[i]/total)
	}
}
