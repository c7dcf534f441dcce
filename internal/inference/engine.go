package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// CycleRecord is the history entry for one cycle. Cycle 0 describes the seed.
type CycleRecord struct {
	Cycle      int              `json:"cycle"`
	State      ConvergenceState `json:"state"`
	Candidates int              `json:"candidates"`
	// Retained is how many candidates were kept for subdivision; zero on
	// the seed record and on the final cycle.
	Retained int `json:"retained"`
	// Steps is the subdivision step per gas applied after this cycle.
	Steps       []float64   `json:"steps"`
	Warnings    int         `json:"warnings"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

// Result is the outcome of one inference run.
type Result struct {
	SampleID string
	Gases    gas.Set
	Final    ConvergenceState
	Exit     ExitReason
	History  []CycleRecord
	// LastPMF is the final cycle's probability table. It is nil when the
	// run stopped before any cycle completed.
	LastPMF *PMFTable
	// Best is the most probable candidate of the final cycle.
	Best gas.Composition
}

// Cycles returns the number of scoring cycles completed.
func (r *Result) Cycles() int { return len(r.History) - 1 }

// Engine runs grid-refinement inference for one sample at a time. An Engine
// holds no per-run state and may be reused sequentially or concurrently.
type Engine struct {
	params     Params
	model      Forward
	likelihood *Likelihood
	refiner    *Refiner
	controller *Controller
}

// NewEngine validates params against the forward model.
func NewEngine(params Params, model Forward) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if got, want := model.Array().Gases().Len(), params.Gases.Len(); got != want {
		return nil, configErrorf("sensor array models %d gases, run infers %d", got, want)
	}
	lk, err := NewLikelihood(params.ErrorModel, params.ErrorAmount, params.MaxResidualSigma, params.workers())
	if err != nil {
		return nil, err
	}
	rf, err := NewRefiner(params.FractionToKeep, params.RoundDecimals)
	if err != nil {
		return nil, err
	}
	ctl, err := NewController(params.Limits, params.MaxCycles, params.RoundDecimals)
	if err != nil {
		return nil, err
	}
	return &Engine{params: params, model: model, likelihood: lk, refiner: rf, controller: ctl}, nil
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params { return e.params }

// Run refines seed against sample until every gas converges or the cycle
// limit is reached. When a cycle turns degenerate, Run returns the partial
// Result together with a *DegenerateError. Context cancellation is checked
// between cycles.
func (e *Engine) Run(ctx context.Context, seed *CandidateSet, sample *sensor.Sample) (*Result, error) {
	if seed == nil || seed.Len() == 0 {
		return nil, configErrorf("empty seed candidate set")
	}
	if seed.Gases() != e.params.Gases.Len() {
		return nil, configErrorf("seed has %d gases, run infers %d", seed.Gases(), e.params.Gases.Len())
	}
	readings, err := sample.Aligned(e.model.Array())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	scales, err := e.likelihood.Scales(readings)
	if err != nil {
		return nil, err
	}

	steps := make([]float64, len(e.params.Steps))
	copy(steps, e.params.Steps)

	seedState := e.controller.Update(seed)
	res := &Result{
		SampleID: sample.ID,
		Gases:    e.params.Gases,
		Final:    seedState,
		History: []CycleRecord{{
			Cycle:      0,
			State:      seedState,
			Candidates: seed.Len(),
			Steps:      append([]float64(nil), steps...),
		}},
	}

	cs := seed
	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			res.Exit = ExitCanceled
			return res, err
		}

		predicted := e.model.PredictBatch(cs)
		scores, err := e.likelihood.Evaluate(ctx, predicted, readings)
		if err != nil {
			return res, err
		}
		if scores.Warnings > 0 {
			monitoring.Warnf("sample %s cycle %d: %d non-finite densities treated as zero", sample.ID, cycle, scores.Warnings)
		}

		pmf, err := aggregate(cs, scores)
		if errors.Is(err, errZeroJoint) {
			res.Exit = ExitDegenerate
			return res, &DegenerateError{Cycle: cycle, SampleID: sample.ID}
		}
		if err != nil {
			return res, err
		}

		state := e.controller.Update(cs)
		rec := CycleRecord{
			Cycle:       cycle,
			State:       state,
			Candidates:  cs.Len(),
			Warnings:    scores.Warnings,
			Diagnostics: diagnose(pmf, scales),
		}
		res.Final = state
		res.LastPMF = pmf
		res.Best = cs.Point(pmf.Best())

		if reason := e.controller.Exit(state, cycle); reason != "" {
			rec.Steps = append([]float64(nil), steps...)
			res.History = append(res.History, rec)
			res.Exit = reason
			monitoring.Debugf("sample %s: %s after %d cycles", sample.ID, reason, cycle)
			return res, nil
		}

		for g := range steps {
			steps[g] /= 2
		}
		next, kept, err := e.refiner.Refine(pmf, steps)
		if err != nil {
			return res, err
		}
		rec.Retained = kept
		rec.Steps = append([]float64(nil), steps...)
		res.History = append(res.History, rec)

		monitoring.Debugf("sample %s cycle %d: %d candidates, kept %d, next %d, kld %.4f",
			sample.ID, cycle, cs.Len(), kept, next.Len(), rec.Diagnostics.KLD)
		cs = next
	}
}
