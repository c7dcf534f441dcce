// Package batch runs inference over a file of breath samples: it builds the
// sensor array from Henry's coefficients, refines each sample in turn, and
// hands results to the store and report writers.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/breath.report/internal/analytic"
	"github.com/banshee-data/breath.report/internal/breath"
	"github.com/banshee-data/breath.report/internal/config"
	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/henry"
	"github.com/banshee-data/breath.report/internal/inference"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/report"
	"github.com/banshee-data/breath.report/internal/sensor"
	"github.com/banshee-data/breath.report/internal/store"
)

// Runner holds everything that is fixed for one batch.
type Runner struct {
	cfg       *config.RunConfig
	params    inference.Params
	model     *inference.ResponseModel
	engine    *inference.Engine
	seed      *inference.CandidateSet
	variation breath.Variation

	store   *store.Store
	writer  *report.Writer
	version string
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists results to s.
func WithStore(s *store.Store) Option { return func(r *Runner) { r.store = s } }

// WithWriter writes report files through w.
func WithWriter(w *report.Writer) Option { return func(r *Runner) { r.writer = w } }

// WithVersion records v on stored runs.
func WithVersion(v string) Option { return func(r *Runner) { r.version = v } }

// NewRunner validates cfg, builds the sensor array from the Henry table at
// cfg's path and prepares the seed grid. Every error wraps
// inference.ErrConfiguration or is an I/O error.
func NewRunner(cfg *config.RunConfig, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	params, err := cfg.InferenceParams()
	if err != nil {
		return nil, err
	}
	variation, err := breath.ParseVariation(cfg.GetVariation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", inference.ErrConfiguration, err)
	}

	arr, err := BuildArray(cfg, params.Gases)
	if err != nil {
		return nil, err
	}
	model, err := inference.NewResponseModel(arr)
	if err != nil {
		return nil, err
	}
	engine, err := inference.NewEngine(params, model)
	if err != nil {
		return nil, err
	}
	seed, err := inference.UniformGrid(cfg.SeedAxes(), params.RoundDecimals)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:       cfg,
		params:    params,
		model:     model,
		engine:    engine,
		seed:      seed,
		variation: variation,
	}
	for _, o := range opts {
		o(r)
	}
	monitoring.Logf("batch: array %v, %d seed candidates, %s", arr.IDs(), seed.Len(), params)
	return r, nil
}

// BuildArray loads the Henry table named by cfg and builds the selected
// array over set.
func BuildArray(cfg *config.RunConfig, set gas.Set) (*sensor.Array, error) {
	path := cfg.GetHenrysDataPath()
	if path == "" {
		return nil, fmt.Errorf("%w: henrys_data_filepath is required", inference.ErrConfiguration)
	}
	table, err := henry.Load(path)
	if err != nil {
		return nil, err
	}
	materials := table.Process(set.Names(), cfg.Materials, cfg.GetMinAllowedComp())
	if len(materials) == 0 {
		return nil, fmt.Errorf("%w: no material passes the Henry filters", inference.ErrConfiguration)
	}

	ids := cfg.Array
	if len(ids) == 0 {
		names := make([]string, len(materials))
		for i, m := range materials {
			names[i] = m.Name
		}
		size := cfg.GetArraySize()
		if size == 0 || size > len(names) {
			size = len(names)
		}
		ids, err = henry.SelectArray(names, size, cfg.GetArrayIndex())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", inference.ErrConfiguration, err)
		}
	}
	arr, err := henry.BuildArray(set, materials, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", inference.ErrConfiguration, err)
	}
	return arr, nil
}

// Params returns the engine parameters.
func (r *Runner) Params() inference.Params { return r.params }

// Array returns the sensor array.
func (r *Runner) Array() *sensor.Array { return r.model.Array() }

// Model returns the forward model.
func (r *Runner) Model() *inference.ResponseModel { return r.model }

// LoadSamples reads the configured sample file, honouring
// num_samples_to_test when limit is zero.
func (r *Runner) LoadSamples(limit int) ([]*sensor.Sample, error) {
	path := r.cfg.GetBreathSamplesPath()
	if path == "" {
		return nil, fmt.Errorf("%w: breath_samples_filepath is required", inference.ErrConfiguration)
	}
	samples, err := breath.LoadSamples(path, r.Array().IDs())
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = r.cfg.GetNumSamples()
	}
	if limit > 0 && limit < len(samples) {
		samples = samples[:limit]
	}
	return samples, nil
}

// Outcome is the result of one sample.
type Outcome struct {
	SampleID string
	Exit     inference.ExitReason
	Result   *inference.Result
	Truth    *gas.Composition
	Analytic *analytic.Estimate
	Err      error
}

// Summary describes a finished batch.
type Summary struct {
	RunID    string
	Outcomes []Outcome
	Counts   map[inference.ExitReason]int
}

// Run processes samples in order. Degenerate and invalid samples are recorded
// and skipped; a configuration error or cancellation stops the batch and is
// returned together with the partial summary.
func (r *Runner) Run(ctx context.Context, samples []*sensor.Sample) (*Summary, error) {
	sum := &Summary{Counts: make(map[inference.ExitReason]int)}

	if r.store != nil {
		cfgJSON, err := json.Marshal(r.cfg)
		if err != nil {
			return nil, fmt.Errorf("encode run config: %w", err)
		}
		run, err := r.store.StartRun(store.RunRecord{
			Gases:      r.params.Gases.Names(),
			Background: r.params.Gases.Background(),
			Materials:  r.Array().IDs(),
			Config:     cfgJSON,
			Version:    r.version,
		})
		if err != nil {
			return nil, err
		}
		sum.RunID = run.RunID
	}

	var batchErr error
	for i, s := range samples {
		out := r.runSample(ctx, i, s)
		sum.Outcomes = append(sum.Outcomes, out)
		if out.Exit != "" {
			sum.Counts[out.Exit]++
		}

		if err := r.persist(ctx, sum.RunID, out); err != nil {
			batchErr = err
			break
		}
		if out.Err != nil && (errors.Is(out.Err, inference.ErrConfiguration) || out.Exit == inference.ExitCanceled) {
			batchErr = out.Err
			break
		}
	}

	if batchErr == nil && r.writer != nil {
		if err := r.writer.WriteBatch(ctx, r.params, r.settings(), summaryRows(sum.Outcomes)); err != nil {
			batchErr = err
		}
	}
	r.finish(sum.RunID, batchErr)
	return sum, batchErr
}

func (r *Runner) runSample(ctx context.Context, i int, s *sensor.Sample) Outcome {
	out := Outcome{SampleID: s.ID}

	sample, err := breath.Vary(r.model, s, r.variation, r.cfg.GetAddedError(), r.cfg.GetSeed()+uint64(i))
	if err != nil {
		out.Exit, out.Err = inference.ExitInvalidSample, fmt.Errorf("%w: %v", inference.ErrInvalidSample, err)
		monitoring.Warnf("sample %s: %v", s.ID, out.Err)
		return out
	}
	if sample.HasTruth() {
		if truth, err := sample.TrueComposition(r.params.Gases); err == nil {
			out.Truth = &truth
		} else {
			monitoring.Warnf("sample %s: ignoring true composition: %v", s.ID, err)
		}
	}

	if est, err := analytic.SolveSample(r.Array(), sample); err == nil {
		out.Analytic = &est
		monitoring.Debugf("sample %s analytic estimate %v", s.ID, est.Named(r.params.Gases))
	}

	seed := r.seed
	if r.cfg.GetTrueCompAtStart() && out.Truth != nil {
		if seed, err = inference.AddPoints(r.seed, r.params.RoundDecimals, *out.Truth); err != nil {
			out.Exit, out.Err = inference.ExitInvalidSample, fmt.Errorf("%w: %v", inference.ErrInvalidSample, err)
			return out
		}
	}

	start := time.Now()
	res, err := r.engine.Run(ctx, seed, sample)
	out.Result = res
	out.Exit, out.Err = classify(res, err)

	switch {
	case out.Err == nil:
		monitoring.Logf("sample %s: %s after %d cycles (%s)", s.ID, out.Exit, res.Cycles(), time.Since(start).Round(time.Millisecond))
	case out.Exit == inference.ExitDegenerate, out.Exit == inference.ExitInvalidSample:
		monitoring.Warnf("sample %s: %v", s.ID, out.Err)
	default:
		monitoring.Logf("sample %s: %v", s.ID, out.Err)
	}
	return out
}

// classify maps an engine error onto an exit reason.
func classify(res *inference.Result, err error) (inference.ExitReason, error) {
	var degenerate *inference.DegenerateError
	switch {
	case err == nil:
		return res.Exit, nil
	case errors.As(err, &degenerate):
		return inference.ExitDegenerate, err
	case errors.Is(err, inference.ErrInvalidSample):
		return inference.ExitInvalidSample, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return inference.ExitCanceled, err
	case errors.Is(err, inference.ErrConfiguration):
		return "", err
	default:
		// Anything else is a fault in the run setup rather than the sample.
		return "", fmt.Errorf("%w: %v", inference.ErrConfiguration, err)
	}
}

func (r *Runner) persist(ctx context.Context, runID string, out Outcome) error {
	if r.store != nil && out.Exit != "" {
		var truth map[string]float64
		if out.Truth != nil {
			truth = out.Truth.Named(r.params.Gases)
		}
		if err := r.store.RecordSample(runID, out.SampleID, out.Exit, out.Result, truth, out.Err); err != nil {
			return err
		}
	}
	if r.writer != nil && out.Result != nil {
		if err := r.writer.WriteSample(ctx, out.Result, out.Truth); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) finish(runID string, err error) {
	if r.store == nil || runID == "" {
		return
	}
	status, msg := store.RunCompleted, ""
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, msg = store.RunCanceled, err.Error()
	case err != nil:
		status, msg = store.RunFailed, err.Error()
	}
	if ferr := r.store.FinishRun(runID, status, msg, time.Now()); ferr != nil {
		monitoring.Logf("batch: failed to finish run %s: %v", runID, ferr)
	}
}

func (r *Runner) settings() map[string]string {
	return map[string]string{
		"array":              strings.Join(r.Array().IDs(), ","),
		"henrys_data":        r.cfg.GetHenrysDataPath(),
		"breath_samples":     r.cfg.GetBreathSamplesPath(),
		"variation":          string(r.variation),
		"added_error":        fmt.Sprint(r.cfg.GetAddedError()),
		"seed":               fmt.Sprint(r.cfg.GetSeed()),
		"true_comp_at_start": fmt.Sprint(r.cfg.GetTrueCompAtStart()),
		"seed_candidates":    fmt.Sprint(r.seed.Len()),
	}
}

func summaryRows(outcomes []Outcome) []report.SampleSummary {
	rows := make([]report.SampleSummary, 0, len(outcomes))
	for _, o := range outcomes {
		row := report.SampleSummary{SampleID: o.SampleID, Exit: o.Exit}
		if o.Result != nil {
			row.Cycles = o.Result.Cycles()
			if o.Truth != nil && o.Err == nil {
				row.Errors = report.PredictionErrors(o.Result, *o.Truth)
			}
		}
		if o.Err != nil {
			row.Err = o.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}
