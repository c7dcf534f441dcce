package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
)

// SampleRecord is the stored outcome of one sample.
type SampleRecord struct {
	RunID      string                     `json:"run_id"`
	SampleID   string                     `json:"sample_id"`
	ExitReason string                     `json:"exit_reason"`
	Cycles     int                        `json:"cycles"`
	Best       map[string]float64         `json:"best,omitempty"`
	Truth      map[string]float64         `json:"truth,omitempty"`
	Final      map[string]inference.Range `json:"final,omitempty"`
	Error      string                     `json:"error,omitempty"`
	RecordedAt time.Time                  `json:"recorded_at"`
}

// CycleRange is one gas range at one cycle.
type CycleRange struct {
	Cycle      int     `json:"cycle"`
	Gas        string  `json:"gas"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Converged  bool    `json:"converged"`
	Candidates int     `json:"candidates"`
	Retained   int     `json:"retained"`
	Warnings   int     `json:"warnings"`
	KLD        float64 `json:"kld"`
	PRatio     float64 `json:"p_ratio"`
}

// RecordSample stores a sample outcome and its cycle history in one
// transaction. res may be nil when the sample failed before inference
// started; runErr, if non-nil, is stored as the error text.
func (s *Store) RecordSample(runID, sampleID string, exit inference.ExitReason, res *inference.Result, truth map[string]float64, runErr error) error {
	rec := SampleRecord{
		RunID:      runID,
		SampleID:   sampleID,
		ExitReason: string(exit),
		Truth:      truth,
		RecordedAt: time.Now(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	var ranges []CycleRange
	if res != nil {
		rec.Cycles = res.Cycles()
		if res.Best.Len() > 0 {
			rec.Best = res.Best.Named(res.Gases)
		}
		if len(res.Final.Ranges) > 0 {
			rec.Final = make(map[string]inference.Range, len(res.Final.Ranges)+1)
			for g, r := range res.Final.Ranges {
				rec.Final[res.Gases.Name(gas.ID(g))] = r
			}
			rec.Final[res.Gases.Background()] = res.Final.Background
		}
		ranges = historyRanges(res)
	}

	best, err := marshalNullable(rec.Best)
	if err != nil {
		return err
	}
	truthJSON, err := marshalNullable(rec.Truth)
	if err != nil {
		return err
	}
	final, err := marshalNullable(rec.Final)
	if err != nil {
		return err
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM cycle_ranges WHERE run_id = ? AND sample_id = ?`, runID, sampleID); err != nil {
			return fmt.Errorf("clearing cycles for %s: %w", sampleID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO sample_results (
				run_id, sample_id, exit_reason, cycles, best_json, truth_json, final_json, error, recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (run_id, sample_id) DO UPDATE SET
				exit_reason = excluded.exit_reason,
				cycles = excluded.cycles,
				best_json = excluded.best_json,
				truth_json = excluded.truth_json,
				final_json = excluded.final_json,
				error = excluded.error,
				recorded_at = excluded.recorded_at`,
			rec.RunID, rec.SampleID, rec.ExitReason, rec.Cycles, best, truthJSON, final,
			nullStr(rec.Error), formatTime(rec.RecordedAt),
		); err != nil {
			return fmt.Errorf("inserting sample %s: %w", sampleID, err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO cycle_ranges (
				run_id, sample_id, cycle, gas, range_min, range_max, converged,
				candidates, retained, warnings, kld, p_ratio
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, cr := range ranges {
			if _, err := stmt.Exec(runID, sampleID, cr.Cycle, cr.Gas, cr.Min, cr.Max, cr.Converged,
				cr.Candidates, cr.Retained, cr.Warnings, nullFloat(cr.KLD), nullFloat(cr.PRatio)); err != nil {
				return fmt.Errorf("inserting cycle %d for %s: %w", cr.Cycle, sampleID, err)
			}
		}
		return tx.Commit()
	})
}

// historyRanges flattens a run history into one row per cycle and gas. The
// background range is stored under the background gas name.
func historyRanges(res *inference.Result) []CycleRange {
	var out []CycleRange
	for _, h := range res.History {
		base := CycleRange{
			Cycle:      h.Cycle,
			Candidates: h.Candidates,
			Retained:   h.Retained,
			Warnings:   h.Warnings,
			KLD:        h.Diagnostics.KLD,
			PRatio:     h.Diagnostics.PRatio,
		}
		for g, r := range h.State.Ranges {
			cr := base
			cr.Gas = res.Gases.Name(gas.ID(g))
			cr.Min, cr.Max = r.Min, r.Max
			if g < len(h.State.Converged) {
				cr.Converged = h.State.Converged[g]
			}
			out = append(out, cr)
		}
		if len(h.State.Ranges) > 0 {
			cr := base
			cr.Gas = res.Gases.Background()
			cr.Min, cr.Max = h.State.Background.Min, h.State.Background.Max
			out = append(out, cr)
		}
	}
	return out
}

// SampleResults returns every sample outcome for a run in insertion order.
func (s *Store) SampleResults(runID string) ([]SampleRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, sample_id, exit_reason, cycles, best_json, truth_json, final_json, error, recorded_at
		FROM sample_results
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying samples for %s: %w", runID, err)
	}
	defer rows.Close()

	var out []SampleRecord
	for rows.Next() {
		var (
			rec                        SampleRecord
			best, truth, final, errMsg sql.NullString
			recorded                   string
		)
		if err := rows.Scan(&rec.RunID, &rec.SampleID, &rec.ExitReason, &rec.Cycles,
			&best, &truth, &final, &errMsg, &recorded); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		if err := unmarshalNullable(best, &rec.Best); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(truth, &rec.Truth); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(final, &rec.Final); err != nil {
			return nil, err
		}
		rec.Error = errMsg.String
		if rec.RecordedAt, err = parseTime(recorded); err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CycleRanges returns the stored history of one sample ordered by cycle.
func (s *Store) CycleRanges(runID, sampleID string) ([]CycleRange, error) {
	rows, err := s.db.Query(`
		SELECT cycle, gas, range_min, range_max, converged, candidates, retained, warnings, kld, p_ratio
		FROM cycle_ranges
		WHERE run_id = ? AND sample_id = ?
		ORDER BY cycle, rowid`, runID, sampleID)
	if err != nil {
		return nil, fmt.Errorf("querying cycles for %s/%s: %w", runID, sampleID, err)
	}
	defer rows.Close()

	var out []CycleRange
	for rows.Next() {
		var (
			cr          CycleRange
			kld, pRatio sql.NullFloat64
		)
		if err := rows.Scan(&cr.Cycle, &cr.Gas, &cr.Min, &cr.Max, &cr.Converged,
			&cr.Candidates, &cr.Retained, &cr.Warnings, &kld, &pRatio); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		cr.KLD, cr.PRatio = kld.Float64, pRatio.Float64
		out = append(out, cr)
	}
	return out, rows.Err()
}

// ExitCounts tallies sample outcomes by exit reason.
func (s *Store) ExitCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT exit_reason, COUNT(*) FROM sample_results WHERE run_id = ? GROUP BY exit_reason`, runID)
	if err != nil {
		return nil, fmt.Errorf("counting exits for %s: %w", runID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		out[reason] = n
	}
	return out, rows.Err()
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch m := v.(type) {
	case map[string]float64:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]inference.Range:
		if len(m) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return string(b), nil
}

func unmarshalNullable(s sql.NullString, dst interface{}) error {
	if !s.Valid {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

// nullFloat stores NaN and infinities as NULL.
func nullFloat(f float64) interface{} {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

