package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunCanceled  = "canceled"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// RunRecord describes one batch invocation.
type RunRecord struct {
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"`
	Gases       []string        `json:"gases"`
	Background  string          `json:"background"`
	Materials   []string        `json:"materials"`
	Config      json.RawMessage `json:"config,omitempty"`
	Version     string          `json:"version,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StartRun inserts a running batch and returns its record. A new run id is
// assigned when rec.RunID is empty.
func (s *Store) StartRun(rec RunRecord) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.NewString()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	rec.Status = RunRunning

	query := `
		INSERT INTO batch_runs (
			run_id, status, gases, background, materials, config_json, version, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var cfg interface{}
	if len(rec.Config) > 0 {
		cfg = string(rec.Config)
	}
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			rec.RunID,
			rec.Status,
			strings.Join(rec.Gases, ","),
			rec.Background,
			strings.Join(rec.Materials, ","),
			cfg,
			nullStr(rec.Version),
			formatTime(rec.StartedAt),
		)
		return err
	})
	if err != nil {
		return RunRecord{}, fmt.Errorf("inserting run %s: %w", rec.RunID, err)
	}
	return rec, nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(runID, status, errMsg string, completedAt time.Time) error {
	query := `UPDATE batch_runs SET status = ?, error = ?, completed_at = ? WHERE run_id = ?`
	var res sql.Result
	err := retryOnBusy(func() error {
		var err error
		res, err = s.db.Exec(query, status, nullStr(errMsg), formatTime(completedAt), runID)
		return err
	})
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finishing run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(runID string) (*RunRecord, error) {
	query := `
		SELECT run_id, status, gases, background, materials, config_json, version,
		       error, started_at, completed_at
		FROM batch_runs
		WHERE run_id = ?
	`
	rec, err := scanRun(s.db.QueryRow(query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns runs newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT run_id, status, gases, background, materials, config_json, version,
		       error, started_at, completed_at
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		rec                         RunRecord
		gases, materials, started   string
		cfg, version, errMsg, ended sql.NullString
	)
	if err := row.Scan(&rec.RunID, &rec.Status, &gases, &rec.Background, &materials,
		&cfg, &version, &errMsg, &started, &ended); err != nil {
		return nil, err
	}
	rec.Gases = splitList(gases)
	rec.Materials = splitList(materials)
	if cfg.Valid {
		rec.Config = json.RawMessage(cfg.String)
	}
	rec.Version = version.String
	rec.Error = errMsg.String

	t, err := parseTime(started)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	rec.StartedAt = t
	if ended.Valid {
		t, err := parseTime(ended.String)
		if err != nil {
			return nil, fmt.Errorf("parsing completed_at: %w", err)
		}
		rec.CompletedAt = &t
	}
	return &rec, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
