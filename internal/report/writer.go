package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
)

// Writer renders outputs into a results directory.
type Writer struct {
	dir   string
	plots bool
	top   int
}

// NewWriter creates dir if needed. When plots is false only tables and the
// HTML chart are written.
func NewWriter(dir string, plots bool) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("results directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &Writer{dir: dir, plots: plots, top: DefaultTopCandidates}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// SampleDir returns the directory holding one sample's outputs.
func (w *Writer) SampleDir(sampleID string) string {
	return filepath.Join(w.dir, "samples", sampleDirName(sampleID))
}

// sampleDirName keeps ids that are already safe directory names. Any other
// id gets a hash suffix so that ids differing only in replaced characters
// do not share a directory.
func sampleDirName(id string) string {
	name := strings.Trim(fileSafe(id), ".")
	if name != "" && name == id {
		return name
	}
	if name == "" {
		name = "sample"
	}
	sum := sha256.Sum256([]byte(id))
	return name + "-" + hex.EncodeToString(sum[:4])
}

// WriteSample writes the cycle history, PMF chart and, when enabled, range
// plots for one result. Outputs are rendered concurrently.
func (w *Writer) WriteSample(ctx context.Context, res *inference.Result, truth *gas.Composition) error {
	dir := w.SampleDir(res.SampleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sample directory: %w", err)
	}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeFile(filepath.Join(dir, "cycles.csv"), func(out io.Writer) error {
			return WriteHistoryCSV(out, res)
		})
	})
	if res.LastPMF != nil {
		g.Go(func() error {
			return writeFile(filepath.Join(dir, "pmf.html"), func(out io.Writer) error {
				return RenderPMFChart(out, res, w.top)
			})
		})
	}
	if w.plots {
		g.Go(func() error {
			_, err := RangeProgressPlots(res, truth, dir)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("sample %s outputs: %w", res.SampleID, err)
	}
	return nil
}

// WriteBatch writes the settings table, the batch summary and, when plots
// are enabled, the predicted-vs-true plots.
func (w *Writer) WriteBatch(ctx context.Context, params inference.Params, extra map[string]string, rows []SampleSummary) error {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeFile(filepath.Join(w.dir, "settings.csv"), func(out io.Writer) error {
			return WriteSettingsCSV(out, params, extra)
		})
	})
	g.Go(func() error {
		return writeFile(filepath.Join(w.dir, "summary.csv"), func(out io.Writer) error {
			return WriteSummaryCSV(out, rows)
		})
	})
	if w.plots {
		g.Go(func() error {
			_, err := PredictedVsTruePlots(rows, w.dir)
			return err
		})
	}
	return g.Wait()
}

// writeFile renders into memory first so a failed render leaves no partial
// file behind.
func writeFile(path string, render func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := render(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
