// Package report writes per-sample and per-batch inference outputs: CSV
// tables, PNG plots and an HTML chart of the final probability table.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/banshee-data/breath.report/internal/inference"
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// HistoryHeader returns the column names written by WriteHistoryCSV.
func HistoryHeader(res *inference.Result) []string {
	h := []string{"cycle", "candidates", "retained", "warnings", "kld", "p_ratio", "best_joint"}
	for _, name := range res.Gases.Names() {
		h = append(h, name+"_min", name+"_max", name+"_converged", name+"_step")
	}
	bg := res.Gases.Background()
	return append(h, bg+"_min", bg+"_max")
}

// WriteHistoryCSV writes one row per cycle of res, seed first.
func WriteHistoryCSV(w io.Writer, res *inference.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(HistoryHeader(res)); err != nil {
		return err
	}
	for _, rec := range res.History {
		row := []string{
			strconv.Itoa(rec.Cycle),
			strconv.Itoa(rec.Candidates),
			strconv.Itoa(rec.Retained),
			strconv.Itoa(rec.Warnings),
			formatFloat(rec.Diagnostics.KLD),
			formatFloat(rec.Diagnostics.PRatio),
			formatFloat(rec.Diagnostics.BestJoint),
		}
		for g, r := range rec.State.Ranges {
			var step float64
			if g < len(rec.Steps) {
				step = rec.Steps[g]
			}
			conv := g < len(rec.State.Converged) && rec.State.Converged[g]
			row = append(row, formatFloat(r.Min), formatFloat(r.Max), strconv.FormatBool(conv), formatFloat(step))
		}
		row = append(row, formatFloat(rec.State.Background.Min), formatFloat(rec.State.Background.Max))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSettingsCSV writes run parameters as key,value rows. Extra settings
// follow in key order.
func WriteSettingsCSV(w io.Writer, p inference.Params, extra map[string]string) error {
	cw := csv.NewWriter(w)
	rows := [][]string{
		{"setting", "value"},
		{"gases", p.Gases.String()},
		{"background", p.Gases.Background()},
		{"fraction_to_keep", formatFloat(p.FractionToKeep)},
		{"error_type", string(p.ErrorModel)},
		{"error_amount", formatFloat(p.ErrorAmount)},
		{"max_cycles", strconv.Itoa(p.MaxCycles)},
		{"round_decimals", strconv.Itoa(p.RoundDecimals)},
		{"max_residual_sigma", formatFloat(p.MaxResidualSigma)},
	}
	for i, name := range p.Gases.Names() {
		rows = append(rows,
			[]string{name + "_spacing", formatFloat(p.Steps[i])},
			[]string{name + "_convergence_limit", formatFloat(p.Limits[i])},
		)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows = append(rows, []string{k, extra[k]})
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
