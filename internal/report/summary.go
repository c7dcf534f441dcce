package report

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
)

// GasError compares one gas's final range with its known fraction.
type GasError struct {
	Gas       string  `json:"gas"`
	Truth     float64 `json:"truth"`
	Predicted float64 `json:"predicted"`
	HalfWidth float64 `json:"half_width"`
	// PercentError is |Predicted-Truth|/Truth*100, NaN when Truth is zero.
	PercentError float64 `json:"percent_error"`
	Within       bool    `json:"within"`
}

// PredictionErrors scores the midpoint of each final range against truth.
// The background gas is included last.
func PredictionErrors(res *inference.Result, truth gas.Composition) []GasError {
	set := res.Gases
	out := make([]GasError, 0, set.Len()+1)
	for _, id := range set.IDs() {
		out = append(out, gasError(set.Name(id), res.Final.Ranges[id], truth.Fraction(id)))
	}
	return append(out, gasError(set.Background(), res.Final.Background, truth.Background()))
}

func gasError(name string, r inference.Range, truth float64) GasError {
	ge := GasError{
		Gas:          name,
		Truth:        truth,
		Predicted:    r.Mid(),
		HalfWidth:    r.Width() / 2,
		PercentError: math.NaN(),
		Within:       r.Contains(truth),
	}
	if truth != 0 {
		ge.PercentError = math.Abs(ge.Predicted-truth) / truth * 100
	}
	return ge
}

// SampleSummary is one row of the batch summary table.
type SampleSummary struct {
	SampleID string
	Exit     inference.ExitReason
	Cycles   int
	Errors   []GasError
	Err      string
}

// WriteSummaryCSV writes one row per gas per sample. Samples without a
// comparison get a single row with empty gas columns.
func WriteSummaryCSV(w io.Writer, rows []SampleSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample_id", "exit_reason", "cycles", "gas", "truth", "predicted", "half_width", "percent_error", "within", "error"}); err != nil {
		return err
	}
	for _, s := range rows {
		head := []string{s.SampleID, string(s.Exit), strconv.Itoa(s.Cycles)}
		if len(s.Errors) == 0 {
			if err := cw.Write(append(head, "", "", "", "", "", "", s.Err)); err != nil {
				return err
			}
			continue
		}
		for _, ge := range s.Errors {
			row := append(append([]string(nil), head...),
				ge.Gas,
				formatFloat(ge.Truth),
				formatFloat(ge.Predicted),
				formatFloat(ge.HalfWidth),
				formatFloat(ge.PercentError),
				strconv.FormatBool(ge.Within),
				s.Err,
			)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}
