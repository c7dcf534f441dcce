package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/breath.report/internal/inference"
)

// DefaultTopCandidates is how many candidates RenderPMFChart shows.
const DefaultTopCandidates = 25

// RenderPMFChart writes an HTML bar chart of the top candidates of the
// final joint probability table. It writes nothing and returns an error if
// res has no table.
func RenderPMFChart(w io.Writer, res *inference.Result, top int) error {
	pmf := res.LastPMF
	if pmf == nil || len(pmf.Ranking) == 0 {
		return fmt.Errorf("sample %s has no probability table", res.SampleID)
	}
	if top <= 0 {
		top = DefaultTopCandidates
	}
	top = min(top, len(pmf.Ranking))

	labels := make([]string, top)
	data := make([]opts.BarData, top)
	names := res.Gases.Names()
	for i, idx := range pmf.Ranking[:top] {
		row := pmf.Candidates.Row(idx)
		parts := make([]string, len(row))
		for g, v := range row {
			parts[g] = fmt.Sprintf("%s=%.4g", names[g], v)
		}
		labels[i] = strings.Join(parts, " ")
		data[i] = opts.BarData{Name: labels[i], Value: pmf.Joint[idx]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Joint PMF " + res.SampleID, Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Sample %s joint probability", res.SampleID),
			Subtitle: fmt.Sprintf("exit=%s cycles=%d candidates=%d", res.Exit, res.Cycles(), pmf.Candidates.Len()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Candidate", AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "P"}),
	)
	bar.SetXAxis(labels).AddSeries("joint", data)
	return bar.Render(w)
}
