package report

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// fileSafe replaces characters that do not belong in file names.
func fileSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}

// RangeProgressPlots saves one PNG per gas showing how its range narrows
// over the cycles of res. When truth is non-nil its value is drawn as a
// horizontal reference. It returns the written paths.
func RangeProgressPlots(res *inference.Result, truth *gas.Composition, dir string) ([]string, error) {
	var paths []string
	for _, id := range res.Gases.IDs() {
		name := res.Gases.Name(id)
		p := plot.New()
		p.Title.Text = fmt.Sprintf("Sample %s - %s range", res.SampleID, name)
		p.X.Label.Text = "Cycle"
		p.Y.Label.Text = "Mole fraction"

		lo := make(plotter.XYs, 0, len(res.History))
		hi := make(plotter.XYs, 0, len(res.History))
		for _, rec := range res.History {
			if int(id) >= len(rec.State.Ranges) {
				continue
			}
			r := rec.State.Ranges[id]
			lo = append(lo, plotter.XY{X: float64(rec.Cycle), Y: r.Min})
			hi = append(hi, plotter.XY{X: float64(rec.Cycle), Y: r.Max})
		}
		if len(lo) == 0 {
			continue
		}

		for i, series := range []struct {
			label string
			pts   plotter.XYs
		}{{"min", lo}, {"max", hi}} {
			line, points, err := plotter.NewLinePoints(series.pts)
			if err != nil {
				return paths, fmt.Errorf("%s %s line: %w", name, series.label, err)
			}
			line.Color = plotutil.Color(i)
			line.Width = vg.Points(1)
			points.GlyphStyle.Color = plotutil.Color(i)
			p.Add(line, points)
			p.Legend.Add(series.label, line, points)
		}

		if truth != nil {
			v := truth.Fraction(id)
			ref := plotter.NewFunction(func(float64) float64 { return v })
			ref.Color = plotutil.Color(2)
			ref.Dashes = plotutil.Dashes(1)
			p.Add(ref)
			p.Legend.Add("true", ref)
		}
		p.Legend.Top = true

		path := filepath.Join(dir, fmt.Sprintf("%s_%s_range.png", fileSafe(res.SampleID), fileSafe(name)))
		if err := p.Save(plotWidth, plotHeight, path); err != nil {
			return paths, fmt.Errorf("saving %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// PredictedVsTruePlots saves one PNG per gas plotting every sample's
// predicted midpoint against its true fraction, with the identity line.
func PredictedVsTruePlots(rows []SampleSummary, dir string) ([]string, error) {
	byGas := make(map[string]plotter.XYs)
	var order []string
	for _, s := range rows {
		for _, ge := range s.Errors {
			if _, ok := byGas[ge.Gas]; !ok {
				order = append(order, ge.Gas)
			}
			byGas[ge.Gas] = append(byGas[ge.Gas], plotter.XY{X: ge.Truth, Y: ge.Predicted})
		}
	}

	var paths []string
	for _, name := range order {
		pts := byGas[name]
		p := plot.New()
		p.Title.Text = fmt.Sprintf("%s predicted vs true", name)
		p.X.Label.Text = "True mole fraction"
		p.Y.Label.Text = "Predicted mole fraction"

		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return paths, fmt.Errorf("%s scatter: %w", name, err)
		}
		scatter.GlyphStyle.Color = plotutil.Color(0)
		scatter.GlyphStyle.Shape = plotutil.Shape(0)

		lo, hi := math.Inf(1), math.Inf(-1)
		for _, pt := range pts {
			lo = math.Min(lo, math.Min(pt.X, pt.Y))
			hi = math.Max(hi, math.Max(pt.X, pt.Y))
		}
		ident, err := plotter.NewLine(plotter.XYs{{X: lo, Y: lo}, {X: hi, Y: hi}})
		if err != nil {
			return paths, fmt.Errorf("%s identity line: %w", name, err)
		}
		ident.Color = plotutil.Color(1)
		ident.Dashes = plotutil.Dashes(1)

		p.Add(scatter, ident)
		p.Legend.Add("samples", scatter)
		p.Legend.Add("ideal", ident)
		p.Legend.Top = true
		p.Legend.Left = true

		path := filepath.Join(dir, fmt.Sprintf("%s_predicted_vs_true.png", fileSafe(name)))
		if err := p.Save(plotWidth, plotHeight, path); err != nil {
			return paths, fmt.Errorf("saving %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
