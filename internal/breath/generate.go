package breath

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/breath.report/internal/units"
)

// SpecType selects how a gas fraction is drawn.
type SpecType string

const (
	// SpecBounds draws uniformly between Values[0] and Values[1].
	SpecBounds SpecType = "bounds"
	// SpecStdDev draws from a normal with mean Values[0] and deviation
	// Values[1], truncated to [0, 1].
	SpecStdDev SpecType = "stddev"
	// SpecRatio draws a multiple in [Values[0], Values[1]] of RelativeTo.
	SpecRatio SpecType = "ratio"
	// SpecBackground fills the remainder so that fractions sum to one.
	SpecBackground SpecType = "background"
	// SpecBackgroundRatio shares the remainder with RelativeTo, weighted by a
	// ratio drawn from [Values[0], Values[1]].
	SpecBackgroundRatio SpecType = "background-r"
)

// GasSpec describes the distribution of one gas.
type GasSpec struct {
	Gas        string    `json:"gas" yaml:"gas"`
	Type       SpecType  `json:"type" yaml:"type"`
	Values     []float64 `json:"values,omitempty" yaml:"values,omitempty"`
	Units      string    `json:"units,omitempty" yaml:"units,omitempty"`
	RelativeTo string    `json:"relative_to,omitempty" yaml:"relative_to,omitempty"`
}

// GeneratorSpec is the file format read by LoadGeneratorSpec.
type GeneratorSpec struct {
	Gases []GasSpec `json:"gases" yaml:"gases"`
}

// LoadGeneratorSpec reads a generator spec from a .json, .yaml or .yml file.
func LoadGeneratorSpec(path string) (*GeneratorSpec, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read generator spec: %w", err)
	}
	var spec GeneratorSpec
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		err = json.Unmarshal(data, &spec)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &spec)
	default:
		return nil, fmt.Errorf("generator spec must be .json, .yaml or .yml, got %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse generator spec: %w", err)
	}
	return &spec, nil
}

// Generator draws random breath compositions from a list of gas specs.
// Gases are drawn in the order bounds/stddev, ratio, background,
// background-r, and each output keeps the GeneratorSpec order of gas names.
type Generator struct {
	specs []GasSpec
	rng   *rand.Rand
	src   rand.Source
}

// NewGenerator validates specs, converts bounds to mole fractions and seeds
// the generator.
func NewGenerator(spec *GeneratorSpec, seed uint64) (*Generator, error) {
	if spec == nil || len(spec.Gases) == 0 {
		return nil, fmt.Errorf("generator spec has no gases")
	}
	specs := make([]GasSpec, len(spec.Gases))
	types := make(map[string]SpecType, len(specs))
	backgrounds := 0
	for i, gs := range spec.Gases {
		if gs.Gas == "" {
			return nil, fmt.Errorf("gas spec %d has no name", i+1)
		}
		if _, dup := types[gs.Gas]; dup {
			return nil, fmt.Errorf("gas %q specified twice", gs.Gas)
		}
		types[gs.Gas] = gs.Type

		switch gs.Type {
		case SpecBounds, SpecStdDev:
			if len(gs.Values) != 2 {
				return nil, fmt.Errorf("gas %q: %s needs two values", gs.Gas, gs.Type)
			}
			vals := make([]float64, 2)
			for j, v := range gs.Values {
				x, err := units.ToMoleFraction(v, gs.Units)
				if err != nil {
					return nil, fmt.Errorf("gas %q: %w", gs.Gas, err)
				}
				vals[j] = x
			}
			if gs.Type == SpecBounds && vals[0] > vals[1] {
				return nil, fmt.Errorf("gas %q: lower bound above upper bound", gs.Gas)
			}
			if gs.Type == SpecStdDev && vals[1] <= 0 {
				return nil, fmt.Errorf("gas %q: deviation must be positive", gs.Gas)
			}
			gs.Values = vals
			gs.Units = units.MoleFraction
		case SpecRatio, SpecBackgroundRatio:
			if len(gs.Values) != 2 || gs.Values[0] > gs.Values[1] || gs.Values[0] < 0 {
				return nil, fmt.Errorf("gas %q: %s needs two ordered non-negative values", gs.Gas, gs.Type)
			}
			if gs.RelativeTo == "" {
				return nil, fmt.Errorf("gas %q: %s needs relative_to", gs.Gas, gs.Type)
			}
		case SpecBackground:
			backgrounds++
		default:
			return nil, fmt.Errorf("gas %q: invalid type %q", gs.Gas, gs.Type)
		}
		specs[i] = gs
	}
	if backgrounds > 1 {
		return nil, fmt.Errorf("only one background gas is supported, got %d", backgrounds)
	}

	for _, gs := range specs {
		ref, ok := types[gs.RelativeTo]
		switch gs.Type {
		case SpecRatio:
			if !ok || (ref != SpecBounds && ref != SpecStdDev) {
				return nil, fmt.Errorf("gas %q: ratio must be relative to a bounds or stddev gas", gs.Gas)
			}
		case SpecBackgroundRatio:
			if !ok || ref != SpecBackground {
				return nil, fmt.Errorf("gas %q: background-r must be relative to the background gas", gs.Gas)
			}
		}
	}

	src := rand.NewPCG(seed, seed^0xda942042e4dd58b5)
	return &Generator{specs: specs, rng: rand.New(src), src: src}, nil
}

// Names returns the generated gas names in spec order.
func (g *Generator) Names() []string {
	out := make([]string, len(g.specs))
	for i, gs := range g.specs {
		out[i] = gs.Gas
	}
	return out
}

// Next draws one composition keyed by gas name. Fractions of non-background
// gases are independent draws; background gases share 1 minus their sum.
func (g *Generator) Next() (map[string]float64, error) {
	out := make(map[string]float64, len(g.specs))
	for _, gs := range g.specs {
		switch gs.Type {
		case SpecBounds:
			out[gs.Gas] = g.uniform(gs.Values[0], gs.Values[1])
		case SpecStdDev:
			out[gs.Gas] = g.truncatedNormal(gs.Values[0], gs.Values[1])
		}
	}
	for _, gs := range g.specs {
		if gs.Type == SpecRatio {
			ref := out[gs.RelativeTo]
			out[gs.Gas] = g.uniform(ref*gs.Values[0], ref*gs.Values[1])
		}
	}

	var fixed []float64
	for _, gs := range g.specs {
		if v, ok := out[gs.Gas]; ok {
			fixed = append(fixed, v)
		}
	}
	remainder := 1 - floats.SumCompensated(fixed)
	if remainder < 0 {
		return nil, fmt.Errorf("drawn fractions sum to %g, above 1", 1-remainder)
	}

	weights := make(map[string]float64)
	for _, gs := range g.specs {
		if gs.Type == SpecBackground {
			weights[gs.Gas] = 1
		}
	}
	for _, gs := range g.specs {
		if gs.Type == SpecBackgroundRatio {
			weights[gs.Gas] = weights[gs.RelativeTo] * g.uniform(gs.Values[0], gs.Values[1])
		}
	}
	var total float64
	for _, gs := range g.specs {
		total += weights[gs.Gas]
	}
	for _, gs := range g.specs {
		if w, ok := weights[gs.Gas]; ok && total > 0 {
			out[gs.Gas] = w / total * remainder
		}
	}
	return out, nil
}

// Generate draws n compositions.
func (g *Generator) Generate(n int) ([]map[string]float64, error) {
	out := make([]map[string]float64, 0, n)
	for i := 0; i < n; i++ {
		c, err := g.Next()
		if err != nil {
			return nil, fmt.Errorf("composition %d: %w", i+1, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (g *Generator) uniform(lo, hi float64) float64 {
	if lo == hi {
		return lo
	}
	return distuv.Uniform{Min: lo, Max: hi, Src: g.src}.Rand()
}

// truncatedNormal samples by inverting the CDF between its values at 0 and 1.
func (g *Generator) truncatedNormal(mu, sigma float64) float64 {
	n := distuv.Normal{Mu: mu, Sigma: sigma}
	lo, hi := n.CDF(0), n.CDF(1)
	if hi <= lo {
		return min(max(mu, 0), 1)
	}
	x := n.Quantile(lo + g.rng.Float64()*(hi-lo))
	return min(max(x, 0), 1)
}

// WriteCompositionsTSV writes one composition per row under a header of gas
// names, in the order given, with fractions expressed in unit. An empty
// unit writes mole fractions.
func WriteCompositionsTSV(w io.Writer, names []string, comps []map[string]float64, unit string) error {
	if unit == "" {
		unit = units.MoleFraction
	}
	if !units.IsValid(unit) {
		return fmt.Errorf("unknown output unit %q (valid: %s)", unit, units.GetValidUnitsString())
	}
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(names); err != nil {
		return err
	}
	row := make([]string, len(names))
	for _, c := range comps {
		for i, n := range names {
			row[i] = strconv.FormatFloat(units.FromMoleFraction(c[n], unit), 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
