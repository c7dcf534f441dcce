package inference

import (
	"fmt"
	"math"
	"runtime"

	"github.com/banshee-data/breath.report/internal/gas"
)

// ErrorModel selects where the likelihood's scale comes from.
type ErrorModel string

const (
	// ErrorFixed uses one error magnitude for every sensor and candidate.
	ErrorFixed ErrorModel = "fixed"
	// ErrorRelative uses each reading's own recorded measurement error.
	ErrorRelative ErrorModel = "relative"
)

// ParseErrorModel validates an error model selector.
func ParseErrorModel(s string) (ErrorModel, error) {
	switch ErrorModel(s) {
	case ErrorFixed, ErrorRelative:
		return ErrorModel(s), nil
	}
	return "", configErrorf("unknown error model %q (want %q or %q)", s, ErrorFixed, ErrorRelative)
}

// Defaults applied by the configuration layer.
const (
	DefaultFractionToKeep   = 0.037
	DefaultErrorAmount      = 0.01
	DefaultMaxCycles        = 10
	DefaultRoundDecimals    = 12
	// DefaultMaxResidualSigma must exceed the distance between a coarse seed
	// grid and the reading, or the first cycle can never score a candidate.
	DefaultMaxResidualSigma = 100.0

	maxRoundDecimals = 15
)

// Params is the complete, explicit parameter set of one inference run.
// Per-gas slices are indexed by gas.ID.
type Params struct {
	Gases gas.Set

	// Steps is the initial grid spacing per gas. It is halved every cycle
	// before subdivision.
	Steps []float64
	// Limits is the convergence width per gas.
	Limits []float64

	FractionToKeep float64
	ErrorModel     ErrorModel
	// ErrorAmount is the likelihood scale for ErrorFixed.
	ErrorAmount float64
	MaxCycles   int
	// RoundDecimals bounds coordinate precision for deduplication and
	// convergence width comparison.
	RoundDecimals int
	// MaxResidualSigma is the largest standardized residual, in units of the
	// error scale, at which a reading still supports a candidate. Candidates
	// further away than this on any sensor get probability zero.
	MaxResidualSigma float64
	// Workers caps likelihood goroutines. Zero means GOMAXPROCS.
	Workers int
}

// Validate checks every field and returns an error wrapping ErrConfiguration.
func (p Params) Validate() error {
	n := p.Gases.Len()
	if n == 0 {
		return configErrorf("no gases to infer")
	}
	if len(p.Steps) != n {
		return configErrorf("got %d grid spacings for %d gases", len(p.Steps), n)
	}
	if len(p.Limits) != n {
		return configErrorf("got %d convergence limits for %d gases", len(p.Limits), n)
	}
	for i := 0; i < n; i++ {
		name := p.Gases.Name(gas.ID(i))
		if !(p.Steps[i] > 0) || p.Steps[i] > 1 {
			return configErrorf("gas %q spacing %g must be in (0, 1]", name, p.Steps[i])
		}
		if !(p.Limits[i] >= 0) || math.IsInf(p.Limits[i], 0) {
			return configErrorf("gas %q convergence limit %g must be finite and non-negative", name, p.Limits[i])
		}
	}
	if !(p.FractionToKeep > 0) || p.FractionToKeep > 1 {
		return configErrorf("fraction_to_keep %g must be in (0, 1]", p.FractionToKeep)
	}
	if _, err := ParseErrorModel(string(p.ErrorModel)); err != nil {
		return err
	}
	if p.ErrorModel == ErrorFixed && (!(p.ErrorAmount > 0) || math.IsInf(p.ErrorAmount, 0)) {
		return configErrorf("fixed error amount %g must be positive and finite", p.ErrorAmount)
	}
	if p.MaxCycles < 1 {
		return configErrorf("max_cycles %d must be at least 1", p.MaxCycles)
	}
	if p.RoundDecimals < 1 || p.RoundDecimals > maxRoundDecimals {
		return configErrorf("round_decimals %d must be in [1, %d]", p.RoundDecimals, maxRoundDecimals)
	}
	if !(p.MaxResidualSigma > 0) {
		return configErrorf("max_residual_sigma %g must be positive", p.MaxResidualSigma)
	}
	if p.Workers < 0 {
		return configErrorf("workers %d must not be negative", p.Workers)
	}
	return nil
}

func (p Params) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (p Params) String() string {
	return fmt.Sprintf("gases=%s keep=%g error=%s/%g max_cycles=%d", p.Gases, p.FractionToKeep, p.ErrorModel, p.ErrorAmount, p.MaxCycles)
}
