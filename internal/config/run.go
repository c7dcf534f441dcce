// Package config loads and validates the run configuration shared by the
// breath-infer and breath-gen commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
)

// DefaultConfigPath is the path to the canonical run defaults file.
const DefaultConfigPath = "config/breath.defaults.json"

// Defaults for fields the file may omit.
const (
	DefaultErrorType      = string(inference.ErrorFixed)
	DefaultMinAllowedComp = 0.05
	DefaultVariation      = "none"
	DefaultAddedError     = 0.0
	DefaultSeed           = uint64(1)
	DefaultResultsPath    = "results"
)

// GasConfig describes one inferred gas: its seed grid and convergence limit.
type GasConfig struct {
	Name string `json:"name" yaml:"name"`
	// InitLimits is the [lower, upper] mole fraction range of the seed grid.
	InitLimits []float64 `json:"init_composition_limits" yaml:"init_composition_limits"`
	// InitSpacing is the seed grid step; it is also the first subdivision step.
	InitSpacing      *float64 `json:"init_composition_spacing,omitempty" yaml:"init_composition_spacing,omitempty"`
	ConvergenceLimit *float64 `json:"convergence_limit,omitempty" yaml:"convergence_limit,omitempty"`
}

// RunConfig is the root run configuration. Pointer fields are optional and
// fall back to defaults through the Get* methods, so partial files are safe.
type RunConfig struct {
	Gases      []GasConfig `json:"gases" yaml:"gases"`
	Background *string     `json:"background,omitempty" yaml:"background,omitempty"`

	// Input data
	HenrysDataPath    *string `json:"henrys_data_filepath,omitempty" yaml:"henrys_data_filepath,omitempty"`
	BreathSamplesPath *string `json:"breath_samples_filepath,omitempty" yaml:"breath_samples_filepath,omitempty"`

	// Array selection. Array names the materials directly; otherwise the
	// ArrayIndex'th combination of ArraySize materials from Materials is used.
	Materials      []string `json:"materials,omitempty" yaml:"materials,omitempty"`
	Array          []string `json:"array,omitempty" yaml:"array,omitempty"`
	ArraySize      *int     `json:"array_size,omitempty" yaml:"array_size,omitempty"`
	ArrayIndex     *int     `json:"array_index,omitempty" yaml:"array_index,omitempty"`
	MinAllowedComp *float64 `json:"min_allowed_comp,omitempty" yaml:"min_allowed_comp,omitempty"`

	// Sample handling
	TrueCompAtStart *bool    `json:"true_comp_at_start,omitempty" yaml:"true_comp_at_start,omitempty"`
	Variation       *string  `json:"breath_samples_variation,omitempty" yaml:"breath_samples_variation,omitempty"`
	AddedError      *float64 `json:"added_error_value,omitempty" yaml:"added_error_value,omitempty"`
	Seed            *uint64  `json:"seed_value,omitempty" yaml:"seed_value,omitempty"`
	NumSamples      *int     `json:"num_samples_to_test,omitempty" yaml:"num_samples_to_test,omitempty"`

	// Algorithm
	FractionToKeep   *float64 `json:"fraction_to_keep,omitempty" yaml:"fraction_to_keep,omitempty"`
	ErrorType        *string  `json:"error_type_for_pmf,omitempty" yaml:"error_type_for_pmf,omitempty"`
	ErrorAmount      *float64 `json:"error_amount_for_pmf,omitempty" yaml:"error_amount_for_pmf,omitempty"`
	MaxCycles        *int     `json:"num_cycles,omitempty" yaml:"num_cycles,omitempty"`
	RoundDecimals    *int     `json:"round_decimals,omitempty" yaml:"round_decimals,omitempty"`
	MaxResidualSigma *float64 `json:"max_residual_sigma,omitempty" yaml:"max_residual_sigma,omitempty"`
	Workers          *int     `json:"workers,omitempty" yaml:"workers,omitempty"`

	// Output
	ResultsPath *string `json:"results_filepath,omitempty" yaml:"results_filepath,omitempty"`
	DBPath      *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file.
// The file must be under 1MB. The result is validated.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &RunConfig{}
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent directories
// so tests in nested packages find it. It panics on failure.
func MustLoadDefaultConfig() *RunConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadRunConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks field ranges and cross-field consistency. Errors wrap
// inference.ErrConfiguration.
func (c *RunConfig) Validate() error {
	if len(c.Gases) == 0 {
		return configError("at least one gas is required")
	}
	for _, g := range c.Gases {
		if len(g.InitLimits) != 2 {
			return configError("gas %q init_composition_limits must be [lower, upper]", g.Name)
		}
		if g.InitSpacing == nil {
			return configError("gas %q init_composition_spacing is required", g.Name)
		}
		if g.ConvergenceLimit == nil {
			return configError("gas %q convergence_limit is required", g.Name)
		}
		if *g.ConvergenceLimit < 0 {
			return configError("gas %q convergence_limit must be non-negative, got %g", g.Name, *g.ConvergenceLimit)
		}
	}
	if _, err := c.GasSet(); err != nil {
		return configError("%v", err)
	}
	if c.FractionToKeep != nil && (*c.FractionToKeep <= 0 || *c.FractionToKeep > 1) {
		return configError("fraction_to_keep must be in (0, 1], got %g", *c.FractionToKeep)
	}
	if _, err := inference.ParseErrorModel(c.GetErrorType()); err != nil {
		return err
	}
	if c.ErrorAmount != nil && *c.ErrorAmount <= 0 {
		return configError("error_amount_for_pmf must be positive, got %g", *c.ErrorAmount)
	}
	if c.MaxCycles != nil && *c.MaxCycles < 1 {
		return configError("num_cycles must be at least 1, got %d", *c.MaxCycles)
	}
	if c.MinAllowedComp != nil && (*c.MinAllowedComp < 0 || *c.MinAllowedComp > 1) {
		return configError("min_allowed_comp must be in [0, 1], got %g", *c.MinAllowedComp)
	}
	if c.AddedError != nil && *c.AddedError < 0 {
		return configError("added_error_value must be non-negative, got %g", *c.AddedError)
	}
	switch c.GetVariation() {
	case "none", "perfect", "almost_perfect":
	default:
		return configError("breath_samples_variation must be none, perfect or almost_perfect, got %q", c.GetVariation())
	}
	if c.ArraySize != nil && *c.ArraySize < 1 {
		return configError("array_size must be at least 1, got %d", *c.ArraySize)
	}
	if c.ArrayIndex != nil && *c.ArrayIndex < 0 {
		return configError("array_index must be non-negative, got %d", *c.ArrayIndex)
	}
	if c.NumSamples != nil && *c.NumSamples < 0 {
		return configError("num_samples_to_test must be non-negative, got %d", *c.NumSamples)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return configError("workers must be non-negative, got %d", *c.Workers)
	}
	// The remaining numeric fields are range-checked by inference.Params.
	_, err := c.InferenceParams()
	return err
}

func configError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", inference.ErrConfiguration, fmt.Sprintf(format, args...))
}

// GasSet returns the configured gases in file order.
func (c *RunConfig) GasSet() (gas.Set, error) {
	names := make([]string, len(c.Gases))
	for i, g := range c.Gases {
		names[i] = g.Name
	}
	return gas.NewSet(names, c.GetBackground())
}

// SeedAxes returns the seed grid for each gas, in gas order.
func (c *RunConfig) SeedAxes() []inference.GridAxis {
	axes := make([]inference.GridAxis, len(c.Gases))
	for i, g := range c.Gases {
		axes[i] = inference.GridAxis{Lower: g.InitLimits[0], Upper: g.InitLimits[1], Spacing: *g.InitSpacing}
	}
	return axes
}

// InferenceParams converts the configuration into explicit engine parameters.
func (c *RunConfig) InferenceParams() (inference.Params, error) {
	set, err := c.GasSet()
	if err != nil {
		return inference.Params{}, configError("%v", err)
	}
	model, err := inference.ParseErrorModel(c.GetErrorType())
	if err != nil {
		return inference.Params{}, err
	}
	p := inference.Params{
		Gases:            set,
		Steps:            make([]float64, len(c.Gases)),
		Limits:           make([]float64, len(c.Gases)),
		FractionToKeep:   c.GetFractionToKeep(),
		ErrorModel:       model,
		ErrorAmount:      c.GetErrorAmount(),
		MaxCycles:        c.GetMaxCycles(),
		RoundDecimals:    c.GetRoundDecimals(),
		MaxResidualSigma: c.GetMaxResidualSigma(),
		Workers:          c.GetWorkers(),
	}
	for i, g := range c.Gases {
		if g.InitSpacing != nil {
			p.Steps[i] = *g.InitSpacing
		}
		if g.ConvergenceLimit != nil {
			p.Limits[i] = *g.ConvergenceLimit
		}
	}
	if err := p.Validate(); err != nil {
		return inference.Params{}, err
	}
	return p, nil
}

// GetBackground returns the background component name or the default.
func (c *RunConfig) GetBackground() string {
	if c.Background == nil || *c.Background == "" {
		return gas.DefaultBackground
	}
	return *c.Background
}

// GetHenrysDataPath returns the Henry's coefficient table path, or "".
func (c *RunConfig) GetHenrysDataPath() string {
	if c.HenrysDataPath == nil {
		return ""
	}
	return *c.HenrysDataPath
}

// GetBreathSamplesPath returns the breath sample file path, or "".
func (c *RunConfig) GetBreathSamplesPath() string {
	if c.BreathSamplesPath == nil {
		return ""
	}
	return *c.BreathSamplesPath
}

// GetArraySize returns the array size or, when unset, the number of materials.
func (c *RunConfig) GetArraySize() int {
	if c.ArraySize == nil {
		return len(c.Materials)
	}
	return *c.ArraySize
}

// GetArrayIndex returns the array_index value or the default.
func (c *RunConfig) GetArrayIndex() int {
	if c.ArrayIndex == nil {
		return 0
	}
	return *c.ArrayIndex
}

// GetMinAllowedComp returns the min_allowed_comp value or the default.
func (c *RunConfig) GetMinAllowedComp() float64 {
	if c.MinAllowedComp == nil {
		return DefaultMinAllowedComp
	}
	return *c.MinAllowedComp
}

// GetTrueCompAtStart returns the true_comp_at_start value or the default.
func (c *RunConfig) GetTrueCompAtStart() bool {
	if c.TrueCompAtStart == nil {
		return false
	}
	return *c.TrueCompAtStart
}

// GetVariation returns the breath_samples_variation value or the default.
func (c *RunConfig) GetVariation() string {
	if c.Variation == nil || *c.Variation == "" {
		return DefaultVariation
	}
	return *c.Variation
}

// GetAddedError returns the added_error_value or the default.
func (c *RunConfig) GetAddedError() float64 {
	if c.AddedError == nil {
		return DefaultAddedError
	}
	return *c.AddedError
}

// GetSeed returns the seed_value or the default.
func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return DefaultSeed
	}
	return *c.Seed
}

// GetNumSamples returns the sample cap; zero means no cap.
func (c *RunConfig) GetNumSamples() int {
	if c.NumSamples == nil {
		return 0
	}
	return *c.NumSamples
}

// GetFractionToKeep returns the fraction_to_keep value or the default.
func (c *RunConfig) GetFractionToKeep() float64 {
	if c.FractionToKeep == nil {
		return inference.DefaultFractionToKeep
	}
	return *c.FractionToKeep
}

// GetErrorType returns the error_type_for_pmf value or the default.
func (c *RunConfig) GetErrorType() string {
	if c.ErrorType == nil || *c.ErrorType == "" {
		return DefaultErrorType
	}
	return *c.ErrorType
}

// GetErrorAmount returns the error_amount_for_pmf value or the default.
func (c *RunConfig) GetErrorAmount() float64 {
	if c.ErrorAmount == nil {
		return inference.DefaultErrorAmount
	}
	return *c.ErrorAmount
}

// GetMaxCycles returns the num_cycles value or the default.
func (c *RunConfig) GetMaxCycles() int {
	if c.MaxCycles == nil {
		return inference.DefaultMaxCycles
	}
	return *c.MaxCycles
}

// GetRoundDecimals returns the round_decimals value or the default.
func (c *RunConfig) GetRoundDecimals() int {
	if c.RoundDecimals == nil {
		return inference.DefaultRoundDecimals
	}
	return *c.RoundDecimals
}

// GetMaxResidualSigma returns the max_residual_sigma value or the default.
func (c *RunConfig) GetMaxResidualSigma() float64 {
	if c.MaxResidualSigma == nil {
		return inference.DefaultMaxResidualSigma
	}
	return *c.MaxResidualSigma
}

// GetWorkers returns the workers value; zero selects GOMAXPROCS.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetResultsPath returns the results directory or the default.
func (c *RunConfig) GetResultsPath() string {
	if c.ResultsPath == nil || *c.ResultsPath == "" {
		return DefaultResultsPath
	}
	return *c.ResultsPath
}

// GetDBPath returns the results database path, or "" to skip persistence.
func (c *RunConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}
