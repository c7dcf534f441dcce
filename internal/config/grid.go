package config

import (
	"fmt"
	"strconv"
	"strings"
)

// GridOverride replaces one gas's seed grid from the command line.
type GridOverride struct {
	Gas     string
	Lower   float64
	Upper   float64
	Spacing float64
}

// ParseGridOverride parses "GAS=lower:upper:spacing".
func ParseGridOverride(s string) (GridOverride, error) {
	name, spec, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return GridOverride{}, fmt.Errorf("invalid grid override %q: expected GAS=lower:upper:spacing", s)
	}

	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return GridOverride{}, fmt.Errorf("invalid grid %q: expected lower:upper:spacing", spec)
	}

	var vals [3]float64
	for i, label := range []string{"lower", "upper", "spacing"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return GridOverride{}, fmt.Errorf("invalid %s value %q: %w", label, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return GridOverride{}, fmt.Errorf("spacing must be positive, got %g", vals[2])
	}
	return GridOverride{Gas: name, Lower: vals[0], Upper: vals[1], Spacing: vals[2]}, nil
}

// ApplyGridOverrides rewrites the seed grid of each named gas and
// revalidates the configuration.
func (c *RunConfig) ApplyGridOverrides(overrides ...GridOverride) error {
	for _, o := range overrides {
		found := false
		for i := range c.Gases {
			if c.Gases[i].Name != o.Gas {
				continue
			}
			c.Gases[i].InitLimits = []float64{o.Lower, o.Upper}
			c.Gases[i].InitSpacing = ptrFloat64(o.Spacing)
			found = true
		}
		if !found {
			return configError("grid override for unknown gas %q", o.Gas)
		}
	}
	return c.Validate()
}
