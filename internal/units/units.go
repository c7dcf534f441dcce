// Package units provides shared constants and conversion for gas concentration units
package units

import "fmt"

// Unit constants
const (
	MoleFraction = "molefrac"
	Percent      = "percent"
	PPM          = "ppm"
	PPB          = "ppb"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MoleFraction, Percent, PPM, PPB}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "molefrac, percent, ppm, ppb"
}

// ToMoleFraction converts a concentration expressed in unit to a mole fraction.
// An empty unit is treated as a mole fraction.
func ToMoleFraction(value float64, unit string) (float64, error) {
	switch unit {
	case MoleFraction, "":
		return value, nil
	case Percent:
		return value * 1e-2, nil
	case PPM:
		return value * 1e-6, nil
	case PPB:
		return value * 1e-9, nil
	default:
		return 0, fmt.Errorf("unknown concentration unit %q (valid: %s)", unit, GetValidUnitsString())
	}
}

// FromMoleFraction converts a mole fraction to the target unit. Unknown units
// return the mole fraction unchanged.
func FromMoleFraction(x float64, targetUnits string) float64 {
	switch targetUnits {
	case Percent:
		return x * 1e2
	case PPM:
		return x * 1e6
	case PPB:
		return x * 1e9
	default:
		return x
	}
}
