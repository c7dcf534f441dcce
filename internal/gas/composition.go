package gas

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// SumTolerance bounds how far a composition's components, background
// included, may drift from a total of exactly one.
const SumTolerance = 1e-9

// Composition is an immutable point in composition space: one mole fraction
// per inferred gas. The background fraction is derived as one minus the sum.
type Composition struct {
	values []float64
}

// NewComposition validates and copies values, one per gas in Set order.
// Every value must lie in [0, 1] and the values must not sum past one.
func NewComposition(values []float64) (Composition, error) {
	if len(values) == 0 {
		return Composition{}, fmt.Errorf("composition has no components")
	}
	for i, v := range values {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Composition{}, fmt.Errorf("component %d mole fraction %g outside [0, 1]", i, v)
		}
	}
	if sum := floats.SumCompensated(values); sum > 1+SumTolerance {
		return Composition{}, fmt.Errorf("components sum to %g, leaving a negative background", sum)
	}
	c := Composition{values: make([]float64, len(values))}
	copy(c.values, values)
	return c, nil
}

// FromNamed builds a Composition for set from mole fractions keyed by gas
// name. Every gas in the set must be present. Names outside the set,
// including the background, are folded into the background.
func FromNamed(set Set, fractions map[string]float64) (Composition, error) {
	values := make([]float64, set.Len())
	for _, id := range set.IDs() {
		v, ok := fractions[set.Name(id)]
		if !ok {
			return Composition{}, fmt.Errorf("composition is missing gas %q", set.Name(id))
		}
		values[id] = v
	}
	return NewComposition(values)
}

// Len returns the number of inferred gases.
func (c Composition) Len() int { return len(c.values) }

// Fraction returns the mole fraction of gas id.
func (c Composition) Fraction(id ID) float64 { return c.values[id] }

// Background returns the mole fraction of the background component.
// Rounding residue below zero is reported as zero.
func (c Composition) Background() float64 {
	bg := 1 - floats.SumCompensated(c.values)
	if bg < 0 {
		return 0
	}
	return bg
}

// Values returns a copy of the per-gas mole fractions.
func (c Composition) Values() []float64 {
	out := make([]float64, len(c.values))
	copy(out, c.values)
	return out
}

// Sum returns the total over every component including the background.
func (c Composition) Sum() float64 {
	return floats.SumCompensated(c.values) + c.Background()
}

// Named returns the composition keyed by gas name, background included.
func (c Composition) Named(set Set) map[string]float64 {
	out := make(map[string]float64, len(c.values)+1)
	for i, v := range c.values {
		out[set.Name(ID(i))] = v
	}
	out[set.Background()] = c.Background()
	return out
}

// Format renders the composition with gas names from set.
func (c Composition) Format(set Set) string {
	parts := make([]string, 0, len(c.values)+1)
	for i, v := range c.values {
		parts = append(parts, fmt.Sprintf("%s=%.6g", set.Name(ID(i)), v))
	}
	parts = append(parts, fmt.Sprintf("%s=%.6g", set.Background(), c.Background()))
	return strings.Join(parts, " ")
}
