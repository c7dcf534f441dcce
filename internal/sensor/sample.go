package sensor

import (
	"fmt"
	"math"

	"github.com/banshee-data/breath.report/internal/gas"
)

// Reading is one element's measured mass and its measurement error.
type Reading struct {
	Mass  float64 `json:"mass"`
	Error float64 `json:"error"`
}

// Sample is the set of readings taken from one breath sample. Truth, when
// present, is the known composition keyed by gas name and is used only for
// seeding validation runs and scoring predictions.
type Sample struct {
	ID       string             `json:"id"`
	Readings map[string]Reading `json:"readings"`
	Truth    map[string]float64 `json:"true_composition,omitempty"`
}

// Aligned returns the sample's readings in the array's element order.
// Every element must have a finite reading.
func (s *Sample) Aligned(arr *Array) ([]Reading, error) {
	out := make([]Reading, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		id := arr.Element(i).ID
		r, ok := s.Readings[id]
		if !ok {
			return nil, fmt.Errorf("sample %q has no reading for element %q", s.ID, id)
		}
		if math.IsNaN(r.Mass) || math.IsInf(r.Mass, 0) {
			return nil, fmt.Errorf("sample %q element %q: non-finite mass", s.ID, id)
		}
		out[i] = r
	}
	return out, nil
}

// HasTruth reports whether the sample carries a known composition.
func (s *Sample) HasTruth() bool { return len(s.Truth) > 0 }

// TrueComposition converts Truth into a Composition over set.
func (s *Sample) TrueComposition(set gas.Set) (gas.Composition, error) {
	if !s.HasTruth() {
		return gas.Composition{}, fmt.Errorf("sample %q has no true composition", s.ID)
	}
	c, err := gas.FromNamed(set, s.Truth)
	if err != nil {
		return gas.Composition{}, fmt.Errorf("sample %q: %w", s.ID, err)
	}
	return c, nil
}
