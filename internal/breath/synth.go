package breath

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// Variation selects how sample masses are produced for a run.
type Variation string

const (
	// VariationNone uses the measured masses as given.
	VariationNone Variation = "none"
	// VariationPerfect replaces masses with the noiseless forward model of
	// the sample's true composition.
	VariationPerfect Variation = "perfect"
	// VariationAlmostPerfect adds uniform noise in [-e, e] to the perfect
	// masses and records e as each reading's error.
	VariationAlmostPerfect Variation = "almost_perfect"
)

// ParseVariation converts a configuration string into a Variation. An empty
// string means VariationNone.
func ParseVariation(s string) (Variation, error) {
	switch v := Variation(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VariationNone, nil
	case VariationNone, VariationPerfect, VariationAlmostPerfect:
		return v, nil
	default:
		return "", fmt.Errorf("unknown variation %q (valid: none, perfect, almost_perfect)", s)
	}
}

// Synthesize returns a sample whose masses are predicted by model for truth.
// With VariationAlmostPerfect each mass is perturbed by seeded uniform noise
// of magnitude amount; the same seed always gives the same masses.
func Synthesize(model *inference.ResponseModel, id string, truth gas.Composition, v Variation, amount float64, seed uint64) (*sensor.Sample, error) {
	arr := model.Array()
	if truth.Len() != arr.Gases().Len() {
		return nil, fmt.Errorf("composition has %d gases, array has %d", truth.Len(), arr.Gases().Len())
	}

	masses := model.Predict(truth)
	var noise distuv.Uniform
	switch v {
	case VariationPerfect:
		amount = 0
	case VariationAlmostPerfect:
		if amount < 0 {
			return nil, fmt.Errorf("noise amount must be non-negative, got %g", amount)
		}
		noise = distuv.Uniform{Min: -amount, Max: amount, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
	default:
		return nil, fmt.Errorf("variation %q does not synthesise masses", v)
	}

	s := &sensor.Sample{
		ID:       id,
		Readings: make(map[string]sensor.Reading, arr.Len()),
		Truth:    truth.Named(arr.Gases()),
	}
	for i, m := range masses {
		if v == VariationAlmostPerfect && amount > 0 {
			m += noise.Rand()
		}
		s.Readings[arr.Element(i).ID] = sensor.Reading{Mass: m, Error: amount}
	}
	return s, nil
}

// Vary applies v to a measured sample, which must carry a true composition
// unless v is VariationNone.
func Vary(model *inference.ResponseModel, sample *sensor.Sample, v Variation, amount float64, seed uint64) (*sensor.Sample, error) {
	if v == VariationNone {
		return sample, nil
	}
	truth, err := sample.TrueComposition(model.Array().Gases())
	if err != nil {
		return nil, err
	}
	return Synthesize(model, sample.ID, truth, v, amount, seed)
}
