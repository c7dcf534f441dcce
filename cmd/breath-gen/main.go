// Command breath-gen draws random breath compositions from a generator
// spec and, given a run configuration, synthesizes the sensor readings an
// array would report for them.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/breath.report/internal/batch"
	"github.com/banshee-data/breath.report/internal/breath"
	"github.com/banshee-data/breath.report/internal/config"
	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/inference"
	"github.com/banshee-data/breath.report/internal/sensor"
	"github.com/banshee-data/breath.report/internal/units"
	"github.com/banshee-data/breath.report/internal/version"
)

func main() {
	specPath := flag.String("spec", "config/breath.generator.yaml", "Composition generator spec (.json, .yaml)")
	n := flag.Int("n", 100, "Number of compositions to draw")
	seed := flag.Uint64("seed", 1, "Random seed")
	out := flag.String("out", "", "Output file; compositions TSV goes to stdout when empty")
	configPath := flag.String("config", "", "Run configuration; when set, write synthesized samples as JSON")
	variation := flag.String("variation", "perfect", "Reading variation: perfect or almost_perfect")
	noise := flag.Float64("noise", 0.01, "Noise amplitude and reported error for almost_perfect")
	unit := flag.String("units", units.MoleFraction, "Units of the compositions TSV ("+units.GetValidUnitsString()+")")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("breath-gen", version.String())
		return
	}
	if *n <= 0 {
		log.Fatalf("-n must be positive, got %d", *n)
	}
	if !units.IsValid(*unit) {
		log.Fatalf("invalid -units %q (valid: %s)", *unit, units.GetValidUnitsString())
	}

	spec, err := breath.LoadGeneratorSpec(*specPath)
	if err != nil {
		log.Fatalf("failed to load generator spec: %v", err)
	}
	gen, err := breath.NewGenerator(spec, *seed)
	if err != nil {
		log.Fatalf("invalid generator spec: %v", err)
	}
	comps, err := gen.Generate(*n)
	if err != nil {
		log.Fatalf("failed to generate compositions: %v", err)
	}

	if *configPath == "" {
		if err := writeCompositions(*out, gen.Names(), comps, *unit); err != nil {
			log.Fatalf("failed to write compositions: %v", err)
		}
		return
	}

	samples, err := synthesize(*configPath, comps, *variation, *noise, *seed)
	if err != nil {
		log.Fatalf("failed to synthesize samples: %v", err)
	}
	if *out == "" {
		if err := breath.WriteJSON(os.Stdout, samples); err != nil {
			log.Fatalf("failed to write samples: %v", err)
		}
		return
	}
	if err := breath.SaveSamples(*out, samples); err != nil {
		log.Fatalf("failed to write samples: %v", err)
	}
	log.Printf("wrote %d samples to %s", len(samples), *out)
}

func writeCompositions(path string, names []string, comps []map[string]float64, unit string) error {
	var w io.Writer = os.Stdout
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return breath.WriteCompositionsTSV(w, names, comps, unit)
}

func synthesize(configPath string, comps []map[string]float64, variation string, noise float64, seed uint64) ([]*sensor.Sample, error) {
	cfg, err := config.LoadRunConfig(configPath)
	if err != nil {
		return nil, err
	}
	set, err := cfg.GasSet()
	if err != nil {
		return nil, err
	}
	v, err := breath.ParseVariation(variation)
	if err != nil {
		return nil, err
	}
	if v == breath.VariationNone {
		v = breath.VariationPerfect
	}
	arr, err := batch.BuildArray(cfg, set)
	if err != nil {
		return nil, err
	}
	model, err := inference.NewResponseModel(arr)
	if err != nil {
		return nil, err
	}

	samples := make([]*sensor.Sample, 0, len(comps))
	for i, named := range comps {
		truth, err := gas.FromNamed(set, named)
		if err != nil {
			return nil, fmt.Errorf("composition %d: %w", i+1, err)
		}
		id := fmt.Sprintf("synthetic-%04d", i+1)
		s, err := breath.Synthesize(model, id, truth, v, noise, seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("composition %d: %w", i+1, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}
