package henry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/combin"

	"github.com/banshee-data/breath.report/internal/gas"
	"github.com/banshee-data/breath.report/internal/monitoring"
	"github.com/banshee-data/breath.report/internal/sensor"
)

// Material is a processed sensing material ready to become an array element.
type Material struct {
	Name string
	// PureAirMass is the averaged mass adsorbed from pure background.
	PureAirMass float64
	// Coefficients holds k_gas - k_air per gas name.
	Coefficients map[string]float64
}

// Process combines coefficients for the named gases and filters materials.
// A material is dropped when the smallest maximum composition over its gas
// fits is below minAllowedComp, when it has no pure-air mass, or when any gas
// lacks a usable coefficient. When materials is empty every material in the
// table is considered, in table order.
func (t *Table) Process(gases []string, materials []string, minAllowedComp float64) []Material {
	if len(materials) == 0 {
		materials = t.Materials()
	}
	wanted := make(map[string]bool, len(gases))
	for _, g := range gases {
		wanted[g] = true
	}

	var out []Material
	for _, name := range materials {
		var rows []Row
		for _, r := range t.Rows {
			if r.Material == name && wanted[r.Gas] {
				rows = append(rows, r)
			}
		}
		if len(rows) == 0 {
			monitoring.Logf("henry: material %s has no rows for %v, skipping", name, gases)
			continue
		}

		minComp := math.Inf(1)
		var airMasses []float64
		for _, r := range rows {
			minComp = math.Min(minComp, r.MaxComposition)
			if !math.IsNaN(r.PureAirMass) {
				airMasses = append(airMasses, r.PureAirMass)
			}
		}
		if minComp < minAllowedComp {
			monitoring.Logf("henry: material %s max composition %g below %g, skipping", name, minComp, minAllowedComp)
			continue
		}
		if len(airMasses) == 0 {
			monitoring.Logf("henry: material %s has no pure air mass, skipping", name)
			continue
		}

		m := Material{
			Name:         name,
			PureAirMass:  floats.Sum(airMasses) / float64(len(airMasses)),
			Coefficients: make(map[string]float64, len(gases)),
		}
		for _, r := range rows {
			m.Coefficients[r.Gas] = r.Combined()
		}
		if missing := missingGas(m, gases); missing != "" {
			monitoring.Logf("henry: material %s has no coefficient for %s, skipping", name, missing)
			continue
		}
		out = append(out, m)
	}
	return out
}

func missingGas(m Material, gases []string) string {
	for _, g := range gases {
		k, ok := m.Coefficients[g]
		if !ok || math.IsNaN(k) || math.IsInf(k, 0) {
			return g
		}
	}
	return ""
}

// BuildArray turns processed materials into a sensor array over set. When
// ids is non-empty only those materials are used, in that order.
func BuildArray(set gas.Set, materials []Material, ids []string) (*sensor.Array, error) {
	byName := make(map[string]Material, len(materials))
	for _, m := range materials {
		byName[m.Name] = m
	}
	if len(ids) == 0 {
		for _, m := range materials {
			ids = append(ids, m.Name)
		}
	}

	elems := make([]sensor.Element, 0, len(ids))
	for _, id := range ids {
		m, ok := byName[id]
		if !ok {
			return nil, fmt.Errorf("material %q is not available after filtering", id)
		}
		coeffs := make(map[gas.ID]float64, set.Len())
		for name, k := range m.Coefficients {
			if gid, ok := set.Lookup(name); ok {
				coeffs[gid] = k
			}
		}
		elems = append(elems, sensor.Element{ID: m.Name, Baseline: m.PureAirMass, Coefficients: coeffs})
	}
	return sensor.NewArray(set, elems)
}

// Arrays enumerates every array of size materials drawn from names, in
// lexicographic order of indices.
func Arrays(names []string, size int) ([][]string, error) {
	if size < 1 || size > len(names) {
		return nil, fmt.Errorf("array size %d must be between 1 and %d", size, len(names))
	}
	var out [][]string
	gen := combin.NewCombinationGenerator(len(names), size)
	idx := make([]int, size)
	for gen.Next() {
		gen.Combination(idx)
		arr := make([]string, size)
		for i, j := range idx {
			arr[i] = names[j]
		}
		out = append(out, arr)
	}
	return out, nil
}

// SelectArray returns the index'th array of size materials from names.
func SelectArray(names []string, size, index int) ([]string, error) {
	arrays, err := Arrays(names, size)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(arrays) {
		return nil, fmt.Errorf("array index %d out of range, %d arrays of size %d", index, len(arrays), size)
	}
	return arrays[index], nil
}
