// Package sensor describes the cross-sensitive sensor array and the mass
// readings it produces for one breath sample.
package sensor

import (
	"fmt"
	"math"

	"github.com/banshee-data/breath.report/internal/gas"
)

// Element is one sensing material in the array.
type Element struct {
	// ID names the material, e.g. "PDMS" or "ZIF-8".
	ID string
	// Baseline is the mass the element adsorbs from pure background gas.
	Baseline float64
	// Coefficients holds the per-gas response, mass per unit mole fraction.
	// A gas with no entry is unconfigured for this element.
	Coefficients map[gas.ID]float64
}

// Coefficient returns the element's response to gas id.
func (e Element) Coefficient(id gas.ID) (float64, bool) {
	k, ok := e.Coefficients[id]
	return k, ok
}

// Array is an ordered, read-only set of elements bound to a gas set.
type Array struct {
	set      gas.Set
	elements []Element
	index    map[string]int
}

// NewArray builds an Array. Element IDs must be unique and baselines finite.
// Coefficient completeness is checked when a response model is built.
func NewArray(set gas.Set, elements []Element) (*Array, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("sensor array has no elements")
	}
	a := &Array{
		set:      set,
		elements: make([]Element, len(elements)),
		index:    make(map[string]int, len(elements)),
	}
	for i, e := range elements {
		if e.ID == "" {
			return nil, fmt.Errorf("element %d has no id", i)
		}
		if _, dup := a.index[e.ID]; dup {
			return nil, fmt.Errorf("duplicate element %q", e.ID)
		}
		if math.IsNaN(e.Baseline) || math.IsInf(e.Baseline, 0) {
			return nil, fmt.Errorf("element %q has non-finite baseline %g", e.ID, e.Baseline)
		}
		coeffs := make(map[gas.ID]float64, len(e.Coefficients))
		for id, k := range e.Coefficients {
			coeffs[id] = k
		}
		a.elements[i] = Element{ID: e.ID, Baseline: e.Baseline, Coefficients: coeffs}
		a.index[e.ID] = i
	}
	return a, nil
}

// Gases returns the gas set the array responds to.
func (a *Array) Gases() gas.Set { return a.set }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elements) }

// Element returns the i'th element.
func (a *Array) Element(i int) Element { return a.elements[i] }

// IDs returns element IDs in array order.
func (a *Array) IDs() []string {
	ids := make([]string, len(a.elements))
	for i, e := range a.elements {
		ids[i] = e.ID
	}
	return ids
}

// Index returns the position of the element with the given id.
func (a *Array) Index(id string) (int, bool) {
	i, ok := a.index[id]
	return i, ok
}

// Subset returns a new Array holding only the named elements, in the order given.
func (a *Array) Subset(ids []string) (*Array, error) {
	elems := make([]Element, 0, len(ids))
	for _, id := range ids {
		i, ok := a.index[id]
		if !ok {
			return nil, fmt.Errorf("element %q not in array", id)
		}
		elems = append(elems, a.elements[i])
	}
	return NewArray(a.set, elems)
}
