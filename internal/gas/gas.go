// Package gas models the gases under inference and the mole-fraction
// compositions searched over by the inference engine.
//
// A Set names the inferred gases in a fixed order and one implicit background
// component whose mole fraction is whatever the named gases leave over.
// Gases are addressed by ID, an index into the Set, never by string keys.
package gas

import (
	"fmt"
	"strings"
)

// DefaultBackground is the name of the background component when none is given.
const DefaultBackground = "Air"

// ID identifies a gas within a Set.
type ID int

// Set is an ordered list of gases plus the implicit background component.
// A Set is immutable once built.
type Set struct {
	names      []string
	background string
	index      map[string]ID
}

// NewSet builds a Set from gas names. Names must be non-empty and unique and
// must not repeat the background name. An empty background selects
// DefaultBackground.
func NewSet(names []string, background string) (Set, error) {
	if len(names) == 0 {
		return Set{}, fmt.Errorf("gas set must name at least one gas")
	}
	if background == "" {
		background = DefaultBackground
	}
	s := Set{
		names:      make([]string, len(names)),
		background: background,
		index:      make(map[string]ID, len(names)),
	}
	for i, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			return Set{}, fmt.Errorf("gas %d has an empty name", i)
		}
		if n == background {
			return Set{}, fmt.Errorf("gas %q is the background component and cannot be inferred directly", n)
		}
		if _, dup := s.index[n]; dup {
			return Set{}, fmt.Errorf("duplicate gas %q", n)
		}
		s.names[i] = n
		s.index[n] = ID(i)
	}
	return s, nil
}

// MustNewSet is NewSet for fixtures; it panics on error.
func MustNewSet(names []string, background string) Set {
	s, err := NewSet(names, background)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of inferred gases (the background is not counted).
func (s Set) Len() int { return len(s.names) }

// Name returns the name of gas id.
func (s Set) Name(id ID) string { return s.names[id] }

// Background returns the name of the background component.
func (s Set) Background() string { return s.background }

// Lookup returns the ID of the named gas.
func (s Set) Lookup(name string) (ID, bool) {
	id, ok := s.index[name]
	return id, ok
}

// IDs returns every gas ID in order.
func (s Set) IDs() []ID {
	ids := make([]ID, len(s.names))
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Names returns a copy of the gas names in order.
func (s Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// NamesWithBackground returns the gas names followed by the background name.
func (s Set) NamesWithBackground() []string {
	return append(s.Names(), s.background)
}

func (s Set) String() string {
	return fmt.Sprintf("%s (+%s)", strings.Join(s.names, ","), s.background)
}
