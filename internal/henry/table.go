// Package henry reads Henry's coefficient tables and turns them into sensor
// arrays for inference.
//
// A table is tab-separated with a header row naming at least the columns
//
//	material  gas  k_h_gas  k_h_air  max_composition  pure_air_mass
//
// k_h_gas is the element's response to the gas against a fixed background,
// k_h_air is the response to the background displaced by that gas. Empty,
// "nan" and "None" cells are read as missing.
package henry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Column names expected in the header.
const (
	ColMaterial       = "material"
	ColGas            = "gas"
	ColKGas           = "k_h_gas"
	ColKAir           = "k_h_air"
	ColMaxComposition = "max_composition"
	ColPureAirMass    = "pure_air_mass"
)

var requiredColumns = []string{ColMaterial, ColGas, ColKGas, ColKAir, ColMaxComposition, ColPureAirMass}

// Row is one material/gas fit. Missing values are NaN.
type Row struct {
	Material       string
	Gas            string
	KGas           float64
	KAir           float64
	MaxComposition float64
	PureAirMass    float64
}

// Combined returns the coefficient used by the forward model, k_gas - k_air,
// or NaN when either fit is missing.
func (r Row) Combined() float64 { return r.KGas - r.KAir }

// Table is an ordered set of rows.
type Table struct {
	Rows []Row
}

// Load reads a table from a .tsv, .txt or .csv file; all are tab-separated.
func Load(path string) (*Table, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open henry table: %w", err)
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return t, nil
}

// Read parses a tab-separated table with a header row.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	t := &Table{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := Row{
			Material: cell(rec, col[ColMaterial]),
			Gas:      cell(rec, col[ColGas]),
		}
		if row.Material == "" || row.Gas == "" {
			return nil, fmt.Errorf("line %d: material and gas are required", line)
		}
		fields := []struct {
			name string
			dst  *float64
		}{
			{ColKGas, &row.KGas},
			{ColKAir, &row.KAir},
			{ColMaxComposition, &row.MaxComposition},
			{ColPureAirMass, &row.PureAirMass},
		}
		for _, f := range fields {
			v, err := parseCell(cell(rec, col[f.name]))
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, f.name, err)
			}
			*f.dst = v
		}
		t.Rows = append(t.Rows, row)
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}
	return t, nil
}

// cell returns the trimmed field at i, or "" for short records.
func cell(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseCell(s string) (float64, error) {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// Materials returns the distinct material names in first-seen order.
func (t *Table) Materials() []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range t.Rows {
		if !seen[r.Material] {
			seen[r.Material] = true
			out = append(out, r.Material)
		}
	}
	return out
}
