// Package breath loads, writes and synthesises breath samples.
package breath

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/breath.report/internal/sensor"
)

// Column conventions for tab-separated sample files.
const (
	idColumn    = "id"
	errorSuffix = "_error"
	compSuffix  = "_comp"
)

// LoadSamples reads samples from a .json file (an array of samples) or a
// tab-separated .tsv/.txt file. For tab-separated files, elements names the
// mass columns to read.
func LoadSamples(path string, elements []string) ([]*sensor.Sample, error) {
	cleanPath := filepath.Clean(path)
	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open samples: %w", err)
	}
	defer f.Close()

	var samples []*sensor.Sample
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".json":
		samples, err = ReadJSON(f)
	case ".tsv", ".txt":
		samples, err = ReadTSV(f, elements)
	default:
		return nil, fmt.Errorf("unsupported samples file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cleanPath, err)
	}
	return samples, nil
}

// ReadJSON decodes an array of samples. Samples without an id are numbered
// from 1 in file order.
func ReadJSON(r io.Reader) ([]*sensor.Sample, error) {
	var samples []*sensor.Sample
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&samples); err != nil {
		return nil, fmt.Errorf("failed to parse samples: %w", err)
	}
	if err := checkSamples(samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// ReadTSV reads one sample per row. Columns named after an element hold its
// mass, "<element>_error" its error and "<gas>_comp" the known fraction of a
// gas. An optional "id" column names the sample.
func ReadTSV(r io.Reader, elements []string) ([]*sensor.Sample, error) {
	if len(elements) == 0 {
		return nil, fmt.Errorf("no element columns requested")
	}
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, e := range elements {
		if _, ok := col[e]; !ok {
			return nil, fmt.Errorf("missing mass column %q", e)
		}
	}

	var samples []*sensor.Sample
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		s := &sensor.Sample{ID: strconv.Itoa(len(samples) + 1), Readings: make(map[string]sensor.Reading, len(elements))}
		if i, ok := col[idColumn]; ok && strings.TrimSpace(rec[i]) != "" {
			s.ID = strings.TrimSpace(rec[i])
		}
		for _, e := range elements {
			var rd sensor.Reading
			if rd.Mass, err = parseFloat(rec[col[e]]); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, e, err)
			}
			if i, ok := col[e+errorSuffix]; ok {
				if rd.Error, err = parseFloat(rec[i]); err != nil {
					return nil, fmt.Errorf("line %d column %s: %w", line, e+errorSuffix, err)
				}
			}
			s.Readings[e] = rd
		}
		for name, i := range col {
			g, ok := strings.CutSuffix(name, compSuffix)
			if !ok || g == "" {
				continue
			}
			v, err := parseFloat(rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, name, err)
			}
			if s.Truth == nil {
				s.Truth = make(map[string]float64)
			}
			s.Truth[g] = v
		}
		samples = append(samples, s)
	}
	if err := checkSamples(samples); err != nil {
		return nil, err
	}
	return samples, nil
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func checkSamples(samples []*sensor.Sample) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples")
	}
	seen := make(map[string]bool, len(samples))
	for i, s := range samples {
		if s == nil {
			return fmt.Errorf("sample %d is null", i+1)
		}
		if s.ID == "" {
			s.ID = strconv.Itoa(i + 1)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate sample id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// WriteJSON encodes samples as an indented JSON array.
func WriteJSON(w io.Writer, samples []*sensor.Sample) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(samples); err != nil {
		return fmt.Errorf("failed to encode samples: %w", err)
	}
	return nil
}

// SaveSamples writes samples to a JSON file, creating parent directories.
func SaveSamples(path string, samples []*sensor.Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create samples file: %w", err)
	}
	if err := WriteJSON(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
