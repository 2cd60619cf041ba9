package replay

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Decode reads scenarios from a YAML stream. Each document is one scenario.
func Decode(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var out []Scenario
	seen := make(map[string]bool)
	for {
		var sc Scenario
		err := dec.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode scenario %d: %w", len(out)+1, err)
		}
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if seen[sc.ID] {
			return nil, fmt.Errorf("duplicate scenario id %q", sc.ID)
		}
		seen[sc.ID] = true
		out = append(out, sc)
	}
	return out, nil
}

// LoadFile reads scenarios from a YAML file.
func LoadFile(path string) ([]Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenarios: %w", err)
	}
	defer f.Close()

	scenarios, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}
