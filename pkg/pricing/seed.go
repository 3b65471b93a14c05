package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Slabs []Slab `yaml:"slabs"`
}

// LoadSeedFile parses a YAML slab seed file and validates the set.
//
// Format:
//
//	slabs:
//	  - min_users: 0
//	    max_users: 25
//	    cycle_cost: 500
func LoadSeedFile(path string) ([]Slab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := ValidateSlabs(f.Slabs); err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return f.Slabs, nil
}
