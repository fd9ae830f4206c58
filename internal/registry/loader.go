package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type file struct {
	Callers []Rule `yaml:"callers"`
}

// LoadFile reads an ordered callers table from a YAML file:
//
//	callers:
//	  - matches: '^https://partner\.example/'
//	    service_ids: [svc1]
//	    can_check_model: false
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open callers file %s: %w", path, err)
	}
	defer f.Close()

	var out file
	if err := yaml.NewDecoder(f).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode callers file %s: %w", path, err)
	}
	if len(out.Callers) == 0 {
		return nil, fmt.Errorf("callers file %s: no callers", path)
	}
	return Compile(out.Callers)
}

// Load returns the registry for path, or the built-in table when path is
// empty.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	entries, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(entries), nil
}
