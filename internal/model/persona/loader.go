package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogueFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads a YAML persona catalogue of the form:
//
//	personas:
//	  - id: greta-ironforge
//	    name: Greta Ironforge
//	    relationships:
//	      wilhelm-scribe: Thinks he talks too much.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML persona catalogue.
func Parse(data []byte) ([]Persona, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode persona catalogue: %w", err)
	}
	if len(file.Personas) == 0 {
		return nil, fmt.Errorf("persona catalogue is empty")
	}
	return file.Personas, nil
}

// LoadRegistry builds a registry from path, or from Seed when path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(Seed())
	}
	items, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(items)
}
