// Package config loads the YAML-encoded control mappings consumed by the
// engine and its components (spec.md §6). The engine itself only ever deals
// in map[string]any; this package is the optional, host-side convenience
// for sourcing that map from a YAML file, grounded on
// omar251990-omar251990's pkg/config/manager.go (yaml.v3-backed
// read/unmarshal-into-map pattern), trimmed to the read-only half since the
// core never persists configuration (spec.md §6 "Stored state: None").
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the top-level shape of a control-mapping file: one mapping per
// named component, plus an optional "engine" mapping for the engine root.
type Document struct {
	Engine     map[string]any            `yaml:"engine"`
	Components map[string]map[string]any `yaml:"components"`
}

// Load reads and parses a YAML control-mapping document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &doc, nil
}

// ComponentParams returns the control mapping for name, always including the
// "name" key so Engine.Build can match it against an already-attached
// component.
func (d *Document) ComponentParams(name string) map[string]any {
	params := make(map[string]any, len(d.Components[name])+1)
	for k, v := range d.Components[name] {
		params[k] = v
	}
	params["name"] = name
	return params
}
