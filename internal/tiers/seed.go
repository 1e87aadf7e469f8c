package tiers

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/petermazzocco/go-image-tiers/internal/apperr"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultSeed []byte

// Spec describes one tier in a seed file.
type Spec struct {
	Name                string `yaml:"name"`
	Sizes               []uint `yaml:"sizes"`
	ServeOriginal       bool   `yaml:"serve_original"`
	AllowLinkGeneration bool   `yaml:"allow_link_generation"`
}

type seedFile struct {
	Tiers []Spec `yaml:"tiers"`
}

// Validate checks the name length; size ranges are checked when sizes are created.
func (s Spec) Validate() error {
	name := strings.TrimSpace(s.Name)
	if name == "" || len(name) > 50 {
		return apperr.Wrap(apperr.ErrValidation, "tier name must be 1-50 characters, got %q", s.Name)
	}
	return nil
}

// DefaultSpecs returns the built-in Basic, Premium and Enterprise tiers.
func DefaultSpecs() ([]Spec, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeed reads tier specs from a YAML file.
func LoadSeed(path string) ([]Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML document with a top-level "tiers" list.
func ParseSeed(data []byte) ([]Spec, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperr.Wrap(apperr.ErrValidation, "parse tiers: %v", err)
	}
	seen := make(map[string]bool, len(f.Tiers))
	for _, spec := range f.Tiers {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, apperr.Wrap(apperr.ErrValidation, "duplicate tier %q", spec.Name)
		}
		seen[spec.Name] = true
	}
	return f.Tiers, nil
}
