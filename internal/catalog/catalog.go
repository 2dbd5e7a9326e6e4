// Package catalog holds the preset lines the avatar can speak on tap.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

var ErrUnknownPreset = errors.New("unknown preset")

type Preset struct {
	ID    int    `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Image string `yaml:"image" json:"image,omitempty"`
	Line  string `yaml:"line" json:"line"`
}

type Catalog struct {
	Instruction string   `yaml:"instruction" json:"instruction"`
	Presets     []Preset `yaml:"presets" json:"presets"`
}

// Load reads a catalog file, or the built-in catalog when path is empty.
func Load(path string) (Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Parse(defaultCatalog)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(raw)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

func Default() Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

func Parse(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

func (c Catalog) Validate() error {
	if len(c.Presets) == 0 {
		return errors.New("catalog has no presets")
	}
	seen := make(map[int]struct{}, len(c.Presets))
	for i, p := range c.Presets {
		if p.ID <= 0 {
			return fmt.Errorf("preset #%d: id must be positive", i+1)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("preset #%d: duplicate id %d", i+1, p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.Line) == "" {
			return fmt.Errorf("preset %d: line is empty", p.ID)
		}
	}
	return nil
}

func (c Catalog) Lookup(id int) (Preset, error) {
	for _, p := range c.Presets {
		if p.ID == id {
			return p, nil
		}
	}
	return Preset{}, fmt.Errorf("%w: %d", ErrUnknownPreset, id)
}
