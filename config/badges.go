package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/shadow-ranch/internal/domain/credential"
	"github.com/alem-hub/shadow-ranch/internal/domain/progress"
)

//go:embed badges.yaml
var builtinBadges []byte

// Attribute is a display trait attached to a badge.
type Attribute struct {
	TraitType string `yaml:"trait_type" json:"trait_type"`
	Value     string `yaml:"value" json:"value"`
}

// Badge is the default credential for a module.
type Badge struct {
	Module      uint8       `yaml:"module"`
	Title       string      `yaml:"title"`
	Symbol      string      `yaml:"symbol"`
	URI         string      `yaml:"uri"`
	Description string      `yaml:"description"`
	Attributes  []Attribute `yaml:"attributes"`
}

// Metadata returns the credential metadata carried by the badge.
func (b Badge) Metadata() credential.Metadata {
	return credential.Metadata{Title: b.Title, Symbol: b.Symbol, URI: b.URI}
}

type badgeFile struct {
	Badges []Badge `yaml:"badges"`
}

// BadgeCatalogue maps modules to their default badge.
type BadgeCatalogue struct {
	badges map[progress.ModuleID]Badge
}

// LoadBadges reads the catalogue from path, or the built-in catalogue when path is empty.
func LoadBadges(path string) (*BadgeCatalogue, error) {
	if path == "" {
		return ParseBadges(builtinBadges)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badges file: %w", err)
	}
	return ParseBadges(data)
}

// ParseBadges decodes and validates a YAML catalogue.
// Every badge must name a valid module once and carry valid metadata.
func ParseBadges(data []byte) (*BadgeCatalogue, error) {
	var file badgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse badges: %w", err)
	}

	var errs []error
	cat := &BadgeCatalogue{badges: make(map[progress.ModuleID]Badge, len(file.Badges))}
	for i, b := range file.Badges {
		m := progress.ModuleID(b.Module)
		if !m.IsValid() {
			errs = append(errs, fmt.Errorf("badge %d: module %d out of range", i, b.Module))
			continue
		}
		if _, dup := cat.badges[m]; dup {
			errs = append(errs, fmt.Errorf("badge %d: duplicate module %d", i, b.Module))
			continue
		}
		if err := b.Metadata().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("badge %d: %w", i, err))
			continue
		}
		cat.badges[m] = b
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cat, nil
}

// Metadata implements credential.Catalogue.
func (c *BadgeCatalogue) Metadata(m progress.ModuleID) (credential.Metadata, bool) {
	b, ok := c.badges[m]
	if !ok {
		return credential.Metadata{}, false
	}
	return b.Metadata(), true
}

// Badge returns the badge for a module.
func (c *BadgeCatalogue) Badge(m progress.ModuleID) (Badge, bool) {
	b, ok := c.badges[m]
	return b, ok
}

// All returns every badge ordered by module.
func (c *BadgeCatalogue) All() []Badge {
	out := make([]Badge, 0, len(c.badges))
	for _, b := range c.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Module < out[j].Module })
	return out
}
