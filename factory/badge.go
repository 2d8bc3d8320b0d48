/*
Package factory converts badge catalogue files into rewards.Badge values.

PURPOSE:
  The badge catalogue is static reference data. Operators keep it in a
  YAML or JSON file; the factory validates it and produces the typed
  criteria variants the evaluator understands. A default catalogue is
  embedded in the binary.

FILE SCHEMA (YAML shown; JSON uses the same keys):
  badges:
    - id: bookworm
      name: Bookworm
      description: Read for 10 hours
      xp_reward: 60
      criteria:
        type: reading_time
        hours: 10

  criteria is the same JSON object stored in badges.criteria.

USAGE:
  f := factory.NewBadgeFactory()
  badges, err := f.LoadFile("badges.yaml")   // or f.Default()
  store.UpsertBadges(ctx, badges)

SEE ALSO:
  - rewards/criteria.go: criteria variants and JSON shape
*/
package factory

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/studyhall/xp-engine/rewards"
)

//go:embed badges.yaml
var defaultCatalog []byte

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// CatalogFile is the on-disk catalogue.
type CatalogFile struct {
	Badges []BadgeJSON `json:"badges" yaml:"badges"`
}

// BadgeJSON is one badge entry.
type BadgeJSON struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	XPReward    int            `json:"xp_reward" yaml:"xp_reward"`
	Criteria    map[string]any `json:"criteria" yaml:"criteria"`
}

var ErrInvalidCatalog = errors.New("invalid badge catalogue")

// =============================================================================
// BADGE FACTORY
// =============================================================================

type BadgeFactory struct{}

func NewBadgeFactory() *BadgeFactory {
	return &BadgeFactory{}
}

// Default returns the embedded catalogue.
func (f *BadgeFactory) Default() ([]rewards.Badge, error) {
	return f.ParseYAML(defaultCatalog)
}

// LoadFile reads a catalogue, choosing the decoder by extension.
func (f *BadgeFactory) LoadFile(path string) ([]rewards.Badge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge catalogue: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return f.ParseJSON(data)
	}
	return f.ParseYAML(data)
}

func (f *BadgeFactory) ParseYAML(data []byte) ([]rewards.Badge, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return f.FromFile(file)
}

func (f *BadgeFactory) ParseJSON(data []byte) ([]rewards.Badge, error) {
	var file CatalogFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return f.FromFile(file)
}

// FromFile validates entries and builds typed badges. Ids must be unique;
// unknown criteria types are kept as rewards.Unsupported.
func (f *BadgeFactory) FromFile(file CatalogFile) ([]rewards.Badge, error) {
	seen := make(map[string]bool, len(file.Badges))
	badges := make([]rewards.Badge, 0, len(file.Badges))
	for i, bj := range file.Badges {
		if bj.ID == "" || bj.Name == "" {
			return nil, fmt.Errorf("%w: badge %d needs id and name", ErrInvalidCatalog, i)
		}
		if seen[bj.ID] {
			return nil, fmt.Errorf("%w: duplicate badge id %q", ErrInvalidCatalog, bj.ID)
		}
		seen[bj.ID] = true
		if bj.XPReward < 0 {
			return nil, fmt.Errorf("%w: badge %q has negative xp_reward", ErrInvalidCatalog, bj.ID)
		}

		raw, err := json.Marshal(bj.Criteria)
		if err != nil {
			return nil, fmt.Errorf("%w: badge %q criteria: %w", ErrInvalidCatalog, bj.ID, err)
		}
		criteria, err := rewards.ParseCriteria(raw)
		if err != nil {
			return nil, fmt.Errorf("badge %q: %w", bj.ID, err)
		}

		badges = append(badges, rewards.Badge{
			ID:          bj.ID,
			Name:        bj.Name,
			Description: bj.Description,
			XPReward:    bj.XPReward,
			Criteria:    criteria,
		})
	}
	return badges, nil
}

// ToFile converts badges back to the file schema.
func (f *BadgeFactory) ToFile(badges []rewards.Badge) (CatalogFile, error) {
	file := CatalogFile{Badges: make([]BadgeJSON, 0, len(badges))}
	for _, b := range badges {
		raw, err := rewards.MarshalCriteria(b.Criteria)
		if err != nil {
			return CatalogFile{}, fmt.Errorf("badge %q criteria: %w", b.ID, err)
		}
		var criteria map[string]any
		if err := json.Unmarshal(raw, &criteria); err != nil {
			return CatalogFile{}, fmt.Errorf("badge %q criteria: %w", b.ID, err)
		}
		file.Badges = append(file.Badges, BadgeJSON{
			ID:          b.ID,
			Name:        b.Name,
			Description: b.Description,
			XPReward:    b.XPReward,
			Criteria:    criteria,
		})
	}
	return file, nil
}
