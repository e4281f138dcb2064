// Package watchlist loads the static seed data for jurisdictions and competitor entities.
// The seed only supplies initial values; runtime-mutable fields (active flag,
// scrape frequency, keywords) live in the store once a record exists.
package watchlist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// DefaultScrapeFrequencyMinutes applies when a jurisdiction omits its frequency.
const DefaultScrapeFrequencyMinutes = 360

// Watchlist is the parsed seed file.
type Watchlist struct {
	Jurisdictions []JurisdictionSeed `yaml:"jurisdictions"`
	Competitors   []CompetitorSeed   `yaml:"competitors"`
}

// JurisdictionSeed is one jurisdiction as declared in the seed file.
type JurisdictionSeed struct {
	Key                    string                      `yaml:"key"`
	Label                  string                      `yaml:"label"`
	State                  string                      `yaml:"state"`
	BoundingBox            *models.BoundingBox         `yaml:"bounding_box,omitempty"`
	Datasets               []models.DatasetConfig      `yaml:"datasets"`
	AgendaSources          []models.AgendaSourceConfig `yaml:"agenda_sources"`
	Active                 *bool                       `yaml:"active,omitempty"`
	ScrapeFrequencyMinutes int                         `yaml:"scrape_frequency_minutes"`
}

// CompetitorSeed is one tracked entity as declared in the seed file.
type CompetitorSeed struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Keywords []string `yaml:"keywords"`
	CIK      string   `yaml:"cik,omitempty"`
	Active   *bool    `yaml:"active,omitempty"`
}

// Load reads and validates a watchlist file.
func Load(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates watchlist YAML.
func Parse(data []byte) (*Watchlist, error) {
	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("%w: failed to parse watchlist: %v", apperrors.ErrInvalidConfig, err)
	}
	if err := wl.Validate(); err != nil {
		return nil, err
	}
	return &wl, nil
}

// Validate fails fast on configuration the adapters could not run with.
func (w *Watchlist) Validate() error {
	seenKeys := make(map[string]bool, len(w.Jurisdictions))
	for _, j := range w.Jurisdictions {
		if j.Key == "" {
			return fmt.Errorf("%w: jurisdiction key is required", apperrors.ErrInvalidConfig)
		}
		if seenKeys[j.Key] {
			return fmt.Errorf("%w: duplicate jurisdiction key %q", apperrors.ErrInvalidConfig, j.Key)
		}
		seenKeys[j.Key] = true

		for _, d := range j.Datasets {
			if err := d.Validate(); err != nil {
				return fmt.Errorf("jurisdiction %s: %w", j.Key, err)
			}
		}
		for _, a := range j.AgendaSources {
			if err := a.Validate(); err != nil {
				return fmt.Errorf("jurisdiction %s: %w", j.Key, err)
			}
		}
	}

	seenNames := make(map[string]bool, len(w.Competitors))
	for _, c := range w.Competitors {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("%w: competitor name is required", apperrors.ErrInvalidConfig)
		}
		lower := strings.ToLower(name)
		if seenNames[lower] {
			return fmt.Errorf("%w: duplicate competitor %q", apperrors.ErrInvalidConfig, name)
		}
		seenNames[lower] = true

		if c.Type != "" && !models.ValidEntityType(c.Type) {
			return fmt.Errorf("%w: competitor %s: unknown type %q", apperrors.ErrInvalidConfig, name, c.Type)
		}
		if len(c.Keywords) == 0 {
			return fmt.Errorf("%w: competitor %s: at least one keyword is required", apperrors.ErrInvalidConfig, name)
		}
	}
	return nil
}

// JurisdictionModels converts seeds into store models, applying defaults.
func (w *Watchlist) JurisdictionModels() []*models.Jurisdiction {
	out := make([]*models.Jurisdiction, 0, len(w.Jurisdictions))
	for _, j := range w.Jurisdictions {
		active := true
		if j.Active != nil {
			active = *j.Active
		}
		freq := j.ScrapeFrequencyMinutes
		if freq <= 0 {
			freq = DefaultScrapeFrequencyMinutes
		}
		label := j.Label
		if label == "" {
			label = j.Key
		}
		out = append(out, &models.Jurisdiction{
			Key:                    j.Key,
			Label:                  label,
			State:                  j.State,
			BoundingBox:            j.BoundingBox,
			Datasets:               j.Datasets,
			AgendaSources:          j.AgendaSources,
			Active:                 active,
			ScrapeFrequencyMinutes: freq,
		})
	}
	return out
}

// CompetitorModels converts seeds into store models, applying defaults.
// Keywords are lower-cased and trimmed.
func (w *Watchlist) CompetitorModels() []*models.CompetitorEntity {
	out := make([]*models.CompetitorEntity, 0, len(w.Competitors))
	for _, c := range w.Competitors {
		active := true
		if c.Active != nil {
			active = *c.Active
		}
		entityType := c.Type
		if entityType == "" {
			entityType = models.EntityTypeCompany
		}
		e := &models.CompetitorEntity{
			Name:     strings.TrimSpace(c.Name),
			Type:     entityType,
			Keywords: NormalizeKeywords(c.Keywords),
			Active:   active,
		}
		if c.CIK != "" {
			cik := c.CIK
			e.CIK = &cik
		}
		out = append(out, e)
	}
	return out
}

// NormalizeKeywords lower-cases, trims and de-duplicates keywords, keeping declared order.
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
