package models

import (
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
)

// Dataset types understood by the scrape phase.
const (
	DatasetTypeArcGIS = "arcgis"
)

// Agenda wire formats. Each maps to one extraction strategy.
const (
	AgendaFormatAPI     = "api"     // JSON meetings API (Legistar-style)
	AgendaFormatTable   = "table"   // HTML table/list of meetings (CivicPlus-style)
	AgendaFormatGeneric = "generic" // arbitrary page scanned for agenda links
	AgendaFormatFeed    = "feed"    // RSS/Atom
)

// ValidAgendaFormat reports whether format names a known agenda strategy.
func ValidAgendaFormat(format string) bool {
	switch format {
	case AgendaFormatAPI, AgendaFormatTable, AgendaFormatGeneric, AgendaFormatFeed:
		return true
	}
	return false
}

// Jurisdiction is a monitored geographic/administrative area with its own source configuration.
type Jurisdiction struct {
	Key                    string               `json:"key"`
	Label                  string               `json:"label"`
	State                  string               `json:"state"`
	BoundingBox            *BoundingBox         `json:"bounding_box,omitempty"`
	Datasets               []DatasetConfig      `json:"datasets"`
	AgendaSources          []AgendaSourceConfig `json:"agenda_sources"`
	Active                 bool                 `json:"active"`
	ScrapeFrequencyMinutes int                  `json:"scrape_frequency_minutes"`
	CreatedAt              time.Time            `json:"created_at"`
	UpdatedAt              time.Time            `json:"updated_at"`
}

// BoundingBox limits GIS queries to an envelope (WGS84).
type BoundingBox struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// DatasetConfig describes one permit feature layer and how to read its attributes.
type DatasetConfig struct {
	Key              string `json:"key" yaml:"key"`
	Name             string `json:"name" yaml:"name"`
	Type             string `json:"type" yaml:"type"`
	URL              string `json:"url" yaml:"url"`
	DateField        string `json:"date_field" yaml:"date_field"`
	IDField          string `json:"id_field,omitempty" yaml:"id_field,omitempty"`
	AddressField     string `json:"address_field,omitempty" yaml:"address_field,omitempty"`
	TypeField        string `json:"type_field,omitempty" yaml:"type_field,omitempty"`
	DescriptionField string `json:"description_field,omitempty" yaml:"description_field,omitempty"`
	OccupancyField   string `json:"occupancy_field,omitempty" yaml:"occupancy_field,omitempty"`
	ValueField       string `json:"value_field,omitempty" yaml:"value_field,omitempty"`
	LinkTemplate     string `json:"link_template,omitempty" yaml:"link_template,omitempty"`
	// TitleTemplate uses {field} placeholders; {type} and {description} resolve
	// to the configured type/description fields.
	TitleTemplate string `json:"title_template,omitempty" yaml:"title_template,omitempty"`
}

// AgendaSourceConfig describes one meeting-agenda publisher.
type AgendaSourceConfig struct {
	Key     string `json:"key" yaml:"key"`
	Name    string `json:"name" yaml:"name"`
	Format  string `json:"format" yaml:"format"`
	URL     string `json:"url" yaml:"url"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// Optional CSS selectors for the table format.
	RowSelector   string `json:"row_selector,omitempty" yaml:"row_selector,omitempty"`
	DateSelector  string `json:"date_selector,omitempty" yaml:"date_selector,omitempty"`
	LinkSelector  string `json:"link_selector,omitempty" yaml:"link_selector,omitempty"`
	TitleSelector string `json:"title_selector,omitempty" yaml:"title_selector,omitempty"`
}

// JurisdictionUpdate carries the administrative fields a PATCH may change.
type JurisdictionUpdate struct {
	Label                  *string `json:"label,omitempty"`
	Active                 *bool   `json:"active,omitempty"`
	ScrapeFrequencyMinutes *int    `json:"scrape_frequency_minutes,omitempty"`
}

// Validate checks the fields a GIS adapter needs before it can run.
func (d DatasetConfig) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: dataset key is required", apperrors.ErrInvalidConfig)
	}
	if d.Type != DatasetTypeArcGIS {
		return fmt.Errorf("%w: dataset %s: unsupported type %q", apperrors.ErrInvalidConfig, d.Key, d.Type)
	}
	if d.URL == "" {
		return fmt.Errorf("%w: dataset %s: url is required", apperrors.ErrInvalidConfig, d.Key)
	}
	if d.DateField == "" {
		return fmt.Errorf("%w: dataset %s: date_field is required", apperrors.ErrInvalidConfig, d.Key)
	}
	return nil
}

// Validate checks the fields an agenda adapter needs before it can run.
func (a AgendaSourceConfig) Validate() error {
	if a.Key == "" {
		return fmt.Errorf("%w: agenda source key is required", apperrors.ErrInvalidConfig)
	}
	if !ValidAgendaFormat(a.Format) {
		return fmt.Errorf("%w: agenda source %s: unknown format %q", apperrors.ErrInvalidConfig, a.Key, a.Format)
	}
	if a.URL == "" {
		return fmt.Errorf("%w: agenda source %s: url is required", apperrors.ErrInvalidConfig, a.Key)
	}
	return nil
}
