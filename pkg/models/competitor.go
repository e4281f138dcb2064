package models

import (
	"time"

	"github.com/google/uuid"
)

// Competitor entity types.
const (
	EntityTypeCompany = "company"
	EntityTypePerson  = "person"
)

// CompetitorEntity is a tracked company or person.
// Keywords are matched case-insensitively against signal text.
type CompetitorEntity struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Keywords  []string  `json:"keywords"`
	CIK       *string   `json:"cik,omitempty"` // SEC Central Index Key
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidEntityType reports whether t is a known entity type.
func ValidEntityType(t string) bool {
	return t == EntityTypeCompany || t == EntityTypePerson
}

// CompetitorEntityUpdate carries the administrative fields a PATCH may change.
type CompetitorEntityUpdate struct {
	Name     *string   `json:"name,omitempty"`
	Keywords *[]string `json:"keywords,omitempty"`
	Active   *bool     `json:"active,omitempty"`
}

// Impact levels returned by enrichment.
const (
	ImpactLow      = "low"
	ImpactMedium   = "medium"
	ImpactHigh     = "high"
	ImpactCritical = "critical"
)

// ValidImpact reports whether impact is one of the known levels.
func ValidImpact(impact string) bool {
	switch impact {
	case ImpactLow, ImpactMedium, ImpactHigh, ImpactCritical:
		return true
	}
	return false
}

// MaxRecommendations caps the recommendations stored per analysis.
const MaxRecommendations = 5

// CompetitorAnalysis is the enrichment output for one signal.
type CompetitorAnalysis struct {
	ID              uuid.UUID `json:"id"`
	SignalID        uuid.UUID `json:"signal_id"`
	CompetitorID    uuid.UUID `json:"competitor_id"`
	Analysis        string    `json:"analysis"`
	Impact          string    `json:"impact"`
	Confidence      float64   `json:"confidence"`
	Recommendations []string  `json:"recommendations"`
	CreatedAt       time.Time `json:"created_at"`
}

// AnalysisFilters narrows analysis listings.
type AnalysisFilters struct {
	CompetitorID *uuid.UUID
	Limit        int
}
