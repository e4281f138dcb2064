package models

import (
	"time"

	"github.com/google/uuid"
)

// Signal types, one per adapter family.
const (
	SignalTypePermit    = "permit"
	SignalTypeSECFiling = "sec_filing"
	SignalTypeAgenda    = "agenda"
)

// Priority bounds. Every computed priority falls in [MinPriority, MaxPriority].
const (
	MinPriority = 1
	MaxPriority = 9
	// HighPriority is the threshold for the dashboard's high-priority list.
	HighPriority = 8
)

// ClampPriority forces p into the valid priority range.
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// CompetitorSignal is one normalized observation from an external source.
// (Source, Jurisdiction, SourceID) is the natural dedup key.
type CompetitorSignal struct {
	ID               uuid.UUID      `json:"id"`
	Type             string         `json:"type"`
	Source           string         `json:"source"`
	Jurisdiction     string         `json:"jurisdiction"`
	SourceID         string         `json:"source_id"`
	Title            string         `json:"title"`
	Address          *string        `json:"address,omitempty"`
	OccurredAt       time.Time      `json:"occurred_at"`
	Link             *string        `json:"link,omitempty"`
	RawData          map[string]any `json:"raw_data,omitempty"`
	Priority         int            `json:"priority"`
	CompetitorMatch  *string        `json:"competitor_match,omitempty"`
	Confidence       *float64       `json:"confidence,omitempty"`
	Analyzed         bool           `json:"analyzed"`
	AnalysisAttempts int            `json:"analysis_attempts"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// SignalFilters narrows signal listings.
type SignalFilters struct {
	Jurisdiction string
	Type         string
	Competitor   string
	MinPriority  int
	Since        *time.Time
	Limit        int
}

// CountByKey is a labeled count used in dashboard and report aggregates.
type CountByKey struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}
