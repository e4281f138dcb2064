package models

import (
	"time"

	"github.com/google/uuid"
)

// CycleStatus is the lifecycle state of one watch cycle run.
type CycleStatus string

const (
	CycleStatusRunning   CycleStatus = "running"
	CycleStatusCompleted CycleStatus = "completed"
	CycleStatusFailed    CycleStatus = "failed"
	// CycleStatusRejected marks a trigger refused because another cycle was in flight.
	CycleStatusRejected CycleStatus = "rejected"
)

// CycleRun is the queryable record of one triggered cycle.
type CycleRun struct {
	ID         uuid.UUID    `json:"id"`
	Status     CycleStatus  `json:"status"`
	DaysBack   int          `json:"days_back"`
	Scheduled  bool         `json:"scheduled"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Report     *CycleReport `json:"report,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ScrapeCounts aggregates adapter results for one category.
type ScrapeCounts struct {
	Found  int `json:"found"`
	New    int `json:"new"`
	Jobs   int `json:"jobs"`
	Failed int `json:"failed"`
}

// Add folds another count into c.
func (c *ScrapeCounts) Add(other ScrapeCounts) {
	c.Found += other.Found
	c.New += other.New
	c.Jobs += other.Jobs
	c.Failed += other.Failed
}

// AnalysisCounts summarizes the enrichment phase.
type AnalysisCounts struct {
	Pending  int `json:"pending"`
	Analyzed int `json:"analyzed"`
	// Skipped signals had no competitor match and were closed without a model call.
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	// Deferred signals were not attempted because the circuit breaker was open.
	Deferred int  `json:"deferred"`
	Disabled bool `json:"disabled,omitempty"`
}

// CycleReport is the outcome of one full watch cycle.
type CycleReport struct {
	StartedAt            time.Time      `json:"started_at"`
	FinishedAt           time.Time      `json:"finished_at"`
	DaysBack             int            `json:"days_back"`
	Permits              ScrapeCounts   `json:"permits"`
	Filings              ScrapeCounts   `json:"filings"`
	Agendas              ScrapeCounts   `json:"agendas"`
	Total                ScrapeCounts   `json:"total"`
	Analysis             AnalysisCounts `json:"analysis"`
	TopCompetitors       []CountByKey   `json:"top_competitors"`
	JurisdictionsTracked int            `json:"jurisdictions_tracked"`
	EntitiesTracked      int            `json:"entities_tracked"`
	SkippedJurisdictions []string       `json:"skipped_jurisdictions,omitempty"`
	Summary              string         `json:"summary"`
}
