package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a ScrapeJob.
type JobStatus string

const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// IsTerminal returns true once a job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// queued -> running -> (done | failed); terminal jobs are immutable.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusDone || to == JobStatusFailed
	}
	return false
}

// ScrapeJob records one execution attempt of one adapter.
type ScrapeJob struct {
	ID              uuid.UUID      `json:"id"`
	Status          JobStatus      `json:"status"`
	Source          string         `json:"source"`
	Jurisdiction    string         `json:"jurisdiction"`
	QueryParams     map[string]any `json:"query_params"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
	RecordsFound    int            `json:"records_found"`
	RecordsNew      int            `json:"records_new"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// JobFilters narrows job listings.
type JobFilters struct {
	Status JobStatus
	Source string
	Limit  int
}
