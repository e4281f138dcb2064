// Package scrapers holds the source adapters that turn external public records
// into competitor signals, together with the helpers they share.
package scrapers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
)

// Signal sources. Together with jurisdiction and source id they form the dedup key.
const (
	SourceArcGIS   = "arcgis"
	SourceSECEdgar = "sec_edgar"
	SourceAgenda   = "agenda"

	// NationalJurisdiction scopes signals that are not tied to one area.
	NationalJurisdiction = "national"
)

// Options controls one adapter run.
type Options struct {
	// DaysBack sets the cutoff: records older than now - DaysBack are discarded.
	DaysBack int
}

// Result is what one adapter run produced.
type Result struct {
	JobID        uuid.UUID `json:"job_id"`
	RecordsFound int       `json:"records_found"`
	RecordsNew   int       `json:"records_new"`
}

// Scraper is the contract every source adapter implements.
// Each Scrape call is tracked as exactly one ScrapeJob.
type Scraper interface {
	Scrape(ctx context.Context, opts Options) (*Result, error)
	// Source returns the signal source label, e.g. "arcgis".
	Source() string
}

// Deps are the collaborators shared by all adapters.
type Deps struct {
	Jobs    repositories.ScrapeJobRepository
	Signals repositories.SignalRepository
	Fetcher *Fetcher
	Matcher *Matcher
	Logger  *zap.Logger
	// Now is the clock used for cutoffs and fallback dates. Defaults to time.Now.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) matcher() *Matcher {
	if d.Matcher == nil {
		return NewMatcher(nil)
	}
	return d.Matcher
}

// Cutoff returns the oldest timestamp a record may carry and still be counted.
func Cutoff(now time.Time, daysBack int) time.Time {
	if daysBack < 0 {
		daysBack = 0
	}
	return now.AddDate(0, 0, -daysBack)
}

// validate checks the collaborators every adapter needs.
func (d Deps) validate() error {
	switch {
	case d.Jobs == nil:
		return fmt.Errorf("%w: job repository is required", apperrors.ErrInvalidConfig)
	case d.Signals == nil:
		return fmt.Errorf("%w: signal repository is required", apperrors.ErrInvalidConfig)
	case d.Fetcher == nil:
		return fmt.Errorf("%w: fetcher is required", apperrors.ErrInvalidConfig)
	case d.Logger == nil:
		return fmt.Errorf("%w: logger is required", apperrors.ErrInvalidConfig)
	}
	return nil
}

// persist upserts one signal and reports whether it is new.
// Store failures are not record-level and abort the run.
func persist(ctx context.Context, signals repositories.SignalRepository, s *models.CompetitorSignal) (bool, error) {
	inserted, err := signals.Upsert(ctx, s)
	if err != nil {
		return false, fmt.Errorf("failed to store signal: %w", err)
	}
	return inserted, nil
}
