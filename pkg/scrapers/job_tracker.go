package scrapers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/logging"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
)

// JobTracker wraps an adapter run in a ScrapeJob record.
// The job is opened before any network call and always ends done or failed.
type JobTracker struct {
	jobs   repositories.ScrapeJobRepository
	logger *zap.Logger
}

// NewJobTracker creates a JobTracker.
func NewJobTracker(jobs repositories.ScrapeJobRepository, logger *zap.Logger) *JobTracker {
	return &JobTracker{
		jobs:   jobs,
		logger: logger.Named("job-tracker"),
	}
}

// Track opens a job, runs fn and records its outcome. The error from fn is
// returned unchanged after the job is marked failed. A panic in fn fails the
// job and is reported as an error.
func (t *JobTracker) Track(
	ctx context.Context,
	source, jurisdiction string,
	params map[string]any,
	fn func(ctx context.Context) (*Result, error),
) (result *Result, err error) {
	job := &models.ScrapeJob{
		Source:       source,
		Jurisdiction: jurisdiction,
		QueryParams:  params,
	}
	if err := t.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to open scrape job: %w", err)
	}

	logger := t.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("source", source),
		zap.String("jurisdiction", jurisdiction))

	// Terminal writes must land even if the run was cancelled.
	finishCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scraper panic: %v", r)
			result = nil
			t.fail(finishCtx, logger, job, err)
		}
	}()

	start := time.Now()
	result, err = fn(ctx)
	if err != nil {
		t.fail(finishCtx, logger, job, err)
		return nil, err
	}
	if result == nil {
		result = &Result{}
	}
	result.JobID = job.ID

	if _, err := t.jobs.Complete(finishCtx, job.ID, result.RecordsFound, result.RecordsNew); err != nil {
		return result, fmt.Errorf("failed to complete scrape job %s: %w", job.ID, err)
	}

	logger.Info("Scrape job completed",
		zap.Int("records_found", result.RecordsFound),
		zap.Int("records_new", result.RecordsNew),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

func (t *JobTracker) fail(ctx context.Context, logger *zap.Logger, job *models.ScrapeJob, cause error) {
	logger.Warn("Scrape job failed", zap.Error(cause))
	if _, err := t.jobs.Fail(ctx, job.ID, logging.SanitizeError(cause)); err != nil {
		logger.Error("Failed to mark scrape job failed", zap.Error(err))
	}
}
