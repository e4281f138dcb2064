package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// ScrapeJobRepository provides data access for adapter execution records.
// Jobs move running -> done|failed exactly once; terminal rows are never modified.
type ScrapeJobRepository interface {
	// Create inserts the job in running status with started_at set.
	Create(ctx context.Context, job *models.ScrapeJob) error
	// Complete marks a running job done. Returns ErrJobNotRunning if the job is terminal or missing.
	Complete(ctx context.Context, id uuid.UUID, recordsFound, recordsNew int) (*models.ScrapeJob, error)
	// Fail marks a running job failed. Returns ErrJobNotRunning if the job is terminal or missing.
	Fail(ctx context.Context, id uuid.UUID, errorMessage string) (*models.ScrapeJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error)
	List(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error)
	// LastSuccessfulRun returns when the jurisdiction last finished a done job, or nil if never.
	LastSuccessfulRun(ctx context.Context, jurisdiction string) (*time.Time, error)
}

type scrapeJobRepository struct{}

// NewScrapeJobRepository creates a new ScrapeJobRepository.
func NewScrapeJobRepository() ScrapeJobRepository {
	return &scrapeJobRepository{}
}

var _ ScrapeJobRepository = (*scrapeJobRepository)(nil)

const scrapeJobColumns = `
	id, status, source, jurisdiction, query_params, started_at, finished_at,
	records_found, records_new, execution_time_ms, error_message, created_at`

func (r *scrapeJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	now := time.Now()
	job.ID = uuid.New()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.CreatedAt = now

	params := job.QueryParams
	if params == nil {
		params = map[string]any{}
	}

	query := `
		INSERT INTO watch_scrape_jobs (id, status, source, jurisdiction, query_params, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := scope.Conn.Exec(ctx, query,
		job.ID, job.Status, job.Source, job.Jurisdiction, params, job.StartedAt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scrape job: %w", err)
	}

	return nil
}

func (r *scrapeJobRepository) Complete(ctx context.Context, id uuid.UUID, recordsFound, recordsNew int) (*models.ScrapeJob, error) {
	return r.finish(ctx, id, models.JobStatusDone, recordsFound, recordsNew, nil)
}

func (r *scrapeJobRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) (*models.ScrapeJob, error) {
	return r.finish(ctx, id, models.JobStatusFailed, 0, 0, &errorMessage)
}

// finish performs the single allowed terminal transition.
// finished_at is clamped to started_at so clock skew cannot produce a negative duration.
func (r *scrapeJobRepository) finish(ctx context.Context, id uuid.UUID, status models.JobStatus, found, created int, errorMessage *string) (*models.ScrapeJob, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE watch_scrape_jobs
		SET status = $2,
		    finished_at = GREATEST(NOW(), started_at),
		    records_found = $3,
		    records_new = $4,
		    error_message = $5,
		    execution_time_ms = GREATEST(0, (EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::bigint)
		WHERE id = $1 AND status = 'running'
		RETURNING` + scrapeJobColumns

	job, err := scanScrapeJob(scope.Conn.QueryRow(ctx, query, id, status, found, created, errorMessage))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrJobNotRunning
		}
		return nil, fmt.Errorf("failed to mark scrape job %s: %w", status, err)
	}
	return job, nil
}

func (r *scrapeJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + scrapeJobColumns + `
		FROM watch_scrape_jobs
		WHERE id = $1`

	job, err := scanScrapeJob(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get scrape job: %w", err)
	}
	return job, nil
}

func (r *scrapeJobRepository) List(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filters.Status)
		argIdx++
	}
	if filters.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, filters.Source)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM watch_scrape_jobs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, scrapeJobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, normalizeLimit(filters.Limit))

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scrape jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*models.ScrapeJob, 0)
	for rows.Next() {
		job, err := scanScrapeJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scrape job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scrape jobs: %w", err)
	}

	return jobs, nil
}

func (r *scrapeJobRepository) LastSuccessfulRun(ctx context.Context, jurisdiction string) (*time.Time, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var last *time.Time
	err := scope.Conn.QueryRow(ctx, `
		SELECT MAX(finished_at)
		FROM watch_scrape_jobs
		WHERE jurisdiction = $1 AND status = 'done'`, jurisdiction).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last successful run: %w", err)
	}
	return last, nil
}

func scanScrapeJob(row pgx.Row) (*models.ScrapeJob, error) {
	var job models.ScrapeJob
	err := row.Scan(
		&job.ID, &job.Status, &job.Source, &job.Jurisdiction, &job.QueryParams,
		&job.StartedAt, &job.FinishedAt,
		&job.RecordsFound, &job.RecordsNew, &job.ExecutionTimeMs, &job.ErrorMessage, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
