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

// SignalRepository provides data access for competitor signals.
// (source, jurisdiction, source_id) is unique at the storage layer.
type SignalRepository interface {
	// Upsert inserts the signal or, when its dedup key already exists, refreshes the
	// source-owned fields. Enrichment state (analyzed, confidence, attempts) is never reset.
	// Returns true only when a new row was inserted.
	Upsert(ctx context.Context, signal *models.CompetitorSignal) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorSignal, error)
	List(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error)

	// ListUnanalyzed returns signals still awaiting enrichment, oldest first,
	// excluding those that already used maxAttempts.
	ListUnanalyzed(ctx context.Context, limit, maxAttempts int) ([]*models.CompetitorSignal, error)
	// MarkAnalyzed flips analyzed to true. Confidence may be nil for skipped signals.
	MarkAnalyzed(ctx context.Context, id uuid.UUID, confidence *float64) error
	IncrementAttempts(ctx context.Context, id uuid.UUID) error

	// Aggregates over signals that occurred at or after since.
	CountSince(ctx context.Context, since time.Time) (int, error)
	CountByType(ctx context.Context, since time.Time) ([]models.CountByKey, error)
	CountByJurisdiction(ctx context.Context, since time.Time) ([]models.CountByKey, error)
	CountByCompetitor(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error)
}

type signalRepository struct{}

// NewSignalRepository creates a new SignalRepository.
func NewSignalRepository() SignalRepository {
	return &signalRepository{}
}

var _ SignalRepository = (*signalRepository)(nil)

const signalColumns = `
	id, type, source, jurisdiction, source_id, title, address, occurred_at, link,
	raw_data, priority, competitor_match, confidence, analyzed, analysis_attempts,
	created_at, updated_at`

func (r *signalRepository) Upsert(ctx context.Context, s *models.CompetitorSignal) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	now := time.Now()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.Priority = models.ClampPriority(s.Priority)
	raw := s.RawData
	if raw == nil {
		raw = map[string]any{}
	}

	// xmax = 0 only for freshly inserted tuples.
	query := `
		INSERT INTO watch_signals (
			id, type, source, jurisdiction, source_id, title, address, occurred_at, link,
			raw_data, priority, competitor_match, confidence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (source, jurisdiction, source_id) DO UPDATE
		SET title = EXCLUDED.title,
		    address = EXCLUDED.address,
		    occurred_at = EXCLUDED.occurred_at,
		    link = EXCLUDED.link,
		    raw_data = EXCLUDED.raw_data,
		    priority = EXCLUDED.priority,
		    competitor_match = COALESCE(watch_signals.competitor_match, EXCLUDED.competitor_match),
		    updated_at = EXCLUDED.updated_at
		RETURNING id, analyzed, analysis_attempts, created_at, updated_at, (xmax = 0) AS inserted`

	var inserted bool
	err := scope.Conn.QueryRow(ctx, query,
		s.ID, s.Type, s.Source, s.Jurisdiction, s.SourceID, s.Title, s.Address, s.OccurredAt, s.Link,
		raw, s.Priority, s.CompetitorMatch, s.Confidence, now,
	).Scan(&s.ID, &s.Analyzed, &s.AnalysisAttempts, &s.CreatedAt, &s.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert signal %s/%s/%s: %w", s.Source, s.Jurisdiction, s.SourceID, err)
	}

	return inserted, nil
}

func (r *signalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorSignal, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + signalColumns + `
		FROM watch_signals
		WHERE id = $1`

	s, err := scanSignal(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return s, nil
}

func (r *signalRepository) List(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filters.Jurisdiction != "" {
		conditions = append(conditions, fmt.Sprintf("jurisdiction = $%d", argIdx))
		args = append(args, filters.Jurisdiction)
		argIdx++
	}
	if filters.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filters.Type)
		argIdx++
	}
	if filters.Competitor != "" {
		conditions = append(conditions, fmt.Sprintf("lower(competitor_match) = lower($%d)", argIdx))
		args = append(args, filters.Competitor)
		argIdx++
	}
	if filters.MinPriority > 0 {
		conditions = append(conditions, fmt.Sprintf("priority >= $%d", argIdx))
		args = append(args, filters.MinPriority)
		argIdx++
	}
	if filters.Since != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argIdx))
		args = append(args, *filters.Since)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM watch_signals
		WHERE %s
		ORDER BY priority DESC, occurred_at DESC
		LIMIT $%d`, signalColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, normalizeLimit(filters.Limit))

	return r.query(ctx, scope, query, args...)
}

func (r *signalRepository) ListUnanalyzed(ctx context.Context, limit, maxAttempts int) ([]*models.CompetitorSignal, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + signalColumns + `
		FROM watch_signals
		WHERE analyzed = false AND analysis_attempts < $1
		ORDER BY created_at
		LIMIT $2`

	return r.query(ctx, scope, query, maxAttempts, normalizeLimit(limit))
}

func (r *signalRepository) MarkAnalyzed(ctx context.Context, id uuid.UUID, confidence *float64) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE watch_signals
		SET analyzed = true,
		    confidence = COALESCE($2, confidence),
		    updated_at = NOW()
		WHERE id = $1 AND analyzed = false`, id, confidence)
	if err != nil {
		return fmt.Errorf("failed to mark signal analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *signalRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	tag, err := scope.Conn.Exec(ctx, `
		UPDATE watch_signals
		SET analysis_attempts = analysis_attempts + 1,
		    updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment analysis attempts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *signalRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no database scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM watch_signals WHERE occurred_at >= $1`, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count signals: %w", err)
	}
	return count, nil
}

func (r *signalRepository) CountByType(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.countBy(ctx, "type", since, 0)
}

func (r *signalRepository) CountByJurisdiction(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return r.countBy(ctx, "jurisdiction", since, 0)
}

func (r *signalRepository) CountByCompetitor(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error) {
	return r.countBy(ctx, "competitor_match", since, limit)
}

// countBy groups signals by one of a fixed set of columns. column is never user input.
func (r *signalRepository) countBy(ctx context.Context, column string, since time.Time, limit int) ([]models.CountByKey, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*)
		FROM watch_signals
		WHERE occurred_at >= $1 AND %[1]s IS NOT NULL
		GROUP BY %[1]s
		ORDER BY COUNT(*) DESC, %[1]s
		LIMIT $2`, column)

	if limit <= 0 {
		limit = maxListLimit
	}

	rows, err := scope.Conn.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count signals by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make([]models.CountByKey, 0)
	for rows.Next() {
		var c models.CountByKey
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan signal count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signal counts: %w", err)
	}
	return counts, nil
}

func (r *signalRepository) query(ctx context.Context, scope *database.Scope, query string, args ...any) ([]*models.CompetitorSignal, error) {
	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	signals := make([]*models.CompetitorSignal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return signals, nil
}

func scanSignal(row pgx.Row) (*models.CompetitorSignal, error) {
	var s models.CompetitorSignal
	err := row.Scan(
		&s.ID, &s.Type, &s.Source, &s.Jurisdiction, &s.SourceID, &s.Title, &s.Address, &s.OccurredAt, &s.Link,
		&s.RawData, &s.Priority, &s.CompetitorMatch, &s.Confidence, &s.Analyzed, &s.AnalysisAttempts,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
