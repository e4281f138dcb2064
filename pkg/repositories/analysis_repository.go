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

// AnalysisRepository provides data access for enrichment results.
type AnalysisRepository interface {
	// Record stores the analysis and marks its signal analyzed with the analysis
	// confidence, atomically. Returns ErrConflict if the signal was already analyzed.
	Record(ctx context.Context, analysis *models.CompetitorAnalysis) error
	List(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error)
}

type analysisRepository struct{}

// NewAnalysisRepository creates a new AnalysisRepository.
func NewAnalysisRepository() AnalysisRepository {
	return &analysisRepository{}
}

var _ AnalysisRepository = (*analysisRepository)(nil)

func (r *analysisRepository) Record(ctx context.Context, a *models.CompetitorAnalysis) error {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return fmt.Errorf("no database scope in context")
	}

	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	recommendations := a.Recommendations
	if recommendations == nil {
		recommendations = []string{}
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	tag, err := tx.Exec(ctx, `
		UPDATE watch_signals
		SET analyzed = true, confidence = $2, updated_at = NOW()
		WHERE id = $1 AND analyzed = false`, a.SignalID, a.Confidence)
	if err != nil {
		return fmt.Errorf("failed to mark signal analyzed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO watch_competitor_analyses (
			id, signal_id, competitor_id, analysis, impact, confidence, recommendations, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.SignalID, a.CompetitorID, a.Analysis, a.Impact, a.Confidence, recommendations, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *analysisRepository) List(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filters.CompetitorID != nil {
		conditions = append(conditions, fmt.Sprintf("competitor_id = $%d", argIdx))
		args = append(args, *filters.CompetitorID)
		argIdx++
	}

	query := fmt.Sprintf(`
		SELECT id, signal_id, competitor_id, analysis, impact, confidence, recommendations, created_at
		FROM watch_competitor_analyses
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIdx)
	args = append(args, normalizeLimit(filters.Limit))

	rows, err := scope.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	analyses := make([]*models.CompetitorAnalysis, 0)
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}
	return analyses, nil
}

func scanAnalysis(row pgx.Row) (*models.CompetitorAnalysis, error) {
	var a models.CompetitorAnalysis
	err := row.Scan(&a.ID, &a.SignalID, &a.CompetitorID, &a.Analysis, &a.Impact, &a.Confidence, &a.Recommendations, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
