package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// JurisdictionRepository provides data access for monitored jurisdictions.
type JurisdictionRepository interface {
	// CreateIfAbsent inserts the jurisdiction unless its key already exists.
	// Existing rows are never overwritten. Returns true if a row was inserted.
	CreateIfAbsent(ctx context.Context, j *models.Jurisdiction) (bool, error)
	GetByKey(ctx context.Context, key string) (*models.Jurisdiction, error)
	// List returns jurisdictions ordered by key. A nil active filter returns all.
	List(ctx context.Context, active *bool) ([]*models.Jurisdiction, error)
	Update(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error)
}

type jurisdictionRepository struct{}

// NewJurisdictionRepository creates a new JurisdictionRepository.
func NewJurisdictionRepository() JurisdictionRepository {
	return &jurisdictionRepository{}
}

var _ JurisdictionRepository = (*jurisdictionRepository)(nil)

const jurisdictionColumns = `
	key, label, state, bounding_box, datasets, agenda_sources,
	active, scrape_frequency_minutes, created_at, updated_at`

func (r *jurisdictionRepository) CreateIfAbsent(ctx context.Context, j *models.Jurisdiction) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now

	datasets := j.Datasets
	if datasets == nil {
		datasets = []models.DatasetConfig{}
	}
	agendaSources := j.AgendaSources
	if agendaSources == nil {
		agendaSources = []models.AgendaSourceConfig{}
	}

	query := `
		INSERT INTO watch_jurisdictions (
			key, label, state, bounding_box, datasets, agenda_sources,
			active, scrape_frequency_minutes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		j.Key, j.Label, j.State, j.BoundingBox, datasets, agendaSources,
		j.Active, j.ScrapeFrequencyMinutes, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create jurisdiction %s: %w", j.Key, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *jurisdictionRepository) GetByKey(ctx context.Context, key string) (*models.Jurisdiction, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + jurisdictionColumns + `
		FROM watch_jurisdictions
		WHERE key = $1`

	j, err := scanJurisdiction(scope.Conn.QueryRow(ctx, query, key))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get jurisdiction: %w", err)
	}
	return j, nil
}

func (r *jurisdictionRepository) List(ctx context.Context, active *bool) ([]*models.Jurisdiction, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + jurisdictionColumns + `
		FROM watch_jurisdictions
		WHERE ($1::boolean IS NULL OR active = $1)
		ORDER BY key`

	rows, err := scope.Conn.Query(ctx, query, active)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	defer rows.Close()

	jurisdictions := make([]*models.Jurisdiction, 0)
	for rows.Next() {
		j, err := scanJurisdiction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan jurisdiction: %w", err)
		}
		jurisdictions = append(jurisdictions, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jurisdictions: %w", err)
	}

	return jurisdictions, nil
}

func (r *jurisdictionRepository) Update(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `
		UPDATE watch_jurisdictions
		SET label = COALESCE($2, label),
		    active = COALESCE($3, active),
		    scrape_frequency_minutes = COALESCE($4, scrape_frequency_minutes),
		    updated_at = NOW()
		WHERE key = $1
		RETURNING` + jurisdictionColumns

	j, err := scanJurisdiction(scope.Conn.QueryRow(ctx, query,
		key, update.Label, update.Active, update.ScrapeFrequencyMinutes,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update jurisdiction: %w", err)
	}
	return j, nil
}

func scanJurisdiction(row pgx.Row) (*models.Jurisdiction, error) {
	var j models.Jurisdiction
	err := row.Scan(
		&j.Key, &j.Label, &j.State, &j.BoundingBox, &j.Datasets, &j.AgendaSources,
		&j.Active, &j.ScrapeFrequencyMinutes, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
