package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// EntityRepository provides data access for tracked competitor entities.
// Listings preserve declared (insertion) order.
type EntityRepository interface {
	// CreateIfAbsent inserts the entity unless one with the same name (case-insensitive)
	// already exists. Returns true if a row was inserted.
	CreateIfAbsent(ctx context.Context, e *models.CompetitorEntity) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorEntity, error)
	GetByName(ctx context.Context, name string) (*models.CompetitorEntity, error)
	List(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error)
	// Update applies an administrative patch. A rename onto an existing name returns ErrConflict.
	Update(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error)
}

type entityRepository struct{}

// NewEntityRepository creates a new EntityRepository.
func NewEntityRepository() EntityRepository {
	return &entityRepository{}
}

var _ EntityRepository = (*entityRepository)(nil)

const entityColumns = `
	id, name, type, keywords, cik, active, created_at, updated_at`

func (r *entityRepository) CreateIfAbsent(ctx context.Context, e *models.CompetitorEntity) (bool, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return false, fmt.Errorf("no database scope in context")
	}

	now := time.Now()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	keywords := e.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	query := `
		INSERT INTO watch_competitor_entities (id, name, type, keywords, cik, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ((lower(name))) DO NOTHING`

	tag, err := scope.Conn.Exec(ctx, query,
		e.ID, e.Name, e.Type, keywords, e.CIK, e.Active, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create competitor entity %s: %w", e.Name, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *entityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + entityColumns + `
		FROM watch_competitor_entities
		WHERE id = $1`

	e, err := scanEntity(scope.Conn.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get competitor entity: %w", err)
	}
	return e, nil
}

func (r *entityRepository) GetByName(ctx context.Context, name string) (*models.CompetitorEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + entityColumns + `
		FROM watch_competitor_entities
		WHERE lower(name) = lower($1)`

	e, err := scanEntity(scope.Conn.QueryRow(ctx, query, name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get competitor entity by name: %w", err)
	}
	return e, nil
}

func (r *entityRepository) List(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	query := `SELECT` + entityColumns + `
		FROM watch_competitor_entities
		WHERE ($1::boolean IS NULL OR active = $1)
		ORDER BY seq`

	rows, err := scope.Conn.Query(ctx, query, active)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitor entities: %w", err)
	}
	defer rows.Close()

	entities := make([]*models.CompetitorEntity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competitor entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competitor entities: %w", err)
	}

	return entities, nil
}

func (r *entityRepository) Update(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error) {
	scope, ok := database.GetScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no database scope in context")
	}

	var keywords []string
	if update.Keywords != nil {
		keywords = *update.Keywords
		if keywords == nil {
			keywords = []string{}
		}
	}

	query := `
		UPDATE watch_competitor_entities
		SET name = COALESCE($2, name),
		    keywords = COALESCE($3, keywords),
		    active = COALESCE($4, active),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING` + entityColumns

	e, err := scanEntity(scope.Conn.QueryRow(ctx, query, id, update.Name, keywords, update.Active))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, apperrors.ErrConflict
		}
		return nil, fmt.Errorf("failed to update competitor entity: %w", err)
	}
	return e, nil
}

func scanEntity(row pgx.Row) (*models.CompetitorEntity, error) {
	var e models.CompetitorEntity
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Keywords, &e.CIK, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
