package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
	"github.com/ekaya-inc/ekaya-watch/pkg/watchlist"
)

const (
	// DashboardWindowDays is the lookback of the dashboard aggregates.
	DashboardWindowDays = 30

	dashboardCompetitorLimit   = 10
	dashboardHighPriorityLimit = 20
	dashboardAnalysisLimit     = 10
)

// CompetitorService serves the read and administrative surface over the signal store.
type CompetitorService interface {
	GetDashboard(ctx context.Context) (*models.Dashboard, error)
	ListSignals(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error)
	ListEntities(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error)
	ListJurisdictions(ctx context.Context, active *bool) ([]*models.Jurisdiction, error)
	ListAnalyses(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error)
	ListJobs(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error)

	// UpdateEntity patches name, keywords or active flag.
	// Returns ErrInvalidConfig for invalid values, ErrNotFound or ErrConflict from the store.
	UpdateEntity(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error)
	// UpdateJurisdiction patches label, active flag or scrape frequency.
	UpdateJurisdiction(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error)
}

type competitorService struct {
	jurisdictionRepo repositories.JurisdictionRepository
	entityRepo       repositories.EntityRepository
	jobRepo          repositories.ScrapeJobRepository
	signalRepo       repositories.SignalRepository
	analysisRepo     repositories.AnalysisRepository
	cache            DashboardCache
	now              func() time.Time
	logger           *zap.Logger
}

// NewCompetitorService creates a CompetitorService. A nil cache disables dashboard caching.
func NewCompetitorService(
	jurisdictionRepo repositories.JurisdictionRepository,
	entityRepo repositories.EntityRepository,
	jobRepo repositories.ScrapeJobRepository,
	signalRepo repositories.SignalRepository,
	analysisRepo repositories.AnalysisRepository,
	cache DashboardCache,
	logger *zap.Logger,
) CompetitorService {
	if cache == nil {
		cache = noopDashboardCache{}
	}
	return &competitorService{
		jurisdictionRepo: jurisdictionRepo,
		entityRepo:       entityRepo,
		jobRepo:          jobRepo,
		signalRepo:       signalRepo,
		analysisRepo:     analysisRepo,
		cache:            cache,
		now:              time.Now,
		logger:           logger.Named("competitor-service"),
	}
}

var _ CompetitorService = (*competitorService)(nil)

func (s *competitorService) GetDashboard(ctx context.Context) (*models.Dashboard, error) {
	if cached, ok := s.cache.Get(ctx); ok {
		return cached, nil
	}

	now := s.now()
	since := now.AddDate(0, 0, -DashboardWindowDays)
	active := true

	total, err := s.signalRepo.CountSince(ctx, since)
	if err != nil {
		return nil, err
	}
	byType, err := s.signalRepo.CountByType(ctx, since)
	if err != nil {
		return nil, err
	}
	byJurisdiction, err := s.signalRepo.CountByJurisdiction(ctx, since)
	if err != nil {
		return nil, err
	}
	byCompetitor, err := s.signalRepo.CountByCompetitor(ctx, since, dashboardCompetitorLimit)
	if err != nil {
		return nil, err
	}
	highPriority, err := s.signalRepo.List(ctx, models.SignalFilters{
		MinPriority: models.HighPriority,
		Since:       &since,
		Limit:       dashboardHighPriorityLimit,
	})
	if err != nil {
		return nil, err
	}
	analyses, err := s.analysisRepo.List(ctx, models.AnalysisFilters{Limit: dashboardAnalysisLimit})
	if err != nil {
		return nil, err
	}
	entities, err := s.entityRepo.List(ctx, &active)
	if err != nil {
		return nil, err
	}
	jurisdictions, err := s.jurisdictionRepo.List(ctx, &active)
	if err != nil {
		return nil, err
	}

	dashboard := &models.Dashboard{
		GeneratedAt:           now,
		WindowDays:            DashboardWindowDays,
		TotalSignals:          total,
		SignalsByType:         byType,
		SignalsByJurisdiction: byJurisdiction,
		SignalsByCompetitor:   byCompetitor,
		HighPrioritySignals:   highPriority,
		RecentAnalyses:        analyses,
		ActiveCompetitors:     entities,
		ActiveJurisdictions:   jurisdictions,
	}
	s.cache.Set(ctx, dashboard)

	return dashboard, nil
}

func (s *competitorService) ListSignals(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error) {
	return s.signalRepo.List(ctx, filters)
}

func (s *competitorService) ListEntities(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error) {
	return s.entityRepo.List(ctx, active)
}

func (s *competitorService) ListJurisdictions(ctx context.Context, active *bool) ([]*models.Jurisdiction, error) {
	return s.jurisdictionRepo.List(ctx, active)
}

func (s *competitorService) ListAnalyses(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error) {
	return s.analysisRepo.List(ctx, filters)
}

func (s *competitorService) ListJobs(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	return s.jobRepo.List(ctx, filters)
}

func (s *competitorService) UpdateEntity(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error) {
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name must not be empty", apperrors.ErrInvalidConfig)
		}
		update.Name = &name
	}
	if update.Keywords != nil {
		keywords := watchlist.NormalizeKeywords(*update.Keywords)
		update.Keywords = &keywords
	}

	entity, err := s.entityRepo.Update(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Competitor entity updated",
		zap.String("entity_id", id.String()),
		zap.String("name", entity.Name),
		zap.Bool("active", entity.Active))
	s.cache.Invalidate(ctx)
	return entity, nil
}

func (s *competitorService) UpdateJurisdiction(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error) {
	if update.Label != nil {
		label := strings.TrimSpace(*update.Label)
		if label == "" {
			return nil, fmt.Errorf("%w: label must not be empty", apperrors.ErrInvalidConfig)
		}
		update.Label = &label
	}
	if update.ScrapeFrequencyMinutes != nil && *update.ScrapeFrequencyMinutes <= 0 {
		return nil, fmt.Errorf("%w: scrape_frequency_minutes must be positive", apperrors.ErrInvalidConfig)
	}

	jurisdiction, err := s.jurisdictionRepo.Update(ctx, key, update)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Jurisdiction updated",
		zap.String("jurisdiction", key),
		zap.Bool("active", jurisdiction.Active),
		zap.Int("scrape_frequency_minutes", jurisdiction.ScrapeFrequencyMinutes))
	s.cache.Invalidate(ctx)
	return jurisdiction, nil
}
