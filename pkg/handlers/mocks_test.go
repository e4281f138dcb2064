package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

// mockCompetitorService is a configurable mock for handler tests.
type mockCompetitorService struct {
	dashboard     *models.Dashboard
	signals       []*models.CompetitorSignal
	entities      []*models.CompetitorEntity
	jurisdictions []*models.Jurisdiction
	analyses      []*models.CompetitorAnalysis
	jobs          []*models.ScrapeJob
	err           error

	signalFilters   models.SignalFilters
	analysisFilters models.AnalysisFilters
	jobFilters      models.JobFilters
	activeFilter    *bool
	entityUpdate    *models.CompetitorEntityUpdate
	jurisdictionKey string
}

var _ services.CompetitorService = (*mockCompetitorService)(nil)

func (m *mockCompetitorService) GetDashboard(ctx context.Context) (*models.Dashboard, error) {
	return m.dashboard, m.err
}

func (m *mockCompetitorService) ListSignals(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error) {
	m.signalFilters = filters
	return m.signals, m.err
}

func (m *mockCompetitorService) ListEntities(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error) {
	m.activeFilter = active
	return m.entities, m.err
}

func (m *mockCompetitorService) ListJurisdictions(ctx context.Context, active *bool) ([]*models.Jurisdiction, error) {
	m.activeFilter = active
	return m.jurisdictions, m.err
}

func (m *mockCompetitorService) ListAnalyses(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error) {
	m.analysisFilters = filters
	return m.analyses, m.err
}

func (m *mockCompetitorService) ListJobs(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	m.jobFilters = filters
	return m.jobs, m.err
}

func (m *mockCompetitorService) UpdateEntity(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error) {
	m.entityUpdate = update
	if m.err != nil {
		return nil, m.err
	}
	entity := &models.CompetitorEntity{ID: id, Name: "Greystar", Active: true}
	if update.Name != nil {
		entity.Name = *update.Name
	}
	if update.Active != nil {
		entity.Active = *update.Active
	}
	return entity, nil
}

func (m *mockCompetitorService) UpdateJurisdiction(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error) {
	m.jurisdictionKey = key
	if m.err != nil {
		return nil, m.err
	}
	j := &models.Jurisdiction{Key: key, Label: "Austin, TX", Active: true, ScrapeFrequencyMinutes: 1440}
	if update.ScrapeFrequencyMinutes != nil {
		j.ScrapeFrequencyMinutes = *update.ScrapeFrequencyMinutes
	}
	return j, nil
}

// mockWatchService records triggers and serves canned cycle runs.
type mockWatchService struct {
	mu       sync.Mutex
	running  bool
	runs     map[uuid.UUID]*models.CycleRun
	lastOpts services.CycleOptions
}

var _ services.WatchService = (*mockWatchService)(nil)

func newMockWatchService() *mockWatchService {
	return &mockWatchService{runs: make(map[uuid.UUID]*models.CycleRun)}
}

func (m *mockWatchService) RunFullCycle(ctx context.Context, opts services.CycleOptions) (*models.CycleReport, error) {
	return &models.CycleReport{DaysBack: opts.DaysBack}, nil
}

func (m *mockWatchService) StartCycle(ctx context.Context, opts services.CycleOptions) (*models.CycleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastOpts = opts
	if opts.DaysBack <= 0 {
		opts.DaysBack = services.DefaultDaysBack
	}
	run := &models.CycleRun{
		ID:        uuid.New(),
		Status:    models.CycleStatusRunning,
		DaysBack:  opts.DaysBack,
		StartedAt: time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC),
	}
	if m.running {
		run.Status = models.CycleStatusRejected
		m.runs[run.ID] = run
		return run, apperrors.ErrCycleInProgress
	}
	m.running = true
	m.runs[run.ID] = run
	return run, nil
}

func (m *mockWatchService) GetCycle(id uuid.UUID) (*models.CycleRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return run, nil
}

func (m *mockWatchService) ListCycles() []*models.CycleRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*models.CycleRun, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	return runs
}

func (m *mockWatchService) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockWatchService) RunScheduler(ctx context.Context, interval time.Duration, daysBack int) {}

// mockPinger fails pings when err is set.
type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.err
}

// passThroughScope stands in for the database scope middleware.
func passThroughScope(next http.HandlerFunc) http.HandlerFunc {
	return next
}
