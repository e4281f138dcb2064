package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
)

var testNow = time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC)

// mockScopeProvider hands out the caller's context unchanged.
type mockScopeProvider struct {
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (m *mockScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	m.acquired.Add(1)
	return ctx, func() { m.released.Add(1) }, nil
}

// ============================================================================
// Repositories
// ============================================================================

type mockJurisdictionRepo struct {
	mu            sync.Mutex
	jurisdictions map[string]*models.Jurisdiction
	listErr       error
}

var _ repositories.JurisdictionRepository = (*mockJurisdictionRepo)(nil)

func newMockJurisdictionRepo(js ...*models.Jurisdiction) *mockJurisdictionRepo {
	m := &mockJurisdictionRepo{jurisdictions: make(map[string]*models.Jurisdiction)}
	for _, j := range js {
		m.jurisdictions[j.Key] = j
	}
	return m
}

func (m *mockJurisdictionRepo) CreateIfAbsent(ctx context.Context, j *models.Jurisdiction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jurisdictions[j.Key]; ok {
		return false, nil
	}
	m.jurisdictions[j.Key] = j
	return true, nil
}

func (m *mockJurisdictionRepo) GetByKey(ctx context.Context, key string) (*models.Jurisdiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jurisdictions[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return j, nil
}

func (m *mockJurisdictionRepo) List(ctx context.Context, active *bool) ([]*models.Jurisdiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.Jurisdiction, 0, len(m.jurisdictions))
	for _, j := range m.jurisdictions {
		if active == nil || j.Active == *active {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

func (m *mockJurisdictionRepo) Update(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jurisdictions[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if update.Label != nil {
		j.Label = *update.Label
	}
	if update.Active != nil {
		j.Active = *update.Active
	}
	if update.ScrapeFrequencyMinutes != nil {
		j.ScrapeFrequencyMinutes = *update.ScrapeFrequencyMinutes
	}
	return j, nil
}

type mockEntityRepo struct {
	mu       sync.Mutex
	entities []*models.CompetitorEntity
}

var _ repositories.EntityRepository = (*mockEntityRepo)(nil)

func (m *mockEntityRepo) CreateIfAbsent(ctx context.Context, e *models.CompetitorEntity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.entities {
		if strings.EqualFold(existing.Name, e.Name) {
			return false, nil
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entities = append(m.entities, e)
	return true, nil
}

func (m *mockEntityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEntityRepo) GetByName(ctx context.Context, name string) (*models.CompetitorEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entities {
		if strings.EqualFold(e.Name, name) {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockEntityRepo) List(ctx context.Context, active *bool) ([]*models.CompetitorEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CompetitorEntity, 0, len(m.entities))
	for _, e := range m.entities {
		if active == nil || e.Active == *active {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockEntityRepo) Update(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var target *models.CompetitorEntity
	for _, e := range m.entities {
		if e.ID == id {
			target = e
		}
	}
	if target == nil {
		return nil, apperrors.ErrNotFound
	}
	if update.Name != nil {
		for _, e := range m.entities {
			if e.ID != id && strings.EqualFold(e.Name, *update.Name) {
				return nil, apperrors.ErrConflict
			}
		}
		target.Name = *update.Name
	}
	if update.Keywords != nil {
		target.Keywords = *update.Keywords
	}
	if update.Active != nil {
		target.Active = *update.Active
	}
	return target, nil
}

type mockJobRepo struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*models.ScrapeJob
	order   []uuid.UUID
	lastRun map[string]time.Time
}

var _ repositories.ScrapeJobRepository = (*mockJobRepo)(nil)

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{
		jobs:    make(map[uuid.UUID]*models.ScrapeJob),
		lastRun: make(map[string]time.Time),
	}
}

func (m *mockJobRepo) Create(ctx context.Context, job *models.ScrapeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	job.ID = uuid.New()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	job.CreatedAt = now
	stored := *job
	m.jobs[job.ID] = &stored
	m.order = append(m.order, job.ID)
	return nil
}

func (m *mockJobRepo) finish(id uuid.UUID, status models.JobStatus, found, created int, msg *string) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || !models.CanTransition(job.Status, status) {
		return nil, apperrors.ErrJobNotRunning
	}
	now := time.Now()
	job.Status = status
	job.FinishedAt = &now
	job.RecordsFound = found
	job.RecordsNew = created
	job.ErrorMessage = msg
	out := *job
	return &out, nil
}

func (m *mockJobRepo) Complete(ctx context.Context, id uuid.UUID, recordsFound, recordsNew int) (*models.ScrapeJob, error) {
	return m.finish(id, models.JobStatusDone, recordsFound, recordsNew, nil)
}

func (m *mockJobRepo) Fail(ctx context.Context, id uuid.UUID, errorMessage string) (*models.ScrapeJob, error) {
	return m.finish(id, models.JobStatusFailed, 0, 0, &errorMessage)
}

func (m *mockJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return job, nil
}

func (m *mockJobRepo) List(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScrapeJob, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		job := m.jobs[m.order[i]]
		if filters.Status != "" && job.Status != filters.Status {
			continue
		}
		if filters.Source != "" && job.Source != filters.Source {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

func (m *mockJobRepo) LastSuccessfulRun(ctx context.Context, jurisdiction string) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.lastRun[jurisdiction]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *mockJobRepo) bySource(source string) []*models.ScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScrapeJob
	for _, id := range m.order {
		if m.jobs[id].Source == source {
			out = append(out, m.jobs[id])
		}
	}
	return out
}

// mockSignalRepo enforces the (source, jurisdiction, source_id) dedup key in memory.
type mockSignalRepo struct {
	mu         sync.Mutex
	signals    map[string]*models.CompetitorSignal
	order      []string
	topCounts  []models.CountByKey
	listFilter models.SignalFilters
}

var _ repositories.SignalRepository = (*mockSignalRepo)(nil)

func newMockSignalRepo() *mockSignalRepo {
	return &mockSignalRepo{signals: make(map[string]*models.CompetitorSignal)}
}

func signalKey(s *models.CompetitorSignal) string {
	return s.Source + "|" + s.Jurisdiction + "|" + s.SourceID
}

func (m *mockSignalRepo) add(s *models.CompetitorSignal) *models.CompetitorSignal {
	_, _ = m.Upsert(context.Background(), s)
	return s
}

func (m *mockSignalRepo) Upsert(ctx context.Context, s *models.CompetitorSignal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := signalKey(s)
	if existing, ok := m.signals[key]; ok {
		s.ID = existing.ID
		return false, nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	stored := *s
	m.signals[key] = &stored
	m.order = append(m.order, key)
	return true, nil
}

func (m *mockSignalRepo) byID(id uuid.UUID) *models.CompetitorSignal {
	for _, s := range m.signals {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *mockSignalRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.byID(id); s != nil {
		return s, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockSignalRepo) List(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter = filters
	out := make([]*models.CompetitorSignal, 0, len(m.order))
	for _, key := range m.order {
		s := m.signals[key]
		if filters.MinPriority > 0 && s.Priority < filters.MinPriority {
			continue
		}
		if filters.Type != "" && s.Type != filters.Type {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *mockSignalRepo) ListUnanalyzed(ctx context.Context, limit, maxAttempts int) ([]*models.CompetitorSignal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.CompetitorSignal
	for _, key := range m.order {
		s := m.signals[key]
		if s.Analyzed || s.AnalysisAttempts >= maxAttempts {
			continue
		}
		copied := *s
		out = append(out, &copied)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockSignalRepo) MarkAnalyzed(ctx context.Context, id uuid.UUID, confidence *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(id)
	if s == nil || s.Analyzed {
		return apperrors.ErrNotFound
	}
	s.Analyzed = true
	if confidence != nil {
		s.Confidence = confidence
	}
	return nil
}

func (m *mockSignalRepo) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.byID(id)
	if s == nil {
		return apperrors.ErrNotFound
	}
	s.AnalysisAttempts++
	return nil
}

func (m *mockSignalRepo) CountSince(ctx context.Context, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.signals), nil
}

func (m *mockSignalRepo) CountByType(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, s := range m.signals {
		counts[s.Type]++
	}
	out := make([]models.CountByKey, 0, len(counts))
	for k, v := range counts {
		out = append(out, models.CountByKey{Key: k, Count: v})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

func (m *mockSignalRepo) CountByJurisdiction(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return []models.CountByKey{}, nil
}

func (m *mockSignalRepo) CountByCompetitor(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topCounts != nil {
		return m.topCounts, nil
	}
	return []models.CountByKey{}, nil
}

func (m *mockSignalRepo) get(source, jurisdiction, sourceID string) *models.CompetitorSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signals[source+"|"+jurisdiction+"|"+sourceID]
}

func (m *mockSignalRepo) all() []*models.CompetitorSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CompetitorSignal, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.signals[key])
	}
	return out
}

// mockAnalysisRepo records analyses and closes the signal, like the real transaction.
type mockAnalysisRepo struct {
	mu       sync.Mutex
	signals  *mockSignalRepo
	analyses []*models.CompetitorAnalysis
}

var _ repositories.AnalysisRepository = (*mockAnalysisRepo)(nil)

func (m *mockAnalysisRepo) Record(ctx context.Context, a *models.CompetitorAnalysis) error {
	confidence := a.Confidence
	if err := m.signals.MarkAnalyzed(ctx, a.SignalID, &confidence); err != nil {
		return apperrors.ErrConflict
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	m.analyses = append(m.analyses, a)
	return nil
}

func (m *mockAnalysisRepo) List(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CompetitorAnalysis, 0, len(m.analyses))
	for _, a := range m.analyses {
		if filters.CompetitorID != nil && a.CompetitorID != *filters.CompetitorID {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *mockAnalysisRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.analyses)
}

// ============================================================================
// Services
// ============================================================================

type mockEnrichmentService struct {
	analyzeFunc func(ctx context.Context, signal *models.CompetitorSignal, competitor *models.CompetitorEntity) (*models.CompetitorAnalysis, error)
	calls       atomic.Int32
}

func (m *mockEnrichmentService) Analyze(ctx context.Context, signal *models.CompetitorSignal, competitor *models.CompetitorEntity) (*models.CompetitorAnalysis, error) {
	m.calls.Add(1)
	if m.analyzeFunc != nil {
		return m.analyzeFunc(ctx, signal, competitor)
	}
	return &models.CompetitorAnalysis{
		SignalID:        signal.ID,
		CompetitorID:    competitor.ID,
		Analysis:        "Competitor is expanding.",
		Impact:          models.ImpactHigh,
		Confidence:      0.8,
		Recommendations: []string{"Watch closely"},
	}, nil
}

type mockDashboardCache struct {
	mu          sync.Mutex
	dashboard   *models.Dashboard
	sets        int
	invalidates int
}

func (m *mockDashboardCache) Get(ctx context.Context) (*models.Dashboard, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dashboard, m.dashboard != nil
}

func (m *mockDashboardCache) Set(ctx context.Context, d *models.Dashboard) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dashboard = d
	m.sets++
}

func (m *mockDashboardCache) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dashboard = nil
	m.invalidates++
}

func testEntity(name string, keywords ...string) *models.CompetitorEntity {
	return &models.CompetitorEntity{
		ID:       uuid.New(),
		Name:     name,
		Type:     models.EntityTypeCompany,
		Keywords: keywords,
		Active:   true,
	}
}

func strPtr(s string) *string {
	return &s
}
