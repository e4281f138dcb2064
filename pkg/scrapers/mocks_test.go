package scrapers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
)

// mockJobRepository is an in-memory ScrapeJobRepository enforcing the job state machine.
type mockJobRepository struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.ScrapeJob
	order     []uuid.UUID
	createErr error
}

var _ repositories.ScrapeJobRepository = (*mockJobRepository)(nil)

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{jobs: make(map[uuid.UUID]*models.ScrapeJob)}
}

func (m *mockJobRepository) Create(ctx context.Context, job *models.ScrapeJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
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

func (m *mockJobRepository) finish(id uuid.UUID, status models.JobStatus, found, created int, msg *string) (*models.ScrapeJob, error) {
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
	job.ExecutionTimeMs = now.Sub(*job.StartedAt).Milliseconds()
	out := *job
	return &out, nil
}

func (m *mockJobRepository) Complete(ctx context.Context, id uuid.UUID, recordsFound, recordsNew int) (*models.ScrapeJob, error) {
	return m.finish(id, models.JobStatusDone, recordsFound, recordsNew, nil)
}

func (m *mockJobRepository) Fail(ctx context.Context, id uuid.UUID, errorMessage string) (*models.ScrapeJob, error) {
	return m.finish(id, models.JobStatusFailed, 0, 0, &errorMessage)
}

func (m *mockJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *job
	return &out, nil
}

func (m *mockJobRepository) List(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ScrapeJob, 0, len(m.order))
	for _, id := range m.order {
		job := *m.jobs[id]
		out = append(out, &job)
	}
	return out, nil
}

func (m *mockJobRepository) LastSuccessfulRun(ctx context.Context, jurisdiction string) (*time.Time, error) {
	return nil, nil
}

// last returns the most recently created job.
func (m *mockJobRepository) last() *models.ScrapeJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.order) == 0 {
		return nil
	}
	job := *m.jobs[m.order[len(m.order)-1]]
	return &job
}

// mockSignalRepository is an in-memory SignalRepository keyed by the dedup tuple.
type mockSignalRepository struct {
	mu        sync.Mutex
	byKey     map[string]*models.CompetitorSignal
	order     []string
	upsertErr error
}

var _ repositories.SignalRepository = (*mockSignalRepository)(nil)

func newMockSignalRepository() *mockSignalRepository {
	return &mockSignalRepository{byKey: make(map[string]*models.CompetitorSignal)}
}

func (m *mockSignalRepository) Upsert(ctx context.Context, s *models.CompetitorSignal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	key := s.Source + "|" + s.Jurisdiction + "|" + s.SourceID
	if existing, ok := m.byKey[key]; ok {
		existing.Title = s.Title
		existing.Priority = s.Priority
		return false, nil
	}
	stored := *s
	stored.ID = uuid.New()
	stored.Priority = models.ClampPriority(s.Priority)
	m.byKey[key] = &stored
	m.order = append(m.order, key)
	return true, nil
}

func (m *mockSignalRepository) all() []*models.CompetitorSignal {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.CompetitorSignal, 0, len(m.order))
	for _, k := range m.order {
		s := *m.byKey[k]
		out = append(out, &s)
	}
	return out
}

func (m *mockSignalRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.CompetitorSignal, error) {
	return nil, apperrors.ErrNotFound
}

func (m *mockSignalRepository) List(ctx context.Context, filters models.SignalFilters) ([]*models.CompetitorSignal, error) {
	return m.all(), nil
}

func (m *mockSignalRepository) ListUnanalyzed(ctx context.Context, limit, maxAttempts int) ([]*models.CompetitorSignal, error) {
	return nil, nil
}

func (m *mockSignalRepository) MarkAnalyzed(ctx context.Context, id uuid.UUID, confidence *float64) error {
	return nil
}

func (m *mockSignalRepository) IncrementAttempts(ctx context.Context, id uuid.UUID) error {
	return nil
}

func (m *mockSignalRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

func (m *mockSignalRepository) CountByType(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return nil, nil
}

func (m *mockSignalRepository) CountByJurisdiction(ctx context.Context, since time.Time) ([]models.CountByKey, error) {
	return nil, nil
}

func (m *mockSignalRepository) CountByCompetitor(ctx context.Context, since time.Time, limit int) ([]models.CountByKey, error) {
	return nil, nil
}

// testNow is the fixed clock used by adapter tests.
var testNow = time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC)

type testDeps struct {
	Deps
	jobs    *mockJobRepository
	signals *mockSignalRepository
}

func newTestDeps(t *testing.T, entities ...*models.CompetitorEntity) *testDeps {
	t.Helper()
	jobs := newMockJobRepository()
	signals := newMockSignalRepository()
	logger := zap.NewNop()
	return &testDeps{
		Deps: Deps{
			Jobs:    jobs,
			Signals: signals,
			Fetcher: NewFetcher(FetcherConfig{Timeout: 5 * time.Second}, logger),
			Matcher: NewMatcher(entities),
			Logger:  logger,
			Now:     func() time.Time { return testNow },
		},
		jobs:    jobs,
		signals: signals,
	}
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
