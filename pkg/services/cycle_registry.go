package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
)

// maxTrackedCycles bounds how many runs stay queryable in memory.
const maxTrackedCycles = 50

// cycleRegistry keeps the most recent cycle runs, oldest evicted first.
type cycleRegistry struct {
	mu    sync.Mutex
	runs  map[uuid.UUID]*models.CycleRun
	order []uuid.UUID
	limit int
}

func newCycleRegistry(limit int) *cycleRegistry {
	if limit < 1 {
		limit = maxTrackedCycles
	}
	return &cycleRegistry{
		runs:  make(map[uuid.UUID]*models.CycleRun),
		limit: limit,
	}
}

// start records a new run and returns a copy of it.
func (r *cycleRegistry) start(opts CycleOptions, status models.CycleStatus, now time.Time) *models.CycleRun {
	run := &models.CycleRun{
		ID:        uuid.New(),
		Status:    status,
		DaysBack:  opts.DaysBack,
		Scheduled: opts.Scheduled,
		StartedAt: now,
	}
	if status == models.CycleStatusRejected {
		run.FinishedAt = &now
		run.Error = apperrors.ErrCycleInProgress.Error()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[run.ID] = run
	r.order = append(r.order, run.ID)
	for len(r.order) > r.limit {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}

	copied := *run
	return &copied
}

// finish stores the outcome of a running cycle.
func (r *cycleRegistry) finish(id uuid.UUID, report *models.CycleReport, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.Status != models.CycleStatusRunning {
		return
	}
	run.FinishedAt = &now
	run.Report = report
	if err != nil {
		run.Status = models.CycleStatusFailed
		run.Error = err.Error()
		return
	}
	run.Status = models.CycleStatusCompleted
}

func (r *cycleRegistry) get(id uuid.UUID) (*models.CycleRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

// list returns runs newest first.
func (r *cycleRegistry) list() []*models.CycleRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs := make([]*models.CycleRun, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		copied := *r.runs[r.order[i]]
		runs = append(runs, &copied)
	}
	return runs
}
