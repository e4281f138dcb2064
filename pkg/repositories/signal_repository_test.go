//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/testhelpers"
)

// signalTestContext holds test dependencies for signal repository tests.
type signalTestContext struct {
	t            *testing.T
	watchDB      *testhelpers.WatchDB
	repo         SignalRepository
	jurisdiction string
}

func setupSignalTest(t *testing.T) *signalTestContext {
	tc := &signalTestContext{
		t:            t,
		watchDB:      testhelpers.GetWatchDB(t),
		repo:         NewSignalRepository(),
		jurisdiction: "signal-test-" + uuid.NewString()[:8],
	}
	t.Cleanup(tc.cleanup)
	return tc
}

func (tc *signalTestContext) cleanup() {
	ctx := context.Background()
	scope, err := tc.watchDB.DB.Acquire(ctx)
	if err != nil {
		tc.t.Logf("failed to acquire scope for cleanup: %v", err)
		return
	}
	defer scope.Close()
	_, _ = scope.Conn.Exec(ctx, "DELETE FROM watch_signals WHERE jurisdiction = $1", tc.jurisdiction)
}

func (tc *signalTestContext) newSignal(sourceID string, priority int) *models.CompetitorSignal {
	return &models.CompetitorSignal{
		Type:         models.SignalTypePermit,
		Source:       "test_gis",
		Jurisdiction: tc.jurisdiction,
		SourceID:     sourceID,
		Title:        "Commercial: new office building",
		OccurredAt:   time.Now().Add(-24 * time.Hour),
		RawData:      map[string]any{"OBJECTID": sourceID},
		Priority:     priority,
	}
}

func TestSignalRepository_Upsert_Dedup(t *testing.T) {
	tc := setupSignalTest(t)
	ctx := tc.watchDB.ScopedContext(t)

	first := tc.newSignal("obj-1", 6)
	created, err := tc.repo.Upsert(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	again := tc.newSignal("obj-1", 7)
	again.Title = "Commercial: revised office building"
	created, err = tc.repo.Upsert(ctx, again)
	require.NoError(t, err)
	assert.False(t, created, "same dedup key must not create a second row")
	assert.Equal(t, first.ID, again.ID, "upsert should return the existing id")

	signals, err := tc.repo.List(ctx, models.SignalFilters{Jurisdiction: tc.jurisdiction})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "Commercial: revised office building", signals[0].Title)
	assert.Equal(t, 7, signals[0].Priority)
}

func TestSignalRepository_Upsert_PreservesEnrichmentState(t *testing.T) {
	tc := setupSignalTest(t)
	ctx := tc.watchDB.ScopedContext(t)

	s := tc.newSignal("obj-2", 5)
	_, err := tc.repo.Upsert(ctx, s)
	require.NoError(t, err)

	confidence := 0.7
	require.NoError(t, tc.repo.MarkAnalyzed(ctx, s.ID, &confidence))

	_, err = tc.repo.Upsert(ctx, tc.newSignal("obj-2", 5))
	require.NoError(t, err)

	got, err := tc.repo.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Analyzed)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.7, *got.Confidence, 0.0001)
}

func TestSignalRepository_ListUnanalyzed_RespectsMaxAttempts(t *testing.T) {
	tc := setupSignalTest(t)
	ctx := tc.watchDB.ScopedContext(t)

	fresh := tc.newSignal("obj-3", 5)
	exhausted := tc.newSignal("obj-4", 5)
	for _, s := range []*models.CompetitorSignal{fresh, exhausted} {
		_, err := tc.repo.Upsert(ctx, s)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, tc.repo.IncrementAttempts(ctx, exhausted.ID))
	}

	pending, err := tc.repo.ListUnanalyzed(ctx, 500, 3)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]bool)
	for _, s := range pending {
		ids[s.ID] = true
	}
	assert.True(t, ids[fresh.ID])
	assert.False(t, ids[exhausted.ID], "signals at max attempts are abandoned")
}

func TestSignalRepository_MarkAnalyzed_Once(t *testing.T) {
	tc := setupSignalTest(t)
	ctx := tc.watchDB.ScopedContext(t)

	s := tc.newSignal("obj-5", 5)
	_, err := tc.repo.Upsert(ctx, s)
	require.NoError(t, err)

	require.NoError(t, tc.repo.MarkAnalyzed(ctx, s.ID, nil))
	assert.Error(t, tc.repo.MarkAnalyzed(ctx, s.ID, nil), "analyzed flips exactly once")
}

func TestSignalRepository_CountByType(t *testing.T) {
	tc := setupSignalTest(t)
	ctx := tc.watchDB.ScopedContext(t)

	for _, id := range []string{"c-1", "c-2"} {
		_, err := tc.repo.Upsert(ctx, tc.newSignal(id, 5))
		require.NoError(t, err)
	}

	counts, err := tc.repo.CountByJurisdiction(ctx, time.Now().Add(-48*time.Hour))
	require.NoError(t, err)

	var found bool
	for _, c := range counts {
		if c.Key == tc.jurisdiction {
			found = true
			assert.Equal(t, 2, c.Count)
		}
	}
	assert.True(t, found)
}

func TestSignalRepository_RequiresScope(t *testing.T) {
	_, err := NewSignalRepository().Upsert(context.Background(), &models.CompetitorSignal{})
	assert.Error(t, err)

	_, ok := database.GetScope(context.Background())
	assert.False(t, ok)
}
