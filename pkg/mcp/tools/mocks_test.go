package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
)

type mockScopeProvider struct {
	err      error
	acquired int
	released int
}

func (m *mockScopeProvider) WithScope(ctx context.Context) (context.Context, func(), error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	m.acquired++
	return database.SetScope(ctx, &database.Scope{}), func() { m.released++ }, nil
}

type mockCompetitorService struct {
	dashboard     *models.Dashboard
	signals       []*models.CompetitorSignal
	entities      []*models.CompetitorEntity
	analyses      []*models.CompetitorAnalysis
	err           error
	signalFilters models.SignalFilters
	analysisFilt  models.AnalysisFilters
	activeFilter  *bool
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
	return nil, m.err
}

func (m *mockCompetitorService) ListAnalyses(ctx context.Context, filters models.AnalysisFilters) ([]*models.CompetitorAnalysis, error) {
	m.analysisFilt = filters
	return m.analyses, m.err
}

func (m *mockCompetitorService) ListJobs(ctx context.Context, filters models.JobFilters) ([]*models.ScrapeJob, error) {
	return nil, m.err
}

func (m *mockCompetitorService) UpdateEntity(ctx context.Context, id uuid.UUID, update *models.CompetitorEntityUpdate) (*models.CompetitorEntity, error) {
	return nil, m.err
}

func (m *mockCompetitorService) UpdateJurisdiction(ctx context.Context, key string, update *models.JurisdictionUpdate) (*models.Jurisdiction, error) {
	return nil, m.err
}

type mockWatchService struct {
	running  bool
	runs     []*models.CycleRun
	lastOpts services.CycleOptions
}

var _ services.WatchService = (*mockWatchService)(nil)

func (m *mockWatchService) RunFullCycle(ctx context.Context, opts services.CycleOptions) (*models.CycleReport, error) {
	return nil, nil
}

func (m *mockWatchService) StartCycle(ctx context.Context, opts services.CycleOptions) (*models.CycleRun, error) {
	m.lastOpts = opts
	if opts.DaysBack == 0 {
		opts.DaysBack = services.DefaultDaysBack
	}
	run := &models.CycleRun{ID: uuid.New(), DaysBack: opts.DaysBack, StartedAt: time.Now()}
	if m.running {
		run.Status = models.CycleStatusRejected
		m.runs = append(m.runs, run)
		return run, apperrors.ErrCycleInProgress
	}
	m.running = true
	run.Status = models.CycleStatusRunning
	m.runs = append(m.runs, run)
	return run, nil
}

func (m *mockWatchService) GetCycle(id uuid.UUID) (*models.CycleRun, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockWatchService) ListCycles() []*models.CycleRun { return m.runs }

func (m *mockWatchService) IsRunning() bool { return m.running }

func (m *mockWatchService) RunScheduler(ctx context.Context, interval time.Duration, daysBack int) {}

type toolFixture struct {
	server      *server.MCPServer
	scopes      *mockScopeProvider
	competitors *mockCompetitorService
	watch       *mockWatchService
}

func newToolFixture() *toolFixture {
	f := &toolFixture{
		server:      server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true)),
		scopes:      &mockScopeProvider{},
		competitors: &mockCompetitorService{},
		watch:       &mockWatchService{},
	}
	RegisterWatchTools(f.server, &WatchToolDeps{
		Scopes:      f.scopes,
		Competitors: f.competitors,
		Watch:       f.watch,
		Version:     "1.2.3",
		Logger:      zap.NewNop(),
	})
	return f
}

// toolResponse is the decoded JSON-RPC envelope of a tools/call.
type toolResponse struct {
	Result struct {
		IsError bool `json:"isError"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call invokes a tool through the JSON-RPC surface.
func (f *toolFixture) call(t *testing.T, name string, args map[string]any) toolResponse {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"params":  params,
		"id":      1,
	})
	require.NoError(t, err)

	result := f.server.HandleMessage(context.Background(), request)
	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var resp toolResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

// decodeText unmarshals the first text content of a successful tool result.
func decodeText(t *testing.T, resp toolResponse, v any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected JSON-RPC error")
	require.NotEmpty(t, resp.Result.Content)
	require.Equal(t, "text", resp.Result.Content[0].Type)
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), v))
}
