package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-watch/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-watch/pkg/config"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/llm"
	"github.com/ekaya-inc/ekaya-watch/pkg/models"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
	"github.com/ekaya-inc/ekaya-watch/pkg/scrapers"
	"github.com/ekaya-inc/ekaya-watch/pkg/watchlist"
)

const (
	// DefaultDaysBack is the lookback window when a trigger does not specify one.
	DefaultDaysBack = 7

	// topCompetitorWindowDays is the window for the report's most active competitors.
	topCompetitorWindowDays = 7
	topCompetitorLimit      = 5
)

// errBreakerOpen marks signals that were not attempted because the circuit breaker refused.
var errBreakerOpen = errors.New("enrichment deferred")

var errEmptyAnalysis = errors.New("enrichment returned no analysis")

// CycleOptions controls one full watch cycle.
type CycleOptions struct {
	DaysBack int `json:"days_back"`
	// Scheduled runs skip jurisdictions scraped successfully within their frequency.
	Scheduled bool `json:"scheduled"`
}

// WatchConfig tunes the orchestrator.
type WatchConfig struct {
	Scraper config.ScraperConfig
	// AnalysisBatch caps how many unanalyzed signals one cycle picks up.
	AnalysisBatch int
	// MaxAttempts is how many failed enrichments a signal may accumulate before it is abandoned.
	MaxAttempts   int
	MaxConcurrent int
	Breaker       llm.CircuitBreakerConfig
}

// WatchConfigFrom builds orchestrator settings from application configuration.
func WatchConfigFrom(cfg *config.Config) WatchConfig {
	return WatchConfig{
		Scraper:       cfg.Scraper,
		AnalysisBatch: cfg.LLM.BatchSize,
		MaxAttempts:   cfg.LLM.MaxAttempts,
		MaxConcurrent: cfg.LLM.MaxConcurrent,
		Breaker:       llm.DefaultCircuitBreakerConfig(),
	}
}

// WatchServiceDeps are the collaborators of the orchestrator.
type WatchServiceDeps struct {
	Scopes        database.ScopeProvider
	Jurisdictions repositories.JurisdictionRepository
	Entities      repositories.EntityRepository
	Jobs          repositories.ScrapeJobRepository
	Signals       repositories.SignalRepository
	Analyses      repositories.AnalysisRepository
	// Enrichment may be nil, which leaves signals unanalyzed.
	Enrichment EnrichmentService
	Cache      DashboardCache
	Fetcher    *scrapers.Fetcher
	// Seed may be nil when no watchlist file is configured.
	Seed *watchlist.Watchlist
}

// WatchService runs full watch cycles: seed, scrape, analyze, report.
// At most one cycle runs per process at any time.
type WatchService interface {
	// RunFullCycle runs a cycle synchronously.
	// Returns apperrors.ErrCycleInProgress if another cycle is running.
	RunFullCycle(ctx context.Context, opts CycleOptions) (*models.CycleReport, error)

	// StartCycle starts a cycle in the background and returns its run record immediately.
	// A rejected trigger is still recorded and returned along with ErrCycleInProgress.
	StartCycle(ctx context.Context, opts CycleOptions) (*models.CycleRun, error)

	GetCycle(id uuid.UUID) (*models.CycleRun, error)
	ListCycles() []*models.CycleRun
	IsRunning() bool

	// RunScheduler starts a background goroutine that runs scheduled cycles.
	// It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration, daysBack int)
}

type watchService struct {
	deps    WatchServiceDeps
	cfg     WatchConfig
	breaker *llm.CircuitBreaker
	pool    *llm.WorkerPool
	running atomic.Bool
	cycles  *cycleRegistry
	now     func() time.Time
	logger  *zap.Logger
}

// NewWatchService creates the orchestrator.
func NewWatchService(deps WatchServiceDeps, cfg WatchConfig, logger *zap.Logger) WatchService {
	if deps.Cache == nil {
		deps.Cache = noopDashboardCache{}
	}
	if cfg.Scraper.MaxParallelJurisdictions < 1 {
		cfg.Scraper.MaxParallelJurisdictions = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.AnalysisBatch < 1 {
		cfg.AnalysisBatch = 100
	}

	logger = logger.Named("watch-service")
	return &watchService{
		deps:    deps,
		cfg:     cfg,
		breaker: llm.NewCircuitBreaker(cfg.Breaker),
		pool:    llm.NewWorkerPool(llm.WorkerPoolConfig{MaxConcurrent: cfg.MaxConcurrent}, logger),
		cycles:  newCycleRegistry(maxTrackedCycles),
		now:     time.Now,
		logger:  logger,
	}
}

var _ WatchService = (*watchService)(nil)

func (s *watchService) IsRunning() bool {
	return s.running.Load()
}

func (s *watchService) RunFullCycle(ctx context.Context, opts CycleOptions) (*models.CycleReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Watch cycle already in progress, ignoring trigger")
		return nil, apperrors.ErrCycleInProgress
	}
	defer s.running.Store(false)

	return s.runCycle(ctx, withDefaults(opts))
}

func (s *watchService) StartCycle(ctx context.Context, opts CycleOptions) (*models.CycleRun, error) {
	opts = withDefaults(opts)

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("Watch cycle already in progress, rejecting trigger")
		return s.cycles.start(opts, models.CycleStatusRejected, s.now()), apperrors.ErrCycleInProgress
	}

	run := s.cycles.start(opts, models.CycleStatusRunning, s.now())

	// The cycle outlives the triggering request.
	cycleCtx := context.WithoutCancel(ctx)
	go s.execute(cycleCtx, run.ID, opts)

	return run, nil
}

func (s *watchService) GetCycle(id uuid.UUID) (*models.CycleRun, error) {
	return s.cycles.get(id)
}

func (s *watchService) ListCycles() []*models.CycleRun {
	return s.cycles.list()
}

func (s *watchService) RunScheduler(ctx context.Context, interval time.Duration, daysBack int) {
	opts := withDefaults(CycleOptions{DaysBack: daysBack, Scheduled: true})

	go func() {
		s.logger.Info("Watch scheduler started",
			zap.Duration("interval", interval),
			zap.Int("days_back", opts.DaysBack))

		// Run immediately on startup, then at each interval
		s.runScheduled(ctx, opts)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Watch scheduler stopped")
				return
			case <-ticker.C:
				s.runScheduled(ctx, opts)
			}
		}
	}()
}

func (s *watchService) runScheduled(ctx context.Context, opts CycleOptions) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("Skipping scheduled cycle, previous cycle still running")
		return
	}
	run := s.cycles.start(opts, models.CycleStatusRunning, s.now())
	s.execute(ctx, run.ID, opts)
}

// execute runs a cycle whose guard is already held and records the outcome.
func (s *watchService) execute(ctx context.Context, runID uuid.UUID, opts CycleOptions) {
	defer s.running.Store(false)

	report, err := s.safeRunCycle(ctx, opts)
	if err != nil {
		s.logger.Error("Watch cycle failed",
			zap.String("cycle_id", runID.String()),
			zap.Error(err))
	}
	s.cycles.finish(runID, report, err, s.now())
}

func (s *watchService) safeRunCycle(ctx context.Context, opts CycleOptions) (report *models.CycleReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("watch cycle panic: %v", r)
		}
	}()
	return s.runCycle(ctx, opts)
}

func withDefaults(opts CycleOptions) CycleOptions {
	if opts.DaysBack <= 0 {
		opts.DaysBack = DefaultDaysBack
	}
	return opts
}

// runCycle performs one cycle. The caller holds the running guard.
func (s *watchService) runCycle(ctx context.Context, opts CycleOptions) (*models.CycleReport, error) {
	start := s.now()
	logger := s.logger.With(
		zap.Int("days_back", opts.DaysBack),
		zap.Bool("scheduled", opts.Scheduled))
	logger.Info("Watch cycle started")

	scopedCtx, cleanup, err := s.deps.Scopes.WithScope(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database scope: %w", err)
	}
	defer cleanup()

	if err := s.seed(scopedCtx); err != nil {
		return nil, err
	}

	active := true
	jurisdictions, err := s.deps.Jurisdictions.List(scopedCtx, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to list jurisdictions: %w", err)
	}
	entities, err := s.deps.Entities.List(scopedCtx, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to list competitor entities: %w", err)
	}

	report := &models.CycleReport{
		StartedAt:            start,
		DaysBack:             opts.DaysBack,
		JurisdictionsTracked: len(jurisdictions),
		EntitiesTracked:      len(entities),
	}

	due, skipped := s.dueJurisdictions(scopedCtx, jurisdictions, opts, start)
	report.SkippedJurisdictions = skipped

	s.scrapePhase(ctx, due, entities, opts, report)
	report.Analysis = s.analysisPhase(scopedCtx)

	top, err := s.deps.Signals.CountByCompetitor(scopedCtx, start.AddDate(0, 0, -topCompetitorWindowDays), topCompetitorLimit)
	if err != nil {
		logger.Warn("Failed to rank competitors for report", zap.Error(err))
		top = []models.CountByKey{}
	}
	report.TopCompetitors = top
	report.FinishedAt = s.now()
	report.Summary = buildCycleSummary(report)

	s.deps.Cache.Invalidate(ctx)

	logger.Info("Watch cycle completed",
		zap.Int("records_found", report.Total.Found),
		zap.Int("records_new", report.Total.New),
		zap.Int("failed_jobs", report.Total.Failed),
		zap.Int("signals_analyzed", report.Analysis.Analyzed),
		zap.Duration("duration", report.FinishedAt.Sub(start)))
	logger.Info(report.Summary)

	return report, nil
}

// seed inserts watchlist records that are not yet stored. Existing rows are left untouched.
func (s *watchService) seed(ctx context.Context) error {
	if s.deps.Seed == nil {
		return nil
	}

	var createdJurisdictions, createdEntities int
	for _, j := range s.deps.Seed.JurisdictionModels() {
		created, err := s.deps.Jurisdictions.CreateIfAbsent(ctx, j)
		if err != nil {
			return fmt.Errorf("failed to seed jurisdiction %s: %w", j.Key, err)
		}
		if created {
			createdJurisdictions++
		}
	}
	for _, e := range s.deps.Seed.CompetitorModels() {
		created, err := s.deps.Entities.CreateIfAbsent(ctx, e)
		if err != nil {
			return fmt.Errorf("failed to seed competitor entity %s: %w", e.Name, err)
		}
		if created {
			createdEntities++
		}
	}

	if createdJurisdictions > 0 || createdEntities > 0 {
		s.logger.Info("Seeded watchlist",
			zap.Int("jurisdictions_created", createdJurisdictions),
			zap.Int("entities_created", createdEntities))
	}
	return nil
}

// dueJurisdictions drops, for scheduled runs, jurisdictions whose last successful
// job is younger than their scrape frequency. Manual runs scrape everything.
func (s *watchService) dueJurisdictions(ctx context.Context, jurisdictions []*models.Jurisdiction, opts CycleOptions, now time.Time) ([]*models.Jurisdiction, []string) {
	if !opts.Scheduled {
		return jurisdictions, nil
	}

	due := make([]*models.Jurisdiction, 0, len(jurisdictions))
	var skipped []string
	for _, j := range jurisdictions {
		if j.ScrapeFrequencyMinutes <= 0 {
			due = append(due, j)
			continue
		}
		last, err := s.deps.Jobs.LastSuccessfulRun(ctx, j.Key)
		if err != nil {
			s.logger.Warn("Failed to read last successful run, scraping anyway",
				zap.String("jurisdiction", j.Key),
				zap.Error(err))
			due = append(due, j)
			continue
		}
		if last != nil && now.Sub(*last) < time.Duration(j.ScrapeFrequencyMinutes)*time.Minute {
			skipped = append(skipped, j.Key)
			continue
		}
		due = append(due, j)
	}
	return due, skipped
}

// scrapeTally accumulates adapter results from concurrent jurisdictions.
type scrapeTally struct {
	mu      sync.Mutex
	permits models.ScrapeCounts
	filings models.ScrapeCounts
	agendas models.ScrapeCounts
}

func (t *scrapeTally) record(counts *models.ScrapeCounts, result *scrapers.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts.Jobs++
	if err != nil {
		counts.Failed++
		return
	}
	counts.Found += result.RecordsFound
	counts.New += result.RecordsNew
}

func (t *scrapeTally) failed(counts *models.ScrapeCounts, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts.Failed += n
}

// scrapePhase runs every adapter. Jurisdictions run in parallel up to the configured
// limit, each on its own connection; adapters within a jurisdiction run in order.
// No adapter failure stops another.
func (s *watchService) scrapePhase(ctx context.Context, jurisdictions []*models.Jurisdiction, entities []*models.CompetitorEntity, opts CycleOptions, report *models.CycleReport) {
	deps := scrapers.Deps{
		Jobs:    s.deps.Jobs,
		Signals: s.deps.Signals,
		Fetcher: s.deps.Fetcher,
		Matcher: scrapers.NewMatcher(entities),
		Logger:  s.logger,
		Now:     s.now,
	}
	scrapeOpts := scrapers.Options{DaysBack: opts.DaysBack}
	tally := &scrapeTally{}

	var g errgroup.Group
	g.SetLimit(s.cfg.Scraper.MaxParallelJurisdictions)

	g.Go(func() error {
		s.scrapeFilings(ctx, entities, deps, scrapeOpts, tally)
		return nil
	})
	for _, j := range jurisdictions {
		g.Go(func() error {
			s.scrapeJurisdiction(ctx, j, deps, scrapeOpts, tally)
			return nil
		})
	}
	_ = g.Wait()

	report.Permits = tally.permits
	report.Filings = tally.filings
	report.Agendas = tally.agendas
	report.Total = models.ScrapeCounts{}
	report.Total.Add(tally.permits)
	report.Total.Add(tally.filings)
	report.Total.Add(tally.agendas)
}

func (s *watchService) scrapeJurisdiction(ctx context.Context, j *models.Jurisdiction, deps scrapers.Deps, opts scrapers.Options, tally *scrapeTally) {
	logger := s.logger.With(zap.String("jurisdiction", j.Key))

	scopedCtx, cleanup, err := s.deps.Scopes.WithScope(ctx)
	if err != nil {
		logger.Error("Failed to acquire database scope for jurisdiction", zap.Error(err))
		tally.failed(&tally.permits, len(j.Datasets))
		tally.failed(&tally.agendas, len(j.AgendaSources))
		return
	}
	defer cleanup()

	for _, ds := range j.Datasets {
		if ds.Type != models.DatasetTypeArcGIS {
			logger.Debug("Skipping dataset with unsupported type",
				zap.String("dataset", ds.Key),
				zap.String("type", ds.Type))
			continue
		}
		scraper, err := scrapers.NewGISScraper(j, ds, s.cfg.Scraper.GISPageSize, deps)
		if err != nil {
			logger.Error("Invalid dataset configuration",
				zap.String("dataset", ds.Key),
				zap.Error(err))
			tally.failed(&tally.permits, 1)
			continue
		}
		result, err := s.runScraper(scopedCtx, logger.With(zap.String("dataset", ds.Key)), scraper, opts)
		tally.record(&tally.permits, result, err)
	}

	for _, src := range j.AgendaSources {
		scraper, err := scrapers.NewAgendaScraper(j, src, deps)
		if err != nil {
			logger.Error("Invalid agenda source configuration",
				zap.String("agenda_source", src.Key),
				zap.Error(err))
			tally.failed(&tally.agendas, 1)
			continue
		}
		result, err := s.runScraper(scopedCtx, logger.With(zap.String("agenda_source", src.Key)), scraper, opts)
		tally.record(&tally.agendas, result, err)
	}
}

func (s *watchService) scrapeFilings(ctx context.Context, entities []*models.CompetitorEntity, deps scrapers.Deps, opts scrapers.Options, tally *scrapeTally) {
	scraper, err := scrapers.NewFilingScraper(scrapers.FilingConfig{
		BaseURL:    s.cfg.Scraper.SECBaseURL,
		UserAgent:  s.cfg.Scraper.SECUserAgent,
		FeedCount:  s.cfg.Scraper.SECFeedCount,
		FilerDelay: time.Duration(s.cfg.Scraper.FilerDelayMs) * time.Millisecond,
	}, entities, deps)
	if err != nil {
		s.logger.Error("Invalid filing adapter configuration", zap.Error(err))
		tally.failed(&tally.filings, 1)
		return
	}
	if scraper.Filers() == 0 {
		s.logger.Debug("No tracked filers, skipping filing adapter")
		return
	}

	scopedCtx, cleanup, err := s.deps.Scopes.WithScope(ctx)
	if err != nil {
		s.logger.Error("Failed to acquire database scope for filings", zap.Error(err))
		tally.failed(&tally.filings, 1)
		return
	}
	defer cleanup()

	result, err := s.runScraper(scopedCtx, s.logger.With(zap.String("jurisdiction", scrapers.NationalJurisdiction)), scraper, opts)
	tally.record(&tally.filings, result, err)
}

func (s *watchService) runScraper(ctx context.Context, logger *zap.Logger, scraper scrapers.Scraper, opts scrapers.Options) (*scrapers.Result, error) {
	result, err := scraper.Scrape(ctx, opts)
	if err != nil {
		logger.Error("Adapter run failed",
			zap.String("source", scraper.Source()),
			zap.Error(err))
		return nil, err
	}
	logger.Info("Adapter run finished",
		zap.String("source", scraper.Source()),
		zap.String("job_id", result.JobID.String()),
		zap.Int("records_found", result.RecordsFound),
		zap.Int("records_new", result.RecordsNew))
	return result, nil
}

// analysisPhase enriches pending signals. Signals without a competitor match are
// closed without a model call, even when no model is configured. Model calls run
// in parallel; store writes happen afterwards on the caller's connection.
func (s *watchService) analysisPhase(ctx context.Context) models.AnalysisCounts {
	var counts models.AnalysisCounts
	counts.Disabled = s.deps.Enrichment == nil

	pending, err := s.deps.Signals.ListUnanalyzed(ctx, s.cfg.AnalysisBatch, s.cfg.MaxAttempts)
	if err != nil {
		s.logger.Error("Failed to list unanalyzed signals", zap.Error(err))
		return counts
	}
	counts.Pending = len(pending)
	if len(pending) == 0 {
		return counts
	}

	all, err := s.deps.Entities.List(ctx, nil)
	if err != nil {
		s.logger.Error("Failed to list competitor entities for enrichment", zap.Error(err))
		return counts
	}
	byName := make(map[string]*models.CompetitorEntity, len(all))
	for _, e := range all {
		byName[strings.ToLower(e.Name)] = e
	}

	matched := make([]*models.CompetitorSignal, 0, len(pending))
	items := make([]llm.WorkItem[*models.CompetitorAnalysis], 0, len(pending))
	for _, signal := range pending {
		var competitor *models.CompetitorEntity
		if signal.CompetitorMatch != nil {
			competitor = byName[strings.ToLower(*signal.CompetitorMatch)]
		}
		if competitor == nil {
			if err := s.deps.Signals.MarkAnalyzed(ctx, signal.ID, nil); err != nil {
				s.logger.Warn("Failed to close unmatched signal",
					zap.String("signal_id", signal.ID.String()),
					zap.Error(err))
				continue
			}
			counts.Skipped++
			continue
		}
		if counts.Disabled {
			continue
		}

		matched = append(matched, signal)
		items = append(items, llm.WorkItem[*models.CompetitorAnalysis]{
			ID: signal.ID.String(),
			Execute: func(ctx context.Context) (*models.CompetitorAnalysis, error) {
				return s.enrich(ctx, signal, competitor)
			},
		})
	}

	if counts.Disabled {
		s.logger.Info("Enrichment not configured, leaving matched signals unanalyzed",
			zap.Int("skipped", counts.Skipped))
		return counts
	}

	results := llm.Process(ctx, s.pool, items, nil)
	for i, res := range results {
		signal := matched[i]
		switch {
		case errors.Is(res.Err, errBreakerOpen):
			counts.Deferred++
		case res.Err != nil:
			counts.Failed++
			s.logger.Warn("Signal enrichment failed",
				zap.String("signal_id", signal.ID.String()),
				zap.Int("analysis_attempts", signal.AnalysisAttempts+1),
				zap.Error(res.Err))
			if err := s.deps.Signals.IncrementAttempts(ctx, signal.ID); err != nil {
				s.logger.Error("Failed to record enrichment attempt",
					zap.String("signal_id", signal.ID.String()),
					zap.Error(err))
			}
		default:
			if err := s.deps.Analyses.Record(ctx, res.Result); err != nil {
				if errors.Is(err, apperrors.ErrConflict) {
					s.logger.Debug("Signal already analyzed", zap.String("signal_id", signal.ID.String()))
					continue
				}
				counts.Failed++
				s.logger.Error("Failed to store analysis",
					zap.String("signal_id", signal.ID.String()),
					zap.Error(err))
				continue
			}
			counts.Analyzed++
		}
	}

	if counts.Deferred > 0 {
		s.logger.Warn("Enrichment circuit open, deferring remaining signals",
			zap.Int("deferred", counts.Deferred),
			zap.String("circuit_state", s.breaker.State().String()))
	}
	return counts
}

func (s *watchService) enrich(ctx context.Context, signal *models.CompetitorSignal, competitor *models.CompetitorEntity) (*models.CompetitorAnalysis, error) {
	if allowed, err := s.breaker.Allow(); !allowed {
		return nil, fmt.Errorf("%w: %v", errBreakerOpen, err)
	}

	analysis, err := s.deps.Enrichment.Analyze(ctx, signal, competitor)
	if err == nil && analysis == nil {
		err = errEmptyAnalysis
	}
	if err != nil {
		s.breaker.RecordFailure()
		return nil, err
	}
	s.breaker.RecordSuccess()
	return analysis, nil
}
