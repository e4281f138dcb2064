package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-watch/pkg/audit"
	"github.com/ekaya-inc/ekaya-watch/pkg/config"
	"github.com/ekaya-inc/ekaya-watch/pkg/database"
	"github.com/ekaya-inc/ekaya-watch/pkg/handlers"
	"github.com/ekaya-inc/ekaya-watch/pkg/llm"
	"github.com/ekaya-inc/ekaya-watch/pkg/logging"
	"github.com/ekaya-inc/ekaya-watch/pkg/mcp"
	"github.com/ekaya-inc/ekaya-watch/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-watch/pkg/middleware"
	"github.com/ekaya-inc/ekaya-watch/pkg/repositories"
	"github.com/ekaya-inc/ekaya-watch/pkg/scrapers"
	"github.com/ekaya-inc/ekaya-watch/pkg/services"
	"github.com/ekaya-inc/ekaya-watch/pkg/watchlist"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis_host", cfg.Redis.Host),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("llm_model", cfg.LLM.Model),
		zap.Bool("schedule_enabled", cfg.Schedule.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ekaya-watch stopped with error", zap.Error(err))
	}
	logger.Info("ekaya-watch stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := migrate(cfg, logger); err != nil {
		return err
	}

	db, err := database.NewConnection(ctx, database.ConfigFrom(&cfg.Database))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	pool := db.Summary()
	logger.Info("Database connected",
		zap.String("application_name", database.ApplicationName),
		zap.Int32("max_conns", pool.MaxConns),
		zap.Int32("total_conns", pool.TotalConns))

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		// The dashboard works uncached without Redis.
		logger.Warn("Redis unavailable, dashboard cache disabled",
			zap.String("redis_host", cfg.Redis.Host),
			zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}
	cache := services.NewDashboardCache(redisClient, time.Duration(cfg.Redis.TTLSeconds)*time.Second, logger)

	var enrichment services.EnrichmentService
	llmClient, err := llm.NewClientFromConfig(&cfg.LLM, logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Warn("No LLM configured, signals will not be analyzed")
	case err != nil:
		return fmt.Errorf("create llm client: %w", err)
	default:
		enrichment = services.NewEnrichmentService(llmClient, cfg.LLM.Temperature, logger)
		logger.Info("LLM enrichment enabled",
			zap.String("model", llmClient.GetModel()),
			zap.String("endpoint", logging.SanitizeURL(llmClient.GetEndpoint())))
	}

	var seed *watchlist.Watchlist
	if cfg.WatchlistPath != "" {
		seed, err = watchlist.Load(cfg.WatchlistPath)
		if err != nil {
			return fmt.Errorf("load watchlist: %w", err)
		}
		logger.Info("Watchlist loaded",
			zap.String("path", cfg.WatchlistPath),
			zap.Int("jurisdictions", len(seed.Jurisdictions)),
			zap.Int("competitors", len(seed.Competitors)))
	}

	jurisdictionRepo := repositories.NewJurisdictionRepository()
	entityRepo := repositories.NewEntityRepository()
	jobRepo := repositories.NewScrapeJobRepository()
	signalRepo := repositories.NewSignalRepository()
	analysisRepo := repositories.NewAnalysisRepository()
	scopes := database.NewScopeProvider(db)

	watchService := services.NewWatchService(services.WatchServiceDeps{
		Scopes:        scopes,
		Jurisdictions: jurisdictionRepo,
		Entities:      entityRepo,
		Jobs:          jobRepo,
		Signals:       signalRepo,
		Analyses:      analysisRepo,
		Enrichment:    enrichment,
		Cache:         cache,
		Fetcher:       scrapers.NewFetcher(scrapers.FetcherConfigFrom(&cfg.Scraper), logger),
		Seed:          seed,
	}, services.WatchConfigFrom(cfg), logger)

	competitorService := services.NewCompetitorService(
		jurisdictionRepo, entityRepo, jobRepo, signalRepo, analysisRepo, cache, logger)

	if cfg.Schedule.Enabled {
		watchService.RunScheduler(ctx, cfg.Schedule.Interval(), cfg.Schedule.DaysBack)
		logger.Info("Scheduler started",
			zap.Duration("interval", cfg.Schedule.Interval()),
			zap.Int("days_back", cfg.Schedule.DaysBack))
	}

	auditor := audit.NewAdminAuditor(logger)
	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, watchService, logger).RegisterRoutes(mux)
	handlers.NewCompetitorHandler(competitorService, auditor, logger).
		RegisterRoutes(mux, database.WithScope(db, logger))
	handlers.NewScrapeHandler(watchService, auditor, logger).RegisterRoutes(mux)

	mcpServer := mcp.NewServer("ekaya-watch", cfg.Version, logger)
	tools.RegisterWatchTools(mcpServer, &tools.WatchToolDeps{
		Scopes:      scopes,
		Competitors: competitorService,
		Watch:       watchService,
		Version:     cfg.Version,
		Logger:      logger,
	})
	handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-watch",
			zap.String("addr", srv.Addr),
			zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func migrate(cfg *config.Config, logger *zap.Logger) error {
	migrationDB, err := database.OpenMigrationDB(cfg.Database.ConnectionString(), database.DefaultMigrationTimeout)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer migrationDB.Close()

	if err := database.RunMigrations(migrationDB, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
