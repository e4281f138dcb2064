package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-watch/pkg/config"
)

// ApplicationName tags every session so watch traffic is identifiable in pg_stat_activity.
const ApplicationName = "ekaya-watch"

const (
	defaultMaxConns          = 25
	defaultMaxConnLifetime   = time.Hour
	defaultMaxConnIdleTime   = 30 * time.Minute
	defaultHealthCheckPeriod = time.Minute
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration. Zero values take the
// package defaults.
type Config struct {
	URL               string
	ApplicationName   string
	MaxConnections    int32
	MinConnections    int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// StatementTimeout bounds every statement server-side. Zero leaves the server default.
	StatementTimeout time.Duration
}

// ConfigFrom builds pool settings from application configuration.
func ConfigFrom(cfg *config.DatabaseConfig) *Config {
	return &Config{
		URL:              cfg.ConnectionString(),
		ApplicationName:  ApplicationName,
		MaxConnections:   cfg.MaxConnections,
		MinConnections:   cfg.MinConnections,
		StatementTimeout: time.Duration(cfg.StatementTimeoutSeconds) * time.Second,
	}
}

// PoolConfig parses the URL and applies pool limits and session parameters.
// Session parameters already present in the URL win.
func (c *Config) PoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = valueOr(c.MaxConnections, defaultMaxConns)
	poolConfig.MinConns = min(c.MinConnections, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = valueOr(c.MaxConnLifetime, defaultMaxConnLifetime)
	poolConfig.MaxConnIdleTime = valueOr(c.MaxConnIdleTime, defaultMaxConnIdleTime)
	poolConfig.HealthCheckPeriod = valueOr(c.HealthCheckPeriod, defaultHealthCheckPeriod)

	params := poolConfig.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok && c.ApplicationName != "" {
		params["application_name"] = c.ApplicationName
	}
	if _, ok := params["statement_timeout"]; !ok && c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	return poolConfig, nil
}

func valueOr[T int32 | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}

// NewConnection creates a connection pool and verifies it with a ping.
func NewConnection(ctx context.Context, cfg *Config) (*DB, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// PoolSummary is a point-in-time view of pool usage.
type PoolSummary struct {
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
}

// Summary reports current pool usage.
func (db *DB) Summary() PoolSummary {
	s := db.Stat()
	return PoolSummary{
		MaxConns:      s.MaxConns(),
		TotalConns:    s.TotalConns(),
		AcquiredConns: s.AcquiredConns(),
		IdleConns:     s.IdleConns(),
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
