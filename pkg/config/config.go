package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-watch.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// WatchlistPath points at the static jurisdiction/competitor seed file.
	WatchlistPath string `yaml:"watchlist_path" env:"WATCHLIST_PATH" env-default:"watchlist.yaml"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional dashboard cache)
	Redis RedisConfig `yaml:"redis"`

	// LLM endpoint used for signal enrichment
	LLM LLMConfig `yaml:"llm"`

	// Source adapter behavior
	Scraper ScraperConfig `yaml:"scraper"`

	// Periodic cycle scheduling
	Schedule ScheduleConfig `yaml:"schedule"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_watch"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"0"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	// StatementTimeoutSeconds bounds each statement server-side. Zero disables it.
	StatementTimeoutSeconds int `yaml:"statement_timeout_seconds" env:"PGSTATEMENT_TIMEOUT_SECONDS" env-default:"60"`
}

// RedisConfig holds Redis configuration. An empty host disables Redis.
type RedisConfig struct {
	Host       string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port       int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password   string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB         int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTLSeconds int    `yaml:"ttl_seconds" env:"REDIS_TTL_SECONDS" env-default:"60"`
}

// Addr returns the host:port to dial.
func (c *RedisConfig) Addr() string {
	return net.JoinHostPort(ServiceHost(c.Host), strconv.Itoa(c.Port))
}

// LLMConfig holds the enrichment model endpoint.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	BaseURL     string  `yaml:"base_url" env:"LLM_BASE_URL" env-default:""`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
	// MaxConcurrent bounds parallel enrichment calls within one cycle.
	MaxConcurrent int `yaml:"max_concurrent" env:"LLM_MAX_CONCURRENT" env-default:"4"`
	// MaxAttempts is how many cycles a signal may fail enrichment before it is abandoned.
	MaxAttempts int `yaml:"max_attempts" env:"LLM_MAX_ATTEMPTS" env-default:"3"`
	// BatchSize caps how many unanalyzed signals a single cycle picks up.
	BatchSize int `yaml:"batch_size" env:"LLM_BATCH_SIZE" env-default:"100"`
}

// IsAvailable returns true if an enrichment model is configured.
func (c *LLMConfig) IsAvailable() bool {
	return c.Model != "" && (c.BaseURL != "" || c.APIKey != "")
}

// ScraperConfig holds settings shared by all source adapters.
type ScraperConfig struct {
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds" env:"SCRAPER_HTTP_TIMEOUT_SECONDS" env-default:"30"`
	UserAgent          string `yaml:"user_agent" env:"SCRAPER_USER_AGENT" env-default:"ekaya-watch/1.0 (+https://ekaya.ai)"`
	// SECUserAgent must identify the operator; EDGAR rejects anonymous clients.
	SECUserAgent string `yaml:"sec_user_agent" env:"SCRAPER_SEC_USER_AGENT" env-default:"ekaya-watch admin@ekaya.ai"`
	SECBaseURL   string `yaml:"sec_base_url" env:"SCRAPER_SEC_BASE_URL" env-default:"https://www.sec.gov"`
	FilerDelayMs int    `yaml:"filer_delay_ms" env:"SCRAPER_FILER_DELAY_MS" env-default:"1000"`
	// AgendaDelayMs spaces requests to the same agenda host.
	AgendaDelayMs            int `yaml:"agenda_delay_ms" env:"SCRAPER_AGENDA_DELAY_MS" env-default:"500"`
	GISPageSize              int `yaml:"gis_page_size" env:"SCRAPER_GIS_PAGE_SIZE" env-default:"1000"`
	SECFeedCount             int `yaml:"sec_feed_count" env:"SCRAPER_SEC_FEED_COUNT" env-default:"40"`
	MaxParallelJurisdictions int `yaml:"max_parallel_jurisdictions" env:"SCRAPER_MAX_PARALLEL_JURISDICTIONS" env-default:"4"`
	MaxBodyKB                int `yaml:"max_body_kb" env:"SCRAPER_MAX_BODY_KB" env-default:"8192"`
	RetryAttempts            int `yaml:"retry_attempts" env:"SCRAPER_RETRY_ATTEMPTS" env-default:"2"`
}

// HTTPTimeout returns the per-request timeout.
func (c *ScraperConfig) HTTPTimeout() time.Duration {
	if c.HTTPTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

// ScheduleConfig controls the periodic watch cycle.
type ScheduleConfig struct {
	Enabled         bool `yaml:"enabled" env:"SCHEDULE_ENABLED" env-default:"false"`
	IntervalMinutes int  `yaml:"interval_minutes" env:"SCHEDULE_INTERVAL_MINUTES" env-default:"360"`
	DaysBack        int  `yaml:"days_back" env:"SCHEDULE_DAYS_BACK" env-default:"7"`
}

// Interval returns the scheduler tick interval.
func (c *ScheduleConfig) Interval() time.Duration {
	if c.IntervalMinutes <= 0 {
		return 6 * time.Hour
	}
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile is Load with an explicit path.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		// Fall back to environment only when the file is absent.
		if envErr := cleanenv.ReadEnv(cfg); envErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validate checks fields whose values cleanenv cannot constrain.
func (c *Config) validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be 'openai' or 'anthropic', got %q", c.LLM.Provider)
	}
	if c.Scraper.GISPageSize <= 0 || c.Scraper.GISPageSize > 2000 {
		return fmt.Errorf("scraper.gis_page_size must be between 1 and 2000")
	}
	if c.Scraper.MaxParallelJurisdictions <= 0 {
		c.Scraper.MaxParallelJurisdictions = 1
	}
	if c.LLM.MaxAttempts <= 0 {
		c.LLM.MaxAttempts = 1
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ServiceHost(c.Host), strconv.Itoa(c.Port)),
		Path:     c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}
