package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-watch/pkg/config"
	"github.com/ekaya-inc/ekaya-watch/pkg/logging"
	"github.com/ekaya-inc/ekaya-watch/pkg/retry"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// IsRetryable implements retry.RetryableError: throttling and server errors are transient.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// BodyTooLargeError is returned when a response body exceeds the configured limit.
type BodyTooLargeError struct {
	URL   string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("GET %s: response body exceeds %d bytes", e.URL, e.Limit)
}

// IsRetryable implements retry.RetryableError. The same resource will not shrink on retry.
func (e *BodyTooLargeError) IsRetryable() bool {
	return false
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// HostInterval is the minimum spacing between requests to one host. Zero disables it.
	HostInterval time.Duration
	Retry        *retry.Config
}

// FetcherConfigFrom maps scraper settings to a FetcherConfig.
func FetcherConfigFrom(cfg *config.ScraperConfig) FetcherConfig {
	return FetcherConfig{
		Timeout:      cfg.HTTPTimeout(),
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: int64(cfg.MaxBodyKB) * 1024,
		HostInterval: time.Duration(cfg.AgendaDelayMs) * time.Millisecond,
		Retry:        retry.WithMaxRetries(cfg.RetryAttempts),
	}
}

// Fetcher performs GET requests for adapters with a bounded timeout, retries
// for transient failures and per-host request spacing.
type Fetcher struct {
	client   *http.Client
	cfg      FetcherConfig
	logger   *zap.Logger
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 8 << 20
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.WithMaxRetries(0)
	}
	return &Fetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		logger:   logger.Named("fetcher"),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(f.cfg.HostInterval), 1)
		f.limiters[host] = l
	}
	return l
}

// Get fetches rawURL and returns the body. headers override the defaults.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var body []byte
	err = retry.DoIfRetryable(ctx, f.cfg.Retry, func() error {
		if f.cfg.HostInterval > 0 {
			if err := f.limiter(u.Host).Wait(ctx); err != nil {
				return err
			}
		}
		b, err := f.do(ctx, u.String(), headers)
		if err != nil {
			f.logger.Debug("Fetch attempt failed", zap.String("url", logging.SanitizeURL(u.String())), zap.Error(err))
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) do(ctx context.Context, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: failed to read body: %w", req.URL.Redacted(), err)
	}
	if int64(len(body)) > f.cfg.MaxBodyBytes {
		return nil, &BodyTooLargeError{URL: req.URL.Redacted(), Limit: f.cfg.MaxBodyBytes}
	}
	return body, nil
}

// GetJSON fetches rawURL and decodes the JSON body into v.
func (f *Fetcher) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := f.Get(ctx, rawURL, map[string]string{"Accept": "application/json"})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}
