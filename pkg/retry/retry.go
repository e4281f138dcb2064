// Package retry provides jittered exponential backoff for calls to unreliable endpoints.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries       int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	Multiplier       float64
	JitterFactor     float64 // 0.0-1.0; 0.1 means +/-10%
	MaxSameErrorType int     // after N consecutive same-type errors, give up early (0 disables)
}

// DefaultConfig returns 3 retries starting at 500ms, capped at 10s, doubling, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         10 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 3,
	}
}

// WithMaxRetries returns DefaultConfig with a different retry count.
// Negative values are treated as zero (single attempt).
func WithMaxRetries(n int) *Config {
	cfg := DefaultConfig()
	if n < 0 {
		n = 0
	}
	cfg.MaxRetries = n
	return cfg
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1)
	return time.Duration(float64(delay) + jitter)
}

func nextDelay(cfg *Config, delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * cfg.Multiplier)
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// wait sleeps for the jittered delay or returns ctx.Err() if the context ends first.
func wait(ctx context.Context, cfg *Config, delay time.Duration) error {
	timer := time.NewTimer(applyJitter(delay, cfg.JitterFactor))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes fn with exponential backoff, retrying every error.
// Returns nil on success, or the last error after all retries are exhausted.
func Do(ctx context.Context, cfg *Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for functions that return a value.
func DoWithResult[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var result T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		r, err := fn()
		if err == nil {
			return r, nil
		}
		result, lastErr = r, err

		if attempt < cfg.MaxRetries {
			if err := wait(ctx, cfg, delay); err != nil {
				return result, err
			}
			delay = nextDelay(cfg, delay)
		}
	}

	return result, lastErr
}

// RetryableError is implemented by errors that declare their own retryability
// (HTTP status errors from the fetcher, classified LLM errors).
type RetryableError interface {
	error
	IsRetryable() bool
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"timeout",
	"timed out",
	"temporary failure",
	"i/o timeout",
	"network is unreachable",
	"unexpected eof",
	"429",
	"502",
	"503",
	"504",
	"rate limit",
	"too many requests",
	"service unavailable",
}

// IsRetryable determines if an error is transient and worth retrying.
// Errors implementing RetryableError decide for themselves; anything else is
// pattern-matched against known transient network failures. Context
// cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// classifyErrorType extracts a coarse category used to detect repeated identical failures.
func classifyErrorType(err error) string {
	if err == nil {
		return "nil"
	}

	errStr := strings.ToLower(err.Error())

	for _, code := range []string{"503", "502", "504", "500", "429"} {
		if strings.Contains(errStr, code) {
			return code
		}
	}
	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "connection reset"):
		return "connection"
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "timed out"):
		return "timeout"
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "too many requests"):
		return "rate_limit"
	case strings.Contains(errStr, "no such host"):
		return "dns"
	}
	return "unknown"
}

// DoIfRetryable retries only transient errors; permanent ones return immediately.
// After MaxSameErrorType consecutive failures of one type it stops early.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var lastErr error
	delay := cfg.InitialDelay
	sameErrorCount := 0
	var lastErrorType string

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		currentErrorType := classifyErrorType(err)
		if currentErrorType == lastErrorType {
			sameErrorCount++
			if cfg.MaxSameErrorType > 0 && sameErrorCount >= cfg.MaxSameErrorType {
				return fmt.Errorf("repeated error (%d times, type=%s): %w", sameErrorCount, currentErrorType, err)
			}
		} else {
			sameErrorCount = 1
			lastErrorType = currentErrorType
		}

		if attempt < cfg.MaxRetries {
			if err := wait(ctx, cfg, delay); err != nil {
				return err
			}
			delay = nextDelay(cfg, delay)
		}
	}

	return lastErr
}
