package calsource

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	return c
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.MaxBackoff {
		backoff = c.MaxBackoff
	}
	return backoff
}

// permanentError stops the retry loop.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return &permanentError{err: err} }

// retry runs fn until it succeeds, returns a permanent error, the context
// ends, or the attempts run out.
func retry(ctx context.Context, cfg RetryConfig, logger *slog.Logger, fn func() error) error {
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		backoff := cfg.backoff(attempt)
		logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}
