package scraper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxErrorMessageLen bounds the error text persisted per record.
const maxErrorMessageLen = 1000

// ResultLogConfig controls write retry behavior.
type ResultLogConfig struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c ResultLogConfig) withDefaults() ResultLogConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 5 * time.Second
	}
	return c
}

// ResultLogger persists RunResults to the record store, retrying
// transient write failures with bounded backoff. Logging is best effort:
// the caller decides whether an exhausted write aborts the run.
type ResultLogger struct {
	store  ResultStore
	pauser Pauser
	cfg    ResultLogConfig
	logger *zap.Logger
}

// NewResultLogger builds a ResultLogger over the store.
func NewResultLogger(store ResultStore, pauser Pauser, cfg ResultLogConfig, logger *zap.Logger) *ResultLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultLogger{
		store:  store,
		pauser: pauser,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}
}

// Log upserts the result, truncating the error message and retrying on
// failure. Returns the last error once attempts are exhausted.
func (l *ResultLogger) Log(ctx context.Context, r RunResult) error {
	if len(r.ErrorMessage) > maxErrorMessageLen {
		r.ErrorMessage = r.ErrorMessage[:maxErrorMessageLen]
	}

	var lastErr error
	for attempt := 0; attempt < l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("log result %d: %w", r.Serial, err)
		}
		if attempt > 0 {
			delay := l.backoff(attempt)
			l.logger.Warn("retrying result write",
				zap.Int64("serial", r.Serial),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			l.pauser.Pause(ctx, delay)
		}
		if err := l.store.UpsertResult(ctx, r); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("log result %d after %d attempts: %w", r.Serial, l.cfg.MaxAttempts, lastErr)
}

func (l *ResultLogger) backoff(attempt int) time.Duration {
	delay := l.cfg.BackoffBase << (attempt - 1)
	if delay > l.cfg.BackoffMax {
		delay = l.cfg.BackoffMax
	}
	return delay
}
