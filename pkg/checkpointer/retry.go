package checkpointer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Retrying decorates a Checkpointer with per-write timeouts and bounded
// exponential retries on Save. Load is passed through unchanged.
type Retrying struct {
	inner Checkpointer
	cfg   Config
	log   *zap.SugaredLogger
}

var _ Checkpointer = (*Retrying)(nil)

// NewRetrying wraps inner with the retry policy in cfg.
func NewRetrying(inner Checkpointer, cfg Config, log *zap.SugaredLogger) *Retrying {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Retrying{inner: inner, cfg: cfg, log: log}
}

func (r *Retrying) Load(ctx context.Context) (uint64, bool, error) {
	return r.inner.Load(ctx)
}

// Save returns nil as soon as one attempt succeeds. It returns the last error
// once all retries are exhausted, or ctx.Err() if ctx is done first.
func (r *Retrying) Save(ctx context.Context, block uint64) error {
	backoff := r.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = r.save(ctx, block)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Don't sleep after the last attempt
		if attempt < r.cfg.MaxRetries {
			r.log.Debugw("checkpoint write failed, retrying",
				"block", block,
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, r.cfg.MaxRetryBackoff)
		}
	}
	return fmt.Errorf("failed to write checkpoint (block: %d) after %d attempts: %w",
		block, r.cfg.MaxRetries+1, lastErr)
}

func (r *Retrying) save(ctx context.Context, block uint64) error {
	if r.cfg.WriteTimeout <= 0 {
		return r.inner.Save(ctx, block)
	}
	writeCtx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()
	return r.inner.Save(writeCtx, block)
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if limit > 0 && next > limit {
		return limit
	}
	return next
}
