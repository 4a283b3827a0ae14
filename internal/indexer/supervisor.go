package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rougedevs/kanshi/pkg/metrics"
)

// Runner is a restartable unit of work. *Indexer satisfies it.
type Runner interface {
	Run(ctx context.Context) error
}

// RestartPolicy bounds restarts after retryable failures.
type RestartPolicy struct {
	// MaxRestarts caps consecutive restarts; negative means unlimited.
	MaxRestarts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRestartPolicy returns the policy used when none is configured.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Supervisor restarts a Runner with exponential backoff while its failures
// are Retryable. Each restart resumes from the last saved checkpoint.
type Supervisor struct {
	runner  Runner
	policy  RestartPolicy
	metrics *metrics.Metrics
	log     *zap.SugaredLogger

	after func(time.Duration) <-chan time.Time
}

// NewSupervisor creates a Supervisor. m may be nil.
func NewSupervisor(runner Runner, policy RestartPolicy, m *metrics.Metrics, log *zap.SugaredLogger) *Supervisor {
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultRestartPolicy().InitialBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	return &Supervisor{
		runner:  runner,
		policy:  policy,
		metrics: m,
		log:     log,
		after:   time.After,
	}
}

// Run blocks until the runner stops normally (nil), fails with a
// non-retryable error, exhausts its restarts, or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.policy.InitialBackoff
	restarts := 0

	for {
		started := time.Now()
		err := s.runner.Run(ctx)
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.Canceled):
			return err
		case !Retryable(err):
			return err
		}

		// A run that stayed up longer than the backoff cap counts as healthy.
		if time.Since(started) > s.policy.MaxBackoff {
			restarts = 0
			backoff = s.policy.InitialBackoff
		}
		if s.policy.MaxRestarts >= 0 && restarts >= s.policy.MaxRestarts {
			return fmt.Errorf("indexer failed after %d restarts: %w", restarts, err)
		}

		restarts++
		s.metrics.IncRestart(errorType(err))
		s.log.Warnw("indexer failed, restarting",
			"error", err,
			"restart", restarts,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(backoff):
		}
		backoff = min(backoff*2, s.policy.MaxBackoff)
	}
}
