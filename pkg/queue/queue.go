package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrConsumerGone is returned by Push once the consumer has detached.
	ErrConsumerGone = errors.New("queue: consumer detached")
	// ErrPushTimeout is returned by Push when a blocking push exceeds the configured timeout.
	ErrPushTimeout = errors.New("queue: push timed out")
)

// Policy is the behavior applied when pushing to a full queue.
type Policy string

const (
	// PolicyBlock blocks the producer until space is available or the push timeout expires.
	PolicyBlock Policy = "block"
	// PolicyDropOldest discards the oldest queued item to make room.
	PolicyDropOldest Policy = "drop-oldest"
)

// ParsePolicy converts a configuration value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyBlock, PolicyDropOldest:
		return p, nil
	default:
		return "", fmt.Errorf("invalid queue policy %q (expected %q or %q)", s, PolicyBlock, PolicyDropOldest)
	}
}

// Config holds the queue bound and backpressure policy.
type Config struct {
	Capacity    int
	Policy      Policy
	PushTimeout time.Duration // 0 blocks indefinitely; only used by PolicyBlock
}

// Observer receives queue level updates. *metrics.Metrics satisfies it.
type Observer interface {
	SetQueueDepth(depth int)
	IncQueueDropped()
}

// Queue is a bounded single-producer single-consumer FIFO.
type Queue[T any] struct {
	cfg      Config
	obs      Observer
	ch       chan T
	detached chan struct{}
	dropped  atomic.Uint64

	detachOnce sync.Once
	closeOnce  sync.Once
}

// New creates a queue. obs may be nil.
func New[T any](cfg Config, obs Observer) (*Queue[T], error) {
	if cfg.Capacity <= 0 {
		return nil, errors.New("invalid capacity: must be greater than 0")
	}
	if _, err := ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.PushTimeout < 0 {
		return nil, errors.New("invalid push timeout: must not be negative")
	}
	return &Queue[T]{
		cfg:      cfg,
		obs:      obs,
		ch:       make(chan T, cfg.Capacity),
		detached: make(chan struct{}),
	}, nil
}

// Push enqueues item. It returns ErrConsumerGone if the consumer has detached,
// ErrPushTimeout if a blocking push timed out, or ctx.Err() if ctx is done while blocked.
//
// Push must not be called concurrently or after Close.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	select {
	case <-q.detached:
		return ErrConsumerGone
	default:
	}

	if q.cfg.Policy == PolicyDropOldest {
		return q.pushDropOldest(item)
	}
	return q.pushBlocking(ctx, item)
}

func (q *Queue[T]) pushBlocking(ctx context.Context, item T) error {
	var timeout <-chan time.Time
	if q.cfg.PushTimeout > 0 {
		timer := time.NewTimer(q.cfg.PushTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case q.ch <- item:
		q.observeDepth()
		return nil
	case <-q.detached:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return ErrPushTimeout
	}
}

func (q *Queue[T]) pushDropOldest(item T) error {
	for {
		select {
		case <-q.detached:
			return ErrConsumerGone
		case q.ch <- item:
			q.observeDepth()
			return nil
		default:
		}

		// Full: evict the head. The consumer may have drained it concurrently,
		// in which case the next send succeeds.
		select {
		case <-q.ch:
			q.dropped.Add(1)
			if q.obs != nil {
				q.obs.IncQueueDropped()
			}
		default:
		}
	}
}

// Items returns the receive side. It is closed after Close.
func (q *Queue[T]) Items() <-chan T {
	return q.ch
}

// Detach marks the consumer as gone. Safe to call multiple times.
func (q *Queue[T]) Detach() {
	q.detachOnce.Do(func() { close(q.detached) })
}

// Detached returns a channel closed once the consumer detaches.
func (q *Queue[T]) Detached() <-chan struct{} {
	return q.detached
}

// Close signals that the producer will push no more items. Queued items remain
// receivable. Safe to call multiple times.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue bound.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many items were discarded by PolicyDropOldest.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// MarkReceived updates the depth observer after the consumer took an item.
func (q *Queue[T]) MarkReceived() {
	q.observeDepth()
}

func (q *Queue[T]) observeDepth() {
	if q.obs != nil {
		q.obs.SetQueueDepth(len(q.ch))
	}
}
