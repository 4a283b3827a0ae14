package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type runner interface {
	Run(ctx context.Context) error
}

// pipeline is the process-level wiring between the supervised indexer and the
// consumer. The indexer is the queue's only producer.
type pipeline struct {
	indexer  runner
	consumer runner
	queue    interface{ Close() }

	// Optional fatal error sources. A nil channel never fires.
	metricsErrors  <-chan error
	producerErrors <-chan error
	// onProducerError runs once when the producer fails.
	onProducerError func()

	log *zap.SugaredLogger
}

// supervise runs the indexer and the consumer until both have returned.
//
// Cancelling ctx stops the indexer, which closes the queue. The consumer is
// not bound to ctx: it drains what was already handed off and exits once the
// queue is empty. It only stops early when the producer fails, or when it
// fails itself, in which case it detaches and the indexer stops too.
// Cancellation is reported as a clean exit unless the producer fails during
// the drain.
func supervise(ctx context.Context, p pipeline) error {
	consumeCtx, cancelConsume := context.WithCancelCause(context.WithoutCancel(ctx))
	defer cancelConsume(nil)
	consumerDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.queue.Close()
		err := p.indexer.Run(gctx)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			p.log.Infow("exiting due to context cancellation")
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer close(consumerDone)
		err := p.consumer.Run(consumeCtx)
		if err != nil && consumeCtx.Err() != nil {
			return context.Cause(consumeCtx)
		}
		return err
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-consumerDone:
			return nil
		case err := <-p.metricsErrors:
			if err != nil {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		}
	})
	// The producer is watched until the consumer is done, so a failure while
	// draining after shutdown still stops the consumer.
	g.Go(func() error {
		select {
		case <-consumerDone:
			return nil
		case err := <-p.producerErrors:
			if p.onProducerError != nil {
				p.onProducerError()
			}
			err = fmt.Errorf("kafka producer failed: %w", err)
			cancelConsume(err)
			return err
		}
	})

	return g.Wait()
}
