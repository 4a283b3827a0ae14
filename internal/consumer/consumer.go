// Package consumer drains the hand-off queue and applies a Processor to every
// event in arrival order.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rougedevs/kanshi/pkg/metrics"
	"github.com/rougedevs/kanshi/pkg/types"
)

// Processor applies business logic to one event. Delivery is at-least-once,
// so implementations must tolerate duplicates.
type Processor interface {
	Process(ctx context.Context, ev types.Event) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, ev types.Event) error

func (f ProcessorFunc) Process(ctx context.Context, ev types.Event) error { return f(ctx, ev) }

// Source is the receive side of the hand-off queue. *queue.Queue[types.Event] satisfies it.
type Source interface {
	Items() <-chan types.Event
	MarkReceived()
	Detach()
}

// Consumer is the single consumer task.
type Consumer struct {
	src     Source
	proc    Processor
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

// New creates a Consumer. m may be nil.
func New(src Source, proc Processor, m *metrics.Metrics, log *zap.SugaredLogger) (*Consumer, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if proc == nil {
		return nil, errors.New("processor is required")
	}
	return &Consumer{src: src, proc: proc, metrics: m, log: log}, nil
}

// Run processes events until the queue is closed and drained (nil), ctx is
// done (ctx.Err()) or the processor fails. On return the consumer detaches
// from the queue so the producer stops instead of blocking. A panicking
// processor is reported as an error.
func (c *Consumer) Run(ctx context.Context) (err error) {
	defer c.src.Detach()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
			c.log.Errorw("consumer panicked", "panic", r)
		}
	}()

	items := c.src.Items()
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-items:
			if !ok {
				c.log.Infow("event queue closed, consumer exiting", "processed", processed)
				return nil
			}
			c.src.MarkReceived()

			start := time.Now()
			perr := c.proc.Process(ctx, ev)
			c.metrics.RecordEventProcessed(perr, time.Since(start).Seconds())
			if perr != nil {
				return fmt.Errorf("failed to process event (block: %d, tx: %s, index: %d): %w",
					ev.BlockNumber, ev.TransactionHash, ev.EventIndex, perr)
			}
			processed++
		}
	}
}
