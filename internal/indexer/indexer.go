// Package indexer drives a stream session: it resolves the resume point from
// the checkpoint store, hands decoded events to the consumer queue and
// checkpoints every block once its events are queued.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rougedevs/kanshi/pkg/checkpointer"
	"github.com/rougedevs/kanshi/pkg/metrics"
	"github.com/rougedevs/kanshi/pkg/queue"
	"github.com/rougedevs/kanshi/pkg/starknet"
	"github.com/rougedevs/kanshi/pkg/stream"
	"github.com/rougedevs/kanshi/pkg/types"
)

// State is the lifecycle state of one Run.
type State int32

const (
	StateInitializing State = iota
	StateStreaming
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is an open stream subscription. *stream.Session satisfies it.
type Session interface {
	Next() (stream.Message, error)
	Close()
}

// OpenFunc opens a session for the given subscription.
type OpenFunc func(ctx context.Context, cfg stream.Configuration) (Session, error)

// Sink receives decoded events. *queue.Queue[types.Event] satisfies it.
type Sink interface {
	Push(ctx context.Context, ev types.Event) error
}

// Config holds the subscription template and the fallback starting block.
type Config struct {
	// Subscription is rebuilt with the effective starting block on every run.
	Subscription         stream.Configuration
	DefaultStartingBlock uint64
}

type Indexer struct {
	cfg         Config
	open        OpenFunc
	checkpoints checkpointer.Checkpointer
	sink        Sink
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger

	state          atomic.Int32
	reachedPending atomic.Bool
	lastSaved      uint64
	hasSaved       bool
}

// New creates an Indexer. m may be nil.
func New(
	cfg Config,
	open OpenFunc,
	checkpoints checkpointer.Checkpointer,
	sink Sink,
	m *metrics.Metrics,
	log *zap.SugaredLogger,
) (*Indexer, error) {
	if open == nil {
		return nil, errors.New("open func is required")
	}
	if checkpoints == nil {
		return nil, errors.New("checkpointer is required")
	}
	if sink == nil {
		return nil, errors.New("sink is required")
	}
	if err := cfg.Subscription.Validate(); err != nil {
		return nil, err
	}
	return &Indexer{
		cfg:         cfg,
		open:        open,
		checkpoints: checkpoints,
		sink:        sink,
		metrics:     m,
		log:         log,
	}, nil
}

// State returns the state of the current or last run.
func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

// ReachedPending reports whether the current run has seen pending data.
func (ix *Indexer) ReachedPending() bool {
	return ix.reachedPending.Load()
}

func (ix *Indexer) setState(s State) {
	ix.state.Store(int32(s))
	ix.metrics.SetIndexerState(int(s))
}

// EffectiveStart returns the block a session starts from: the later of the
// checkpoint and the configured default when a checkpoint exists, else the default.
func EffectiveStart(checkpoint uint64, found bool, defaultBlock uint64) uint64 {
	if !found {
		return defaultBlock
	}
	return max(checkpoint, defaultBlock)
}

// ResolveStart loads the checkpoint and returns the effective starting block.
func (ix *Indexer) ResolveStart(ctx context.Context) (uint64, bool, error) {
	block, found, err := ix.checkpoints.Load(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return EffectiveStart(block, found, ix.cfg.DefaultStartingBlock), found, nil
}

// Run executes one session until the stream ends, the consumer detaches, ctx
// is cancelled or a failure occurs. It returns nil when the run stopped
// normally and ctx.Err() when cancelled.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.setState(StateInitializing)
	ix.reachedPending.Store(false)
	ix.metrics.SetReachedPending(false)

	start, found, err := ix.ResolveStart(ctx)
	if err != nil {
		return ix.fail(err)
	}
	ix.lastSaved, ix.hasSaved = start, found

	sub := ix.cfg.Subscription.WithStartingBlock(start)
	ix.log.Infow("indexer starting",
		"startingBlock", start,
		"checkpointFound", found,
		"defaultStartingBlock", ix.cfg.DefaultStartingBlock,
		"finality", sub.Finality,
	)

	session, err := ix.open(ctx, sub)
	if err != nil {
		if ctx.Err() != nil {
			return ix.stop(ctx.Err())
		}
		return ix.fail(fmt.Errorf("failed to open stream: %w", err))
	}
	defer session.Close()

	ix.setState(StateStreaming)
	for {
		msg, err := session.Next()
		if errors.Is(err, io.EOF) {
			ix.log.Info("stream ended")
			return ix.stop(nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ix.stop(ctx.Err())
			}
			return ix.fail(fmt.Errorf("failed to read stream: %w", err))
		}

		switch m := msg.(type) {
		case *stream.Data:
			ix.metrics.IncStreamMessage(metrics.MessageData)
			detached, err := ix.handleData(ctx, m)
			if err != nil {
				if ctx.Err() != nil {
					return ix.stop(ctx.Err())
				}
				return ix.fail(err)
			}
			if detached {
				ix.log.Info("receiver dropped, stopping indexer")
				return ix.stop(nil)
			}
		case *stream.Heartbeat:
			ix.metrics.IncStreamMessage(metrics.MessageHeartbeat)
			ix.log.Debug("heartbeat received")
		case *stream.Invalidate:
			ix.metrics.IncStreamMessage(metrics.MessageInvalidate)
			return ix.fail(&InvalidationError{Cursor: m.Cursor})
		default:
			return ix.fail(fmt.Errorf("%w: unexpected message %T", stream.ErrProtocol, msg))
		}
	}
}

func (ix *Indexer) stop(err error) error {
	ix.setState(StateStopped)
	return err
}

func (ix *Indexer) fail(err error) error {
	ix.setState(StateFailed)
	ix.metrics.IncError(errorType(err))
	return err
}

// handleData pushes each block's events and checkpoints the block. It reports
// true when the consumer has detached.
func (ix *Indexer) handleData(ctx context.Context, data *stream.Data) (bool, error) {
	if data.Finality == stream.FinalityPending && ix.reachedPending.CompareAndSwap(false, true) {
		ix.metrics.SetReachedPending(true)
		ix.log.Info("reached pending block")
	}

	for _, block := range data.Batch {
		if block.Header == nil {
			return false, fmt.Errorf("%w: block without header", stream.ErrProtocol)
		}
		number := block.Header.BlockNumber

		pushed := 0
		for _, ewt := range block.Events {
			if ewt.Event == nil {
				continue
			}
			if err := ix.sink.Push(ctx, decodeEvent(block.Header, ewt)); err != nil {
				if errors.Is(err, queue.ErrConsumerGone) {
					return true, nil
				}
				return false, fmt.Errorf("failed to enqueue event (block: %d): %w", number, err)
			}
			pushed++
		}

		ix.metrics.RecordBlock(number, pushed)
		ix.saveCheckpoint(ctx, number)
	}
	return false, nil
}

// saveCheckpoint persists number. Failures are logged and do not stop the run.
func (ix *Indexer) saveCheckpoint(ctx context.Context, number uint64) {
	if ix.hasSaved && number < ix.lastSaved {
		ix.log.Warnw("skipping checkpoint behind last saved block",
			"block", number,
			"lastSaved", ix.lastSaved,
		)
		return
	}

	start := time.Now()
	err := ix.checkpoints.Save(ctx, number)
	ix.metrics.RecordCheckpointWrite(number, err, time.Since(start).Seconds())
	if err != nil {
		ix.log.Warnw("failed to save block state", "block", number, "error", err)
		return
	}
	ix.lastSaved, ix.hasSaved = number, true
	ix.log.Debugw("block state saved", "block", number)
}

func decodeEvent(h *stream.BlockHeader, ewt stream.EventWithTransaction) types.Event {
	ev := ewt.Event
	out := types.Event{
		BlockNumber: h.BlockNumber,
		BlockHash:   h.BlockHash.Hex(),
		FromAddress: ev.FromAddress.Hex(),
		Timestamp:   h.Timestamp,
		EventIndex:  ev.Index,
		Keys:        hexes(ev.Keys),
		Data:        hexes(ev.Data),
	}
	if ewt.Transaction != nil {
		out.TransactionHash = ewt.Transaction.Hash.Hex()
	}
	return out
}

func hexes(fs []starknet.Felt) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.Hex()
	}
	return out
}
