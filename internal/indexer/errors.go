package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rougedevs/kanshi/pkg/metrics"
	"github.com/rougedevs/kanshi/pkg/queue"
	"github.com/rougedevs/kanshi/pkg/storage"
	"github.com/rougedevs/kanshi/pkg/stream"
)

// InvalidationError reports a chain reorganization signalled by the stream.
// The indexer does not roll back; the operator reconciles and restarts.
type InvalidationError struct {
	Cursor *stream.Cursor
}

func (e *InvalidationError) Error() string {
	if e.Cursor == nil {
		return "received invalidate request without cursor"
	}
	return fmt.Sprintf("received invalidate request with cursor: order_key=%d", e.Cursor.OrderKey)
}

// Retryable reports whether a failed run may succeed when restarted from the
// last checkpoint.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var inv *InvalidationError
	if errors.As(err, &inv) {
		return false
	}
	return errors.Is(err, stream.ErrConnection) ||
		errors.Is(err, stream.ErrProtocol) ||
		errors.Is(err, storage.ErrConnection) ||
		errors.Is(err, queue.ErrPushTimeout)
}

// errorType maps err to an errors_total label.
func errorType(err error) string {
	var inv *InvalidationError
	switch {
	case errors.As(err, &inv):
		return metrics.ErrTypeInvalidation
	case errors.Is(err, stream.ErrStreamSetup):
		return metrics.ErrTypeSetup
	case errors.Is(err, stream.ErrProtocol):
		return metrics.ErrTypeProtocol
	case errors.Is(err, queue.ErrPushTimeout):
		return metrics.ErrTypeQueueTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return metrics.ErrTypeConnection
	}
}
