package stream

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrConnection reports transport or authentication failures.
	ErrConnection = errors.New("stream: connection error")
	// ErrStreamSetup reports a malformed subscription rejected locally or by the provider.
	ErrStreamSetup = errors.New("stream: setup error")
	// ErrProtocol reports malformed or undecodable messages.
	ErrProtocol = errors.New("stream: protocol error")
)

// classify maps a gRPC error onto the package's error taxonomy.
func classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.InvalidArgument, codes.FailedPrecondition, codes.Unimplemented, codes.OutOfRange:
		return fmt.Errorf("%w: %w", ErrStreamSetup, err)
	case codes.Internal, codes.DataLoss:
		return fmt.Errorf("%w: %w", ErrProtocol, err)
	default:
		// Unavailable, Unauthenticated, PermissionDenied, ResourceExhausted, Aborted, Unknown
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}
