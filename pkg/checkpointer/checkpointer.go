package checkpointer

import (
	"context"
	"errors"
)

// ErrPersistence wraps failures to read or write a checkpoint.
var ErrPersistence = errors.New("checkpoint persistence error")

// Checkpoint is the persisted resume position. It is stored as a single JSON
// object and fully overwritten on every save.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
}

// Checkpointer abstracts checkpoint persistence across different data stores. A
// checkpoint tracks the last block whose events were handed off, enabling
// resumption of indexing after restarts or failures.
//
// Implementations assume a single writer and do no locking.
type Checkpointer interface {
	// Load retrieves the saved block number and whether a checkpoint exists. A
	// missing checkpoint is not an error.
	Load(ctx context.Context) (block uint64, exists bool, err error)

	// Save overwrites the persisted checkpoint with block.
	Save(ctx context.Context, block uint64) error
}
