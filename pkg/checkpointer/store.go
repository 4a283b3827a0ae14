package checkpointer

import (
	"context"
	"fmt"

	"github.com/rougedevs/kanshi/pkg/storage"
)

// Store persists the checkpoint as a document in the typed object store.
type Store struct {
	store *storage.Store
	key   string
}

var _ Checkpointer = (*Store)(nil)

// NewStore creates a checkpointer writing under key in s.
func NewStore(s *storage.Store, key string) *Store {
	if key == "" {
		key = DefaultPath
	}
	return &Store{store: s, key: key}
}

func (s *Store) Load(ctx context.Context) (uint64, bool, error) {
	c, ok, err := storage.Retrieve[Checkpoint](ctx, s.store, s.key)
	if err != nil {
		return 0, false, fmt.Errorf("%w: load %s: %w", ErrPersistence, s.key, err)
	}
	if !ok {
		return 0, false, nil
	}
	return c.LastProcessedBlock, true, nil
}

func (s *Store) Save(ctx context.Context, block uint64) error {
	if err := s.store.Put(ctx, s.key, Checkpoint{LastProcessedBlock: block}); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrPersistence, s.key, err)
	}
	return nil
}
