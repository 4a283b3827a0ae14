package checkpointer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultPath is the checkpoint file used when none is configured.
const DefaultPath = "indexer_state.json"

// File persists the checkpoint as a JSON document on the local filesystem.
// Writes go to a temporary sibling which is then renamed over the target, so a
// crash mid-write leaves the previous checkpoint intact.
type File struct {
	path string
}

var _ Checkpointer = (*File)(nil)

// NewFile creates a file checkpointer for path. An empty path selects DefaultPath.
func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path returns the checkpoint location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(_ context.Context) (uint64, bool, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read %s: %v", ErrPersistence, f.path, err)
	}

	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, false, fmt.Errorf("%w: decode %s: %v", ErrPersistence, f.path, err)
	}
	return c.LastProcessedBlock, true, nil
}

func (f *File) Save(_ context.Context, block uint64) error {
	raw, err := json.Marshal(Checkpoint{LastProcessedBlock: block})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersistence, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrPersistence, err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op once renamed

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close() //nolint:errcheck // write already failed
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrPersistence, tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("%w: rename to %s: %v", ErrPersistence, f.path, err)
	}
	return nil
}
