package checkpointer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_LoadMissing(t *testing.T) {
	t.Parallel()
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))

	block, ok, err := f.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, block)
}

func TestFile_SaveOverwrites(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	f := NewFile(path)
	ctx := t.Context()

	require.NoError(t, f.Save(ctx, 10))
	require.NoError(t, f.Save(ctx, 11))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last_processed_block":11}`, string(raw))

	block, ok, err := f.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(11), block)

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFile_SaveIsIdempotent(t *testing.T) {
	t.Parallel()
	f := NewFile(filepath.Join(t.TempDir(), "state.json"))
	ctx := t.Context()

	require.NoError(t, f.Save(ctx, 42))
	require.NoError(t, f.Save(ctx, 42))

	block, ok, err := f.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(42), block)
}

func TestFile_LoadCorrupt(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, _, err := NewFile(path).Load(t.Context())
	require.ErrorIs(t, err, ErrPersistence)
}

func TestFile_SaveUnwritableDirectory(t *testing.T) {
	t.Parallel()
	f := NewFile(filepath.Join(t.TempDir(), "missing", "state.json"))

	err := f.Save(t.Context(), 1)
	require.ErrorIs(t, err, ErrPersistence)
}

func TestNewFile_DefaultPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultPath, NewFile("").Path())
}
