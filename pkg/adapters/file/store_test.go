package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/kiln/pkg/adapters/file"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store, err := file.NewStore(t.TempDir())
	require.NoError(t, err)
	ports.RunStateStoreContract(t, store)
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	_, err := file.NewStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := file.NewStore(dir)
	require.NoError(t, err)
	record := domain.NewSessionRecord("durable", domain.Environment{Path: "python3"})
	record.Restarts = 2
	require.NoError(t, store.Save(ctx, "durable", record))

	// A second instance over the same directory sees the record.
	reopened, err := file.NewStore(dir)
	require.NoError(t, err)
	loaded, err := reopened.Load(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Restarts)
}

func TestFileStore_ListIgnoresStrayFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := file.NewStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "real", domain.NewSessionRecord("real", domain.Environment{})))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	sessions, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"real"}, sessions)
}
