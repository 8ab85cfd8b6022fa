package memory_test

import (
	"context"
	"testing"

	"github.com/aretw0/kiln/pkg/adapters/memory"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/aretw0/kiln/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunStateStoreContract(t, store)
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	record := domain.NewSessionRecord("iso", domain.Environment{Path: "python3"})
	require.NoError(t, store.Save(ctx, "iso", record))

	// Mutating the caller's record after Save must not leak into the store.
	record.Restarts = 99
	loaded, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Restarts)

	// Mutating a loaded record must not leak either.
	loaded.Restarts = 42
	again, err := store.Load(ctx, "iso")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Restarts)
}
