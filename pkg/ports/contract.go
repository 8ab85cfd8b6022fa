package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/kiln/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests verifying that a StateStore
// implementation adheres to the interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")
	env := domain.Environment{Path: "/usr/bin/python3", Version: "3.12.1"}

	t.Run("Save and Load", func(t *testing.T) {
		record := domain.NewSessionRecord(sessionID, env)
		record.Cells = append(record.Cells, domain.Cell{
			ID:     "cell-1",
			Kind:   domain.CellKindCode,
			Source: "a=1\na",
			State:  domain.CellStateFinished,
			Outputs: []domain.Output{{
				Kind: domain.OutputExecuteResult,
				Data: domain.MimeBundle{"text/plain": "1"},
			}},
		})

		err := store.Save(ctx, sessionID, record)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, record.ID, loaded.ID)
		assert.Equal(t, env.Path, loaded.Environment.Path)
		require.Len(t, loaded.Cells, 1)
		assert.Equal(t, domain.CellStateFinished, loaded.Cells[0].State)
		assert.Equal(t, "1", loaded.Cells[0].Outputs[0].Data["text/plain"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSessionRecord(sessionID, env))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewSessionRecord(id1, env))
		_ = store.Save(ctx, id2, domain.NewSessionRecord(id2, env))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
