package kvstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filecollect/file-registry-backend/interfaces"
)

func TestMemoryStoreFieldMap(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ctxID := interfaces.ContextID("tenant-1")

	// Missing context reads as empty, not as an error.
	fields, err := store.GetAllFields(ctx, ctxID)
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, ok, err := store.GetField(ctx, ctxID, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetField(ctx, ctxID, "abc", `{"url":"x"}`))
	value, ok, err := store.GetField(ctx, ctxID, "abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"url":"x"}`, value)

	// Contexts are isolated.
	other, err := store.GetAllFields(ctx, interfaces.ContextID("tenant-2"))
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.DeleteField(ctx, ctxID, "abc"))
	_, ok, err = store.GetField(ctx, ctxID, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent field is a no-op.
	require.NoError(t, store.DeleteField(ctx, ctxID, "never-existed"))
}

func TestMemoryStoreValidatesContextID(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetAllFields(ctx, interfaces.ContextID("  "))
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	err = store.SetField(ctx, interfaces.ContextID(""), "f", "v")
	assert.ErrorIs(t, err, interfaces.ErrValidation)
}

func TestMemoryStoreConcurrentWriters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ctxID := interfaces.ContextID("tenant-1")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			field := fmt.Sprintf("hash-%d", i)
			assert.NoError(t, store.SetField(ctx, ctxID, field, "v"))
		}(i)
	}
	wg.Wait()

	fields, err := store.GetAllFields(ctx, ctxID)
	require.NoError(t, err)
	assert.Len(t, fields, 32)
}

func TestStoreForDispatch(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mem, err := StoreFor("mem://", log)
	require.NoError(t, err)
	assert.Equal(t, "kv-memory", mem.Name())

	vault, err := StoreFor("vault://127.0.0.1:8200/secret/registry?token=root", log)
	require.NoError(t, err)
	assert.Equal(t, "kv-vault", vault.Name())

	_, err = StoreFor("redis://127.0.0.1/", log)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
