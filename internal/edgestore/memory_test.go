package edgestore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreShouldPutAndGetByKey(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	item := Item{"composite_key": "env_user-1", "identifier": "user-1"}
	require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{item}}))

	got, err := store.Get(context.Background(), "identities", Item{"composite_key": "env_user-1"})
	require.NoError(t, err)
	assert.Equal(t, item, got)

	_, err = store.Get(context.Background(), "identities", Item{"composite_key": "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreShouldOverwriteOnRepeatedPut(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	first := Item{"composite_key": "k", "identifier": "a"}
	second := Item{"composite_key": "k", "identifier": "b"}
	require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{first}}))
	require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{second}}))

	got, err := store.Get(context.Background(), "identities", Item{"composite_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, second, got)
	assert.Equal(t, 1, store.Len("identities"))
}

func TestMemoryStoreShouldRejectOversizedBatch(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	items := make([]Item, MaxBatchSize+1)
	for i := range items {
		items[i] = Item{"composite_key": fmt.Sprintf("k-%d", i)}
	}

	err := store.BatchWrite(context.Background(), "identities", Batch{Puts: items})
	require.Error(t, err)
}

func TestMemoryStoreShouldRejectItemMissingKeyAttribute(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("overrides", "environment_id", "document_key")

	err := store.BatchWrite(context.Background(), "overrides", Batch{Puts: []Item{
		{"environment_id": int64(1)},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document_key")
}

func TestMemoryStoreShouldDeleteByKey(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("overrides", "environment_id", "document_key")

	item := Item{"environment_id": int64(1), "document_key": "identity_override:7:abc"}
	require.NoError(t, store.BatchWrite(context.Background(), "overrides", Batch{Puts: []Item{item}}))
	require.Equal(t, 1, store.Len("overrides"))

	key := Item{"environment_id": int64(1), "document_key": "identity_override:7:abc"}
	require.NoError(t, store.BatchWrite(context.Background(), "overrides", Batch{Deletes: []Item{key}}))
	assert.Equal(t, 0, store.Len("overrides"))

	// Deleting a missing key stays a no-op.
	require.NoError(t, store.BatchWrite(context.Background(), "overrides", Batch{Deletes: []Item{key}}))
	assert.Equal(t, 0, store.Len("overrides"))
}

func TestMemoryStoreScanShouldPaginateInStableOrder(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	const total = 7
	for i := 0; i < total; i++ {
		require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{
			{"composite_key": fmt.Sprintf("k-%d", i), "n": int64(i)},
		}}))
	}

	var collected []Item
	var startKey Item
	pages := 0
	for {
		page, err := store.Scan(context.Background(), ScanRequest{
			Table:    "identities",
			StartKey: startKey,
			Limit:    3,
		})
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 3)
		assert.Equal(t, float64(len(page.Items)), page.ConsumedCapacity)

		collected = append(collected, page.Items...)
		pages++
		if page.LastKey == nil {
			break
		}
		startKey = page.LastKey
	}

	assert.Equal(t, 3, pages)
	require.Len(t, collected, total)
	for i := 1; i < len(collected); i++ {
		prev := collected[i-1]["composite_key"].(string)
		cur := collected[i]["composite_key"].(string)
		assert.Less(t, prev, cur, "scan order must be stable and sorted")
	}
}

func TestMemoryStoreShouldIsolateStoredItemsFromCallerMutation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	item := Item{"composite_key": "k", "traits": []any{map[string]any{"trait_key": "plan"}}}
	require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{item}}))

	item["traits"].([]any)[0].(map[string]any)["trait_key"] = "mutated"

	got, err := store.Get(context.Background(), "identities", Item{"composite_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "plan", got["traits"].([]any)[0].(map[string]any)["trait_key"])
}

func TestMemoryStoreWriteHookShouldInjectFailures(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	store.CreateTable("identities", "composite_key")

	injected := &TransientError{Err: errors.New("throttled")}
	calls := 0
	store.WriteHook = func(table string, batch Batch) error {
		calls++
		if calls == 1 {
			return injected
		}
		return nil
	}

	item := Item{"composite_key": "k"}
	err := store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{item}})
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	require.NoError(t, store.BatchWrite(context.Background(), "identities", Batch{Puts: []Item{item}}))
	assert.Equal(t, 1, store.Len("identities"))
}

func TestDisabledStoreShouldFailEveryOperation(t *testing.T) {
	t.Parallel()

	store := NewDisabled()
	ctx := context.Background()

	assert.ErrorIs(t, store.BatchWrite(ctx, "t", Batch{}), ErrNotConfigured)
	_, err := store.Get(ctx, "t", Item{"k": "v"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = store.Scan(ctx, ScanRequest{Table: "t"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIsTransientShouldUnwrapNestedErrors(t *testing.T) {
	t.Parallel()

	inner := &TransientError{Err: errors.New("throttled")}
	wrapped := fmt.Errorf("chunk 3: %w", inner)

	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(errors.New("validation failed")))
}
