package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(runID string) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Phase:     "succeeded",
		Completed: []string{"a", "b"},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Save(ctx, sampleRecord("run-1")))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, "succeeded", loaded.Phase)
	assert.Equal(t, []string{"a", "b"}, loaded.Completed)
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestMemoryStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "missing"), ErrRunNotFound)
}

func TestMemoryStoreListSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, sampleRecord("run-b")))
	require.NoError(t, s.Save(ctx, sampleRecord("run-a")))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-a", "run-b"}, ids)
}

func TestMemoryStoreDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, sampleRecord("run-1")))
	require.NoError(t, s.Delete(ctx, "run-1"))

	_, err := s.Load(ctx, "run-1")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryStoreUpdatePreservesCreatedAt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	record := sampleRecord("run-1")
	require.NoError(t, s.Save(ctx, record))
	first, err := s.Load(ctx, "run-1")
	require.NoError(t, err)

	record.Phase = "failed"
	require.NoError(t, s.Save(ctx, record))
	second, err := s.Load(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, "failed", second.Phase)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Save(ctx, sampleRecord("run-1")))

	loaded, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	loaded.Phase = "mutated"

	again, err := s.Load(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", again.Phase)
}
