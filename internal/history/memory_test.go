package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcelery/dotcelery/internal/domain"
)

func TestMemoryRecordAndList(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, Record{TaskID: "t1", TaskName: "math.add", State: domain.ResultFailure, Retries: 0, CompletedAt: time.Now()}))
	require.NoError(t, store.Record(ctx, Record{TaskID: "t1", TaskName: "math.add", State: domain.ResultSuccess, Retries: 1, CompletedAt: time.Now()}))
	require.NoError(t, store.Record(ctx, Record{TaskID: "t2", TaskName: "email.send", State: domain.ResultSuccess, CompletedAt: time.Now()}))

	got, err := store.ListByTaskID(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, domain.ResultFailure, got[0].State)
	require.Equal(t, domain.ResultSuccess, got[1].State)

	got, err = store.ListByTaskID(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMemoryCleanup(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.Record(ctx, Record{TaskID: "old", CompletedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Record(ctx, Record{TaskID: "new", CompletedAt: now}))

	removed, err := store.Cleanup(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	got, err := store.ListByTaskID(ctx, "old")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = store.ListByTaskID(ctx, "new")
	require.NoError(t, err)
	require.Len(t, got, 1)
}
