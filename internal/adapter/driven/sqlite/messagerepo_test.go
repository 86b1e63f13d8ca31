package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emontero/chatworker/internal/domain/model"
)

func TestMessageRepo_AppendAndRecent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	entries := []model.TranscriptEntry{
		{InstanceID: "t1", CounterpartID: "c1", Body: "hi", Direction: model.DirectionInbound, CreatedAt: now},
		{InstanceID: "t1", CounterpartID: "c1", Body: "hello", Direction: model.DirectionOutbound, CreatedAt: now.Add(time.Second)},
	}
	for _, e := range entries {
		require.NoError(t, repo.Append(ctx, e))
	}

	got, err := repo.Recent(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hi", got[0].Body)
	assert.Equal(t, model.DirectionInbound, got[0].Direction)
	assert.Equal(t, "hello", got[1].Body)
	assert.Equal(t, model.DirectionOutbound, got[1].Direction)
}

func TestMessageRepo_RecentKeepsNewestTenOldestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.Append(ctx, model.TranscriptEntry{
			InstanceID:    "t1",
			CounterpartID: "c1",
			Body:          fmt.Sprintf("msg-%d", i),
			Direction:     model.DirectionInbound,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := repo.Recent(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, "msg-2", got[0].Body, "two oldest entries fall off")
	assert.Equal(t, "msg-11", got[9].Body)
}

func TestMessageRepo_RecentTiesBreakByInsertionOrder(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Same timestamp for all three; insertion order must be preserved.
	for _, body := range []string{"first", "second", "third"} {
		require.NoError(t, repo.Append(ctx, model.TranscriptEntry{
			InstanceID:    "t1",
			CounterpartID: "c1",
			Body:          body,
			Direction:     model.DirectionInbound,
			CreatedAt:     ts,
		}))
	}

	got, err := repo.Recent(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{got[0].Body, got[1].Body, got[2].Body})
}

func TestMessageRepo_RecentScopedToCounterpart(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepo(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, model.TranscriptEntry{InstanceID: "t1", CounterpartID: "c1", Body: "for c1", Direction: model.DirectionInbound, CreatedAt: now}))
	require.NoError(t, repo.Append(ctx, model.TranscriptEntry{InstanceID: "t1", CounterpartID: "c2", Body: "for c2", Direction: model.DirectionInbound, CreatedAt: now}))
	require.NoError(t, repo.Append(ctx, model.TranscriptEntry{InstanceID: "t2", CounterpartID: "c1", Body: "other instance", Direction: model.DirectionInbound, CreatedAt: now}))

	got, err := repo.Recent(ctx, "t1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "for c1", got[0].Body)
}

func TestMessageRepo_RecentEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewMessageRepo(db)

	got, err := repo.Recent(context.Background(), "t1", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
