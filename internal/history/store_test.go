package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		run := Run{
			ID:         uuid.New().String(),
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + 5*time.Minute),
			Status:     StatusSuccess,
			Archive:    "server_backup_2024-01-01.zip",
			Files:      10 + i,
			Dirs:       2,
			Bytes:      1024,
		}
		require.NoError(t, store.Record(ctx, run))
	}

	runs, err := store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	assert.Equal(t, 12, runs[0].Files)
	assert.Equal(t, StatusSuccess, runs[0].Status)
	assert.Equal(t, int64(1024), runs[0].Bytes)
}

func TestRecordFailedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := Run{
		ID:         uuid.New().String(),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Status:     StatusFailed,
		Error:      "login failed",
	}
	require.NoError(t, store.Record(ctx, run))

	runs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "login failed", runs[0].Error)
	assert.Empty(t, runs[0].Archive)
}

func TestRecentEmpty(t *testing.T) {
	store := newTestStore(t)

	runs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
