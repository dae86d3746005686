package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/infrastructure/database"
	_ "github.com/nerrad567/home-awareness/migrations"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	return db
}

func TestSQLiteHistory_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	h := NewSQLiteHistory(openTestDB(t).DB)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, h.Record(ctx, Presence{User: "alice", MAC: "aa", Kind: KindEnter, Occupancy: 1, OccurredAt: base}))
	require.NoError(t, h.Record(ctx, Presence{User: "bob", Kind: KindEnter, Occupancy: 2, OccurredAt: base.Add(time.Minute)}))
	require.NoError(t, h.Record(ctx, Presence{User: "alice", MAC: "aa", Kind: KindExit, Occupancy: 1, OccurredAt: base.Add(2 * time.Minute)}))

	all, err := h.Recent(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, KindExit, all[0].Kind, "newest first")
	assert.Equal(t, "bob", all[1].User)
	assert.Equal(t, base, all[2].OccurredAt)
	assert.Equal(t, "aa", all[2].MAC)
	assert.NotZero(t, all[2].ID)

	alice, err := h.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, alice, 2)
	for _, p := range alice {
		assert.Equal(t, "alice", p.User)
	}

	one, err := h.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestSQLiteHistory_RejectsUnknownKind(t *testing.T) {
	h := NewSQLiteHistory(openTestDB(t).DB)
	err := h.Record(context.Background(), Presence{User: "alice", Kind: "teleport", OccurredAt: time.Now()})
	assert.Error(t, err)
}

func TestSQLiteHistory_Empty(t *testing.T) {
	h := NewSQLiteHistory(openTestDB(t).DB)
	out, err := h.Recent(context.Background(), "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{-1, DefaultHistoryLimit},
		{0, DefaultHistoryLimit},
		{1, 1},
		{MaxHistoryLimit, MaxHistoryLimit},
		{MaxHistoryLimit + 1, MaxHistoryLimit},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.in), "limit %d", tt.in)
	}
}

func TestTracker_WritesSQLiteHistoryFromDeferredHandler(t *testing.T) {
	ctx := context.Background()
	h := NewSQLiteHistory(openTestDB(t).DB)
	b := bus.New()
	tr := NewTracker(b, h, nil)
	tr.Subscribe(b)

	_, err := b.Publish(events.UserEnter, events.UserEvent{Name: "alice", MAC: "aa"})
	require.NoError(t, err)
	_, err = b.Publish(events.UserExit, events.UserEvent{Name: "alice", MAC: "aa"})
	require.NoError(t, err)

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, b.Drain(drainCtx))

	rows, err := h.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Zero(t, b.Stats().TaskFailures)
}
