package alarm

import (
	"context"
	"sync"
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

type recordingPublisher struct {
	mu     sync.Mutex
	alarms []events.AlarmEvent
}

func (p *recordingPublisher) Publish(name string, payload bus.Payload) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name == events.AlarmTriggered {
		p.alarms = append(p.alarms, payload.(events.AlarmEvent))
	}
	return true, nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.alarms)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time       { return c.t }
func (c *clock) set(h, m, s int) {
	c.t = time.Date(2026, 3, 2, h, m, s, 0, time.UTC)
}

func newTestScheduler(t *testing.T) (*Scheduler, *recordingPublisher, *clock) {
	t.Helper()
	pub := &recordingPublisher{}
	s := NewScheduler(NewSQLiteRepository(openTestDB(t).DB), pub, time.Millisecond)
	c := &clock{}
	c.set(6, 59, 30)
	s.now = c.now
	return s, pub, c
}

func TestParseSpec(t *testing.T) {
	for _, spec := range []string{"30 7 * * 1-5", "*/5 * * * *", "@daily", " 0 8 1 * * "} {
		_, err := ParseSpec(spec)
		assert.NoError(t, err, spec)
	}
	for _, spec := range []string{"", "   ", "* * * *", "0 0 7 * * *", "61 * * * *", "tomorrow"} {
		_, err := ParseSpec(spec)
		assert.ErrorIs(t, err, ErrInvalidSpec, spec)
	}
}

func TestScheduler_Create(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	a, err := s.Create(ctx, " wake up ", "0 7 * * *", false)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "wake up", a.Label)
	assert.True(t, a.Enabled)
	assert.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), a.NextFire)

	_, err = s.Create(ctx, "", "0 7 * * *", false)
	assert.ErrorIs(t, err, ErrLabelRequired)
	_, err = s.Create(ctx, "bad", "whenever", false)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, a.NextFire, list[0].NextFire)
	assert.Nil(t, list[0].LastFired)
}

func TestScheduler_RecurringAlarmFiresOncePerOccurrence(t *testing.T) {
	s, pub, clk := newTestScheduler(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "wake up", "0 7 * * *", false)
	require.NoError(t, err)

	n, err := s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "not due yet")

	clk.set(7, 0, 0)
	n, err = s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clk.set(7, 0, 1)
	n, err = s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "already fired for this occurrence")

	require.Len(t, pub.alarms, 1)
	ev := pub.alarms[0]
	assert.Equal(t, a.ID, ev.ID)
	assert.Equal(t, "wake up", ev.Label)
	assert.False(t, ev.Once)
	assert.Equal(t, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC), ev.FiredAt)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastFired)
	assert.Equal(t, time.Date(2026, 3, 3, 7, 0, 0, 0, time.UTC), list[0].NextFire)
}

func TestScheduler_OnceAlarmIsDeleted(t *testing.T) {
	s, pub, clk := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "tea", "* * * * *", true)
	require.NoError(t, err)

	clk.set(7, 5, 0)
	n, err := s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.alarms, 1)
	assert.True(t, pub.alarms[0].Once)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	clk.set(7, 6, 0)
	n, err = s.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestScheduler_MissedOccurrencesFireOnce(t *testing.T) {
	s, pub, clk := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "every minute", "* * * * *", false)
	require.NoError(t, err)

	clk.set(9, 0, 0)
	n, err := s.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, pub.alarms, 1)
}

func TestScheduler_Delete(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "x", "@hourly", false)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), ErrNotFound)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s, pub, clk := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := s.Create(context.Background(), "now", "* * * * *", true)
	require.NoError(t, err)
	clk.set(7, 1, 0)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_OnRealBus(t *testing.T) {
	b := bus.New(bus.WithScheduler(bus.SchedulerFunc(func(fn func()) { fn() })))
	var got []events.AlarmEvent
	b.Subscribe(events.AlarmTriggered, bus.Sync(func(p bus.Payload) {
		got = append(got, p.(events.AlarmEvent))
	}))

	s := NewScheduler(NewSQLiteRepository(openTestDB(t).DB), b, 0)
	clk := &clock{}
	clk.set(6, 0, 0)
	s.now = clk.now

	_, err := s.Create(context.Background(), "bins out", "30 6 * * *", false)
	require.NoError(t, err)
	clk.set(6, 30, 0)
	_, err = s.RunDue(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "bins out", got[0].Label)
}

func TestSQLiteRepository_GetAndMarkFired(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)

	require.NoError(t, repo.Create(ctx, Alarm{ID: "a1", Label: "l", Spec: "@daily", Enabled: true, CreatedAt: created}))

	a, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, created, a.CreatedAt)
	assert.True(t, a.Enabled)
	assert.False(t, a.Once)

	fired := created.Add(time.Hour)
	require.NoError(t, repo.MarkFired(ctx, "a1", fired))
	a, err = repo.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, a.LastFired)
	assert.Equal(t, fired, *a.LastFired)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.MarkFired(ctx, "missing", fired), ErrNotFound)
}
