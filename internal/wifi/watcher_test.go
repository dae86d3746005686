package wifi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/settings"
)

type published struct {
	name    string
	payload bus.Payload
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(name string, payload bus.Payload) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{name, payload})
	return true, nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.name)
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// scriptedSource returns its scans in order, repeating the last one.
type scriptedSource struct {
	mu    sync.Mutex
	scans [][]string
	errs  []error
	calls int
}

func (s *scriptedSource) Scan(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if len(s.scans) == 0 {
		return nil, nil
	}
	if i >= len(s.scans) {
		i = len(s.scans) - 1
	}
	return s.scans[i], nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type staticDirectory [][]string

func (d staticDirectory) Tuples(string, string) ([][]string, error) {
	return d, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWatcher(src Source, dir Directory, pub Publisher) (*Watcher, *clock) {
	w := NewWatcher(src, dir, pub, Config{
		ScanInterval:  30 * time.Second,
		ExitTimeout:   600 * time.Second,
		RetryAttempts: 2,
	})
	c := &clock{t: time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)}
	w.now = c.now
	w.retryInterval = time.Millisecond
	return w, c
}

func TestWatcher_EnterAndExit(t *testing.T) {
	src := &scriptedSource{scans: [][]string{
		{"b8:27:eb:d8:94:5f", "cc:ce:1e:6c:d0:0a"},
		{"cc:ce:1e:6c:d0:0a"},
	}}
	dir := staticDirectory{{"alice", "B8:27:EB:D8:94:5F"}, {"bob", "08:78:08:5d:18:32"}}
	pub := &recordingPublisher{}
	w, clk := newTestWatcher(src, dir, pub)
	ctx := context.Background()

	require.NoError(t, w.ScanOnce(ctx))
	require.Len(t, pub.events, 1, "untracked devices publish nothing")
	assert.Equal(t, events.UserEnter, pub.events[0].name)
	assert.Equal(t, events.UserEvent{Name: "alice", MAC: "b8:27:eb:d8:94:5f"}, pub.events[0].payload)

	// Still inside the exit timeout.
	pub.reset()
	clk.advance(5 * time.Minute)
	require.NoError(t, w.ScanOnce(ctx))
	assert.Empty(t, pub.events)

	pub.reset()
	clk.advance(5 * time.Minute)
	require.NoError(t, w.ScanOnce(ctx))
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.UserExit, pub.events[0].name)
	assert.Equal(t, events.UserEvent{Name: "alice", MAC: "b8:27:eb:d8:94:5f"}, pub.events[0].payload)
}

func TestWatcher_ReturningUserEntersAgain(t *testing.T) {
	src := &scriptedSource{scans: [][]string{{"aa:aa:aa:aa:aa:aa"}, {}, {"aa:aa:aa:aa:aa:aa"}}}
	pub := &recordingPublisher{}
	w, clk := newTestWatcher(src, staticDirectory{{"carol", "aa:aa:aa:aa:aa:aa"}}, pub)
	ctx := context.Background()

	require.NoError(t, w.ScanOnce(ctx))
	clk.advance(10 * time.Minute)
	require.NoError(t, w.ScanOnce(ctx))
	clk.advance(time.Minute)
	require.NoError(t, w.ScanOnce(ctx))

	assert.Equal(t, []string{events.UserEnter, events.UserExit, events.UserEnter}, pub.names())
}

func TestWatcher_RetriesFailedScan(t *testing.T) {
	src := &scriptedSource{
		scans: [][]string{nil, nil, {"aa:aa:aa:aa:aa:aa"}},
		errs:  []error{ErrScanFailed, ErrScanFailed},
	}
	pub := &recordingPublisher{}
	w, _ := newTestWatcher(src, staticDirectory{{"dan", "aa:aa:aa:aa:aa:aa"}}, pub)

	require.NoError(t, w.ScanOnce(context.Background()))
	assert.Equal(t, 3, src.callCount())
	assert.Equal(t, []string{events.UserEnter}, pub.names())
}

func TestWatcher_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("boom")
	src := &scriptedSource{errs: []error{boom, boom, boom, boom}}
	pub := &recordingPublisher{}
	w, _ := newTestWatcher(src, staticDirectory{}, pub)

	err := w.ScanOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, src.callCount(), "one attempt plus two retries")
	assert.Empty(t, pub.events)
}

func TestWatcher_UsesSettingsStore(t *testing.T) {
	ctx := context.Background()
	store := settings.NewStore(nil, nil)
	require.NoError(t, store.RegisterModule(ctx, ModuleName, Fields()...))
	require.NoError(t, store.Set(ctx, ModuleName, ItemToTrack, [][]string{{"erin", "0a:0b:0c:0d:0e:0f"}}))

	src := &scriptedSource{scans: [][]string{{"0a:0b:0c:0d:0e:0f"}}}
	pub := &recordingPublisher{}
	w, _ := newTestWatcher(src, store, pub)

	require.NoError(t, w.ScanOnce(ctx))
	require.Len(t, pub.events, 1)
	assert.Equal(t, events.UserEvent{Name: "erin", MAC: "0a:0b:0c:0d:0e:0f"}, pub.events[0].payload)
}

func TestWatcher_RunPublishesInitializedAndStops(t *testing.T) {
	src := &scriptedSource{}
	pub := &recordingPublisher{}
	w, _ := newTestWatcher(src, staticDirectory{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return src.callCount() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}

	names := pub.names()
	require.NotEmpty(t, names)
	assert.Equal(t, events.WifiInitialized, names[0])
}

func TestWatcher_OnRealBus(t *testing.T) {
	b := bus.New(bus.WithScheduler(bus.SchedulerFunc(func(fn func()) { fn() })))
	var got []events.UserEvent
	b.Subscribe(events.UserEnter, bus.Sync(func(p bus.Payload) {
		got = append(got, p.(events.UserEvent))
	}))

	src := &scriptedSource{scans: [][]string{{"aa:aa:aa:aa:aa:aa"}}}
	w, _ := newTestWatcher(src, staticDirectory{{"frank", "aa:aa:aa:aa:aa:aa"}}, b)

	require.NoError(t, w.ScanOnce(context.Background()))
	assert.Equal(t, []events.UserEvent{{Name: "frank", MAC: "aa:aa:aa:aa:aa:aa"}}, got)
}

func TestFields(t *testing.T) {
	fields := Fields()
	require.Len(t, fields, 1)
	assert.Equal(t, ItemToTrack, fields[0].Name)
	assert.Equal(t, settings.KindTupleList, fields[0].Kind)
	assert.Equal(t, []string{"name", "mac"}, fields[0].Elements)
}
