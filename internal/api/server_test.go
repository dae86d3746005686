package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/home-awareness/internal/alarm"
	"github.com/nerrad567/home-awareness/internal/audio"
	"github.com/nerrad567/home-awareness/internal/audit"
	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/events"
	"github.com/nerrad567/home-awareness/internal/infrastructure/config"
	"github.com/nerrad567/home-awareness/internal/infrastructure/database"
	"github.com/nerrad567/home-awareness/internal/infrastructure/logging"
	"github.com/nerrad567/home-awareness/internal/settings"
	"github.com/nerrad567/home-awareness/internal/tracking"
	_ "github.com/nerrad567/home-awareness/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

var inline = bus.SchedulerFunc(func(fn func()) { fn() })

// fakePlayer records commands and returns a canned state or error.
type fakePlayer struct {
	mu       sync.Mutex
	state    audio.State
	err      error
	commands []string
}

func (p *fakePlayer) Command(_ context.Context, cmd string, arg audio.Arg) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	entry := fmt.Sprintf("%s:%d", cmd, arg.Volume)
	for _, s := range []string{arg.URI, arg.Playlist} {
		if s != "" {
			entry += ":" + s
		}
	}
	p.commands = append(p.commands, entry)
	return nil
}

func (p *fakePlayer) State(context.Context) (audio.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state, p.err
}

// testEnv bundles a server with the real collaborators behind it.
type testEnv struct {
	srv      *Server
	bus      *bus.Bus
	tracker  *tracking.Tracker
	settings *settings.Store
	alarms   *alarm.Scheduler
	player   *fakePlayer
}

// newTestEnv creates a Server backed by an in-memory SQLite database.
// mutate may adjust the dependencies before the server is built.
func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	b := bus.New(bus.WithScheduler(inline))

	store := settings.NewStore(settings.NewSQLiteRepository(db.DB), b)
	if err := store.RegisterModule(ctx, audio.ModuleName, audio.Fields()...); err != nil {
		t.Fatalf("register audio settings: %v", err)
	}

	history := tracking.NewSQLiteHistory(db.DB)
	tracker := tracking.NewTracker(b, history, nil)
	tracker.Subscribe(b)

	scheduler := alarm.NewScheduler(alarm.NewSQLiteRepository(db.DB), b, time.Second)
	player := &fakePlayer{state: audio.State{Status: "play", Volume: 40}}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, AccessTokenTTL: 15},
		},
		Logger:   logging.Discard(),
		Bus:      b,
		Presence: tracker,
		History:  history,
		Settings: store,
		Player:   player,
		Alarms:   scheduler,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(hubCtx)

	return &testEnv{srv: srv, bus: b, tracker: tracker, settings: store, alarms: scheduler, player: player}
}

func testToken(t *testing.T) string {
	t.Helper()
	token, err := IssueToken(testSecret, "test", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

// do sends a request through the router. Authenticated requests carry a
// valid bearer token.
func (e *testEnv) do(t *testing.T, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if authenticated {
		req.Header.Set("Authorization", "Bearer "+testToken(t))
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

func assertStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, want, w.Body.String())
	}
}

// ─── Construction ──────────────────────────────────────────────────

func TestNew_RequiresLoggerAndBus(t *testing.T) {
	if _, err := New(Deps{Bus: bus.New()}); err == nil {
		t.Error("expected error without logger")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("expected error without bus")
	}
}

func TestHealthCheck_NotStarted(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("expected error before Start")
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close before Start: %v", err)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/health", "", false)
	assertStatus(t, w, http.StatusOK)

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", false)
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.lan"}
	})

	for origin, want := range map[string]string{
		"http://panel.lan": "http://panel.lan",
		"http://evil.lan":  "",
	} {
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/config", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Errorf("%s: preflight status = %d, want %d", origin, w.Code, http.StatusNoContent)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("%s: ACAO = %q, want %q", origin, got, want)
		}
	}
}

func TestNotFound_StructuredError(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/nonexistent", "", false)
	assertStatus(t, w, http.StatusNotFound)

	var resp Error
	decode(t, w, &resp)
	if resp.Status != http.StatusNotFound || resp.Code != ErrCodeNotFound || resp.Message == "" {
		t.Errorf("error body = %+v", resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPatch, "/api/v1/health", "", false)
	assertStatus(t, w, http.StatusMethodNotAllowed)
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t, nil)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assertStatus(t, w, http.StatusInternalServerError)
}

func TestBodySizeLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	body := `{"label":"` + strings.Repeat("x", maxRequestBodySize) + `","spec":"@daily"}`
	w := env.do(t, http.MethodPost, "/api/v1/alarms", body, true)
	assertStatus(t, w, http.StatusRequestEntityTooLarge)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	for i := 0; i < 2; i++ {
		assertStatus(t, env.do(t, http.MethodGet, "/api/v1/health", "", false), http.StatusOK)
	}
	w := env.do(t, http.MethodGet, "/api/v1/health", "", false)
	assertStatus(t, w, http.StatusTooManyRequests)
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestIPLimiter_Clean(t *testing.T) {
	l := newIPLimiter(60)
	l.allow("10.0.0.1")
	l.clean(time.Now().Add(limiterIdleTTL + time.Second))

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.clients) != 0 {
		t.Errorf("clients = %d after clean, want 0", len(l.clients))
	}
}

// ─── Auth ──────────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	noExpiry, err := IssueToken(testSecret, "test", 0)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   "test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := IssueToken("another-secret-key-at-least-32-chars!!", "test", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testToken(t), "", http.StatusUnauthorized},
		{"foreign secret", "Bearer " + foreign, "", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", "", http.StatusUnauthorized},
		{"valid header", "Bearer " + testToken(t), "", http.StatusAccepted},
		{"valid query", "", testToken(t), http.StatusAccepted},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"no expiry", "Bearer " + noExpiry, "", http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/v1/events/test.ping"
			if tt.query != "" {
				path += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodPost, path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(w, req)
			assertStatus(t, w, tt.want)
		})
	}
}

func TestParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "kitchen-panel", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "kitchen-panel" || claims.Issuer != TokenIssuer {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt == nil {
		t.Error("expected an expiry")
	}

	if _, err := ParseToken("", token); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("empty secret err = %v", err)
	}
	if _, err := IssueToken("", "x", time.Minute); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("issue with empty secret err = %v", err)
	}
}

// ─── Tracking ──────────────────────────────────────────────────────

func TestTracking(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodGet, "/api/v1/tracking", "", false)
	assertStatus(t, w, http.StatusOK)
	var empty trackingResponse
	decode(t, w, &empty)
	if empty.Occupancy != 0 || empty.Users == nil {
		t.Errorf("empty tracking = %+v, want zero occupancy and a non-nil list", empty)
	}

	if _, err := env.bus.Publish(events.UserEnter, events.UserEvent{Name: "alice", MAC: "aa:bb:cc:dd:ee:ff"}); err != nil {
		t.Fatal(err)
	}

	w = env.do(t, http.MethodGet, "/api/v1/tracking", "", false)
	assertStatus(t, w, http.StatusOK)
	var resp trackingResponse
	decode(t, w, &resp)
	if resp.Occupancy != 1 || len(resp.Users) != 1 || resp.Users[0].Name != "alice" {
		t.Errorf("tracking = %+v", resp)
	}

	w = env.do(t, http.MethodGet, "/api/v1/tracking/history?user=alice&limit=5", "", false)
	assertStatus(t, w, http.StatusOK)
	var hist struct {
		History []tracking.Presence `json:"history"`
		Count   int                 `json:"count"`
	}
	decode(t, w, &hist)
	if hist.Count != 1 || hist.History[0].Kind != tracking.KindEnter {
		t.Errorf("history = %+v", hist)
	}

	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/tracking/history?limit=zero", "", false), http.StatusBadRequest)
}

func TestTracking_Unavailable(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Presence = nil
		d.History = nil
	})
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/tracking", "", false), http.StatusServiceUnavailable)
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/tracking/history", "", false), http.StatusServiceUnavailable)
}

// ─── Config ────────────────────────────────────────────────────────

func TestConfig_GetAll(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/config", "", false)
	assertStatus(t, w, http.StatusOK)

	var resp struct {
		Modules []settings.ModuleView `json:"modules"`
	}
	decode(t, w, &resp)
	if len(resp.Modules) != 1 || resp.Modules[0].Name != audio.ModuleName {
		t.Fatalf("modules = %+v", resp.Modules)
	}
}

func TestConfig_SetAndGetItem(t *testing.T) {
	env := newTestEnv(t, nil)

	var changed []events.ConfigChangedEvent
	env.bus.Subscribe(events.ConfigChanged, bus.Sync(func(p bus.Payload) {
		changed = append(changed, p.(events.ConfigChangedEvent))
	}))

	w := env.do(t, http.MethodPut, "/api/v1/config/audio/volumio_port", `{"value": 3001}`, true)
	assertStatus(t, w, http.StatusOK)

	w = env.do(t, http.MethodGet, "/api/v1/config/audio/volumio_port", "", false)
	assertStatus(t, w, http.StatusOK)
	var resp map[string]any
	decode(t, w, &resp)
	if resp["value"] != float64(3001) {
		t.Errorf("value = %v, want 3001", resp["value"])
	}

	if len(changed) != 1 || changed[0].Item != "volumio_port" {
		t.Errorf("config.changed events = %+v", changed)
	}
}

func TestConfig_ItemErrors(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown module", http.MethodGet, "/api/v1/config/lights/on", "", http.StatusNotFound},
		{"unknown item", http.MethodGet, "/api/v1/config/audio/bass", "", http.StatusNotFound},
		{"type mismatch", http.MethodPut, "/api/v1/config/audio/resume_on_arrival", `{"value": "maybe"}`, http.StatusUnprocessableEntity},
		{"missing value", http.MethodPut, "/api/v1/config/audio/volumio_port", `{}`, http.StatusBadRequest},
		{"bad json", http.MethodPut, "/api/v1/config/audio/volumio_port", `{`, http.StatusBadRequest},
		{"unauthenticated", http.MethodPut, "/api/v1/config/audio/volumio_port", `{"value": 1}`, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body, tt.name != "unauthenticated")
			assertStatus(t, w, tt.want)
		})
	}
}

func TestConfig_BulkUpdate(t *testing.T) {
	env := newTestEnv(t, nil)

	body := `{"audio": {"volumio_host": "speaker.lan", "volumio_port": "not a number"}, "lights": {"on": true}}`
	w := env.do(t, http.MethodPut, "/api/v1/config", body, true)
	assertStatus(t, w, http.StatusOK)

	host, err := env.settings.String(audio.ModuleName, audio.ItemHost)
	if err != nil || host != "speaker.lan" {
		t.Errorf("host = %q, %v; want speaker.lan", host, err)
	}
	port, err := env.settings.Int(audio.ModuleName, audio.ItemPort)
	if err != nil || port != 3000 {
		t.Errorf("port = %d, %v; want unchanged 3000", port, err)
	}

	assertStatus(t, env.do(t, http.MethodPut, "/api/v1/config", `{}`, true), http.StatusBadRequest)
}

// ─── Player ────────────────────────────────────────────────────────

func TestPlayer_State(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/api/v1/player", "", false)
	assertStatus(t, w, http.StatusOK)

	var state audio.State
	decode(t, w, &state)
	if state.Status != "play" || state.Volume != 40 {
		t.Errorf("state = %+v", state)
	}
}

func TestPlayer_Commands(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"pause", "/api/v1/player/pause", "", http.StatusOK},
		{"volume", "/api/v1/player/volume", `{"value": 25}`, http.StatusOK},
		{"volume without value", "/api/v1/player/volume", "", http.StatusUnprocessableEntity},
		{"volume out of range", "/api/v1/player/volume", `{"value": 150}`, http.StatusUnprocessableEntity},
		{"unknown command", "/api/v1/player/rewind", "", http.StatusNotFound},
		{"add to queue", "/api/v1/player/add_to_queue", `{"uri": "mnt/NAS/jazz/so-what.flac"}`, http.StatusOK},
		{"add to queue without uri", "/api/v1/player/add_to_queue", "", http.StatusUnprocessableEntity},
		{"play playlist", "/api/v1/player/play_playlist", `{"playlist": "Sunday"}`, http.StatusOK},
		{"enqueue playlist", "/api/v1/player/enqueue_playlist", `{"playlist": "Dinner"}`, http.StatusOK},
		{"enqueue without playlist", "/api/v1/player/enqueue_playlist", `{"uri": "x"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertStatus(t, env.do(t, http.MethodPost, tt.path, tt.body, true), tt.want)
		})
	}

	env.player.mu.Lock()
	defer env.player.mu.Unlock()
	want := []string{
		"pause:0",
		"volume:25",
		"add_to_queue:0:mnt/NAS/jazz/so-what.flac",
		"play_playlist:0:Sunday",
		"enqueue_playlist:0:Dinner",
	}
	if fmt.Sprint(env.player.commands) != fmt.Sprint(want) {
		t.Errorf("commands = %v, want %v", env.player.commands, want)
	}
}

func TestPlayer_Errors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{audio.ErrPlayerUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("sending pause: %w", audio.ErrRequestFailed), http.StatusBadGateway},
		{errors.New("dial tcp: connection refused"), http.StatusBadGateway},
		{fmt.Errorf("sending volume: %w", audio.ErrInvalidVolume), http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.player.err = tt.err
			assertStatus(t, env.do(t, http.MethodPost, "/api/v1/player/pause", "", true), tt.want)
			assertStatus(t, env.do(t, http.MethodGet, "/api/v1/player", "", false), tt.want)
		})
	}
}

func TestPlayer_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Player = nil })
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/player", "", false), http.StatusServiceUnavailable)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/player/play", "", true), http.StatusServiceUnavailable)
}

// ─── Events ────────────────────────────────────────────────────────

func TestPublishEvent(t *testing.T) {
	env := newTestEnv(t, nil)

	var got bus.Event
	env.bus.Subscribe("doorbell.pressed", bus.Sync(func(p bus.Payload) {
		got = p.(bus.Event)
	}))

	w := env.do(t, http.MethodPost, "/api/v1/events/doorbell.pressed", `{"door": "front"}`, true)
	assertStatus(t, w, http.StatusAccepted)

	var resp publishResponse
	decode(t, w, &resp)
	if !resp.Handled || resp.Event != "doorbell.pressed" {
		t.Errorf("response = %+v", resp)
	}
	if got.Data["door"] != "front" {
		t.Errorf("event data = %v", got.Data)
	}

	w = env.do(t, http.MethodPost, "/api/v1/events/nobody.listens", "", true)
	assertStatus(t, w, http.StatusAccepted)
	decode(t, w, &resp)
	if resp.Handled {
		t.Error("expected unhandled event")
	}
}

func TestPublishEvent_Rejected(t *testing.T) {
	env := newTestEnv(t, nil)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/error", "", true), http.StatusBadRequest)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/x", `[1,2]`, true), http.StatusBadRequest)
}

func TestPublishEvent_HandlerFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.bus.Subscribe("fragile", bus.SyncErr(func(bus.Payload) error {
		return errors.New("broken")
	}))

	// Without an "error" subscriber the inline failure comes back to the caller.
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/fragile", "", true), http.StatusInternalServerError)
}

// ─── Alarms ────────────────────────────────────────────────────────

func TestAlarms_Lifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/api/v1/alarms", `{"label": "Wake up", "spec": "30 6 * * 1-5"}`, true)
	assertStatus(t, w, http.StatusCreated)
	var created alarm.Alarm
	decode(t, w, &created)
	if created.ID == "" || created.Label != "Wake up" || created.NextFire.IsZero() {
		t.Fatalf("created = %+v", created)
	}

	w = env.do(t, http.MethodGet, "/api/v1/alarms", "", false)
	assertStatus(t, w, http.StatusOK)
	var list struct {
		Alarms []alarm.Alarm `json:"alarms"`
		Count  int           `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Alarms[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}

	assertStatus(t, env.do(t, http.MethodDelete, "/api/v1/alarms/"+created.ID, "", true), http.StatusNoContent)
	assertStatus(t, env.do(t, http.MethodDelete, "/api/v1/alarms/"+created.ID, "", true), http.StatusNotFound)
}

func TestAlarms_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"missing label", `{"spec": "@daily"}`},
		{"missing spec", `{"label": "x"}`},
		{"bad spec", `{"label": "x", "spec": "every day"}`},
		{"long label", `{"label": "` + strings.Repeat("x", 101) + `", "spec": "@daily"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/alarms", tt.body, true)
			assertStatus(t, w, http.StatusUnprocessableEntity)

			var resp Error
			decode(t, w, &resp)
			if resp.Code != ErrCodeValidation {
				t.Errorf("code = %q, want %q", resp.Code, ErrCodeValidation)
			}
		})
	}
}

func TestValidationMessage_UsesJSONNames(t *testing.T) {
	err := validate.Struct(createAlarmRequest{})
	msg := validationMessage(err)
	if !strings.Contains(msg, "label: required") || !strings.Contains(msg, "spec: required") {
		t.Errorf("message = %q", msg)
	}
}

// ─── Audit ─────────────────────────────────────────────────────────

func TestAudit_RecordsChanges(t *testing.T) {
	env := newTestEnv(t, nil)

	assertStatus(t, env.do(t, http.MethodPut, "/api/v1/config/audio/"+audio.ItemPort, `{"value": 3001}`, true), http.StatusOK)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/doorbell", `{"door": "front"}`, true), http.StatusAccepted)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/player/volume", `{"value": 25}`, true), http.StatusOK)

	w := env.do(t, http.MethodPost, "/api/v1/alarms", `{"label": "Bins", "spec": "0 19 * * 2"}`, true)
	assertStatus(t, w, http.StatusCreated)
	var created alarm.Alarm
	decode(t, w, &created)
	assertStatus(t, env.do(t, http.MethodDelete, "/api/v1/alarms/"+created.ID, "", true), http.StatusNoContent)

	// Failed changes leave no trace.
	assertStatus(t, env.do(t, http.MethodPut, "/api/v1/config/audio/nope", `{"value": 1}`, true), http.StatusNotFound)

	w = env.do(t, http.MethodGet, "/api/v1/audit", "", true)
	assertStatus(t, w, http.StatusOK)
	var page audit.Page
	decode(t, w, &page)
	if page.Total != 5 {
		t.Fatalf("total = %d, want 5; entries: %+v", page.Total, page.Entries)
	}

	actions := make(map[string]audit.Entry)
	for _, e := range page.Entries {
		if e.Subject != "test" {
			t.Errorf("entry %s subject = %q, want %q", e.Action, e.Subject, "test")
		}
		actions[e.Action] = e
	}
	for _, want := range []string{
		audit.ActionConfigUpdate,
		audit.ActionEventPublish,
		audit.ActionPlayerCommand,
		audit.ActionAlarmCreate,
		audit.ActionAlarmDelete,
	} {
		if _, ok := actions[want]; !ok {
			t.Errorf("missing audit entry %q", want)
		}
	}

	if e := actions[audit.ActionConfigUpdate]; e.Target != audio.ModuleName || e.Details[audio.ItemPort] != float64(3001) {
		t.Errorf("config entry = %+v", e)
	}
	if e := actions[audit.ActionEventPublish]; e.Target != "doorbell" || e.Details["door"] != "front" {
		t.Errorf("event entry = %+v", e)
	}
	if e := actions[audit.ActionPlayerCommand]; e.Target != audio.CommandVolume || e.Details["value"] != float64(25) {
		t.Errorf("player entry = %+v", e)
	}
	if e := actions[audit.ActionAlarmDelete]; e.Target != created.ID {
		t.Errorf("alarm delete entry = %+v", e)
	}
}

func TestAudit_Filters(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, name := range []string{"a", "b", "a"} {
		assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/"+name, "", true), http.StatusAccepted)
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit?action=event.publish&target=a&limit=1", "", true)
	assertStatus(t, w, http.StatusOK)
	var page audit.Page
	decode(t, w, &page)
	if page.Total != 2 || len(page.Entries) != 1 || page.Limit != 1 {
		t.Errorf("page = %+v", page)
	}

	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/audit?limit=abc", "", true), http.StatusBadRequest)
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/audit?offset=-1", "", true), http.StatusBadRequest)
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/audit", "", false), http.StatusUnauthorized)
}

func TestAudit_Unavailable(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Audit = nil })

	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/audit", "", true), http.StatusServiceUnavailable)
	assertStatus(t, env.do(t, http.MethodPost, "/api/v1/events/doorbell", "", true), http.StatusAccepted)
}

// ─── Metrics & Status ──────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	assertStatus(t, env.do(t, http.MethodGet, "/api/v1/metrics", "", false), http.StatusServiceUnavailable)

	env = newTestEnv(t, func(d *Deps) {
		d.Metrics = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, "homeaware_bus_published_total 1\n")
		})
	})
	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", false)
	assertStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "homeaware_bus_published_total") {
		t.Errorf("body = %q", w.Body.String())
	}
}

type fakeConn bool

func (f fakeConn) IsConnected() bool { return bool(f) }

func TestStatus(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.MQTT = fakeConn(true) })
	if _, err := env.bus.Publish(events.UserEnter, events.UserEvent{Name: "bob", MAC: "11:22:33:44:55:66"}); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/v1/status", "", false)
	assertStatus(t, w, http.StatusOK)

	var status SystemStatus
	decode(t, w, &status)
	if status.Version != "test" || status.Runtime.Goroutines == 0 {
		t.Errorf("status = %+v", status)
	}
	if status.MQTT == nil || !status.MQTT.Connected {
		t.Errorf("mqtt = %+v", status.MQTT)
	}
	if status.Presence == nil || status.Presence.Occupancy != 1 {
		t.Errorf("presence = %+v", status.Presence)
	}
	if status.Bus.Published == 0 || status.Bus.Handlers == 0 {
		t.Errorf("bus = %+v", status.Bus)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?token=" + testToken(t)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	if msg := readWS(t, conn); msg.Type != WSTypeConnected {
		t.Fatalf("greeting = %+v, want %q", msg, WSTypeConnected)
	}
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %+v, want 401", resp)
	}
}

func TestWebSocket_RelaysSubscribedEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.relayEvents()
	t.Cleanup(env.srv.stopRelay)
	conn := dialWS(t, env)

	if err := conn.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Data: WSSubscribeData{Events: []string{events.UserEnter}}}); err != nil {
		t.Fatal(err)
	}
	if resp := readWS(t, conn); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
	if env.srv.Hub().ClientCount() != 1 {
		t.Errorf("clients = %d, want 1", env.srv.Hub().ClientCount())
	}

	// Not subscribed: the tracker's initialize action must not reach the client.
	if _, err := env.bus.Publish(events.UserEnter, events.UserEvent{Name: "carol", MAC: "aa:aa:aa:aa:aa:aa"}); err != nil {
		t.Fatal(err)
	}

	msg := readWS(t, conn)
	if msg.Type != events.UserEnter {
		t.Fatalf("event = %+v, want %s", msg, events.UserEnter)
	}
	data, _ := msg.Data.(map[string]any)
	if data["user"] != "carol" {
		t.Errorf("data = %v", msg.Data)
	}

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "2"}); err != nil {
		t.Fatal(err)
	}
	if pong := readWS(t, conn); pong.Type != WSTypePong || pong.ID != "2" {
		t.Errorf("pong = %+v", pong)
	}
}

func TestWebSocket_PublishesAndEchoes(t *testing.T) {
	env := newTestEnv(t, nil)

	received := make(chan bus.Event, 1)
	env.bus.Subscribe("panel.button", bus.Sync(func(p bus.Payload) {
		received <- p.(bus.Event)
	}))

	sender := dialWS(t, env)
	other := dialWS(t, env)

	if err := sender.WriteMessage(websocket.TextMessage, []byte(`{"type":"panel.button","data":{"id":3}}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-received:
		if ev.Data["id"] != float64(3) {
			t.Errorf("data = %v", ev.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}

	for _, conn := range []*websocket.Conn{sender, other} {
		if echo := readWS(t, conn); echo.Type != "panel.button" {
			t.Errorf("echo = %+v", echo)
		}
	}
}

func TestWebSocket_RejectsBadMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	conn := dialWS(t, env)

	for _, raw := range []string{
		`not json`,
		`{"data":{}}`,
		`{"type":"error","data":{}}`,
		`{"type":"subscribe","data":{"events":[]}}`,
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatal(err)
		}
		if msg := readWS(t, conn); msg.Type != WSTypeError {
			t.Errorf("%s: reply = %+v, want error", raw, msg)
		}
	}
}

func TestWebSocket_RateLimited(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.WS.MessagesPerSecond = 1 })
	conn := dialWS(t, env)

	for i := 0; i < 2; i++ {
		if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: fmt.Sprint(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if first := readWS(t, conn); first.Type != WSTypePong {
		t.Errorf("first reply = %+v, want pong", first)
	}
	if second := readWS(t, conn); second.Type != WSTypeError {
		t.Errorf("second reply = %+v, want rate limit error", second)
	}
}

// ─── Error mapping ─────────────────────────────────────────────────

func TestWriteDomainError(t *testing.T) {
	fallback := internalError("operation failed")

	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"unknown module", fmt.Errorf("%w: hifi", settings.ErrUnknownModule), http.StatusNotFound, ErrCodeNotFound, "hifi"},
		{"type mismatch", settings.ErrTypeMismatch, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
		{"alarm missing", fmt.Errorf("deleting: %w", alarm.ErrNotFound), http.StatusNotFound, ErrCodeNotFound, "alarm not found"},
		{"missing playlist", audio.ErrMissingArgument, http.StatusUnprocessableEntity, ErrCodeValidation, ""},
		{"player down", audio.ErrPlayerUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable, "media player unavailable"},
		{"unmapped", errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal, "operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeDomainError(w, tt.err, fallback)

			var resp Error
			decode(t, w, &resp)
			if w.Code != tt.status || resp.Status != tt.status || resp.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", w.Code, resp, tt.status, tt.code)
			}
			if !strings.Contains(resp.Message, tt.msg) {
				t.Errorf("message = %q, want it to contain %q", resp.Message, tt.msg)
			}
			if strings.Contains(resp.Message, "disk full") {
				t.Error("unmapped error text leaked to the client")
			}
		})
	}
}
