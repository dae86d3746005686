package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/home-awareness/internal/alarm"
	"github.com/nerrad567/home-awareness/internal/audit"
	"github.com/nerrad567/home-awareness/internal/audio"
	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/infrastructure/config"
	"github.com/nerrad567/home-awareness/internal/infrastructure/logging"
	"github.com/nerrad567/home-awareness/internal/settings"
	"github.com/nerrad567/home-awareness/internal/tracking"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventBus is the part of the event bus the server uses.
// *bus.Bus satisfies it.
type EventBus interface {
	Subscribe(name string, h bus.Handler) bus.HandlerRef
	Unsubscribe(name string, ref bus.HandlerRef)
	Publish(name string, payload bus.Payload) (bool, error)
	Stats() bus.Stats
}

// Presence reports who is home. *tracking.Tracker satisfies it.
type Presence interface {
	CurrentUsers() []tracking.User
	Occupancy() int
}

// Settings is the runtime settings store. *settings.Store satisfies it.
type Settings interface {
	Modules() []settings.ModuleView
	Get(module, item string) (any, error)
	Set(ctx context.Context, module, item string, value any) error
	Update(ctx context.Context, update map[string]map[string]any) error
}

// Player controls the media player. *audio.Controller satisfies it.
type Player interface {
	Command(ctx context.Context, cmd string, arg audio.Arg) error
	State(ctx context.Context) (audio.State, error)
}

// Alarms manages scheduled alarms. *alarm.Scheduler satisfies it.
type Alarms interface {
	Create(ctx context.Context, label, spec string, once bool) (alarm.Alarm, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]alarm.Alarm, error)
}

// AuditLog stores the audit trail. *audit.SQLiteRepository satisfies it.
type AuditLog interface {
	Record(ctx context.Context, e *audit.Entry) error
	List(ctx context.Context, filter audit.Filter) (*audit.Page, error)
}

// ConnectionStatus reports whether an external connection is up.
// *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
//
// Logger and Bus are required. Every other collaborator is optional; the
// routes that need a missing one answer 503.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Bus      EventBus
	Presence Presence
	History  tracking.History
	Settings Settings
	Player   Player
	Alarms   Alarms
	Audit    AuditLog
	MQTT     ConnectionStatus
	Metrics  http.Handler

	// WSEvents lists the bus events relayed to WebSocket clients.
	// Defaults to DefaultWSEvents.
	WSEvents []string

	Version string
}

// Server is the HTTP API server for the Home Awareness hub.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	bus      EventBus
	presence Presence
	history  tracking.History
	settings Settings
	player   Player
	alarms   Alarms
	audit    AuditLog
	mqtt     ConnectionStatus
	metrics  http.Handler
	version  string

	startTime time.Time
	hub       *Hub
	limiter   *ipLimiter
	router    http.Handler
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()

	mu        sync.Mutex
	wsEvents  []string
	relayRefs map[string]bus.HandlerRef
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its router is
// ready for use through Handler().
//
// Parameters:
//   - deps: Required dependencies (logger, bus) plus optional collaborators
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}

	wsEvents := deps.WSEvents
	if len(wsEvents) == 0 {
		wsEvents = DefaultWSEvents
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		bus:       deps.Bus,
		presence:  deps.Presence,
		history:   deps.History,
		settings:  deps.Settings,
		player:    deps.Player,
		alarms:    deps.Alarms,
		audit:     deps.Audit,
		mqtt:      deps.MQTT,
		metrics:   deps.Metrics,
		version:   deps.Version,
		startTime: time.Now(),
		wsEvents:  wsEvents,
		relayRefs: make(map[string]bus.HandlerRef),
	}

	s.hub = NewHub(s.wsCfg, s.logger, s.bus)
	if s.secCfg.RateLimit.Enabled && s.secCfg.RateLimit.RequestsPerMinute > 0 {
		s.limiter = newIPLimiter(s.secCfg.RateLimit.RequestsPerMinute)
	}
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, relays the configured bus events to
// WebSocket clients, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context for the server's background goroutines
//
// Returns:
//   - error: If the server was already started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanLoop(srvCtx)
	}
	s.relayEvents()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents subscribes one handler per relayed event that broadcasts the
// event to WebSocket clients subscribed to its name.
func (s *Server) relayEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range s.wsEvents {
		if _, ok := s.relayRefs[name]; ok {
			continue
		}
		s.relayRefs[name] = s.bus.Subscribe(name, bus.Sync(func(p bus.Payload) {
			s.hub.Broadcast(name, bus.PayloadData(p))
		}))
	}
}

// stopRelay removes the WebSocket relay handlers from the bus.
func (s *Server) stopRelay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, ref := range s.relayRefs {
		s.bus.Unsubscribe(name, ref)
		delete(s.relayRefs, name)
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	s.stopRelay()

	// Cancel background goroutines (hub, limiter cleanup)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
