// Home Awareness - home presence hub
//
// This is the main entry point for the Home Awareness hub. The hub watches
// the local network for known devices, keeps track of who is home, and
// reacts on an in-process event bus: pausing the media player when the
// house empties, firing alarms, mirroring events to MQTT and serving a
// REST/WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/home-awareness/migrations"

	"github.com/nerrad567/home-awareness/internal/alarm"
	"github.com/nerrad567/home-awareness/internal/api"
	"github.com/nerrad567/home-awareness/internal/audio"
	"github.com/nerrad567/home-awareness/internal/audit"
	"github.com/nerrad567/home-awareness/internal/bus"
	"github.com/nerrad567/home-awareness/internal/infrastructure/config"
	"github.com/nerrad567/home-awareness/internal/infrastructure/database"
	"github.com/nerrad567/home-awareness/internal/infrastructure/influxdb"
	"github.com/nerrad567/home-awareness/internal/infrastructure/logging"
	"github.com/nerrad567/home-awareness/internal/infrastructure/metrics"
	"github.com/nerrad567/home-awareness/internal/infrastructure/mqtt"
	"github.com/nerrad567/home-awareness/internal/mqttbridge"
	"github.com/nerrad567/home-awareness/internal/settings"
	"github.com/nerrad567/home-awareness/internal/tracking"
	"github.com/nerrad567/home-awareness/internal/wifi"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// defaultTokenSubject names tokens issued without --subject.
const defaultTokenSubject = "homeaware-client"

// playerRetryAttempts bounds retries of a single media player request.
const playerRetryAttempts = 3

// errBusFault is the cancellation cause set when a deferred handler failure
// reaches no "error" subscriber.
var errBusFault = errors.New("unhandled event bus fault")

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the command tree. Running the root command without
// a subcommand serves the hub.
func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "homeaware",
		Short: "Home Awareness presence hub",
		Long: "Home Awareness watches the local network for known devices, tracks who is home\n" +
			"and drives the media player, alarms, MQTT and the REST/WebSocket API from one event bus.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), config.ResolvePath(configPath))
		},
	}
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("homeaware %s (commit %s, built %s)\n", version, commit, date))
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config file (default $HOMEAWARE_CONFIG or "+config.DefaultPath+")")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newTokenCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	return root
}

// newServeCommand creates the "serve" subcommand.
func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the hub until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), config.ResolvePath(*configPath))
		},
	}
}

// newTokenCommand creates the "token" subcommand, which signs an API bearer
// token with security.jwt.secret and prints it.
func newTokenCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.ResolvePath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			subject, _ := cmd.Flags().GetString("subject")
			ttl := time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			if cmd.Flags().Changed("ttl") {
				ttl, _ = cmd.Flags().GetDuration("ttl")
			}

			token, err := api.IssueToken(cfg.Security.JWT.Secret, subject, ttl)
			if err != nil {
				return fmt.Errorf("issuing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", defaultTokenSubject, "who the token is for")
	cmd.Flags().Duration("ttl", 0, "token lifetime, 0 for no expiry (default security.jwt.access_token_ttl)")
	return cmd
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Home Awareness",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	eventBus := newEventBus(log, cancel)
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), busDrainTimeout)
		defer closeCancel()
		if closeErr := eventBus.Close(closeCtx); closeErr != nil {
			log.Error("error draining event bus", "error", closeErr)
		}
	}()

	store, err := newSettingsStore(ctx, db, eventBus, log)
	if err != nil {
		return err
	}

	// InfluxDB is optional; the tracker runs without an occupancy writer.
	var influxClient *influxdb.Client
	var occupancy tracking.OccupancyWriter
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		occupancy = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	history := tracking.NewSQLiteHistory(db.DB)
	tracker := tracking.NewTracker(eventBus, history, occupancy)
	tracker.SetLogger(log.Component("tracking"))
	tracker.Subscribe(eventBus)

	deps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Bus:      eventBus,
		Presence: tracker,
		History:  history,
		Settings: store,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Version:  version,
	}

	if cfg.Audio.Enabled {
		player := audio.NewVolumio(audio.SettingsEndpoint(store), audio.ClientConfig{
			RequestTimeout: cfg.Audio.RequestTimeoutDuration(),
			RetryAttempts:  playerRetryAttempts,
			OnStateChange: func(from, to string) {
				log.Warn("media player circuit breaker changed state", "from", from, "to", to)
			},
		})
		controller := audio.NewController(player, store, eventBus)
		controller.SetLogger(log.Component("audio"))
		controller.Subscribe(eventBus)
		deps.Player = controller
	} else {
		log.Info("media player disabled")
	}

	var scheduler *alarm.Scheduler
	if cfg.Alarm.Enabled {
		scheduler = alarm.NewScheduler(alarm.NewSQLiteRepository(db.DB), eventBus, 0)
		scheduler.SetLogger(log.Component("alarm"))
		deps.Alarms = scheduler
	} else {
		log.Info("alarms disabled")
	}

	if cfg.MQTT.Enabled {
		mqttClient, bridge, mqttErr := startMQTT(ctx, cfg, eventBus, tracker, log)
		if mqttErr != nil {
			return mqttErr
		}
		defer func() {
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Error("error stopping MQTT bridge", "error", stopErr)
			}
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		deps.MQTT = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	deps.Metrics = metrics.Handler(metrics.NewRegistry(eventBus, tracker))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Wifi.Enabled {
		watcher := wifi.NewWatcher(wifi.NewArpScan(cfg.Wifi.Command), store, eventBus, wifi.Config{
			ScanInterval:  cfg.Wifi.ScanIntervalDuration(),
			ExitTimeout:   cfg.Wifi.ExitTimeoutDuration(),
			RetryAttempts: cfg.Wifi.RetryAttempts,
		})
		watcher.SetLogger(log.Component("wifi"))
		g.Go(func() error { return watcher.Run(gctx) })
	} else {
		log.Info("wifi watcher disabled")
	}

	if scheduler != nil {
		g.Go(func() error { return scheduler.Run(gctx) })
	}

	if influxClient != nil {
		interval := time.Duration(cfg.InfluxDB.FlushInterval) * time.Second
		g.Go(func() error {
			exportBusCounters(gctx, influxClient, eventBus, cfg.Site.ID, interval)
			return nil
		})
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	} else {
		log.Info("API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()
	log.Info("shutdown signal received, cleaning up")

	if err := g.Wait(); err != nil {
		return err
	}
	if cause := context.Cause(ctx); errors.Is(cause, errBusFault) {
		return cause
	}

	log.Info("Home Awareness stopped")
	return nil
}

// busDrainTimeout bounds how long shutdown waits for deferred bus tasks.
const busDrainTimeout = 10 * time.Second

// newEventBus creates the bus with an "error" sink that logs every handler
// failure. A fault, a deferred failure nobody handled, cancels the run.
func newEventBus(log *logging.Logger, cancel context.CancelCauseFunc) *bus.Bus {
	busLog := log.Component("bus")

	b := bus.New(
		bus.WithLogger(busLog),
		bus.WithFaultHandler(func(err error) {
			busLog.Error("unhandled event bus fault", "error", err)
			cancel(fmt.Errorf("%w: %w", errBusFault, err))
		}),
	)

	b.Subscribe(bus.ErrorEventName, bus.Sync(func(p bus.Payload) {
		logHandlerFailure(busLog, p)
	}))
	return b
}

// logHandlerFailure logs the payload of an "error" event.
func logHandlerFailure(log *logging.Logger, p bus.Payload) {
	var ev bus.ErrorEvent
	switch v := p.(type) {
	case bus.ErrorEvent:
		ev = v
	case *bus.ErrorEvent:
		if v != nil {
			ev = *v
		}
	case error:
		ev = bus.ErrorEvent{Err: v}
	default:
		log.Error("event handler failed", "payload", fmt.Sprintf("%v", p))
		return
	}
	log.Error("event handler failed", "event", ev.Source, "error", ev.Err)
}

// newSettingsStore opens the SQLite-backed settings store and registers
// every module's fields.
func newSettingsStore(ctx context.Context, db *database.DB, publisher settings.Publisher, log *logging.Logger) (*settings.Store, error) {
	store := settings.NewStore(settings.NewSQLiteRepository(db.DB), publisher)
	store.SetLogger(log.Component("settings"))

	modules := []struct {
		name   string
		fields []settings.Field
	}{
		{wifi.ModuleName, wifi.Fields()},
		{tracking.ModuleName, tracking.Fields()},
		{audio.ModuleName, audio.Fields()},
	}
	for _, m := range modules {
		if err := store.RegisterModule(ctx, m.name, m.fields...); err != nil {
			return nil, fmt.Errorf("registering %s settings: %w", m.name, err)
		}
	}
	return store, nil
}

// startMQTT connects to the broker and starts the bus bridge.
//
// Returns:
//   - *mqtt.Client: Connected client
//   - *mqttbridge.Bridge: Running bridge
//   - error: If the connection or bridge start fails
func startMQTT(ctx context.Context, cfg *config.Config, eventBus *bus.Bus, presence mqttbridge.Presence, log *logging.Logger) (*mqtt.Client, *mqttbridge.Bridge, error) {
	client, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	bridge := mqttbridge.New(client, eventBus, presence, mqttbridge.Config{
		QoS:           byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0-2
		ForwardEvents: cfg.MQTT.ForwardEvents,
	})
	bridge.SetLogger(log.Component("mqttbridge"))
	if err := bridge.Start(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("starting MQTT bridge: %w", err)
	}
	return client, bridge, nil
}

// busCounterWriter records bus counter snapshots. *influxdb.Client
// satisfies it.
type busCounterWriter interface {
	WriteBusCounters(site string, counters map[string]uint64)
}

// exportBusCounters writes a snapshot of the bus counters every interval
// until ctx is cancelled.
func exportBusCounters(ctx context.Context, w busCounterWriter, source metrics.StatsSource, site string, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteBusCounters(site, busCounters(source.Stats()))
		}
	}
}

// busCounters flattens the monotonic bus counters into InfluxDB fields.
func busCounters(s bus.Stats) map[string]uint64 {
	return map[string]uint64{
		"published":       s.Published,
		"unhandled":       s.Unhandled,
		"invoked":         s.Invoked,
		"inline_failures": s.InlineFailures,
		"scheduled":       s.Scheduled,
		"task_failures":   s.TaskFailures,
		"dropped":         s.Dropped,
		"faults":          s.Faults,
	}
}
