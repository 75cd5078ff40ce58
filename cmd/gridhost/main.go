// gridhost - realtime grid hosting service
//
// This is the main entry point for the gridhost server. It stores hosts and
// their grids, and pushes every change to connected websocket listeners as
// one JSON event frame per change.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gridhost/internal/api"
	"github.com/nerrad567/gridhost/internal/host"
	"github.com/nerrad567/gridhost/internal/infrastructure/cache"
	"github.com/nerrad567/gridhost/internal/infrastructure/config"
	"github.com/nerrad567/gridhost/internal/infrastructure/database"
	"github.com/nerrad567/gridhost/internal/infrastructure/influxdb"
	"github.com/nerrad567/gridhost/internal/infrastructure/logging"
	"github.com/nerrad567/gridhost/internal/infrastructure/mqtt"
	"github.com/nerrad567/gridhost/internal/realtime"
	"github.com/nerrad567/gridhost/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// healthCheckTimeout bounds the start-up health checks.
const healthCheckTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service together and blocks until ctx is cancelled.
// Resources are released in reverse order of acquisition.
func run(ctx context.Context) error { //nolint:gocognit,funlen // linear start-up sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting gridhost",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Document store
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo, closeRepo, err := newRepository(cfg, db)
	if err != nil {
		return err
	}
	defer closeRepo()

	// Realtime fan-out
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := realtime.NewMetrics(promReg, api.EventNames()...)
	rtLog := log.Component("realtime")

	registry := realtime.NewRegistry(metrics)
	broadcaster := realtime.NewBroadcaster(registry,
		realtime.WithMetrics(metrics),
		realtime.WithLogger(rtLog),
	)
	prober := realtime.NewProber(registry, cfg.WebSocket.GetPingInterval(),
		realtime.WithMetrics(metrics),
		realtime.WithLogger(rtLog),
	)
	lifecycle := realtime.NewLifecycle(registry, prober, realtime.WithLogger(rtLog))
	log.Info("realtime fan-out ready", "ping_interval", prober.Interval().String())

	// Message bus (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		broadcaster.AddObserver(mirrorObserver(mqttClient, log))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", mqttClient.Topics().Prefix,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
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
		broadcaster.AddObserver(telemetryObserver(influxClient, metrics))
		prober.OnSweep(sweepTelemetry(influxClient))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	// HTTP and websocket
	srv, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Metrics:     cfg.Metrics,
		Logger:      log.Component("api"),
		Repo:        repo,
		Registry:    registry,
		Broadcaster: broadcaster,
		Prober:      prober,
		Lifecycle:   lifecycle,
		MQTT:        mqttClient,
		Gatherer:    promReg,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal", "address", srv.Addr())

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, InfluxDB, MQTT, cache, database.

	log.Info("gridhost stopped")
	return nil
}

// getConfigPath returns GRIDHOST_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv("GRIDHOST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newRepository builds the host repository, fronted by the read cache when
// it is enabled. The returned func releases the cache.
func newRepository(cfg *config.Config, db *database.DB) (host.Repository, func(), error) {
	base := host.NewSQLiteRepository(db.DB)
	if !cfg.Cache.Enabled {
		return base, func() {}, nil
	}
	c, err := cache.New(cfg.Cache.MaxCost, cfg.GetCacheTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("creating cache: %w", err)
	}
	return host.NewCachedRepository(base, c), c.Close, nil
}

// mirrorObserver republishes every broadcast event on {prefix}/fanout/{name}.
// Publishing is asynchronous so a slow broker never stalls a broadcast.
func mirrorObserver(client *mqtt.Client, log *logging.Logger) realtime.Observer {
	topics := client.Topics()
	return realtime.ObserverFunc(func(ev realtime.Event, _ realtime.Delivery) {
		payload, err := ev.MarshalJSON()
		if err != nil {
			log.Warn("failed to encode event for mirror", "event", ev.Name, "error", err)
			return
		}
		if err := client.PublishAsync(topics.Fanout(ev.Name), payload, client.QoS()); err != nil &&
			!errors.Is(err, mqtt.ErrNotConnected) {
			log.Warn("failed to mirror event", "event", ev.Name, "error", err)
		}
	})
}

// telemetryObserver writes one fanout point per broadcast. The event tag
// uses the same bounded names as the prometheus counters.
func telemetryObserver(client *influxdb.Client, metrics *realtime.Metrics) realtime.Observer {
	return realtime.ObserverFunc(func(ev realtime.Event, d realtime.Delivery) {
		client.WriteFanout(influxdb.FanoutSample{
			Event:     metrics.EventLabel(ev.Name),
			Attempted: d.Attempted,
			Delivered: d.Delivered,
			Pruned:    d.Pruned,
			At:        ev.Timestamp,
		})
	})
}

// sweepTelemetry writes one listeners point per liveness sweep.
func sweepTelemetry(client *influxdb.Client) func(realtime.SweepStats) {
	return func(s realtime.SweepStats) {
		client.WriteListeners(influxdb.ListenerSample{
			Registered: s.Listeners,
			Pinged:     s.Pinged,
			At:         s.At,
		})
	}
}

// errUnknownMigrateCommand is returned for a migrate action other than
// up, down or status.
var errUnknownMigrateCommand = errors.New("unknown migrate command (want up, down or status)")

// runMigrate applies (up), rolls back one (down) or lists (status) schema
// migrations against the configured database, then prints the status to out.
//
// Usage: gridhost migrate [up|down|status]
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	action := "up"
	if len(args) > 0 {
		action = args[0]
	}
	switch action {
	case "up", "down", "status":
	default:
		return fmt.Errorf("%w: %q", errUnknownMigrateCommand, action)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // process exits next

	switch action {
	case "up":
		err = db.Migrate(ctx, migrations.FS)
	case "down":
		err = db.MigrateDown(ctx, migrations.FS)
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", action, err)
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	for _, m := range applied {
		fmt.Fprintf(out, "applied  %s  %s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(out, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// healthCheck verifies the enabled infrastructure concurrently and returns
// the first failure.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := db.HealthCheck(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})
	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}
	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}
