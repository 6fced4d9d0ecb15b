// Gray Logic Cybro Bridge
//
// This is the main entry point for the Cybro PLC bridge. It polls a Cybro
// SCGI server, classifies the PLC variables into sensors and binary
// sensors and publishes them over MQTT with Home Assistant discovery.
//
// Runtime layout:
//   - SQLite entity registry with state history
//   - MQTT state, availability and health topics
//   - Optional InfluxDB telemetry
//   - Optional REST and WebSocket API
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	_ "github.com/nerrad567/gray-logic-cybro/migrations"

	"github.com/nerrad567/gray-logic-cybro/internal/api"
	"github.com/nerrad567/gray-logic-cybro/internal/audit"
	"github.com/nerrad567/gray-logic-cybro/internal/bridges/cybro"
	"github.com/nerrad567/gray-logic-cybro/internal/coordinator"
	"github.com/nerrad567/gray-logic-cybro/internal/entity"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-cybro/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-cybro/internal/scgi"
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

// historyPurgeInterval is how often expired history and audit entries are deleted.
const historyPurgeInterval = time.Hour

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Components are stopped in reverse start order when run returns. Stop
// failures are joined with the error that ended run.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) (err error) {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Cybro bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	var stack shutdownStack
	defer func() {
		if stopErr := stack.run(log); stopErr != nil {
			err = multierror.Append(err, stopErr)
		}
	}()

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	stack.push("database", db.Close)
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", applied)

	registry := entity.NewRegistry(entity.NewSQLiteRepository(db.DB), cfg.Cybro.Address)
	registry.SetLogger(log.Component("registry"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading entity registry: %w", refreshErr)
	}
	log.Info("entity registry initialised", "entities", registry.Count())

	auditRepo := audit.NewSQLiteRepository(db.DB)
	auditLog := audit.NewRecorder(auditRepo, 0)
	auditLog.SetLogger(log.Component("audit"))
	auditCtx, stopAudit := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		auditLog.Run(auditCtx)
		close(auditDone)
	}()
	stack.push("audit", func() error {
		auditLog.Record(audit.Entry{Action: audit.ActionShutdown, Source: audit.SourceSystem})
		stopAudit()
		<-auditDone
		return nil
	})

	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(mqtt.Will{
		Topic:    cybro.AvailabilityTopic(),
		Payload:  cybro.PayloadOffline,
		QoS:      1,
		Retained: true,
	}, ""))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	stack.push("mqtt", mqttClient.Close)
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		stack.push("influxdb", influxClient.Close)
	}

	scgiClient, err := scgi.NewClient(scgi.Config{
		Host:    cfg.Cybro.Host,
		Port:    cfg.Cybro.Port,
		NAD:     cfg.Cybro.Address,
		Timeout: cfg.GetCybroTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating SCGI client: %w", err)
	}

	coord, err := coordinator.New(coordinator.Config[*scgi.Device]{
		Name:     fmt.Sprintf("cybro c%d", cfg.Cybro.Address),
		Interval: cfg.GetScanInterval(),
		Update:   pollFunc(scgiClient, influxClient),
		Logger:   log.Component("coordinator"),
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	bridge, err := startBridge(ctx, cfg, scgiClient, coord, mqttClient, registry, influxClient, log)
	if err != nil {
		return err
	}
	stack.push("bridge", func() error {
		bridge.Stop()
		return nil
	})

	// MQTT callbacks are set once the bridge exists so a reconnect can
	// republish everything the broker may have lost.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.ClearStateCache()
		if repubErr := bridge.RepublishDiscovery(); repubErr != nil && !errors.Is(repubErr, cybro.ErrNotReady) {
			log.Warn("republishing discovery failed", "error", repubErr)
		}
	})
	mqttClient.SetOnDisconnect(func(disconnectErr error) {
		log.Warn("MQTT disconnected", "error", disconnectErr)
	})

	pollCtx, stopPolling := context.WithCancel(ctx)
	stack.push("coordinator", func() error {
		stopPolling()
		return nil
	})
	go coord.Run(pollCtx)
	log.Info("polling started",
		"server", net.JoinHostPort(cfg.Cybro.Host, strconv.Itoa(cfg.Cybro.Port)),
		"nad", cfg.Cybro.Address,
		"interval", cfg.GetScanInterval().String(),
	)

	go purgeLoop(pollCtx, cfg.GetHistoryRetention(), log.Component("retention"), registry.PurgeHistory, auditRepo.PurgeOlderThan)

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Bridge:   bridge,
			Poller:   coord,
			History:  registry,
			MQTT:     mqttClient,
			DB:       db,
			Audit:    auditLog,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		stack.push("api", server.Close)
		log.Info("API server started", "addr", server.Addr())
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	auditLog.Record(audit.Entry{
		Action: audit.ActionStartup,
		Source: audit.SourceSystem,
		Target: fmt.Sprintf("c%d", cfg.Cybro.Address),
		Details: map[string]any{
			"version": version,
			"commit":  commit,
		},
	})
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux connects to InfluxDB when enabled.
//
// Returns:
//   - *influxdb.Client: connected client, or nil when telemetry is disabled
//   - error: if InfluxDB is enabled but unreachable
func connectInflux(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// pollFunc wraps the SCGI client as the coordinator's data source and
// records every poll outcome in InfluxDB when telemetry is enabled.
func pollFunc(client *scgi.Client, influx *influxdb.Client) coordinator.UpdateFunc[*scgi.Device] {
	return func(ctx context.Context, full bool) (*scgi.Device, error) {
		start := time.Now()
		dev, err := client.Update(ctx, full)

		if influx != nil {
			vars := 0
			if dev != nil {
				vars = len(dev.Vars)
			}
			influx.WritePoll(client.NAD(), err == nil, full, time.Since(start), vars)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid response from Cybro scgi server: %w", err)
		}
		return dev, nil
	}
}

// startBridge creates and starts the MQTT bridge for the PLC.
//
// Parameters:
//   - ctx: Context for the bridge lifetime
//   - cfg: Application configuration
//   - scgiClient: variable tracker polled by the coordinator
//   - coord: update coordinator
//   - mqttClient: MQTT client for publishing
//   - registry: entity registry
//   - influxClient: telemetry sink (may be nil if disabled)
//   - log: Logger instance
//
// Returns:
//   - *cybro.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	scgiClient *scgi.Client,
	coord *coordinator.Coordinator[*scgi.Device],
	mqttClient *mqtt.Client,
	registry *entity.Registry,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*cybro.Bridge, error) {
	opts := cybro.Options{
		NAD:                cfg.Cybro.Address,
		Weather:            cfg.Cybro.Weather,
		ExtraBinarySensors: cfg.Cybro.ExtraBinarySensors,
		DiscoveryEnabled:   cfg.HomeAssistant.DiscoveryEnabled,
		DiscoveryPrefix:    cfg.HomeAssistant.DiscoveryPrefix,
		HealthInterval:     cfg.GetHealthInterval(),
		Version:            version,
		Address:            net.JoinHostPort(cfg.Cybro.Host, strconv.Itoa(cfg.Cybro.Port)),
		MQTT:               mqttClient,
		Coordinator:        coord,
		Tracker:            scgiClient,
		Registry:           registry,
		Logger:             log.Component("bridge"),
	}
	// Assigned only when present so the interface stays nil when disabled.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}

	bridge, err := cybro.NewBridge(opts)
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	return bridge, nil
}

// purgeFunc deletes records older than the given age.
// Registry.PurgeHistory and audit.SQLiteRepository.PurgeOlderThan match it.
type purgeFunc func(ctx context.Context, olderThan time.Duration) (int64, error)

// purgeLoop runs every purge func now and then every historyPurgeInterval
// until ctx is cancelled. A zero retention keeps everything forever.
func purgeLoop(ctx context.Context, retention time.Duration, log *logging.Logger, purges ...purgeFunc) {
	if retention <= 0 {
		return
	}

	purgeAll := func() {
		for _, purge := range purges {
			if _, err := purge(ctx, retention); err != nil && ctx.Err() == nil {
				log.Warn("purging expired records failed", "error", err)
			}
		}
	}

	purgeAll()

	ticker := time.NewTicker(historyPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeAll()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The SCGI server is not checked: the coordinator retries it on every
	// tick and the bridge reports it through availability.
	return nil
}
