// BACmon Core - BACnet Field Device Monitoring
//
// This is the main entry point for the BACmon Core application.
// BACmon watches a building's BACnet field devices through a protocol
// gateway: it discovers controllers, catalogs their points, collects
// readings on a schedule, and scores every sample for anomalies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/MarkHash/bacmon-core/migrations"

	"github.com/MarkHash/bacmon-core/internal/anomaly"
	"github.com/MarkHash/bacmon-core/internal/api"
	"github.com/MarkHash/bacmon-core/internal/bacnet"
	"github.com/MarkHash/bacmon-core/internal/collector"
	"github.com/MarkHash/bacmon-core/internal/device"
	"github.com/MarkHash/bacmon-core/internal/discovery"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/config"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/database"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/influxdb"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/logging"
	"github.com/MarkHash/bacmon-core/internal/infrastructure/mqtt"
	"github.com/MarkHash/bacmon-core/internal/monitor"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BACmon Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
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

	// Open database
	db, err := database.Open(database.Config{
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry and repositories
	deviceRepo := device.NewSQLiteRepository(db.DB)
	pointRepo := device.NewSQLitePointRepository(db.DB)
	readingRepo := device.NewSQLiteReadingRepository(db.DB)

	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.GetDeviceCount())

	// Connect to the BACnet gateway
	gateway := bacnet.NewGatewayClient(bacnet.GatewayConfig{
		URL:              cfg.BACnet.GatewayURL,
		DiscoveryTimeout: cfg.BACnet.DiscoveryTimeout,
		RequestTimeout:   cfg.BACnet.RequestTimeout,
	})
	log.Info("BACnet gateway client ready", "url", cfg.BACnet.GatewayURL)

	// Connect to MQTT broker (optional)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Build the monitoring pipeline
	engine := discovery.NewEngine(gateway, registry, cfg.BACnet.SelfDeviceID)
	engine.SetLogger(log)

	catalog := discovery.NewCatalogBuilder(gateway, registry, pointRepo)
	catalog.SetLogger(log)

	detector, err := anomaly.NewDetector(anomaly.Config{
		ZScoreThreshold:    cfg.Anomaly.ZScoreThreshold,
		IQRMultiplier:      cfg.Anomaly.IQRMultiplier,
		MinSamples:         cfg.Anomaly.MinSamples,
		MinEnsembleSamples: cfg.Anomaly.MinEnsembleSamples,
		WeightZScore:       cfg.Anomaly.Weights.ZScore,
		WeightIQR:          cfg.Anomaly.Weights.IQR,
		WeightMultiDim:     cfg.Anomaly.Weights.MultiDim,
		DecisionThreshold:  cfg.Anomaly.DecisionThreshold,
	})
	if err != nil {
		return fmt.Errorf("creating anomaly detector: %w", err)
	}

	coll, err := collector.New(gateway, registry, pointRepo, readingRepo, detector, collector.Config{
		BatchSize:    cfg.Collector.BatchSize,
		BatchTimeout: cfg.Collector.BatchTimeout,
		MaxRetries:   cfg.Collector.MaxRetries,
		RetryBackoff: cfg.Collector.RetryBackoff,
		Concurrency:  cfg.Collector.Concurrency,
		Lookback:     cfg.Anomaly.Lookback,
	})
	if err != nil {
		return fmt.Errorf("creating collector: %w", err)
	}
	defer coll.Close()
	coll.SetLogger(log)

	var publisher monitor.Publisher
	if mqttClient != nil {
		publisher = mqttClient
	}
	var mirror monitor.Mirror
	if influxClient != nil {
		mirror = influxClient
	}

	svc := monitor.New(engine, catalog, coll, registry, publisher, mirror, monitor.Config{
		DiscoveryInterval:  cfg.Collector.DiscoveryInterval,
		CollectionInterval: cfg.Collector.Interval,
		StaleAfter:         cfg.Collector.StaleAfter,
		QoS:                byte(cfg.MQTT.QoS),
	})
	svc.SetLogger(log)

	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting monitor service: %w", startErr)
	}
	defer func() {
		log.Info("stopping monitor service")
		svc.Stop()
	}()
	log.Info("monitor service started",
		"discovery_interval", cfg.Collector.DiscoveryInterval,
		"collection_interval", cfg.Collector.Interval,
	)

	// Start the HTTP API server
	checks := map[string]api.HealthChecker{
		"database": db,
		"gateway":  gateway,
	}
	if mqttClient != nil {
		checks["mqtt"] = mqttClient
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Registry: registry,
		Points:   pointRepo,
		Readings: readingRepo,
		Monitor:  svc,
		Checks:   checks,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, log, db, gateway, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, monitor service, collector pool, InfluxDB, MQTT, database.

	log.Info("BACmon Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses the BACMON_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BACMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheckTimeout bounds the startup dependency probes.
const healthCheckTimeout = 10 * time.Second

// healthCheck verifies all infrastructure connections are healthy.
// The gateway probe is advisory: the core starts even when the gateway
// is down, since the scheduler retries on every cycle.
func healthCheck(ctx context.Context, log *logging.Logger, db *database.DB, gateway *bacnet.GatewayClient, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := gateway.HealthCheck(ctx); err != nil {
		log.Warn("BACnet gateway unreachable at startup", "error", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
