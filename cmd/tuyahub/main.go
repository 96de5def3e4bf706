// Tuya Hub Core - Local Smart Device Hub
//
// This is the main entry point for the Tuya Hub application. The hub
// keeps a catalogue of Tuya devices, reconciles their state over the
// LAN adapter, runs countdown timers, and exposes a control API for
// local clients. Everything runs offline; the cloud is only ever used
// for the initial device import.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/tuyahub/core/migrations"

	"github.com/tuyahub/core/internal/api"
	"github.com/tuyahub/core/internal/bridges/lan"
	"github.com/tuyahub/core/internal/device"
	"github.com/tuyahub/core/internal/infrastructure/config"
	"github.com/tuyahub/core/internal/infrastructure/database"
	"github.com/tuyahub/core/internal/infrastructure/influxdb"
	"github.com/tuyahub/core/internal/infrastructure/logging"
	"github.com/tuyahub/core/internal/infrastructure/mqtt"
	"github.com/tuyahub/core/internal/notify"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
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
	log.Info("starting Tuya Hub",
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

	store := device.NewSQLiteStore(db.DB)
	notifyStore := notify.NewSQLiteStore(db.DB)

	// Connect to MQTT broker (optional - without it the hub serves the
	// catalogue read-only because no link transport exists)
	var mqttClient *mqtt.Client
	var lanFactory *lan.Factory
	var factory device.LinkFactory
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
		mqttClient.SetLogger(log)

		lanFactory = lan.NewFactory(mqttClient, lan.Options{
			QoS:     byte(cfg.MQTT.QoS),
			Timeout: cfg.GetLinkTimeout(),
			Retries: cfg.Hub.LinkRetryLimit,
			Logger:  log,
		})
		if startErr := lanFactory.Start(); startErr != nil {
			return fmt.Errorf("starting LAN link factory: %w", startErr)
		}
		defer func() {
			if stopErr := lanFactory.Stop(); stopErr != nil {
				log.Warn("stopping LAN link factory", "error", stopErr)
			}
		}()
		log.Info("LAN link factory started")
		factory = lanFactory
	} else {
		log.Warn("MQTT disabled, device control and polling unavailable")
		factory = device.LinkFactoryFunc(func(device.LinkConfig) (device.Link, error) {
			return nil, fmt.Errorf("no device transport configured")
		})
	}

	// Initialise device registry
	registry := device.NewRegistry(store, factory)
	registry.SetLogger(log)
	if loadErr := registry.LoadSystem(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	defer registry.Close()
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	scheduler := device.NewScheduler()

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var metrics device.MetricsWriter
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
		metrics = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is shared between the API server and the poller so
	// both can push state changes to connected clients
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	sink := device.StateSinkFunc(func(d device.Device) {
		hub.Broadcast("device.state_changed", d)
		if mqttClient != nil {
			publishDeviceState(mqttClient, byte(cfg.MQTT.QoS), d, log)
		}
	})

	// Unsolicited state pushes from the adapter flow into the registry
	// the same way poll results do
	if lanFactory != nil {
		subErr := lanFactory.SubscribeStates(func(deviceID string, values map[string]any) {
			changed, applyErr := registry.ApplyState(ctx, deviceID, values)
			if applyErr != nil {
				log.Warn("applying pushed state", "device", deviceID, "error", applyErr)
				return
			}
			if changed {
				if d, getErr := registry.GetDevice(deviceID); getErr == nil {
					sink.DeviceStateChanged(*d)
				}
			}
		})
		if subErr != nil {
			return fmt.Errorf("subscribing to adapter state: %w", subErr)
		}
	}

	// Start the reconciliation loop
	poller := device.NewPoller(registry, scheduler, device.PollerOptions{
		Interval: cfg.GetPollInterval(),
		Pause:    cfg.GetDevicePause(),
		Sink:     sink,
		Metrics:  metrics,
		Logger:   log,
	})
	go poller.Run(ctx)
	log.Info("poller started", "interval", cfg.GetPollInterval())

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log,
		Registry:      registry,
		Scheduler:     scheduler,
		Settings:      store,
		Notifications: notifyStore,
		MQTT:          mqttClient,
		ExternalHub:   hub,
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. Device registry links
	// 4. MQTT (if enabled)
	// 5. Database

	log.Info("Tuya Hub stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TUYAHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TUYAHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// devicePayload is the canonical device state published to MQTT after
// every confirmed change.
type devicePayload struct {
	DeviceID      string         `json:"device_id"`
	Name          string         `json:"name"`
	Online        bool           `json:"online"`
	ChannelValues map[string]any `json:"channel_values"`
	Timestamp     time.Time      `json:"timestamp"`
}

// publishDeviceState publishes the canonical state topic for a device.
// Retained so late subscribers see the latest state immediately.
func publishDeviceState(client *mqtt.Client, qos byte, d device.Device, log *logging.Logger) {
	payload, err := json.Marshal(devicePayload{
		DeviceID:      d.ID,
		Name:          d.Name,
		Online:        d.Online,
		ChannelValues: d.ChannelValues,
		Timestamp:     time.Now().UTC(),
	})
	if err != nil {
		log.Error("encoding device state", "device", d.ID, "error", err)
		return
	}

	topic := mqtt.Topics{}.CoreDeviceState(d.ID)
	if err := client.Publish(topic, payload, qos, true); err != nil {
		log.Warn("publishing device state", "device", d.ID, "error", err)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
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
