package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greyfell/hubsync/internal/api"
	"github.com/greyfell/hubsync/internal/coordinator"
	"github.com/greyfell/hubsync/internal/history"
	"github.com/greyfell/hubsync/internal/hub"
	"github.com/greyfell/hubsync/internal/infrastructure/config"
	"github.com/greyfell/hubsync/internal/infrastructure/database"
	"github.com/greyfell/hubsync/internal/infrastructure/influxdb"
	"github.com/greyfell/hubsync/internal/infrastructure/logging"
	"github.com/greyfell/hubsync/internal/infrastructure/mqtt"
	"github.com/greyfell/hubsync/internal/telemetry"
	_ "github.com/greyfell/hubsync/migrations"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("hubsync %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "hubsync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting hubsync",
		"version", version, "hub", fmt.Sprintf("%s:%d", cfg.Hub.Host, cfg.Hub.Port))

	// Database and schema.
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	logger.Info("database ready", "path", db.Path())

	// Hub connection. Startup proceeds even if the hub is unreachable;
	// the coordinator keeps retrying on its poll cadence.
	hubClient := hub.New(cfg.Hub)
	hubClient.SetLogger(logger.With("component", "hub"))
	defer hubClient.Close()

	if err := hubClient.Connect(ctx); err != nil {
		logger.Warn("hub not reachable at startup", "error", err)
	}

	// Coordinator.
	coord := coordinator.New(hubClient, cfg.Sync)
	coord.SetLogger(logger.With("component", "coordinator"))
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer coord.Stop()

	// History recorder.
	repo := history.NewRepository(db)
	recorder := history.NewRecorder(repo, logger.With("component", "history"))
	historyEvents, cancelHistory := coord.Subscribe()
	defer cancelHistory()
	go recorder.Run(ctx, historyEvents)

	// Optional MQTT mirror.
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			logger.Error("mqtt connection failed, continuing without it", "error", err)
		} else {
			mqttClient.SetLogger(logger.With("component", "mqtt"))
			defer mqttClient.Close()

			publisher := telemetry.NewStatePublisher(mqttClient, byte(cfg.MQTT.QoS), logger.With("component", "telemetry")) //nolint:gosec // QoS validated by config
			mqttEvents, cancelMQTT := coord.Subscribe()
			defer cancelMQTT()
			go publisher.Run(ctx, mqttEvents)
			logger.Info("mqtt mirror enabled", "broker", cfg.MQTT.Broker.Host)
		}
	}

	// Optional InfluxDB sink.
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		logger.Debug("influxdb sink disabled")
	case err != nil:
		logger.Error("influxdb connection failed, continuing without it", "error", err)
	default:
		influxClient.SetLogger(logger.With("component", "influxdb"))
		defer influxClient.Close()

		sink := telemetry.NewInfluxSink(influxClient)
		influxEvents, cancelInflux := coord.Subscribe()
		defer cancelInflux()
		go sink.Run(ctx, influxEvents)
		logger.Info("influxdb sink enabled", "url", cfg.InfluxDB.URL)
	}

	// HTTP API.
	server, err := api.New(cfg.API, cfg.WebSocket, api.Deps{
		Coordinator:  coord,
		History:      repo,
		HubConnected: hubClient.IsConnected,
		Logger:       logger.With("component", "api"),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", "error", err)
	}

	logger.Info("hubsync stopped")
	return nil
}
