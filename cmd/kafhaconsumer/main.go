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

	"github.com/jittakal/kafhaconsumer/internal/config"
	kerrors "github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/internal/ha"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"github.com/jittakal/kafhaconsumer/internal/kafka"
	"github.com/jittakal/kafhaconsumer/internal/metrics"
	"github.com/jittakal/kafhaconsumer/internal/router"
	"github.com/jittakal/kafhaconsumer/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

var (
	// Version information (set during build)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"

	// Command-line flags
	configFile = flag.String("config", getEnv("CONFIG_FILE", ""), "Path to configuration file")
	logLevel   = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
)

func main() {
	flag.Parse()

	logger, err := initLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(logger); err != nil {
		logger.Error("kafhaconsumer stopped with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(logger *zap.Logger) error {
	logger.Info("Starting kafhaconsumer",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("buildTime", buildTime),
	)

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Info("Configuration loaded",
		zap.String("configFile", *configFile),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("consumerGroup", cfg.Kafka.ConsumerGroup),
		zap.String("eventTopic", cfg.Topics.Event),
		zap.String("controlTopic", cfg.Topics.Control),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := metrics.NewCollector(registry)

	transport, err := kafka.NewTransport(cfg, logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to create Kafka transport: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			logger.Warn("Failed to close Kafka transport", zap.Error(err))
		}
	}()

	producer, err := kafka.NewProducer(cfg.Kafka, logger, metricsCollector)
	if err != nil {
		return fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Warn("Failed to close Kafka producer", zap.Error(err))
		}
	}()

	roles := make(chan ha.Notification)
	forward := make(chan *incident.Assignment)
	markers := make(chan incident.Marker)
	ready := make(chan struct{}, 1)

	coordinator, err := ha.New(
		transport,
		ha.Config{EventTopic: cfg.Topics.Event, ControlTopic: cfg.Topics.Control},
		roles,
		ha.Outbound{Forward: forward, Markers: markers, Ready: ready},
		logger.Named("coordinator"),
		metricsCollector,
	)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	health := server.NewHealth()
	outbound := router.New(
		router.Inbound{Forward: forward, Markers: markers, Ready: ready},
		router.Topics{Assignment: cfg.Topics.Assignment, Control: cfg.Topics.Control},
		producer,
		health,
		logger.Named("router"),
	)
	httpServer := server.NewServer(cfg.Server.Port, health, server.ChannelNotifier(roles), registry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	routerDone := make(chan struct{})
	go func() {
		outbound.Run(ctx)
		close(routerDone)
	}()

	coordinatorErr := make(chan error, 1)
	go func() {
		coordinatorErr <- coordinator.Run(ctx)
	}()

	httpServer.Start()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-coordinatorErr:
		runErr = err
		coordinatorErr = nil
	}

	health.SetStopped()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	if coordinatorErr != nil {
		select {
		case err := <-coordinatorErr:
			runErr = err
		case <-shutdownCtx.Done():
			logger.Warn("Coordinator did not stop in time")
		}
	}
	select {
	case <-routerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Router did not stop in time")
	}

	if runErr != nil {
		var transitionErr *kerrors.TransitionError
		if errors.As(runErr, &transitionErr) {
			logger.Error("Role transition failed, restart required",
				zap.String("role", transitionErr.To),
				zap.String("step", transitionErr.Step),
				zap.String("topic", transitionErr.Topic),
			)
		}
		return runErr
	}

	logger.Info("Shutdown complete")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownTimeout) * time.Second
}

// initLogger initializes the zap logger based on the log level
func initLogger(level string) (*zap.Logger, error) {
	var config zap.Config

	switch level {
	case "debug":
		config = zap.NewDevelopmentConfig()
	case "info", "warn", "error":
		config = zap.NewProductionConfig()
		config.Level = parseLogLevel(level)
	default:
		config = zap.NewProductionConfig()
	}

	return config.Build()
}

// parseLogLevel parses the log level string
func parseLogLevel(level string) zap.AtomicLevel {
	switch level {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
