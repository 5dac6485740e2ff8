package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jittakal/kafhaconsumer/internal/config"
	"github.com/jittakal/kafhaconsumer/internal/generator"
	"github.com/jittakal/kafhaconsumer/internal/kafka"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", getEnv("CONFIG_FILE", ""), "Path to configuration file")
	logLevel   = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	count      = flag.Int("count", 0, "Number of events to produce (0 runs until interrupted)")
)

func main() {
	flag.Parse()

	logger, err := initLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	producer, err := kafka.NewProducer(cfg.Kafka, logger, nil)
	if err != nil {
		logger.Fatal("Failed to create Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventGen := generator.NewGenerator(cfg.Generator, logger)
	produced := produceEvents(ctx, producer, eventGen, cfg, *count, logger)

	logger.Info("Shutdown complete", zap.Int("produced", produced))
}

// produceEvents produces generated events until ctx is done or limit
// events were sent.
func produceEvents(
	ctx context.Context,
	producer *kafka.Producer,
	eventGen *generator.Generator,
	cfg *config.Config,
	limit int,
	logger *zap.Logger,
) int {
	ticker := time.NewTicker(time.Duration(cfg.Generator.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	produced := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping event production")
			return produced
		case <-ticker.C:
			ev, err := eventGen.GenerateAssignmentEvent()
			if err != nil {
				logger.Error("Failed to generate event", zap.Error(err))
				continue
			}
			if err := producer.Produce(ctx, cfg.Topics.Event, ev.Key, ev.Value); err != nil {
				logger.Error("Failed to produce incident event",
					zap.Error(err),
					zap.String("key", ev.Key),
				)
				continue
			}
			logger.Debug("Produced incident event",
				zap.String("key", ev.Key),
				zap.String("topic", cfg.Topics.Event),
			)

			produced++
			if limit > 0 && produced >= limit {
				return produced
			}
		}
	}
}

// initLogger initializes the zap logger based on the log level
func initLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopmentConfig().Build()
	}
	config := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	config.Level = lvl
	return config.Build()
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
