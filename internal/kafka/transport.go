package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/jittakal/kafhaconsumer/internal/config"
	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

var _ stream.Transport = (*Transport)(nil)

// Transport opens sarama-backed stream handles. Each handle gets its own
// client so that closing it discards all of its fetch state. Tail reads
// share one long-lived client.
type Transport struct {
	brokers     []string
	group       string
	config      *sarama.Config
	pollTimeout time.Duration
	logger      *zap.Logger
	metrics     Metrics

	client   sarama.Client
	consumer sarama.Consumer

	newClient func(brokers []string, config *sarama.Config) (sarama.Client, error)
}

// NewTransport connects the tail reader and prepares handle configuration.
func NewTransport(cfg *config.Config, logger *zap.Logger, metrics Metrics) (*Transport, error) {
	saramaConfig, err := newConsumerConfig(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	client, err := sarama.NewClient(cfg.Kafka.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}

	logger.Info("Kafka transport created successfully",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("consumerGroup", cfg.Kafka.ConsumerGroup),
		zap.String("securityProtocol", cfg.Kafka.SecurityProtocol),
	)

	return &Transport{
		brokers:     cfg.Kafka.Brokers,
		group:       cfg.Kafka.ConsumerGroup,
		config:      saramaConfig,
		pollTimeout: cfg.Consumer.PollTimeout(),
		logger:      logger,
		metrics:     metrics,
		client:      client,
		consumer:    consumer,
		newClient:   sarama.NewClient,
	}, nil
}

// Open implements stream.Transport.
func (t *Transport) Open(ctx context.Context, topic string) (stream.Stream, error) {
	client, err := t.newClient(t.brokers, t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client for %s: %w", topic, err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create Kafka consumer for %s: %w", topic, err)
	}
	offsets, err := sarama.NewOffsetManagerFromClient(t.group, client)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to create offset manager for %s: %w", topic, err)
	}

	t.logger.Debug("Stream handle opened", zap.String("topic", topic))
	return newStream(topic, consumer, offsets, client, t.logger, t.metrics), nil
}

// TailRead implements stream.Transport. It fetches the last record of every
// partition and returns the most recent by timestamp.
func (t *Transport) TailRead(ctx context.Context, topic string) (*stream.Record, error) {
	return tailRead(ctx, t.client, t.consumer, topic, t.pollTimeout)
}

// Close releases the tail reader.
func (t *Transport) Close() error {
	if err := t.consumer.Close(); err != nil {
		_ = t.client.Close()
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return t.client.Close()
}

// offsetLookup is the part of sarama.Client the tail reader needs.
type offsetLookup interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
}

func tailRead(
	ctx context.Context,
	offsets offsetLookup,
	consumer sarama.Consumer,
	topic string,
	timeout time.Duration,
) (*stream.Record, error) {
	partitions, err := consumer.Partitions(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", topic, err)
	}

	var last *stream.Record
	for _, p := range partitions {
		oldest, err := offsets.GetOffset(topic, p, sarama.OffsetOldest)
		if err != nil {
			return nil, fmt.Errorf("failed to get oldest offset of %s/%d: %w", topic, p, err)
		}
		newest, err := offsets.GetOffset(topic, p, sarama.OffsetNewest)
		if err != nil {
			return nil, fmt.Errorf("failed to get newest offset of %s/%d: %w", topic, p, err)
		}
		if newest <= oldest {
			continue
		}

		rec, err := readAt(ctx, consumer, topic, p, newest-1, timeout)
		if err != nil {
			return nil, err
		}
		if last == nil || rec.Timestamp.After(last.Timestamp) {
			last = rec
		}
	}
	return last, nil
}

func readAt(
	ctx context.Context,
	consumer sarama.Consumer,
	topic string,
	p int32,
	offset int64,
	timeout time.Duration,
) (*stream.Record, error) {
	pc, err := consumer.ConsumePartition(topic, p, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%d at %d: %w", topic, p, offset, err)
	}
	defer pc.AsyncClose()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-pc.Messages():
		return toRecord(msg), nil
	case err := <-pc.Errors():
		return nil, fmt.Errorf("failed to read %s/%d at %d: %w", topic, p, offset, err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s/%d at %d", errors.ErrTailReadTimeout, topic, p, offset)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
