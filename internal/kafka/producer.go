package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/jittakal/kafhaconsumer/internal/config"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"go.uber.org/zap"
)

// CloudEvent attributes of downstream assignment commands.
const (
	AssignmentCloudEventType = "com.redhat.emergency.incident.assignment"
	EventSource              = "kafhaconsumer"
	ContentTypeJSON          = "application/json"
)

// Message kinds reported to PublishMetrics.
const (
	KindMarker     = "marker"
	KindAssignment = "assignment"
	KindEvent      = "event"
)

// PublishMetrics is the set of producer metrics.
type PublishMetrics interface {
	IncPublished(topic, kind string)
	IncPublishFailed(topic, kind string)
	ObservePublishDuration(topic string, seconds float64)
}

type nopPublishMetrics struct{}

func (nopPublishMetrics) IncPublished(string, string)            {}
func (nopPublishMetrics) IncPublishFailed(string, string)        {}
func (nopPublishMetrics) ObservePublishDuration(string, float64) {}

// Producer wraps a sarama SyncProducer.
type Producer struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
	metrics  PublishMetrics
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg config.KafkaConfig, logger *zap.Logger, metrics PublishMetrics) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Producer.RequiredAcks)
	saramaConfig.Producer.Compression = parseCompressionType(cfg.Producer.CompressionType)
	if cfg.Producer.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	}
	saramaConfig.Producer.Idempotent = cfg.Producer.IdempotentWrites
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.Producer.RetryBackoffMs) * time.Millisecond

	// Idempotent producer requires Net.MaxOpenRequests to be 1
	if cfg.Producer.IdempotentWrites {
		saramaConfig.Net.MaxOpenRequests = 1
	}

	if err := configureSecurity(saramaConfig, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer created successfully",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("securityProtocol", cfg.SecurityProtocol),
	)

	return newProducer(producer, logger, metrics), nil
}

func newProducer(producer sarama.SyncProducer, logger *zap.Logger, metrics PublishMetrics) *Producer {
	if metrics == nil {
		metrics = nopPublishMetrics{}
	}
	return &Producer{producer: producer, logger: logger, metrics: metrics}
}

// PublishMarker announces that key was processed. The marker is keyed by
// the incident id so that replicas can read the key without decoding.
func (p *Producer) PublishMarker(ctx context.Context, topic string, marker incident.Marker) error {
	value, err := marker.Encode()
	if err != nil {
		return err
	}
	return p.send(ctx, KindMarker, &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(marker.ID),
		Value: sarama.ByteEncoder(value),
	})
}

// PublishAssignment sends a forwarded assignment downstream wrapped in a
// CloudEvent.
func (p *Producer) PublishAssignment(ctx context.Context, topic string, a *incident.Assignment) error {
	event := cloudevents.NewEvent()
	event.SetSpecVersion(cloudevents.VersionV1)
	event.SetID(uuid.New().String())
	event.SetType(AssignmentCloudEventType)
	event.SetSource(EventSource)
	event.SetSubject(a.IncidentID)
	event.SetTime(time.Now())
	if err := event.SetData(ContentTypeJSON, []byte(a.Body)); err != nil {
		return fmt.Errorf("failed to set event data: %w", err)
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}

	return p.send(ctx, KindAssignment, &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(a.IncidentID),
		Value: sarama.ByteEncoder(eventBytes),
		Headers: []sarama.RecordHeader{
			{Key: []byte("ce_specversion"), Value: []byte(event.SpecVersion())},
			{Key: []byte("ce_type"), Value: []byte(event.Type())},
			{Key: []byte("ce_source"), Value: []byte(event.Source())},
			{Key: []byte("ce_id"), Value: []byte(event.ID())},
		},
	})
}

// Produce sends a raw keyed record.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte) error {
	return p.send(ctx, KindEvent, &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
}

func (p *Producer) send(ctx context.Context, kind string, msg *sarama.ProducerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	partition, offset, err := p.producer.SendMessage(msg)
	p.metrics.ObservePublishDuration(msg.Topic, time.Since(start).Seconds())
	if err != nil {
		p.metrics.IncPublishFailed(msg.Topic, kind)
		return fmt.Errorf("failed to send %s to %s: %w", kind, msg.Topic, err)
	}
	p.metrics.IncPublished(msg.Topic, kind)

	p.logger.Debug("Message produced successfully",
		zap.String("topic", msg.Topic),
		zap.String("kind", kind),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// parseCompressionType parses compression type string
func parseCompressionType(compressionType string) sarama.CompressionCodec {
	switch compressionType {
	case "gzip":
		return sarama.CompressionGZIP
	case "snappy":
		return sarama.CompressionSnappy
	case "lz4":
		return sarama.CompressionLZ4
	case "zstd":
		return sarama.CompressionZSTD
	default:
		return sarama.CompressionNone
	}
}
