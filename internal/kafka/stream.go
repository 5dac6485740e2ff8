// Package kafka implements the partitioned-log transport on top of sarama:
// manually assigned stream handles with explicit seek, pause and commit, a
// tail reader, and the producer used for markers and downstream commands.
package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"

	"github.com/IBM/sarama"
	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

var _ stream.Stream = (*Stream)(nil)

const recordBufferSize = 256

// Metrics is the set of transport metrics.
type Metrics interface {
	IncCommits(topic string, partition int32)
	SetPartitionsAssigned(topic string, n int)
}

type nopMetrics struct{}

func (nopMetrics) IncCommits(string, int32)          {}
func (nopMetrics) SetPartitionsAssigned(string, int) {}

// partition is one running partition consumer and its forwarder.
type partition struct {
	pc   sarama.PartitionConsumer
	stop chan struct{}
	done chan struct{}
}

// Stream is a stream.Stream over one topic. Partitions are assigned
// manually; there is no consumer group rebalancing.
type Stream struct {
	topic    string
	consumer sarama.Consumer
	offsets  sarama.OffsetManager
	closer   io.Closer
	logger   *zap.Logger
	metrics  Metrics

	records chan *stream.Record

	mu       sync.Mutex
	assigned []int32
	running  map[int32]*partition
	poms     map[int32]sarama.PartitionOffsetManager
	paused   bool
	closed   bool
}

// newStream wraps consumer and offsets. closer, when set, is closed last and
// owns the underlying client.
func newStream(
	topic string,
	consumer sarama.Consumer,
	offsets sarama.OffsetManager,
	closer io.Closer,
	logger *zap.Logger,
	metrics Metrics,
) *Stream {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Stream{
		topic:    topic,
		consumer: consumer,
		offsets:  offsets,
		closer:   closer,
		logger:   logger.With(zap.String("topic", topic)),
		metrics:  metrics,
		records:  make(chan *stream.Record, recordBufferSize),
		running:  make(map[int32]*partition),
		poms:     make(map[int32]sarama.PartitionOffsetManager),
	}
}

// Topic implements stream.Stream.
func (s *Stream) Topic() string { return s.topic }

// Partitions implements stream.Stream.
func (s *Stream) Partitions(ctx context.Context) ([]int32, error) {
	partitions, err := s.consumer.Partitions(s.topic)
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions of %s: %w", s.topic, err)
	}
	return partitions, nil
}

// Assign implements stream.Stream. Any previous assignment is dropped.
func (s *Stream) Assign(ctx context.Context, partitions []int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	s.releaseLocked()

	for _, p := range partitions {
		pom, err := s.offsets.ManagePartition(s.topic, p)
		if err != nil {
			s.releaseLocked()
			return fmt.Errorf("failed to manage offsets of %s/%d: %w", s.topic, p, err)
		}
		s.poms[p] = pom
		go s.logOffsetErrors(pom)
	}
	s.assigned = append([]int32(nil), partitions...)
	s.metrics.SetPartitionsAssigned(s.topic, len(s.assigned))

	s.logger.Info("Partitions assigned", zap.Int32s("partitions", s.assigned))
	return nil
}

// Assignment implements stream.Stream.
func (s *Stream) Assignment() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.assigned...)
}

// Seek implements stream.Stream by restarting the partition consumer at
// offset. An offset the broker no longer has falls back to the oldest one.
func (s *Stream) Seek(ctx context.Context, p int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	if _, ok := s.poms[p]; !ok {
		return fmt.Errorf("%w: %s/%d", errors.ErrPartitionNotAssigned, s.topic, p)
	}
	if running, ok := s.running[p]; ok {
		s.stopLocked(p, running)
	}

	pc, err := s.consumer.ConsumePartition(s.topic, p, offset)
	if stderrors.Is(err, sarama.ErrOffsetOutOfRange) {
		s.logger.Warn("Seek offset out of range, starting from oldest",
			zap.Int32("partition", p),
			zap.Int64("offset", offset),
		)
		pc, err = s.consumer.ConsumePartition(s.topic, p, sarama.OffsetOldest)
	}
	if err != nil {
		return fmt.Errorf("failed to consume %s/%d from %d: %w", s.topic, p, offset, err)
	}
	if s.paused {
		pc.Pause()
	}

	running := &partition{pc: pc, stop: make(chan struct{}), done: make(chan struct{})}
	s.running[p] = running
	go s.forward(running)

	s.logger.Debug("Partition seeked", zap.Int32("partition", p), zap.Int64("offset", offset))
	return nil
}

// Pause implements stream.Stream.
func (s *Stream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.paused = true
	s.consumer.PauseAll()
}

// Resume implements stream.Stream.
func (s *Stream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.paused = false
	s.consumer.ResumeAll()
}

// Records implements stream.Stream.
func (s *Stream) Records() <-chan *stream.Record { return s.records }

// Commit implements stream.Stream. offset is the next offset to consume.
func (s *Stream) Commit(ctx context.Context, p int32, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	pom, ok := s.poms[p]
	if !ok {
		return &errors.CommitError{Topic: s.topic, Partition: p, Offset: offset, Err: errors.ErrPartitionNotAssigned}
	}

	pom.MarkOffset(offset, "")
	s.offsets.Commit()
	s.metrics.IncCommits(s.topic, p)
	return nil
}

// Unsubscribe implements stream.Stream. Undelivered records are discarded.
func (s *Stream) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseLocked()
	s.metrics.SetPartitionsAssigned(s.topic, 0)
	for {
		select {
		case <-s.records:
		default:
			return nil
		}
	}
}

// Close implements stream.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.releaseLocked()
	s.closed = true

	var errs []error
	if err := s.offsets.Close(); err != nil {
		errs = append(errs, fmt.Errorf("offset manager: %w", err))
	}
	if err := s.consumer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("consumer: %w", err))
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("client: %w", err))
		}
	}
	return stderrors.Join(errs...)
}

// releaseLocked stops every partition consumer and offset manager. s.mu must
// be held.
func (s *Stream) releaseLocked() {
	for p, running := range s.running {
		s.stopLocked(p, running)
	}
	for p, pom := range s.poms {
		if err := pom.Close(); err != nil {
			s.logger.Warn("Failed to close partition offset manager",
				zap.Int32("partition", p), zap.Error(err))
		}
		delete(s.poms, p)
	}
	s.assigned = nil
}

func (s *Stream) stopLocked(p int32, running *partition) {
	close(running.stop)
	running.pc.AsyncClose()
	<-running.done
	delete(s.running, p)
}

// forward moves messages of one partition consumer onto the records channel
// until the partition consumer is closed.
func (s *Stream) forward(running *partition) {
	defer close(running.done)

	messages, errs := running.pc.Messages(), running.pc.Errors()
	for messages != nil || errs != nil {
		select {
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			select {
			case s.records <- toRecord(msg):
			case <-running.stop:
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn("Partition consumer error", zap.Error(err))
		}
	}
}

func (s *Stream) logOffsetErrors(pom sarama.PartitionOffsetManager) {
	for err := range pom.Errors() {
		s.logger.Warn("Offset commit error", zap.Error(err))
	}
}

func toRecord(msg *sarama.ConsumerMessage) *stream.Record {
	return &stream.Record{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Timestamp: msg.Timestamp,
	}
}
