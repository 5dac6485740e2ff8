// Package streamtest provides an in-memory stream.Transport for tests.
//
// Records appended to a topic are pushed onto every open, assigned and
// unpaused handle positioned before them. Pausing stops further pushes but
// leaves already pushed records on the channel, which mirrors a real
// client's in-flight fetches.
package streamtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
)

var (
	_ stream.Transport = (*Transport)(nil)
	_ stream.Stream    = (*Stream)(nil)
)

const bufferSize = 1024

// SeekCall records one Seek issued on a handle.
type SeekCall struct {
	Partition int32
	Offset    int64
}

// Transport is an in-memory partitioned log shared by all handles it opens.
type Transport struct {
	mu        sync.Mutex
	topics    map[string][][]*stream.Record
	committed map[string]map[int32]int64
	streams   []*Stream
	tailReads int

	// Failure injection, keyed by topic where applicable.
	OpenErr   error
	TailErr   error
	AssignErr map[string]error
	SeekErr   map[string]error
}

// NewTransport creates an empty transport.
func NewTransport() *Transport {
	return &Transport{
		topics:    make(map[string][][]*stream.Record),
		committed: make(map[string]map[int32]int64),
		AssignErr: make(map[string]error),
		SeekErr:   make(map[string]error),
	}
}

// CreateTopic creates topic with the given number of partitions.
func (t *Transport) CreateTopic(topic string, partitions int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.topics[topic] = make([][]*stream.Record, partitions)
}

// Append adds a record to topic/partition and returns it.
func (t *Transport) Append(topic string, partition int32, key string, value []byte) *stream.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := t.topics[topic]
	rec := &stream.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    int64(len(parts[partition])),
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	}
	parts[partition] = append(parts[partition], rec)

	for _, s := range t.streams {
		if s.topic == topic {
			s.pumpLocked()
		}
	}
	return rec
}

// Committed returns the committed offset for topic/partition.
func (t *Transport) Committed(topic string, partition int32) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	off, ok := t.committed[topic][partition]
	return off, ok
}

// Opened returns every handle ever opened for topic, oldest first.
func (t *Transport) Opened(topic string) []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Stream
	for _, s := range t.streams {
		if s.topic == topic {
			out = append(out, s)
		}
	}
	return out
}

// TailReads returns how many tail reads were performed.
func (t *Transport) TailReads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tailReads
}

// Open implements stream.Transport.
func (t *Transport) Open(ctx context.Context, topic string) (stream.Stream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	if _, ok := t.topics[topic]; !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}

	s := &Stream{
		t:         t,
		topic:     topic,
		positions: make(map[int32]int64),
		records:   make(chan *stream.Record, bufferSize),
	}
	t.streams = append(t.streams, s)
	return s, nil
}

// TailRead implements stream.Transport.
func (t *Transport) TailRead(ctx context.Context, topic string) (*stream.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tailReads++
	if t.TailErr != nil {
		return nil, t.TailErr
	}

	var last *stream.Record
	for _, recs := range t.topics[topic] {
		if len(recs) == 0 {
			continue
		}
		candidate := recs[len(recs)-1]
		if last == nil || candidate.Timestamp.After(last.Timestamp) {
			last = candidate
		}
	}
	return last, nil
}

// Stream is an in-memory stream.Stream.
type Stream struct {
	t         *Transport
	topic     string
	assigned  []int32
	positions map[int32]int64
	paused    bool
	closed    bool
	records   chan *stream.Record

	seeks        []SeekCall
	pauses       int
	resumes      int
	unsubscribed bool
}

// Topic implements stream.Stream.
func (s *Stream) Topic() string { return s.topic }

// Partitions implements stream.Stream.
func (s *Stream) Partitions(ctx context.Context) ([]int32, error) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if s.closed {
		return nil, errors.ErrStreamClosed
	}
	n := len(s.t.topics[s.topic])
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(i)
	}
	return out, nil
}

// Assign implements stream.Stream.
func (s *Stream) Assign(ctx context.Context, partitions []int32) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	if err := s.t.AssignErr[s.topic]; err != nil {
		return err
	}
	s.assigned = append([]int32(nil), partitions...)
	sort.Slice(s.assigned, func(i, j int) bool { return s.assigned[i] < s.assigned[j] })
	s.positions = make(map[int32]int64)
	return nil
}

// Assignment implements stream.Stream.
func (s *Stream) Assignment() []int32 {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return append([]int32(nil), s.assigned...)
}

// Seek implements stream.Stream.
func (s *Stream) Seek(ctx context.Context, partition int32, offset int64) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	if err := s.t.SeekErr[s.topic]; err != nil {
		return err
	}
	if !s.isAssigned(partition) {
		return errors.ErrPartitionNotAssigned
	}
	s.seeks = append(s.seeks, SeekCall{Partition: partition, Offset: offset})
	s.positions[partition] = offset
	s.pumpLocked()
	return nil
}

// Pause implements stream.Stream.
func (s *Stream) Pause() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.paused = true
	s.pauses++
}

// Resume implements stream.Stream.
func (s *Stream) Resume() {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.paused = false
	s.resumes++
	s.pumpLocked()
}

// Records implements stream.Stream.
func (s *Stream) Records() <-chan *stream.Record { return s.records }

// Commit implements stream.Stream.
func (s *Stream) Commit(ctx context.Context, partition int32, offset int64) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if s.closed {
		return errors.ErrStreamClosed
	}
	if !s.isAssigned(partition) {
		return &errors.CommitError{Topic: s.topic, Partition: partition, Offset: offset, Err: errors.ErrPartitionNotAssigned}
	}
	if s.t.committed[s.topic] == nil {
		s.t.committed[s.topic] = make(map[int32]int64)
	}
	s.t.committed[s.topic][partition] = offset
	return nil
}

// Unsubscribe implements stream.Stream. Buffered records are discarded.
func (s *Stream) Unsubscribe() error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	s.assigned = nil
	s.positions = make(map[int32]int64)
	s.unsubscribed = true
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
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.closed = true
	return nil
}

// Seeks returns the Seek calls issued on the handle.
func (s *Stream) Seeks() []SeekCall {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return append([]SeekCall(nil), s.seeks...)
}

// Paused reports whether the handle is paused.
func (s *Stream) Paused() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.paused
}

// Closed reports whether the handle was closed.
func (s *Stream) Closed() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.closed
}

// Unsubscribed reports whether Unsubscribe was called.
func (s *Stream) Unsubscribed() bool {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.unsubscribed
}

// Pauses returns how many times Pause was called.
func (s *Stream) Pauses() int {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.pauses
}

// Buffered returns how many records are waiting on the channel.
func (s *Stream) Buffered() int {
	return len(s.records)
}

func (s *Stream) isAssigned(partition int32) bool {
	for _, p := range s.assigned {
		if p == partition {
			return true
		}
	}
	return false
}

// pumpLocked pushes every fetchable record onto the channel. t.mu must be held.
func (s *Stream) pumpLocked() {
	if s.closed || s.paused {
		return
	}

	parts := s.t.topics[s.topic]
	for _, p := range s.assigned {
		pos, ok := s.positions[p]
		if !ok {
			continue
		}
		for pos < int64(len(parts[p])) {
			select {
			case s.records <- parts[p][pos]:
				pos++
			default:
				s.positions[p] = pos
				return
			}
		}
		s.positions[p] = pos
	}
}
