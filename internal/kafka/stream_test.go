package kafka

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap/zaptest"
)

type fakePartitionOffsets struct {
	mu     sync.Mutex
	marked int64
	errs   chan *sarama.ConsumerError
	once   sync.Once
	closed bool
}

func (f *fakePartitionOffsets) NextOffset() (int64, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked, ""
}

func (f *fakePartitionOffsets) MarkOffset(offset int64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset > f.marked {
		f.marked = offset
	}
}

func (f *fakePartitionOffsets) ResetOffset(offset int64, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = offset
}

func (f *fakePartitionOffsets) Errors() <-chan *sarama.ConsumerError { return f.errs }

func (f *fakePartitionOffsets) AsyncClose() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.errs)
	})
}

func (f *fakePartitionOffsets) Close() error {
	f.AsyncClose()
	return nil
}

type fakeOffsetManager struct {
	mu        sync.Mutex
	managed   map[int32]*fakePartitionOffsets
	commits   int
	closed    bool
	manageErr error
}

func newFakeOffsetManager() *fakeOffsetManager {
	return &fakeOffsetManager{managed: make(map[int32]*fakePartitionOffsets)}
}

func (f *fakeOffsetManager) ManagePartition(_ string, p int32) (sarama.PartitionOffsetManager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.manageErr != nil {
		return nil, f.manageErr
	}
	pom := &fakePartitionOffsets{errs: make(chan *sarama.ConsumerError, 1)}
	f.managed[p] = pom
	return pom, nil
}

func (f *fakeOffsetManager) Commit() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
}

func (f *fakeOffsetManager) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeTransportMetrics struct {
	mu       sync.Mutex
	commits  map[int32]int
	assigned map[string]int
}

func newFakeTransportMetrics() *fakeTransportMetrics {
	return &fakeTransportMetrics{commits: make(map[int32]int), assigned: make(map[string]int)}
}

func (m *fakeTransportMetrics) IncCommits(_ string, p int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits[p]++
}

func (m *fakeTransportMetrics) SetPartitionsAssigned(topic string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[topic] = n
}

const testTopic = "topic-incident-event"

func receive(t *testing.T, s *Stream) *stream.Record {
	t.Helper()
	select {
	case rec := <-s.Records():
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no record received")
		return nil
	}
}

func TestStream_AssignSeekCommit(t *testing.T) {
	ctx := context.Background()
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{testTopic: {0}})
	consumer.ExpectConsumePartition(testTopic, 0, 5).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("INC-1"), Value: []byte(`{"id":"INC-1"}`)})

	offsets := newFakeOffsetManager()
	metrics := newFakeTransportMetrics()
	s := newStream(testTopic, consumer, offsets, nil, zaptest.NewLogger(t), metrics)

	partitions, err := s.Partitions(ctx)
	if err != nil {
		t.Fatalf("Partitions() error = %v", err)
	}
	if len(partitions) != 1 || partitions[0] != 0 {
		t.Fatalf("Partitions() = %v, want [0]", partitions)
	}
	if err := s.Assign(ctx, partitions); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if got := s.Assignment(); len(got) != 1 {
		t.Fatalf("Assignment() = %v", got)
	}
	if metrics.assigned[testTopic] != 1 {
		t.Errorf("assigned gauge = %d, want 1", metrics.assigned[testTopic])
	}
	if err := s.Seek(ctx, 0, 5); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}

	rec := receive(t, s)
	if rec.Key != "INC-1" || rec.Topic != testTopic || rec.Partition != 0 {
		t.Errorf("record = %s", rec)
	}
	if string(rec.Value) != `{"id":"INC-1"}` {
		t.Errorf("value = %s", rec.Value)
	}

	if err := s.Commit(ctx, 0, rec.NextOffset()); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got, _ := offsets.managed[0].NextOffset(); got != rec.NextOffset() {
		t.Errorf("marked offset = %d, want %d", got, rec.NextOffset())
	}
	if offsets.commits != 1 {
		t.Errorf("commits = %d, want 1", offsets.commits)
	}
	if metrics.commits[0] != 1 {
		t.Errorf("commit counter = %d, want 1", metrics.commits[0])
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !offsets.closed {
		t.Error("offset manager not closed")
	}
	if !offsets.managed[0].closed {
		t.Error("partition offset manager not closed")
	}
}

func TestStream_PauseResume(t *testing.T) {
	ctx := context.Background()
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{testTopic: {0}})
	pc := consumer.ExpectConsumePartition(testTopic, 0, 0)

	s := newStream(testTopic, consumer, newFakeOffsetManager(), nil, zaptest.NewLogger(t), nil)
	if err := s.Assign(ctx, []int32{0}); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	s.Pause()
	if err := s.Seek(ctx, 0, 0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if !pc.IsPaused() {
		t.Error("partition consumer started on a paused stream should be paused")
	}

	s.Resume()
	if pc.IsPaused() {
		t.Error("partition consumer not resumed")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestStream_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("commit on unassigned partition", func(t *testing.T) {
		s := newStream(testTopic, mocks.NewConsumer(t, nil), newFakeOffsetManager(), nil, zaptest.NewLogger(t), nil)

		err := s.Commit(ctx, 3, 10)
		var ce *errors.CommitError
		if !stderrors.As(err, &ce) {
			t.Fatalf("Commit() error = %v, want CommitError", err)
		}
		if ce.Partition != 3 || !stderrors.Is(err, errors.ErrPartitionNotAssigned) {
			t.Errorf("CommitError = %+v", ce)
		}
	})

	t.Run("seek on unassigned partition", func(t *testing.T) {
		s := newStream(testTopic, mocks.NewConsumer(t, nil), newFakeOffsetManager(), nil, zaptest.NewLogger(t), nil)

		if err := s.Seek(ctx, 0, 0); !stderrors.Is(err, errors.ErrPartitionNotAssigned) {
			t.Errorf("Seek() error = %v, want ErrPartitionNotAssigned", err)
		}
	})

	t.Run("manage partition failure", func(t *testing.T) {
		offsets := newFakeOffsetManager()
		offsets.manageErr = stderrors.New("coordinator not available")
		s := newStream(testTopic, mocks.NewConsumer(t, nil), offsets, nil, zaptest.NewLogger(t), nil)

		if err := s.Assign(ctx, []int32{0}); err == nil {
			t.Error("Assign() should fail")
		}
		if len(s.Assignment()) != 0 {
			t.Error("failed assign must leave no assignment")
		}
	})

	t.Run("closed stream", func(t *testing.T) {
		s := newStream(testTopic, mocks.NewConsumer(t, nil), newFakeOffsetManager(), nil, zaptest.NewLogger(t), nil)
		if err := s.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		if err := s.Assign(ctx, []int32{0}); !stderrors.Is(err, errors.ErrStreamClosed) {
			t.Errorf("Assign() error = %v, want ErrStreamClosed", err)
		}
		if err := s.Commit(ctx, 0, 1); !stderrors.Is(err, errors.ErrStreamClosed) {
			t.Errorf("Commit() error = %v, want ErrStreamClosed", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close() error = %v", err)
		}
	})
}

func TestStream_UnsubscribeDiscardsBufferedRecords(t *testing.T) {
	ctx := context.Background()
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{testTopic: {0}})
	consumer.ExpectConsumePartition(testTopic, 0, 0).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("a")}).
		YieldMessage(&sarama.ConsumerMessage{Key: []byte("b")})

	offsets := newFakeOffsetManager()
	s := newStream(testTopic, consumer, offsets, nil, zaptest.NewLogger(t), nil)
	if err := s.Assign(ctx, []int32{0}); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if err := s.Seek(ctx, 0, 0); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	receive(t, s)

	if err := s.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}

	if len(s.Assignment()) != 0 {
		t.Error("assignment not cleared")
	}
	if len(s.Records()) != 0 {
		t.Errorf("buffered records = %d, want 0", len(s.Records()))
	}
	if !offsets.managed[0].closed {
		t.Error("partition offset manager not released")
	}
	if err := s.Commit(ctx, 0, 1); err == nil {
		t.Error("commit after unsubscribe should fail")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
