package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"go.uber.org/zap/zaptest"
)

type fakePublishMetrics struct {
	published map[string]int
	failed    map[string]int
	observed  int
}

func newFakePublishMetrics() *fakePublishMetrics {
	return &fakePublishMetrics{published: make(map[string]int), failed: make(map[string]int)}
}

func (m *fakePublishMetrics) IncPublished(_, kind string)            { m.published[kind]++ }
func (m *fakePublishMetrics) IncPublishFailed(_, kind string)        { m.failed[kind]++ }
func (m *fakePublishMetrics) ObservePublishDuration(string, float64) { m.observed++ }

func TestProducer_PublishMarker(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		m, err := incident.DecodeMarker(val)
		if err != nil {
			return err
		}
		if m.ID != "INC-1" {
			return fmt.Errorf("marker id = %s, want INC-1", m.ID)
		}
		return nil
	})

	metrics := newFakePublishMetrics()
	p := newProducer(mock, zaptest.NewLogger(t), metrics)

	if err := p.PublishMarker(context.Background(), "topic-incident-command", incident.Marker{ID: "INC-1"}); err != nil {
		t.Fatalf("PublishMarker() error = %v", err)
	}
	if metrics.published[KindMarker] != 1 {
		t.Errorf("published markers = %d, want 1", metrics.published[KindMarker])
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestProducer_PublishAssignment(t *testing.T) {
	body := json.RawMessage(`{"incidentId":"INC-7","assignment":true}`)

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event cloudevents.Event
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.Type() != AssignmentCloudEventType {
			return fmt.Errorf("type = %s", event.Type())
		}
		if event.Subject() != "INC-7" {
			return fmt.Errorf("subject = %s", event.Subject())
		}
		if event.ID() == "" {
			return fmt.Errorf("missing event id")
		}
		var data map[string]any
		if err := json.Unmarshal(event.Data(), &data); err != nil {
			return err
		}
		if data["incidentId"] != "INC-7" {
			return fmt.Errorf("data = %v", data)
		}
		return nil
	})

	p := newProducer(mock, zaptest.NewLogger(t), nil)
	a := &incident.Assignment{Key: "INC-7", IncidentID: "INC-7", Assignment: true, Body: body}

	if err := p.PublishAssignment(context.Background(), "topic-incident-assignment-event", a); err != nil {
		t.Fatalf("PublishAssignment() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestProducer_SendFailure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	metrics := newFakePublishMetrics()
	p := newProducer(mock, zaptest.NewLogger(t), metrics)

	err := p.Produce(context.Background(), "topic-incident-event", "INC-1", []byte("{}"))
	if !stderrors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("Produce() error = %v, want ErrNotLeaderForPartition", err)
	}
	if metrics.failed[KindEvent] != 1 {
		t.Errorf("failed = %d, want 1", metrics.failed[KindEvent])
	}
	if metrics.observed != 1 {
		t.Errorf("durations observed = %d, want 1", metrics.observed)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestProducer_CanceledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := newProducer(mock, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.PublishMarker(ctx, "topic-incident-command", incident.Marker{ID: "INC-1"}); !stderrors.Is(err, context.Canceled) {
		t.Errorf("PublishMarker() error = %v, want context.Canceled", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
