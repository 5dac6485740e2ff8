// Package router drains the coordinator's outbound channels: forwarded
// assignments and markers go to the producer, the readiness signal goes to
// the readiness probe.
package router

import (
	"context"
	"sync"

	"github.com/jittakal/kafhaconsumer/internal/incident"
	"go.uber.org/zap"
)

// Publisher publishes outbound messages.
type Publisher interface {
	PublishAssignment(ctx context.Context, topic string, a *incident.Assignment) error
	PublishMarker(ctx context.Context, topic string, m incident.Marker) error
}

// ReadinessSink receives the one-shot readiness signal.
type ReadinessSink interface {
	SetReady()
}

// Topics names the outbound destinations.
type Topics struct {
	Assignment string
	Control    string
}

// Inbound are the channels the router drains, the receiving ends of the
// coordinator's outbound channels.
type Inbound struct {
	Forward <-chan *incident.Assignment
	Markers <-chan incident.Marker
	Ready   <-chan struct{}
}

// Router moves coordinator output to its destinations.
type Router struct {
	in        Inbound
	topics    Topics
	publisher Publisher
	readiness ReadinessSink
	logger    *zap.Logger
}

// New creates a router.
func New(in Inbound, topics Topics, publisher Publisher, readiness ReadinessSink, logger *zap.Logger) *Router {
	return &Router{
		in:        in,
		topics:    topics,
		publisher: publisher,
		readiness: readiness,
		logger:    logger,
	}
}

// Run drains every inbound channel until ctx is done or all of them are
// closed. Publish failures are logged; the coordinator has already
// committed past the source record.
func (r *Router) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		r.forwardLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.markerLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		r.readyLoop(ctx)
	}()

	wg.Wait()
	r.logger.Info("router stopped")
}

func (r *Router) forwardLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-r.in.Forward:
			if !ok {
				return
			}
			if err := r.publisher.PublishAssignment(ctx, r.topics.Assignment, a); err != nil {
				r.logger.Error("failed to forward assignment",
					zap.String("key", a.Key),
					zap.String("incidentId", a.IncidentID),
					zap.String("topic", r.topics.Assignment),
					zap.Error(err),
				)
				continue
			}
			r.logger.Debug("forwarded assignment",
				zap.String("incidentId", a.IncidentID),
				zap.Bool("assignment", a.Assignment),
			)
		}
	}
}

func (r *Router) markerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-r.in.Markers:
			if !ok {
				return
			}
			if err := r.publisher.PublishMarker(ctx, r.topics.Control, m); err != nil {
				r.logger.Error("failed to publish marker",
					zap.String("key", m.ID),
					zap.String("topic", r.topics.Control),
					zap.Error(err),
				)
			}
		}
	}
}

func (r *Router) readyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-r.in.Ready:
			if !ok {
				return
			}
			r.logger.Info("readiness signal received")
			r.readiness.SetReady()
		}
	}
}
