// Package ha implements the dual-stream consumption and failover state
// machine of a high-availability consumer.
//
// One Coordinator owns all mutable state (role, watermark, offsets,
// readiness, transition guard) and mutates it only from its Run loop. Role
// notifications and records from both stream handles are multiplexed into
// that loop, so no locking is needed. A LEADER consumes the event stream and
// publishes a marker per record; a REPLICA alternates between the control
// (marker) stream and the event stream to track the leader's position.
package ha

import (
	"context"
	"fmt"

	"github.com/jittakal/kafhaconsumer/internal/incident"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

// Config names the two streams the coordinator consumes.
type Config struct {
	EventTopic   string
	ControlTopic string
}

// Outbound carries everything the coordinator emits. All channels are
// required; sends block until received or the run context ends.
type Outbound struct {
	// Forward receives validated assignment bodies.
	Forward chan<- *incident.Assignment
	// Markers receives the markers a leader publishes.
	Markers chan<- incident.Marker
	// Ready receives a single value once the instance is ready.
	Ready chan<- struct{}
}

// MetricsCollector defines the metrics the coordinator reports.
type MetricsCollector interface {
	SetRole(role string)
	IncRoleTransitions(from, to string)
	IncRecordsHandled(topic, outcome string)
	SetWatermarkOffset(offset int64)
	IncTargetSwitches(target string)
	SetReady(ready bool)
}

// Record outcomes reported to IncRecordsHandled.
const (
	OutcomeProcessed = "processed"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
	OutcomeAdopted   = "adopted"
	OutcomeDuplicate = "duplicate"
	OutcomeStale     = "stale"
)

// Coordinator drives role transitions and record dispatch.
type Coordinator struct {
	transport stream.Transport
	config    Config
	roles     <-chan Notification
	out       Outbound
	logger    *zap.Logger
	metrics   MetricsCollector

	// role is the last role notified; serving is the role whose
	// consumption is running, which lags role while BECOMING_LEADER.
	role    Role
	serving Role
	target  Target

	events  stream.Stream
	control stream.Stream

	tracker  *Tracker
	ready    bool
	skipNext bool
}

// New creates a coordinator. metrics may be nil.
func New(
	transport stream.Transport,
	config Config,
	roles <-chan Notification,
	out Outbound,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*Coordinator, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if config.EventTopic == "" || config.ControlTopic == "" {
		return nil, fmt.Errorf("event and control topics are required")
	}
	if roles == nil {
		return nil, fmt.Errorf("role notification channel is required")
	}
	if out.Forward == nil || out.Markers == nil || out.Ready == nil {
		return nil, fmt.Errorf("forward, markers and ready channels are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Coordinator{
		transport: transport,
		config:    config,
		roles:     roles,
		out:       out,
		logger:    logger,
		metrics:   metrics,
		role:      RoleNotStarted,
		serving:   RoleNotStarted,
		target:    TargetControl,
		tracker:   NewTracker(),
	}, nil
}

// Run consumes role notifications and records until ctx is done or a
// transition fails. A returned error is fatal; the owning process is
// expected to restart. Stream handles are closed before Run returns.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.shutdown()

	c.logger.Info("coordinator started",
		zap.String("eventTopic", c.config.EventTopic),
		zap.String("controlTopic", c.config.ControlTopic),
	)

	roles := c.roles
	for {
		select {
		case <-ctx.Done():
			return nil

		case n, ok := <-roles:
			if !ok {
				c.logger.Warn("role notification channel closed, keeping current role",
					zap.Stringer("role", c.role))
				roles = nil
				continue
			}
			if err := c.handleRole(ctx, n); err != nil {
				c.logger.Error("role transition failed", zap.Error(err))
				return err
			}

		case rec := <-c.eventRecords():
			c.handleEventRecord(ctx, rec)

		case rec := <-c.controlRecords():
			c.handleControlRecord(ctx, rec)
		}
	}
}

// Role returns the last notified role. Only safe from the Run goroutine or
// once Run has returned.
func (c *Coordinator) Role() Role { return c.role }

// handleRole applies one role notification.
func (c *Coordinator) handleRole(ctx context.Context, n Notification) error {
	prev := c.role
	changed := n.Role != prev

	c.logger.Debug("processing role notification",
		zap.Stringer("role", n.Role),
		zap.Bool("changed", changed),
	)

	if changed {
		c.role = n.Role
		c.metrics.SetRole(string(n.Role))
		c.metrics.IncRoleTransitions(string(prev), string(n.Role))
	}

	switch {
	case prev == RoleNotStarted:
		if !n.Role.consumes() {
			c.logger.Info("not consuming until LEADER or REPLICA is notified",
				zap.Stringer("role", n.Role))
			return nil
		}
		c.logger.Info("enabling consumption", zap.Stringer("role", n.Role))
		return c.enableConsume(ctx, prev, n.Role)

	case !changed:
		return nil

	case n.Role == RoleBecomingLeader:
		c.logger.Info("becoming leader, keeping current consumption",
			zap.Stringer("serving", c.serving))
		return nil

	default:
		return c.swap(ctx, prev, n.Role)
	}
}

// swap replaces the running consumption with fresh handles for role to.
// Steps run strictly in order: pause, unsubscribe and close, reopen,
// assign and seek, resume.
func (c *Coordinator) swap(ctx context.Context, from, to Role) error {
	c.logger.Info("updating running consumer",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.Stringer("serving", c.serving),
	)

	if c.events != nil || c.control != nil {
		c.skipNext = true
	}
	c.pauseAll()
	c.closeStreams()

	return c.enableConsume(ctx, from, to)
}

// eventRecords returns the event channel when it is the active input.
func (c *Coordinator) eventRecords() <-chan *stream.Record {
	if c.events == nil {
		return nil
	}
	switch c.serving {
	case RoleLeader:
		return c.events.Records()
	case RoleReplica:
		if c.target == TargetEvents {
			return c.events.Records()
		}
	}
	return nil
}

// controlRecords returns the control channel when it is the active input.
func (c *Coordinator) controlRecords() <-chan *stream.Record {
	if c.control == nil || c.serving != RoleReplica || c.target != TargetControl {
		return nil
	}
	return c.control.Records()
}

func (c *Coordinator) handleEventRecord(ctx context.Context, rec *stream.Record) {
	switch c.serving {
	case RoleLeader:
		c.processLeader(ctx, rec)
	case RoleReplica:
		c.processEventAsReplica(ctx, rec)
	}
}

func (c *Coordinator) handleControlRecord(ctx context.Context, rec *stream.Record) {
	if c.serving != RoleReplica {
		return
	}
	c.processControl(ctx, rec)
}

// commit advances the cursor of rec's partition to rec.Offset+1.
func (c *Coordinator) commit(ctx context.Context, s stream.Stream, rec *stream.Record) {
	next := rec.NextOffset()
	if err := s.Commit(ctx, rec.Partition, next); err != nil {
		c.logger.Warn("failed to commit offset",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", next),
			zap.Error(err),
		)
		return
	}
	c.tracker.SetCommitted(rec.Topic, rec.Partition, next)
}

// markReady signals readiness once for the lifetime of the coordinator.
func (c *Coordinator) markReady(ctx context.Context) {
	if c.ready {
		return
	}
	c.ready = true

	wm, _ := c.tracker.Watermark()
	c.logger.Info("instance is ready",
		zap.Stringer("role", c.serving),
		zap.String("processingKey", wm.Key),
	)
	c.metrics.SetReady(true)

	select {
	case c.out.Ready <- struct{}{}:
	case <-ctx.Done():
	}
}

func (c *Coordinator) pauseAll() {
	if c.control != nil {
		c.control.Pause()
	}
	if c.events != nil {
		c.events.Pause()
	}
}

// closeStreams unsubscribes and closes the control handle, then the event
// handle. Failures are logged and otherwise ignored.
func (c *Coordinator) closeStreams() {
	for _, s := range []stream.Stream{c.control, c.events} {
		if s == nil {
			continue
		}
		if err := s.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", zap.String("topic", s.Topic()), zap.Error(err))
		}
		if err := s.Close(); err != nil {
			c.logger.Warn("failed to close stream", zap.String("topic", s.Topic()), zap.Error(err))
		}
	}
	c.control = nil
	c.events = nil
}

func (c *Coordinator) shutdown() {
	c.logger.Info("stopping coordinator", zap.Stringer("role", c.role))
	c.pauseAll()
	c.closeStreams()
	c.serving = RoleNotStarted
}

type nopMetrics struct{}

func (nopMetrics) SetRole(string)                    {}
func (nopMetrics) IncRoleTransitions(string, string) {}
func (nopMetrics) IncRecordsHandled(string, string)  {}
func (nopMetrics) SetWatermarkOffset(int64)          {}
func (nopMetrics) IncTargetSwitches(string)          {}
func (nopMetrics) SetReady(bool)                     {}
