package ha

import (
	"context"

	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

// enableConsume opens whatever handles role needs, assigns and seeks them,
// and starts consumption.
func (c *Coordinator) enableConsume(ctx context.Context, from, role Role) error {
	c.serving = role

	if c.events == nil {
		s, err := c.open(ctx, from, role, c.config.EventTopic)
		if err != nil {
			return err
		}
		c.events = s
	}
	if role == RoleReplica && c.control == nil {
		s, err := c.open(ctx, from, role, c.config.ControlTopic)
		if err != nil {
			return err
		}
		c.control = s
	}

	nothingToCatchUp := false
	if role == RoleReplica {
		nothingToCatchUp = c.bootstrapWatermark(ctx)
	}

	if err := c.assign(ctx, from, role); err != nil {
		return err
	}

	c.consume(ctx, role, nothingToCatchUp)
	return nil
}

func (c *Coordinator) open(ctx context.Context, from, to Role, topic string) (stream.Stream, error) {
	s, err := c.transport.Open(ctx, topic)
	if err != nil {
		return nil, &errors.TransitionError{From: string(from), To: string(to), Step: "open", Topic: topic, Err: err}
	}
	return s, nil
}

// bootstrapWatermark learns the leader's position from the last record of
// the control stream. It reports true only when the control stream holds no
// marker at all. A failed read is not fatal: the watermark is left as it
// was and catch-up starts from the control stream.
func (c *Coordinator) bootstrapWatermark(ctx context.Context) bool {
	rec, err := c.transport.TailRead(ctx, c.config.ControlTopic)
	switch {
	case err != nil:
		c.logger.Error("failed to fetch last processed key",
			zap.String("topic", c.config.ControlTopic),
			zap.Error(err),
		)
		return false

	case rec == nil:
		c.logger.Info("control stream is empty, no processed key",
			zap.String("topic", c.config.ControlTopic))
		c.tracker.ClearWatermark()
		return true

	default:
		key := incident.MarkerKey(rec.Key, rec.Value)
		c.tracker.SetWatermark(key, rec.Offset)
		c.metrics.SetWatermarkOffset(rec.Offset)
		c.logger.Debug("set last processed control key",
			zap.String("key", key),
			zap.Int64("offset", rec.Offset),
		)
		return false
	}
}

// assign gives the leader the event partitions only; a replica gets both
// streams. Event partitions seek to the last processed event offset and
// control partitions to their committed cursor.
func (c *Coordinator) assign(ctx context.Context, from, role Role) error {
	lastEvent := c.tracker.LastProcessedEvent()
	err := c.assignStream(ctx, c.events, from, role, func(int32) int64 {
		return lastEvent
	})
	if err != nil {
		return err
	}

	if role != RoleReplica {
		return nil
	}
	return c.assignStream(ctx, c.control, from, role, func(p int32) int64 {
		return c.tracker.Committed(c.config.ControlTopic, p)
	})
}

func (c *Coordinator) assignStream(
	ctx context.Context,
	s stream.Stream,
	from, to Role,
	offsetFor func(partition int32) int64,
) error {
	fail := func(step string, err error) error {
		return &errors.TransitionError{From: string(from), To: string(to), Step: step, Topic: s.Topic(), Err: err}
	}

	partitions, err := s.Partitions(ctx)
	if err != nil {
		return fail("partitions", err)
	}
	if err := s.Assign(ctx, partitions); err != nil {
		return fail("assign", err)
	}

	for _, p := range s.Assignment() {
		offset := offsetFor(p)
		if err := s.Seek(ctx, p, offset); err != nil {
			return fail("seek", err)
		}
		c.logger.Debug("partition assigned",
			zap.String("topic", s.Topic()),
			zap.Int32("partition", p),
			zap.Int64("offset", offset),
		)
	}
	return nil
}

// consume starts delivery for role. A leader is ready at once; a replica
// starts on the control stream and is ready at once only when the control
// stream was found empty.
func (c *Coordinator) consume(ctx context.Context, role Role, nothingToCatchUp bool) {
	switch role {
	case RoleLeader:
		c.events.Resume()
		c.markReady(ctx)

	case RoleReplica:
		wm, ok := c.tracker.Watermark()
		c.logger.Debug("processing as replica",
			zap.String("processingKey", wm.Key),
			zap.Int64("processingKeyOffset", wm.Offset),
			zap.Bool("hasProcessingKey", ok),
		)
		if nothingToCatchUp {
			c.markReady(ctx)
		}
		c.pollControl()
	}
}
