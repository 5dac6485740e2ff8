package ha

import (
	"context"

	"github.com/jittakal/kafhaconsumer/internal/incident"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

// processControl handles a marker record while catching up as a replica.
func (c *Coordinator) processControl(ctx context.Context, rec *stream.Record) {
	key := incident.MarkerKey(rec.Key, rec.Value)
	wm, ok := c.tracker.Watermark()

	c.logger.Debug("processing control record as replica",
		zap.Int64("offset", rec.Offset),
		zap.String("key", key),
	)

	switch {
	case !ok || rec.Offset == wm.Offset+1:
		c.adopt(key, rec.Offset)
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeAdopted)
		c.commit(ctx, c.control, rec)
		c.pollEvents()

	case rec.Offset == wm.Offset:
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeDuplicate)
		c.commit(ctx, c.control, rec)
		c.pollEvents()

	case rec.Offset > wm.Offset+1:
		// Markers were missed; resynchronize forward. Draining events up to
		// the new key also covers the missed ones.
		c.logger.Warn("gap in control stream, adopting newer marker",
			zap.Int64("watermarkOffset", wm.Offset),
			zap.Int64("offset", rec.Offset),
			zap.String("key", key),
		)
		c.adopt(key, rec.Offset)
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeAdopted)
		c.commit(ctx, c.control, rec)
		c.pollEvents()

	default:
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeStale)
		c.commit(ctx, c.control, rec)
	}
}

// processEventAsReplica forwards an event record and switches back to the
// control stream once the watermark key is reached.
func (c *Coordinator) processEventAsReplica(ctx context.Context, rec *stream.Record) {
	c.logger.Debug("processing event record as replica",
		zap.Int64("offset", rec.Offset),
		zap.String("key", rec.Key),
	)

	if err := c.forward(ctx, rec); err != nil {
		c.interrupted(rec, err)
		return
	}
	c.tracker.SetLastProcessedEvent(rec.Offset)

	if wm, ok := c.tracker.Watermark(); ok && rec.Key == wm.Key {
		c.markReady(ctx)
		c.pollControl()
	}
	c.commit(ctx, c.events, rec)
}

func (c *Coordinator) adopt(key string, offset int64) {
	c.tracker.SetWatermark(key, offset)
	c.metrics.SetWatermarkOffset(offset)
}

// pollControl makes the control stream the active input.
func (c *Coordinator) pollControl() {
	c.target = TargetControl
	c.events.Pause()
	c.control.Resume()
	c.metrics.IncTargetSwitches(string(TargetControl))
	c.logger.Debug("switch to consume control records")
}

// pollEvents makes the event stream the active input.
func (c *Coordinator) pollEvents() {
	c.target = TargetEvents
	c.control.Pause()
	c.events.Resume()
	c.metrics.IncTargetSwitches(string(TargetEvents))
	c.logger.Debug("switch to consume event records")
}
