package ha

import (
	"context"
	stderrors "errors"

	"github.com/jittakal/kafhaconsumer/internal/errors"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"github.com/jittakal/kafhaconsumer/pkg/stream"
	"go.uber.org/zap"
)

// processLeader handles an event record as leader: forward, publish a
// marker, advance the watermark, commit. The first record after a role
// swap was already handled before the swap and is only committed. A record
// interrupted by shutdown is neither marked nor committed.
func (c *Coordinator) processLeader(ctx context.Context, rec *stream.Record) {
	c.logger.Debug("processing event record as leader",
		zap.Int64("offset", rec.Offset),
		zap.String("key", rec.Key),
	)

	if c.skipNext {
		c.skipNext = false
		c.logger.Debug("ignoring first record after role change",
			zap.Int64("offset", rec.Offset),
			zap.String("key", rec.Key),
		)
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeSkipped)
	} else {
		if err := c.forward(ctx, rec); err != nil {
			c.interrupted(rec, err)
			return
		}
		if err := c.publishMarker(ctx, rec.Key); err != nil {
			c.interrupted(rec, err)
			return
		}
		c.tracker.SetWatermark(rec.Key, rec.Offset)
		c.tracker.SetLastProcessedEvent(rec.Offset)
		c.metrics.SetWatermarkOffset(rec.Offset)
	}

	c.commit(ctx, c.events, rec)
}

// forward validates rec and sends its body downstream. Invalid records are
// logged and dropped; they are still committed by the caller. The only
// error is ctx's, when it ends before the body was taken.
func (c *Coordinator) forward(ctx context.Context, rec *stream.Record) error {
	assignment, err := incident.Parse(rec.Key, rec.Value)
	if err != nil {
		fields := []zap.Field{
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.String("key", rec.Key),
			zap.Error(err),
		}
		if stderrors.Is(err, errors.ErrUnknownMessageType) {
			c.logger.Debug("unexpected message type, ignoring record", fields...)
		} else {
			c.logger.Warn("invalid record, ignoring", fields...)
		}
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeDropped)
		return nil
	}

	c.logger.Debug("consumed incident assignment",
		zap.String("incidentId", assignment.IncidentID),
		zap.Bool("assignment", assignment.Assignment),
	)

	select {
	case c.out.Forward <- assignment:
		c.metrics.IncRecordsHandled(rec.Topic, OutcomeProcessed)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) publishMarker(ctx context.Context, key string) error {
	select {
	case c.out.Markers <- incident.Marker{ID: key}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// interrupted logs a record left unhandled by shutdown. It is redelivered
// from the committed cursor on the next start.
func (c *Coordinator) interrupted(rec *stream.Record, err error) {
	c.logger.Info("stopped before record was handled, not committing",
		zap.String("topic", rec.Topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
		zap.String("key", rec.Key),
		zap.Error(err),
	)
}
