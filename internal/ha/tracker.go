package ha

// Watermark identifies the most recent record known to have been processed
// by the leader.
type Watermark struct {
	Key    string
	Offset int64
}

// Tracker holds offset bookkeeping for both streams. It does no I/O and is
// only touched from the coordinator's loop.
type Tracker struct {
	watermark    Watermark
	hasWatermark bool

	lastEvent    int64
	hasLastEvent bool

	committed map[string]map[int32]int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{committed: make(map[string]map[int32]int64)}
}

// Watermark returns the current watermark and whether one is set.
func (t *Tracker) Watermark() (Watermark, bool) {
	return t.watermark, t.hasWatermark
}

// SetWatermark adopts (key, offset) as the current watermark.
func (t *Tracker) SetWatermark(key string, offset int64) {
	t.watermark = Watermark{Key: key, Offset: offset}
	t.hasWatermark = true
}

// ClearWatermark forgets the watermark.
func (t *Tracker) ClearWatermark() {
	t.watermark = Watermark{}
	t.hasWatermark = false
}

// LastProcessedEvent returns the offset of the last processed event record,
// or 0 when none was processed yet.
func (t *Tracker) LastProcessedEvent() int64 {
	if !t.hasLastEvent {
		return 0
	}
	return t.lastEvent
}

// SetLastProcessedEvent records offset as the last processed event record.
func (t *Tracker) SetLastProcessedEvent(offset int64) {
	t.lastEvent = offset
	t.hasLastEvent = true
}

// Committed returns the last committed cursor for topic/partition, or 0.
func (t *Tracker) Committed(topic string, partition int32) int64 {
	return t.committed[topic][partition]
}

// SetCommitted records the committed cursor for topic/partition.
func (t *Tracker) SetCommitted(topic string, partition int32, offset int64) {
	parts, ok := t.committed[topic]
	if !ok {
		parts = make(map[int32]int64)
		t.committed[topic] = parts
	}
	parts[partition] = offset
}
