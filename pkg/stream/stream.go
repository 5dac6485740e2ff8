// Package stream defines the partitioned-log contracts the HA consumer is
// written against.
//
// A Stream is one consumer handle bound to one topic. It is assigned
// partitions explicitly (no group rebalancing), positioned with Seek, and
// delivers records on a single channel. Pausing is asynchronous with respect
// to in-flight fetches: records already fetched may still sit on the
// channel after Pause returns.
package stream

import (
	"context"
	"fmt"
	"time"
)

// Record is a single record delivered from a partitioned log.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       string
	Value     []byte
	Timestamp time.Time
}

// NextOffset is the offset to commit once r has been handled.
func (r *Record) NextOffset() int64 {
	return r.Offset + 1
}

// String returns "topic/partition@offset".
func (r *Record) String() string {
	return fmt.Sprintf("%s/%d@%d", r.Topic, r.Partition, r.Offset)
}

// Stream is a single handle onto one topic of a partitioned log.
type Stream interface {
	// Topic returns the topic this handle reads.
	Topic() string

	// Partitions lists the partitions of the topic.
	Partitions(ctx context.Context) ([]int32, error)

	// Assign takes ownership of the given partitions, replacing any
	// previous assignment.
	Assign(ctx context.Context, partitions []int32) error

	// Assignment returns the currently assigned partitions.
	Assignment() []int32

	// Seek positions an assigned partition so the next delivered record
	// has the given offset.
	Seek(ctx context.Context, partition int32, offset int64) error

	// Pause stops fetching for every assigned partition.
	Pause()

	// Resume restarts fetching for every assigned partition.
	Resume()

	// Records delivers records from all assigned partitions.
	Records() <-chan *Record

	// Commit durably records offset as the next offset to read for partition.
	Commit(ctx context.Context, partition int32, offset int64) error

	// Unsubscribe stops delivery and drops the assignment.
	Unsubscribe() error

	// Close releases every resource held by the handle.
	Close() error
}

// Transport opens stream handles and performs one-off reads.
type Transport interface {
	// Open creates a fresh handle for topic with nothing assigned.
	Open(ctx context.Context, topic string) (Stream, error)

	// TailRead returns the most recent record of topic without
	// subscribing. It returns nil and no error when the topic is empty.
	TailRead(ctx context.Context, topic string) (*Record, error)
}
