// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrEmptyPayload         = errors.New("empty payload")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrMalformedBody        = errors.New("malformed message body")
	ErrUnknownRole          = errors.New("unknown role")
	ErrStreamClosed         = errors.New("stream is closed")
	ErrPartitionNotAssigned = errors.New("partition not assigned")
	ErrTailReadTimeout      = errors.New("tail read timed out")
)

// ValidationError represents an event record that could not be accepted.
// It wraps one of the payload sentinels so callers can branch with errors.Is.
type ValidationError struct {
	Key    string
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: key=%s field=%s: %s",
		e.Key, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransitionError represents a failure while (re)creating, assigning or
// seeking stream handles for a role. It is fatal to the transition.
type TransitionError struct {
	From  string
	To    string
	Step  string
	Topic string
	Err   error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error: from=%s to=%s step=%s topic=%s: %v",
		e.From, e.To, e.Step, e.Topic, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// CommitError represents an offset commit failure.
type CommitError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: topic=%s partition=%d offset=%d: %v",
		e.Topic, e.Partition, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop the consumer. Only infrastructure
// failures during a role transition are fatal; payload problems never are.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var transitionErr *TransitionError
	return errors.As(err, &transitionErr)
}

// IsDroppable reports whether err describes a record that should be logged,
// dropped and committed.
func IsDroppable(err error) bool {
	return errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrMalformedBody)
}
