// Package incident parses incident assignment records from the event stream
// and encodes the processed-markers published on the control stream.
package incident

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jittakal/kafhaconsumer/internal/errors"
)

// AssignmentEventType is the only message type forwarded downstream.
const AssignmentEventType = "IncidentAssignmentEvent"

// Message is the envelope of an event-stream record value.
type Message struct {
	MessageType string          `json:"messageType"`
	Body        json.RawMessage `json:"body"`
}

// Assignment is a validated incident assignment body.
type Assignment struct {
	// Key is the record key the body arrived under.
	Key        string
	IncidentID string
	Assignment bool
	// Body is the original body object, forwarded unmodified.
	Body json.RawMessage
}

type assignmentBody struct {
	IncidentID *string `json:"incidentId"`
	Assignment *bool   `json:"assignment"`
}

// Parse validates an event-stream record value. Every error it returns is
// droppable: the record is logged and skipped, never retried.
func Parse(key string, value []byte) (*Assignment, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, &errors.ValidationError{Key: key, Reason: "record has no contents", Err: errors.ErrEmptyPayload}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, &errors.ValidationError{
			Key:    key,
			Reason: fmt.Sprintf("invalid json: %v", err),
			Err:    errors.ErrMalformedBody,
		}
	}
	if len(fields) == 0 {
		return nil, &errors.ValidationError{Key: key, Reason: "record has no contents", Err: errors.ErrEmptyPayload}
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, &errors.ValidationError{
			Key:    key,
			Field:  "messageType",
			Reason: fmt.Sprintf("invalid envelope: %v", err),
			Err:    errors.ErrMalformedBody,
		}
	}

	if msg.MessageType != AssignmentEventType {
		return nil, &errors.ValidationError{
			Key:    key,
			Field:  "messageType",
			Reason: fmt.Sprintf("unexpected message type %q", msg.MessageType),
			Err:    errors.ErrUnknownMessageType,
		}
	}

	body := bytes.TrimSpace(msg.Body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, &errors.ValidationError{Key: key, Field: "body", Reason: "required field is missing", Err: errors.ErrMalformedBody}
	}

	var fieldsOfBody assignmentBody
	if err := json.Unmarshal(body, &fieldsOfBody); err != nil {
		return nil, &errors.ValidationError{
			Key:    key,
			Field:  "body",
			Reason: fmt.Sprintf("invalid body: %v", err),
			Err:    errors.ErrMalformedBody,
		}
	}
	if fieldsOfBody.IncidentID == nil {
		return nil, &errors.ValidationError{Key: key, Field: "body.incidentId", Reason: "required field is missing", Err: errors.ErrMalformedBody}
	}
	if fieldsOfBody.Assignment == nil {
		return nil, &errors.ValidationError{Key: key, Field: "body.assignment", Reason: "required field is missing", Err: errors.ErrMalformedBody}
	}

	return &Assignment{
		Key:        key,
		IncidentID: *fieldsOfBody.IncidentID,
		Assignment: *fieldsOfBody.Assignment,
		Body:       json.RawMessage(append([]byte(nil), body...)),
	}, nil
}

// NewAssignmentMessage builds an event-stream record value.
func NewAssignmentMessage(incidentID string, assignment bool) ([]byte, error) {
	body, err := json.Marshal(assignmentBody{IncidentID: &incidentID, Assignment: &assignment})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal assignment body: %w", err)
	}
	return json.Marshal(Message{MessageType: AssignmentEventType, Body: body})
}
