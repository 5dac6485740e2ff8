package incident

import (
	"encoding/json"
	"fmt"
)

// Marker announces that the leader processed the event keyed ID.
type Marker struct {
	ID string `json:"id"`
}

// Encode returns the control-stream record value for m.
func (m Marker) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal marker: %w", err)
	}
	return data, nil
}

// DecodeMarker parses a control-stream record value.
func DecodeMarker(value []byte) (Marker, error) {
	var m Marker
	if err := json.Unmarshal(value, &m); err != nil {
		return Marker{}, fmt.Errorf("failed to unmarshal marker: %w", err)
	}
	return m, nil
}

// MarkerKey returns the key a control record announces: the record key, or
// the marker id when the record was published without one.
func MarkerKey(key string, value []byte) string {
	if key != "" {
		return key
	}
	m, err := DecodeMarker(value)
	if err != nil {
		return ""
	}
	return m.ID
}
