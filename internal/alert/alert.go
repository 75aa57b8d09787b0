// Package alert builds service alerts and delivers them to the restaurant
// backend.
package alert

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TypeServiceHand is the alert type raised when a guest holds a hand up.
const TypeServiceHand = "service_hand"

// Alert is one service request addressed to a table.
type Alert struct {
	ID         string
	TrackID    int
	Table      int
	Type       string
	Confidence float64
	Timestamp  time.Time
}

// NewServiceAlert creates a service_hand alert stamped with the current time.
func NewServiceAlert(trackID, table int, confidence float64) *Alert {
	return &Alert{
		ID:         uuid.New().String(),
		TrackID:    trackID,
		Table:      table,
		Type:       TypeServiceHand,
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

// payload is the wire body posted to the backend.
type payload struct {
	Table      int     `json:"table"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Timestamp  string  `json:"timestamp"`
}

// MarshalJSON encodes the alert in the backend's wire format. The timestamp
// is RFC 3339 in UTC.
func (a *Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(payload{
		Table:      a.Table,
		Type:       a.Type,
		Confidence: a.Confidence,
		Timestamp:  a.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON decodes the backend wire format.
func (a *Alert) UnmarshalJSON(data []byte) error {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return err
	}

	a.Table = p.Table
	a.Type = p.Type
	a.Confidence = p.Confidence
	a.Timestamp = ts.UTC()
	return nil
}
