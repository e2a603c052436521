package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type and topic names for the tracking event plane.
const (
	BusLocationUpdated = "bus.location.updated"
	TrackingUpdated    = "tracking.updated"
)

// CloudEvent is the JSON envelope every message on the event plane
// travels in.
type CloudEvent struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// NewCloudEvent wraps data in a CloudEvent envelope.
func NewCloudEvent(source, eventType string, data interface{}) (*CloudEvent, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return &CloudEvent{
		ID:     uuid.NewString(),
		Source: source,
		Type:   eventType,
		Time:   time.Now().UTC(),
		Data:   payload,
	}, nil
}

// ParseCloudEvent decodes a CloudEvent from raw message bytes.
func ParseCloudEvent(raw []byte) (*CloudEvent, error) {
	var ev CloudEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse cloud event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("cloud event has no type")
	}
	return &ev, nil
}

// ParseData unmarshals the event payload into v.
func (e *CloudEvent) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// BusLocationEvent is the telemetry payload published by the fleet
// gateway for each position report.
type BusLocationEvent struct {
	BookingID            string    `json:"booking_id"`
	Latitude             float64   `json:"latitude"`
	Longitude            float64   `json:"longitude"`
	SpeedKmh             float64   `json:"speed_kmh"`
	HeadingDegrees       float64   `json:"heading_degrees"`
	SpeedFactor          float64   `json:"speed_factor"`
	DurationSec          float64   `json:"duration_sec"`
	DurationInTrafficSec float64   `json:"duration_in_traffic_sec"`
	DestinationLatitude  float64   `json:"destination_latitude"`
	DestinationLongitude float64   `json:"destination_longitude"`
	Timestamp            time.Time `json:"timestamp"`
}
