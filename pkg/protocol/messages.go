// Package protocol defines the JSON message shapes spoken over the
// presence WebSocket and the REST fallback endpoints. Both the server
// hub and the client sync engine marshal against these types.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types, client to server.
const (
	TypeUpdateLocation   = "update_location"
	TypeRequestLocations = "request_locations"
)

// Message types, server to client.
const (
	TypeLocationUpdate = "location_update"
	TypeAllLocations   = "all_locations"
	TypeError          = "error"
)

// Envelope frames every WebSocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// UpdateLocation is a device position report from the owning user.
// CapturedAt is the capture time on the device, not the send time, so
// ordering survives network delay.
type UpdateLocation struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// LocationUpdate is one owner's sample pushed to an authorized viewer.
type LocationUpdate struct {
	OwnerID        string    `json:"owner_id"`
	OwnerName      string    `json:"owner_name,omitempty"`
	OwnerAvatar    string    `json:"owner_avatar,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
	IsStale        bool      `json:"is_stale"`
}

// Age reports how old the sample is at the given instant. UIs render
// this as "updated Xm ago" next to the marker.
func (u LocationUpdate) Age(now time.Time) time.Duration {
	return now.Sub(u.CapturedAt)
}

// AllLocations answers a request_locations pull with every sample the
// viewer is currently authorized to see.
type AllLocations struct {
	Locations []LocationUpdate `json:"locations"`
}

// ErrorMessage reports a malformed client message. Authorization misses
// are never reported; silence is the expected outcome there.
type ErrorMessage struct {
	Message string `json:"message"`
}

// NewEnvelope marshals a payload into a framed message.
func NewEnvelope(msgType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}
