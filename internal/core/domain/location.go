package domain

import "time"

type UserID string

type ConnectionID string

// LocationSample is the latest known position of one user. Exactly one
// sample is retained per user; writes with an older CapturedAt are
// rejected by the stores.
type LocationSample struct {
	UserID         UserID    `json:"user_id"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ViewerSample is a sample as served to an authorized viewer, annotated
// with staleness and the owner's display fields.
type ViewerSample struct {
	LocationSample
	OwnerName   string `json:"owner_name,omitempty"`
	OwnerAvatar string `json:"owner_avatar,omitempty"`
	IsStale     bool   `json:"is_stale"`
}

// ConsentEdge is a directed permission: the owner allows the viewer to
// see the owner's location. Edges are unique per (owner, viewer) pair
// and only ever mutated by the owner.
type ConsentEdge struct {
	OwnerID   UserID    `json:"owner_id"`
	ViewerID  UserID    `json:"viewer_id"`
	CreatedAt time.Time `json:"created_at"`
}

// SharingState is the owner's master switch. When disabled, no sample is
// dispatched or served for that user regardless of existing edges; the
// edges themselves persist so re-enabling restores the prior audience.
type SharingState struct {
	UserID        UserID    `json:"user_id"`
	Enabled       bool      `json:"enabled"`
	LastEnabledAt time.Time `json:"last_enabled_at,omitempty"`
}

// PresenceConnection is one live transport session. A user may hold
// several at once (multiple devices or tabs).
type PresenceConnection struct {
	ID          ConnectionID
	UserID      UserID
	ConnectedAt time.Time
}

// SharingOverview is what the owner sees on the sharing screen: the
// switch, the current audience and the own last sample, if any.
type SharingOverview struct {
	State    SharingState    `json:"state"`
	Audience []User          `json:"visible_to"`
	Location *LocationSample `json:"location,omitempty"`
}

// IsStaleAt reports whether the sample is older than the staleness
// window at the given instant. Stale samples are still served, flagged.
func (s LocationSample) IsStaleAt(now time.Time, window time.Duration) bool {
	return now.Sub(s.CapturedAt) > window
}
