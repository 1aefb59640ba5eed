package domain

import "time"

// User is the slice of the external identity we care about: an opaque id
// plus display fields for marker popups and audience lists. Identity
// issuance lives outside this system.
type User struct {
	ID        UserID    `json:"user_id"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
