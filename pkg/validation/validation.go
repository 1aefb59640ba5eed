package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// UserIDRegex validates user ID format
var UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateUserID validates a user identifier.
func ValidateUserID(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("user_id is too long (max 100 characters)")
	}
	if !UserIDRegex.MatchString(id) {
		return fmt.Errorf("user_id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateCoordinates validates a WGS84 position.
func ValidateCoordinates(latitude, longitude float64) error {
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("latitude must be in [-90, 90], got %f", latitude)
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("longitude must be in [-180, 180], got %f", longitude)
	}
	return nil
}

// ValidateAccuracy validates the reported accuracy radius in meters.
func ValidateAccuracy(accuracyMeters float64) error {
	if accuracyMeters < 0 {
		return fmt.Errorf("accuracy_meters must be >= 0, got %f", accuracyMeters)
	}
	return nil
}

// ValidateCapturedAt rejects timestamps too far in the future. Small
// clock skew between devices and the server is tolerated.
func ValidateCapturedAt(capturedAt, now time.Time) error {
	if capturedAt.IsZero() {
		return fmt.Errorf("captured_at is required")
	}
	if capturedAt.After(now.Add(time.Minute)) {
		return fmt.Errorf("captured_at is in the future")
	}
	return nil
}
