package validation

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple id", "alice", false},
		{"digits and separators", "user_42-a", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
		{"spaces inside", "alice smith", true},
		{"path traversal", "../etc/passwd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name      string
		latitude  float64
		longitude float64
		wantErr   bool
	}{
		{"berlin", 52.52, 13.405, false},
		{"null island", 0, 0, false},
		{"poles", 90, 180, false},
		{"latitude too high", 90.1, 0, true},
		{"latitude too low", -90.1, 0, true},
		{"longitude too high", 0, 180.1, true},
		{"longitude too low", 0, -180.1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCoordinates(tt.latitude, tt.longitude)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateAccuracy(t *testing.T) {
	assert.NoError(t, ValidateAccuracy(0))
	assert.NoError(t, ValidateAccuracy(150.5))
	assert.Error(t, ValidateAccuracy(-1))
}

func TestValidateCapturedAt(t *testing.T) {
	now := time.Now()

	assert.NoError(t, ValidateCapturedAt(now, now))
	assert.NoError(t, ValidateCapturedAt(now.Add(-time.Hour), now), "old samples pass here, the stores handle ordering")
	assert.NoError(t, ValidateCapturedAt(now.Add(30*time.Second), now), "small clock skew tolerated")
	assert.Error(t, ValidateCapturedAt(now.Add(2*time.Minute), now))
	assert.Error(t, ValidateCapturedAt(time.Time{}, now))
}
