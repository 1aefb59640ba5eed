package client

import (
	"context"
	"time"
)

// Position is one reading from a location source.
type Position struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	CapturedAt     time.Time
}

// WatchOptions mirror the knobs of platform geolocation APIs.
type WatchOptions struct {
	// HighAccuracy requests GPS-grade readings where available.
	HighAccuracy bool
	// MaximumAge bounds how old a cached reading may be.
	MaximumAge time.Duration
	// Timeout bounds how long one reading may take.
	Timeout time.Duration
}

// DefaultWatchOptions returns the options used for live presence.
// Timeout is kept just under the typical 30s platform ceiling so a
// hanging fix fails before the watchdog does.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		MaximumAge:   30 * time.Second,
		Timeout:      27 * time.Second,
	}
}

// LocationSource produces a stream of device positions. Implementations
// wrap platform geolocation APIs or test fixtures. The returned channel
// is closed when the context is cancelled or the source fails
// permanently.
type LocationSource interface {
	Watch(ctx context.Context, opts WatchOptions) (<-chan Position, error)
}
