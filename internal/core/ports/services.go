package ports

import (
	"context"

	"livemap/internal/core/domain"
)

// Pusher writes one server message to a single live transport session.
// Implementations must be safe for concurrent Push calls.
type Pusher interface {
	Push(message interface{}) error
	Close() error
}

// PresenceRegistry tracks live connections per user. Registration,
// unregistration and lookup are linearizable with respect to each other;
// Push delivers through the registry so a fully unregistered connection
// can never be written to.
type PresenceRegistry interface {
	Register(userID domain.UserID, pusher Pusher) domain.ConnectionID
	// Unregister is idempotent and safe concurrently with dispatch.
	Unregister(connID domain.ConnectionID)
	ConnectionsFor(userID domain.UserID) []domain.ConnectionID
	Push(connID domain.ConnectionID, message interface{}) error
	Count() int
}

// DispatchService is the only path through which a location sample
// becomes visible to other users.
type DispatchService interface {
	Dispatch(ctx context.Context, sample domain.LocationSample) error
}

// LocationService serves viewer reads with staleness annotation and the
// owner's own sharing overview.
type LocationService interface {
	SamplesForViewer(ctx context.Context, viewer domain.UserID) ([]domain.ViewerSample, error)
	MySharing(ctx context.Context, owner domain.UserID) (*domain.SharingOverview, error)
}

// ConsentService wraps consent-graph mutations issued by the owning user.
type ConsentService interface {
	ShareWith(ctx context.Context, owner, viewer domain.UserID) error
	StopSharingWith(ctx context.Context, owner, viewer domain.UserID) error
	SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error
}
