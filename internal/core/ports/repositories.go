package ports

import (
	"context"

	"livemap/internal/core/domain"
)

// ConsentRepository is the durable consent graph plus the per-user
// sharing switch. Grant and Revoke are idempotent; Grant returns
// domain.ErrInvalidTarget when owner and viewer are the same user.
// Disabling sharing never deletes edges.
type ConsentRepository interface {
	Grant(ctx context.Context, owner, viewer domain.UserID) error
	Revoke(ctx context.Context, owner, viewer domain.UserID) error
	ViewersOf(ctx context.Context, owner domain.UserID) ([]domain.UserID, error)
	VisibleTo(ctx context.Context, viewer domain.UserID) ([]domain.UserID, error)
	EdgesOf(ctx context.Context, owner domain.UserID) ([]domain.ConsentEdge, error)
	SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error
	SharingStateOf(ctx context.Context, owner domain.UserID) (domain.SharingState, error)

	// IsAuthorized is true iff an edge owner->viewer exists and the
	// owner's sharing switch is on.
	IsAuthorized(ctx context.Context, owner, viewer domain.UserID) (bool, error)
}

// LocationRepository retains the single latest sample per user. PutSample
// returns domain.ErrStaleSample when the incoming captured_at is not
// newer than the stored one; GetSample returns domain.ErrSampleNotFound
// for users that never produced a sample.
type LocationRepository interface {
	PutSample(ctx context.Context, sample domain.LocationSample) error
	GetSample(ctx context.Context, userID domain.UserID) (domain.LocationSample, error)
}

// UserDirectory resolves opaque user ids to display fields for marker
// popups and audience lists. Identity itself is issued elsewhere.
type UserDirectory interface {
	GetUser(ctx context.Context, id domain.UserID) (domain.User, error)
	PutUser(ctx context.Context, user domain.User) error
}
