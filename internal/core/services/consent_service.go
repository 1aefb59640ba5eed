package services

import (
	"context"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"go.uber.org/zap"
)

// ConsentService wraps consent-graph mutations. All three operations are
// issued by the owning user only; the transport layer authenticates that
// before calling in.
type ConsentService struct {
	consent ports.ConsentRepository
	logger  *zap.SugaredLogger
}

func NewConsentService(consent ports.ConsentRepository, logger *zap.SugaredLogger) *ConsentService {
	return &ConsentService{consent: consent, logger: logger}
}

// ShareWith grants the viewer visibility of the owner's location.
// Idempotent; granting twice leaves exactly one edge.
func (s *ConsentService) ShareWith(ctx context.Context, owner, viewer domain.UserID) error {
	if err := s.consent.Grant(ctx, owner, viewer); err != nil {
		return err
	}
	s.logger.Infow("consent granted", "owner_id", owner, "viewer_id", viewer)
	return nil
}

// StopSharingWith revokes the edge. A revoke of a non-existent edge is a
// no-op returning success.
func (s *ConsentService) StopSharingWith(ctx context.Context, owner, viewer domain.UserID) error {
	if err := s.consent.Revoke(ctx, owner, viewer); err != nil {
		return err
	}
	s.logger.Infow("consent revoked", "owner_id", owner, "viewer_id", viewer)
	return nil
}

// SetSharing flips the owner's master switch. Edges are untouched, so
// re-enabling restores the prior audience.
func (s *ConsentService) SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error {
	if err := s.consent.SetSharing(ctx, owner, enabled); err != nil {
		return err
	}
	s.logger.Infow("sharing toggled", "owner_id", owner, "enabled", enabled)
	return nil
}
