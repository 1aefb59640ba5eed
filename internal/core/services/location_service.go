package services

import (
	"context"
	"errors"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"go.uber.org/zap"
)

// LocationService serves viewer pulls and the owner's sharing overview.
// It is the read-side complement of the dispatcher: the same consent
// checks gate every sample it returns.
type LocationService struct {
	consent   ports.ConsentRepository
	locations ports.LocationRepository
	directory ports.UserDirectory

	stalenessWindow time.Duration
	logger          *zap.SugaredLogger
}

func NewLocationService(
	consent ports.ConsentRepository,
	locations ports.LocationRepository,
	directory ports.UserDirectory,
	stalenessWindow time.Duration,
	logger *zap.SugaredLogger,
) *LocationService {
	return &LocationService{
		consent:         consent,
		locations:       locations,
		directory:       directory,
		stalenessWindow: stalenessWindow,
		logger:          logger,
	}
}

// SamplesForViewer returns the latest sample of every owner the viewer
// is currently authorized to see. Samples older than the staleness
// window are returned flagged, not omitted. Used for initial sync and
// reconnection catch-up.
func (s *LocationService) SamplesForViewer(ctx context.Context, viewer domain.UserID) ([]domain.ViewerSample, error) {
	owners, err := s.consent.VisibleTo(ctx, viewer)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	samples := make([]domain.ViewerSample, 0, len(owners))
	for _, owner := range owners {
		ok, err := s.consent.IsAuthorized(ctx, owner, viewer)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		sample, err := s.locations.GetSample(ctx, owner)
		if err != nil {
			if errors.Is(err, domain.ErrSampleNotFound) {
				continue
			}
			return nil, err
		}

		vs := domain.ViewerSample{
			LocationSample: sample,
			IsStale:        sample.IsStaleAt(now, s.stalenessWindow),
		}
		if user, err := s.directory.GetUser(ctx, owner); err == nil {
			vs.OwnerName = user.Name
			vs.OwnerAvatar = user.Avatar
		}
		samples = append(samples, vs)
	}
	return samples, nil
}

// Sample returns one owner's sample for an authorized viewer, with the
// staleness flag derived at read time.
func (s *LocationService) Sample(ctx context.Context, owner, viewer domain.UserID) (domain.ViewerSample, error) {
	ok, err := s.consent.IsAuthorized(ctx, owner, viewer)
	if err != nil {
		return domain.ViewerSample{}, err
	}
	if !ok {
		// Indistinguishable from a user that never produced a sample.
		return domain.ViewerSample{}, domain.ErrSampleNotFound
	}

	sample, err := s.locations.GetSample(ctx, owner)
	if err != nil {
		return domain.ViewerSample{}, err
	}
	return domain.ViewerSample{
		LocationSample: sample,
		IsStale:        sample.IsStaleAt(time.Now(), s.stalenessWindow),
	}, nil
}

// MySharing returns the owner's sharing switch, current audience and own
// last sample.
func (s *LocationService) MySharing(ctx context.Context, owner domain.UserID) (*domain.SharingOverview, error) {
	state, err := s.consent.SharingStateOf(ctx, owner)
	if err != nil {
		return nil, err
	}

	edges, err := s.consent.EdgesOf(ctx, owner)
	if err != nil {
		return nil, err
	}

	audience := make([]domain.User, 0, len(edges))
	for _, edge := range edges {
		user, err := s.directory.GetUser(ctx, edge.ViewerID)
		if err != nil {
			user = domain.User{ID: edge.ViewerID}
		}
		audience = append(audience, user)
	}

	overview := &domain.SharingOverview{
		State:    state,
		Audience: audience,
	}

	sample, err := s.locations.GetSample(ctx, owner)
	if err == nil {
		overview.Location = &sample
	} else if !errors.Is(err, domain.ErrSampleNotFound) {
		return nil, err
	}
	return overview, nil
}
