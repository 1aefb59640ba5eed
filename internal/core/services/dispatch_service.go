package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/protocol"
	"livemap/pkg/tracing"

	"go.uber.org/zap"
)

// DispatchMetrics receives fan-out observations. Implemented by the
// prometheus collector; a nil value disables recording.
type DispatchMetrics interface {
	RecordDispatch(viewers, pushes, failures int, duration time.Duration)
	RecordStaleSample()
}

// DispatchService is the only path through which a location sample
// becomes visible to anyone else.
type DispatchService struct {
	consent   ports.ConsentRepository
	locations ports.LocationRepository
	directory ports.UserDirectory
	registry  ports.PresenceRegistry

	metrics DispatchMetrics
	logger  *zap.SugaredLogger
}

func NewDispatchService(
	consent ports.ConsentRepository,
	locations ports.LocationRepository,
	directory ports.UserDirectory,
	registry ports.PresenceRegistry,
	metrics DispatchMetrics,
	logger *zap.SugaredLogger,
) *DispatchService {
	return &DispatchService{
		consent:   consent,
		locations: locations,
		directory: directory,
		registry:  registry,
		metrics:   metrics,
		logger:    logger,
	}
}

// Dispatch stores the sample and fans it out to every live connection of
// every currently authorized viewer. Out-of-order samples abort silently;
// push failures are isolated per connection and never abort the rest.
// Lost pushes are not retried, the next sample supersedes them.
func (s *DispatchService) Dispatch(ctx context.Context, sample domain.LocationSample) error {
	ctx, span := tracing.TraceDispatch(ctx, string(sample.UserID))
	defer span.End()
	start := time.Now()

	// Checked before the write: a sample reported while the switch is
	// off must never be stored, or it would surface to every viewer the
	// moment the owner re-enables sharing.
	state, err := s.consent.SharingStateOf(ctx, sample.UserID)
	if err != nil {
		return err
	}
	if !state.Enabled {
		s.logger.Debugw("discarded sample, sharing disabled", "user_id", sample.UserID)
		return nil
	}

	if err := s.locations.PutSample(ctx, sample); err != nil {
		if errors.Is(err, domain.ErrStaleSample) {
			if s.metrics != nil {
				s.metrics.RecordStaleSample()
			}
			s.logger.Debugw("dropped out-of-order sample",
				"user_id", sample.UserID,
				"captured_at", sample.CapturedAt,
			)
			return nil
		}
		return err
	}

	viewers, err := s.consent.ViewersOf(ctx, sample.UserID)
	if err != nil {
		return err
	}
	if len(viewers) == 0 {
		// Expected outcome, not a fault.
		return nil
	}

	msg, err := protocol.NewEnvelope(protocol.TypeLocationUpdate, s.updateFor(ctx, sample))
	if err != nil {
		return err
	}

	var pushes, failures int64
	var wg sync.WaitGroup
	for _, viewer := range viewers {
		wg.Add(1)
		go func(viewer domain.UserID) {
			defer wg.Done()

			// Re-checked immediately before push so a revoke that raced
			// with this dispatch resolves in favor of not leaking.
			ok, err := s.consent.IsAuthorized(ctx, sample.UserID, viewer)
			if err != nil {
				s.logger.Warnw("authorization check failed during fan-out",
					"owner_id", sample.UserID, "viewer_id", viewer, "error", err)
				return
			}
			if !ok {
				return
			}

			for _, connID := range s.registry.ConnectionsFor(viewer) {
				if err := s.registry.Push(connID, msg); err != nil {
					atomic.AddInt64(&failures, 1)
					s.logger.Infow("push failed, dropping connection",
						"connection_id", connID, "viewer_id", viewer, "error", err)
					s.registry.Unregister(connID)
					continue
				}
				atomic.AddInt64(&pushes, 1)
			}
		}(viewer)
	}
	wg.Wait()

	tracing.AddSpanAttributes(ctx,
		tracing.ViewerCountKey.Int(len(viewers)),
		tracing.PushCountKey.Int64(pushes),
	)
	if s.metrics != nil {
		s.metrics.RecordDispatch(len(viewers), int(pushes), int(failures), time.Since(start))
	}
	return nil
}

func (s *DispatchService) updateFor(ctx context.Context, sample domain.LocationSample) protocol.LocationUpdate {
	update := protocol.LocationUpdate{
		OwnerID:        string(sample.UserID),
		Latitude:       sample.Latitude,
		Longitude:      sample.Longitude,
		AccuracyMeters: sample.AccuracyMeters,
		CapturedAt:     sample.CapturedAt,
	}
	if user, err := s.directory.GetUser(ctx, sample.UserID); err == nil {
		update.OwnerName = user.Name
		update.OwnerAvatar = user.Avatar
	}
	return update
}
