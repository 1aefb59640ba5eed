package memory

import (
	"context"
	"sync"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
)

// MemoryLocationRepository retains the latest sample per user. The
// monotonic captured_at guard lives here so both transports (push and
// REST backstop) share one idempotent upsert.
type MemoryLocationRepository struct {
	samples map[domain.UserID]domain.LocationSample
	mu      sync.RWMutex
}

func NewMemoryLocationRepository() ports.LocationRepository {
	return &MemoryLocationRepository{
		samples: make(map[domain.UserID]domain.LocationSample),
	}
}

func (r *MemoryLocationRepository) PutSample(ctx context.Context, sample domain.LocationSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stored, ok := r.samples[sample.UserID]; ok && !sample.CapturedAt.After(stored.CapturedAt) {
		return domain.ErrStaleSample
	}
	r.samples[sample.UserID] = sample
	return nil
}

func (r *MemoryLocationRepository) GetSample(ctx context.Context, userID domain.UserID) (domain.LocationSample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sample, ok := r.samples[userID]
	if !ok {
		return domain.LocationSample{}, domain.ErrSampleNotFound
	}
	return sample, nil
}
