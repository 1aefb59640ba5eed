package postgres

import (
	"context"
	"fmt"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresLocationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresLocationRepository(pool *pgxpool.Pool) ports.LocationRepository {
	return &PostgresLocationRepository{pool: pool}
}

func (r *PostgresLocationRepository) PutSample(ctx context.Context, sample domain.LocationSample) error {
	// The WHERE clause on the conflict update enforces the monotonic
	// captured_at guard inside the database, so concurrent writers for
	// the same user cannot interleave a rollback.
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO location_samples (user_id, latitude, longitude, accuracy_meters, captured_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE
		 SET latitude = EXCLUDED.latitude,
		     longitude = EXCLUDED.longitude,
		     accuracy_meters = EXCLUDED.accuracy_meters,
		     captured_at = EXCLUDED.captured_at
		 WHERE location_samples.captured_at < EXCLUDED.captured_at`,
		sample.UserID, sample.Latitude, sample.Longitude, sample.AccuracyMeters, sample.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleSample
	}
	return nil
}

func (r *PostgresLocationRepository) GetSample(ctx context.Context, userID domain.UserID) (domain.LocationSample, error) {
	var sample domain.LocationSample
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, latitude, longitude, accuracy_meters, captured_at
		 FROM location_samples WHERE user_id = $1`,
		userID,
	).Scan(&sample.UserID, &sample.Latitude, &sample.Longitude, &sample.AccuracyMeters, &sample.CapturedAt)
	if err == pgx.ErrNoRows {
		return domain.LocationSample{}, domain.ErrSampleNotFound
	}
	if err != nil {
		return domain.LocationSample{}, fmt.Errorf("failed to get sample: %w", err)
	}
	return sample, nil
}
