package postgres

import (
	"context"
	"fmt"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresConsentRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConsentRepository(pool *pgxpool.Pool) ports.ConsentRepository {
	return &PostgresConsentRepository{pool: pool}
}

func (r *PostgresConsentRepository) Grant(ctx context.Context, owner, viewer domain.UserID) error {
	if owner == viewer || owner == "" || viewer == "" {
		return domain.ErrInvalidTarget
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO consent_edges (owner_id, viewer_id)
		 VALUES ($1, $2)
		 ON CONFLICT (owner_id, viewer_id) DO NOTHING`,
		owner, viewer,
	)
	if err != nil {
		return fmt.Errorf("failed to grant consent: %w", err)
	}
	return nil
}

func (r *PostgresConsentRepository) Revoke(ctx context.Context, owner, viewer domain.UserID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM consent_edges WHERE owner_id = $1 AND viewer_id = $2`,
		owner, viewer,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke consent: %w", err)
	}
	return nil
}

func (r *PostgresConsentRepository) ViewersOf(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT viewer_id FROM consent_edges WHERE owner_id = $1`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query viewers: %w", err)
	}
	defer rows.Close()

	var viewers []domain.UserID
	for rows.Next() {
		var viewer domain.UserID
		if err := rows.Scan(&viewer); err != nil {
			return nil, fmt.Errorf("failed to scan viewer: %w", err)
		}
		viewers = append(viewers, viewer)
	}
	return viewers, rows.Err()
}

func (r *PostgresConsentRepository) VisibleTo(ctx context.Context, viewer domain.UserID) ([]domain.UserID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT owner_id FROM consent_edges WHERE viewer_id = $1`, viewer)
	if err != nil {
		return nil, fmt.Errorf("failed to query visible owners: %w", err)
	}
	defer rows.Close()

	var owners []domain.UserID
	for rows.Next() {
		var owner domain.UserID
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (r *PostgresConsentRepository) EdgesOf(ctx context.Context, owner domain.UserID) ([]domain.ConsentEdge, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT owner_id, viewer_id, created_at
		 FROM consent_edges WHERE owner_id = $1
		 ORDER BY created_at`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []domain.ConsentEdge
	for rows.Next() {
		var edge domain.ConsentEdge
		if err := rows.Scan(&edge.OwnerID, &edge.ViewerID, &edge.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

func (r *PostgresConsentRepository) SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error {
	var lastEnabledAt *time.Time
	if enabled {
		now := time.Now()
		lastEnabledAt = &now
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO sharing_state (user_id, enabled, last_enabled_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET enabled = EXCLUDED.enabled,
		     last_enabled_at = COALESCE(EXCLUDED.last_enabled_at, sharing_state.last_enabled_at)`,
		owner, enabled, lastEnabledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to set sharing state: %w", err)
	}
	return nil
}

func (r *PostgresConsentRepository) SharingStateOf(ctx context.Context, owner domain.UserID) (domain.SharingState, error) {
	var state domain.SharingState
	var lastEnabledAt *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, enabled, last_enabled_at FROM sharing_state WHERE user_id = $1`,
		owner,
	).Scan(&state.UserID, &state.Enabled, &lastEnabledAt)
	if err == pgx.ErrNoRows {
		return domain.SharingState{UserID: owner, Enabled: false}, nil
	}
	if err != nil {
		return domain.SharingState{}, fmt.Errorf("failed to get sharing state: %w", err)
	}
	if lastEnabledAt != nil {
		state.LastEnabledAt = *lastEnabledAt
	}
	return state, nil
}

func (r *PostgresConsentRepository) IsAuthorized(ctx context.Context, owner, viewer domain.UserID) (bool, error) {
	var authorized bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM consent_edges e
			JOIN sharing_state s ON s.user_id = e.owner_id AND s.enabled
			WHERE e.owner_id = $1 AND e.viewer_id = $2
		)`,
		owner, viewer,
	).Scan(&authorized)
	if err != nil {
		return false, fmt.Errorf("failed to check authorization: %w", err)
	}
	return authorized, nil
}
