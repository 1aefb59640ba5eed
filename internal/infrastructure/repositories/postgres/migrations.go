package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		avatar     TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS consent_edges (
		owner_id   TEXT NOT NULL,
		viewer_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (owner_id, viewer_id)
	)`,
	`CREATE INDEX IF NOT EXISTS consent_edges_viewer_idx ON consent_edges (viewer_id)`,
	`CREATE TABLE IF NOT EXISTS sharing_state (
		user_id         TEXT PRIMARY KEY,
		enabled         BOOLEAN NOT NULL DEFAULT false,
		last_enabled_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS location_samples (
		user_id         TEXT PRIMARY KEY,
		latitude        DOUBLE PRECISION NOT NULL,
		longitude       DOUBLE PRECISION NOT NULL,
		accuracy_meters DOUBLE PRECISION NOT NULL,
		captured_at     TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies the schema statements. Every statement is idempotent
// so reruns on startup are safe.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
