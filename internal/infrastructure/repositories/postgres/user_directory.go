package postgres

import (
	"context"
	"fmt"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/utils"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresUserDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresUserDirectory(pool *pgxpool.Pool) ports.UserDirectory {
	return &PostgresUserDirectory{pool: pool}
}

func (d *PostgresUserDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	var user domain.User
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, avatar, created_at FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Name, &user.Avatar, &user.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (d *PostgresUserDirectory) PutUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrInvalidTarget
	}
	user.Name = utils.SanitizeString(user.Name)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	_, err := d.pool.Exec(ctx,
		`INSERT INTO users (id, name, avatar, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET name = EXCLUDED.name, avatar = EXCLUDED.avatar`,
		user.ID, user.Name, user.Avatar, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put user: %w", err)
	}
	return nil
}
