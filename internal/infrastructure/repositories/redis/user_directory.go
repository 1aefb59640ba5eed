package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/utils"

	"github.com/redis/go-redis/v9"
)

type RedisUserDirectory struct {
	client *redis.Client
}

func NewRedisUserDirectory(client *redis.Client) ports.UserDirectory {
	return &RedisUserDirectory{client: client}
}

func (d *RedisUserDirectory) userKey(id domain.UserID) string {
	return fmt.Sprintf("livemap:user:%s", id)
}

func (d *RedisUserDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	data, err := d.client.Get(ctx, d.userKey(id)).Result()
	if err == redis.Nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user from Redis: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal([]byte(data), &user); err != nil {
		return domain.User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return user, nil
}

func (d *RedisUserDirectory) PutUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrInvalidTarget
	}
	user.Name = utils.SanitizeString(user.Name)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := d.client.Set(ctx, d.userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set user in Redis: %w", err)
	}
	return nil
}
