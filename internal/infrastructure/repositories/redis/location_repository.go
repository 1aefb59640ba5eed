package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// putSampleScript upserts a sample only when its captured_at is strictly
// newer than the stored one. Running it server-side keeps the monotonic
// guard atomic across the push and REST write paths.
var putSampleScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'captured_at_us')
if stored and tonumber(stored) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'captured_at_us', ARGV[1], 'sample', ARGV[2])
return 1
`)

type RedisLocationRepository struct {
	client *redis.Client
}

func NewRedisLocationRepository(client *redis.Client) ports.LocationRepository {
	return &RedisLocationRepository{client: client}
}

func (r *RedisLocationRepository) sampleKey(userID domain.UserID) string {
	return fmt.Sprintf("livemap:location:%s", userID)
}

func (r *RedisLocationRepository) PutSample(ctx context.Context, sample domain.LocationSample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	stored, err := putSampleScript.Run(ctx, r.client,
		[]string{r.sampleKey(sample.UserID)},
		sample.CapturedAt.UnixMicro(), data,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to put sample in Redis: %w", err)
	}
	if stored == 0 {
		return domain.ErrStaleSample
	}
	return nil
}

func (r *RedisLocationRepository) GetSample(ctx context.Context, userID domain.UserID) (domain.LocationSample, error) {
	data, err := r.client.HGet(ctx, r.sampleKey(userID), "sample").Result()
	if err == redis.Nil {
		return domain.LocationSample{}, domain.ErrSampleNotFound
	}
	if err != nil {
		return domain.LocationSample{}, fmt.Errorf("failed to get sample from Redis: %w", err)
	}

	var sample domain.LocationSample
	if err := json.Unmarshal([]byte(data), &sample); err != nil {
		return domain.LocationSample{}, fmt.Errorf("failed to unmarshal sample: %w", err)
	}
	return sample, nil
}
