package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisConsentRepository stores the consent graph as a pair of hashes
// per direction: the forward hash maps viewer id to grant time, the
// reverse set lets viewer pulls find their owners without scanning.
type RedisConsentRepository struct {
	client *redis.Client
}

func NewRedisConsentRepository(client *redis.Client) ports.ConsentRepository {
	return &RedisConsentRepository{client: client}
}

func (r *RedisConsentRepository) edgesKey(owner domain.UserID) string {
	return fmt.Sprintf("livemap:consent:edges:%s", owner)
}

func (r *RedisConsentRepository) reverseKey(viewer domain.UserID) string {
	return fmt.Sprintf("livemap:consent:visible:%s", viewer)
}

func (r *RedisConsentRepository) sharingKey(user domain.UserID) string {
	return fmt.Sprintf("livemap:sharing:%s", user)
}

func (r *RedisConsentRepository) Grant(ctx context.Context, owner, viewer domain.UserID) error {
	if owner == viewer || owner == "" || viewer == "" {
		return domain.ErrInvalidTarget
	}

	// HSetNX keeps the original grant time on repeated grants.
	pipe := r.client.TxPipeline()
	pipe.HSetNX(ctx, r.edgesKey(owner), string(viewer), time.Now().Format(time.RFC3339Nano))
	pipe.SAdd(ctx, r.reverseKey(viewer), string(owner))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to grant consent: %w", err)
	}
	return nil
}

func (r *RedisConsentRepository) Revoke(ctx context.Context, owner, viewer domain.UserID) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, r.edgesKey(owner), string(viewer))
	pipe.SRem(ctx, r.reverseKey(viewer), string(owner))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke consent: %w", err)
	}
	return nil
}

func (r *RedisConsentRepository) ViewersOf(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	fields, err := r.client.HKeys(ctx, r.edgesKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get viewers from Redis: %w", err)
	}

	viewers := make([]domain.UserID, 0, len(fields))
	for _, field := range fields {
		viewers = append(viewers, domain.UserID(field))
	}
	return viewers, nil
}

func (r *RedisConsentRepository) VisibleTo(ctx context.Context, viewer domain.UserID) ([]domain.UserID, error) {
	members, err := r.client.SMembers(ctx, r.reverseKey(viewer)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get visible owners from Redis: %w", err)
	}

	owners := make([]domain.UserID, 0, len(members))
	for _, member := range members {
		owners = append(owners, domain.UserID(member))
	}
	return owners, nil
}

func (r *RedisConsentRepository) EdgesOf(ctx context.Context, owner domain.UserID) ([]domain.ConsentEdge, error) {
	fields, err := r.client.HGetAll(ctx, r.edgesKey(owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get edges from Redis: %w", err)
	}

	edges := make([]domain.ConsentEdge, 0, len(fields))
	for viewer, grantedAt := range fields {
		createdAt, _ := time.Parse(time.RFC3339Nano, grantedAt)
		edges = append(edges, domain.ConsentEdge{
			OwnerID:   owner,
			ViewerID:  domain.UserID(viewer),
			CreatedAt: createdAt,
		})
	}
	return edges, nil
}

func (r *RedisConsentRepository) SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error {
	state, err := r.SharingStateOf(ctx, owner)
	if err != nil {
		return err
	}
	state.UserID = owner
	state.Enabled = enabled
	if enabled {
		state.LastEnabledAt = time.Now()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sharing state: %w", err)
	}
	if err := r.client.Set(ctx, r.sharingKey(owner), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set sharing state in Redis: %w", err)
	}
	return nil
}

func (r *RedisConsentRepository) SharingStateOf(ctx context.Context, owner domain.UserID) (domain.SharingState, error) {
	data, err := r.client.Get(ctx, r.sharingKey(owner)).Result()
	if err == redis.Nil {
		return domain.SharingState{UserID: owner, Enabled: false}, nil
	}
	if err != nil {
		return domain.SharingState{}, fmt.Errorf("failed to get sharing state from Redis: %w", err)
	}

	var state domain.SharingState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return domain.SharingState{}, fmt.Errorf("failed to unmarshal sharing state: %w", err)
	}
	return state, nil
}

func (r *RedisConsentRepository) IsAuthorized(ctx context.Context, owner, viewer domain.UserID) (bool, error) {
	hasEdge, err := r.client.HExists(ctx, r.edgesKey(owner), string(viewer)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check consent edge in Redis: %w", err)
	}
	if !hasEdge {
		return false, nil
	}

	state, err := r.SharingStateOf(ctx, owner)
	if err != nil {
		return false, err
	}
	return state.Enabled, nil
}
