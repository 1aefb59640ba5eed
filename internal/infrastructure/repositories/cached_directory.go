package repositories

import (
	"context"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/cache"
)

// CachedUserDirectory decorates a UserDirectory with a short TTL cache.
// Display names and avatars are read on every fan-out; they change
// rarely, so a stale read for one TTL is acceptable.
type CachedUserDirectory struct {
	inner ports.UserDirectory
	cache *cache.Cache
}

func NewCachedUserDirectory(inner ports.UserDirectory, ttl time.Duration) *CachedUserDirectory {
	return &CachedUserDirectory{
		inner: inner,
		cache: cache.New(ttl),
	}
}

func (d *CachedUserDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	if v, ok := d.cache.Get(string(id)); ok {
		return v.(domain.User), nil
	}

	user, err := d.inner.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	d.cache.Set(string(id), user)
	return user, nil
}

func (d *CachedUserDirectory) PutUser(ctx context.Context, user domain.User) error {
	if err := d.inner.PutUser(ctx, user); err != nil {
		return err
	}
	// Drop the cached entry rather than writing through; the store may
	// have sanitized fields on the way in.
	d.cache.Delete(string(user.ID))
	return nil
}

// Stop terminates the cache's background sweep.
func (d *CachedUserDirectory) Stop() {
	d.cache.Stop()
}
