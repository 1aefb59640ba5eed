package memory

import (
	"context"
	"sync"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/utils"
)

type MemoryUserDirectory struct {
	users map[domain.UserID]domain.User
	mu    sync.RWMutex
}

func NewMemoryUserDirectory() ports.UserDirectory {
	return &MemoryUserDirectory{
		users: make(map[domain.UserID]domain.User),
	}
}

func (d *MemoryUserDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (d *MemoryUserDirectory) PutUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return domain.ErrInvalidTarget
	}
	user.Name = utils.SanitizeString(user.Name)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[user.ID] = user
	return nil
}
