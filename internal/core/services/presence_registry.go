package services

import (
	"sync"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/pkg/utils"

	"go.uber.org/zap"
)

type registryEntry struct {
	conn   domain.PresenceConnection
	pusher ports.Pusher
}

// PresenceRegistry tracks live push connections per user. One RWMutex
// guards both indexes so registration, unregistration and lookup are
// linearizable with respect to each other; Push holds the read lock for
// the duration of the write, so a fully unregistered connection can
// never be written to.
type PresenceRegistry struct {
	mu     sync.RWMutex
	conns  map[domain.ConnectionID]*registryEntry
	byUser map[domain.UserID]map[domain.ConnectionID]struct{}

	logger *zap.SugaredLogger
}

func NewPresenceRegistry(logger *zap.SugaredLogger) *PresenceRegistry {
	return &PresenceRegistry{
		conns:  make(map[domain.ConnectionID]*registryEntry),
		byUser: make(map[domain.UserID]map[domain.ConnectionID]struct{}),
		logger: logger,
	}
}

// Register records a live transport session for the user and returns its
// connection id. A user may hold any number of concurrent sessions.
func (r *PresenceRegistry) Register(userID domain.UserID, pusher ports.Pusher) domain.ConnectionID {
	connID := domain.ConnectionID(utils.GenerateConnectionID())

	r.mu.Lock()
	r.conns[connID] = &registryEntry{
		conn: domain.PresenceConnection{
			ID:          connID,
			UserID:      userID,
			ConnectedAt: time.Now(),
		},
		pusher: pusher,
	}
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[domain.ConnectionID]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	r.mu.Unlock()

	r.logger.Infow("connection registered", "connection_id", connID, "user_id", userID)
	return connID
}

// Unregister removes the connection. Idempotent and safe concurrently
// with dispatch; the pusher is closed after the registry no longer
// references it.
func (r *PresenceRegistry) Unregister(connID domain.ConnectionID) {
	r.mu.Lock()
	entry, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		userConns := r.byUser[entry.conn.UserID]
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, entry.conn.UserID)
		}
	}
	r.mu.Unlock()

	if ok {
		if err := entry.pusher.Close(); err != nil {
			r.logger.Debugw("error closing pusher", "connection_id", connID, "error", err)
		}
		r.logger.Infow("connection unregistered", "connection_id", connID, "user_id", entry.conn.UserID)
	}
}

// ConnectionsFor returns the ids of the user's live sessions.
func (r *PresenceRegistry) ConnectionsFor(userID domain.UserID) []domain.ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]domain.ConnectionID, 0, len(r.byUser[userID]))
	for connID := range r.byUser[userID] {
		ids = append(ids, connID)
	}
	return ids
}

// Push delivers a message to one connection. The read lock spans the
// write, so Push linearizes against Unregister: once Unregister returns,
// no further Push can reach that pusher.
func (r *PresenceRegistry) Push(connID domain.ConnectionID, message interface{}) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[connID]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	return entry.pusher.Push(message)
}

// Count returns the number of live connections.
func (r *PresenceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
