package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
)

// MemoryConsentRepository keeps the consent graph and sharing switches in
// process memory. Both directions of the graph are indexed so viewer
// pulls do not scan every owner.
type MemoryConsentRepository struct {
	edges   map[domain.UserID]map[domain.UserID]time.Time // owner -> viewer -> created_at
	reverse map[domain.UserID]map[domain.UserID]struct{}  // viewer -> owners
	sharing map[domain.UserID]domain.SharingState
	mu      sync.RWMutex
}

func NewMemoryConsentRepository() ports.ConsentRepository {
	return &MemoryConsentRepository{
		edges:   make(map[domain.UserID]map[domain.UserID]time.Time),
		reverse: make(map[domain.UserID]map[domain.UserID]struct{}),
		sharing: make(map[domain.UserID]domain.SharingState),
	}
}

func (r *MemoryConsentRepository) Grant(ctx context.Context, owner, viewer domain.UserID) error {
	if owner == viewer || owner == "" || viewer == "" {
		return domain.ErrInvalidTarget
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.edges[owner]; !ok {
		r.edges[owner] = make(map[domain.UserID]time.Time)
	}
	if _, exists := r.edges[owner][viewer]; !exists {
		r.edges[owner][viewer] = time.Now()
	}

	if _, ok := r.reverse[viewer]; !ok {
		r.reverse[viewer] = make(map[domain.UserID]struct{})
	}
	r.reverse[viewer][owner] = struct{}{}
	return nil
}

func (r *MemoryConsentRepository) Revoke(ctx context.Context, owner, viewer domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.edges[owner], viewer)
	delete(r.reverse[viewer], owner)
	return nil
}

func (r *MemoryConsentRepository) ViewersOf(ctx context.Context, owner domain.UserID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	viewers := make([]domain.UserID, 0, len(r.edges[owner]))
	for viewer := range r.edges[owner] {
		viewers = append(viewers, viewer)
	}
	return viewers, nil
}

func (r *MemoryConsentRepository) VisibleTo(ctx context.Context, viewer domain.UserID) ([]domain.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owners := make([]domain.UserID, 0, len(r.reverse[viewer]))
	for owner := range r.reverse[viewer] {
		owners = append(owners, owner)
	}
	return owners, nil
}

func (r *MemoryConsentRepository) EdgesOf(ctx context.Context, owner domain.UserID) ([]domain.ConsentEdge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	edges := make([]domain.ConsentEdge, 0, len(r.edges[owner]))
	for viewer, createdAt := range r.edges[owner] {
		edges = append(edges, domain.ConsentEdge{
			OwnerID:   owner,
			ViewerID:  viewer,
			CreatedAt: createdAt,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].CreatedAt.Before(edges[j].CreatedAt)
	})
	return edges, nil
}

func (r *MemoryConsentRepository) SetSharing(ctx context.Context, owner domain.UserID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.sharing[owner]
	state.UserID = owner
	state.Enabled = enabled
	if enabled {
		state.LastEnabledAt = time.Now()
	}
	r.sharing[owner] = state
	return nil
}

func (r *MemoryConsentRepository) SharingStateOf(ctx context.Context, owner domain.UserID) (domain.SharingState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.sharing[owner]
	if !ok {
		// Sharing is opt-in: absent means never enabled.
		return domain.SharingState{UserID: owner, Enabled: false}, nil
	}
	return state, nil
}

func (r *MemoryConsentRepository) IsAuthorized(ctx context.Context, owner, viewer domain.UserID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.edges[owner][viewer]; !ok {
		return false, nil
	}
	return r.sharing[owner].Enabled, nil
}
