package ledger

import (
	"context"
	"sync"
)

const (
	visibilityKey = "projects:visible"
	ownerIDKey    = "projects:creator_id"
	ownerNameKey  = "projects:creator"
)

// VisibilityRegistry stores per-entity visibility overrides. An absent entry
// means "no override"; callers default to visible and let the primary record
// win when no override exists.
type VisibilityRegistry struct {
	mu    sync.Mutex
	store *Store
	bus   *Bus
}

func NewVisibilityRegistry(store *Store, bus *Bus) *VisibilityRegistry {
	return &VisibilityRegistry{store: store, bus: bus}
}

func (r *VisibilityRegistry) SetVisible(ctx context.Context, entityID string, visible bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flags := make(map[string]bool)
	r.store.Load(ctx, visibilityKey, &flags)
	flags[entityID] = visible
	r.store.Save(ctx, visibilityKey, flags)
	if r.bus != nil {
		r.bus.Publish(EventVisibilityUpdated, VisibilityChange{EntityID: entityID, Visible: visible})
	}
}

// Visible returns the override and whether one exists.
func (r *VisibilityRegistry) Visible(ctx context.Context, entityID string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	flags := make(map[string]bool)
	r.store.Load(ctx, visibilityKey, &flags)
	value, ok := flags[entityID]
	return value, ok
}

// OwnershipRegistry stores per-entity owner id and display name overrides,
// used for attribution and the "can this user edit" identity check.
type OwnershipRegistry struct {
	mu    sync.Mutex
	store *Store
}

func NewOwnershipRegistry(store *Store) *OwnershipRegistry {
	return &OwnershipRegistry{store: store}
}

func (r *OwnershipRegistry) SetOwner(ctx context.Context, entityID, ownerID, displayName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]string)
	r.store.Load(ctx, ownerIDKey, &ids)
	ids[entityID] = ownerID
	r.store.Save(ctx, ownerIDKey, ids)

	if displayName == "" {
		return
	}
	names := make(map[string]string)
	r.store.Load(ctx, ownerNameKey, &names)
	names[entityID] = displayName
	r.store.Save(ctx, ownerNameKey, names)
}

// Owner returns the owner id and display name overrides; ok reports whether
// either is set.
func (r *OwnershipRegistry) Owner(ctx context.Context, entityID string) (id, name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[string]string)
	r.store.Load(ctx, ownerIDKey, &ids)
	names := make(map[string]string)
	r.store.Load(ctx, ownerNameKey, &names)

	id = ids[entityID]
	name = names[entityID]
	return id, name, id != "" || name != ""
}
