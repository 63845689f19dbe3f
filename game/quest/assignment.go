package quest

import (
	"context"
	"time"

	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
)

// Registry caches assignments by id and the player → assignment index.
// A player index value of 0 caches "no assignment".
type Registry struct {
	gw       *store.Gateway
	byID     *cache.LoadingCache[int64, *model.QuestUser]
	byPlayer *cache.LoadingCache[string, int64]
}

// NewRegistry creates a read-through assignment registry over gw.
func NewRegistry(gw *store.Gateway, ttl time.Duration) *Registry {
	r := &Registry{gw: gw}
	r.byID = cache.NewLoadingCache(ttl, func(ctx context.Context, id int64) (*model.QuestUser, bool, error) {
		a, err := gw.FindAssignment(ctx, id)
		return a, a != nil, err
	})
	r.byPlayer = cache.NewLoadingCache(ttl, func(ctx context.Context, playerID string) (int64, bool, error) {
		a, err := gw.FindAssignmentByPlayer(ctx, playerID)
		if err != nil {
			return 0, false, err
		}
		if a == nil {
			return 0, true, nil
		}
		r.byID.Put(a.ID, a)
		return a.ID, true, nil
	})
	return r
}

// Get returns the assignment, or nil if it does not exist.
func (r *Registry) Get(ctx context.Context, id int64) (*model.QuestUser, error) {
	a, _, err := r.byID.Get(ctx, id)
	return a, err
}

// ByPlayer returns the player's assignment, or nil.
func (r *Registry) ByPlayer(ctx context.Context, playerID string) (*model.QuestUser, error) {
	id, _, err := r.byPlayer.Get(ctx, playerID)
	if err != nil || id == 0 {
		return nil, err
	}
	a, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || a.PlayerID != playerID {
		r.byPlayer.Invalidate(playerID)
		return nil, nil
	}
	return a, nil
}

// RefreshPlayer reloads the player's assignment from the store and drops the
// previously cached one if it changed.
func (r *Registry) RefreshPlayer(ctx context.Context, playerID string) error {
	prev, hadPrev := r.byPlayer.GetIfPresent(playerID)
	a, err := r.gw.FindAssignmentByPlayer(ctx, playerID)
	if err != nil {
		r.byPlayer.Invalidate(playerID)
		return err
	}
	var id int64
	if a != nil {
		id = a.ID
		r.byID.Put(a.ID, a)
	}
	if hadPrev && prev != 0 && prev != id {
		r.byID.Invalidate(prev)
	}
	r.byPlayer.Put(playerID, id)
	return nil
}

// Forget drops an assignment id, e.g. after it was torn down.
func (r *Registry) Forget(id int64) {
	r.byID.Invalidate(id)
}

// Snapshot returns the cached assignments without extending their lifetime.
func (r *Registry) Snapshot() []*model.QuestUser {
	snap := r.byID.Snapshot()
	out := make([]*model.QuestUser, 0, len(snap))
	for _, a := range snap {
		out = append(out, a)
	}
	return out
}

// Warm loads every assignment from the store into the registry.
func (r *Registry) Warm(ctx context.Context) (int, error) {
	all, err := r.gw.ListAssignments(ctx)
	if err != nil {
		return 0, err
	}
	for i := range all {
		a := all[i]
		r.byID.Put(a.ID, &a)
		r.byPlayer.Put(a.PlayerID, a.ID)
	}
	return len(all), nil
}

// EvictIdle drops entries not accessed within the TTL.
func (r *Registry) EvictIdle() int {
	return r.byID.EvictIdle() + r.byPlayer.EvictIdle()
}
