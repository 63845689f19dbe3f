package quest

import (
	"context"
	"time"

	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
)

// Catalog caches quest definitions by name. Cached quests are shared and
// must be treated as read-only.
type Catalog struct {
	quests *cache.LoadingCache[string, *model.Quest]
}

// NewCatalog creates a read-through quest cache over gw.
func NewCatalog(gw *store.Gateway, ttl time.Duration) *Catalog {
	return &Catalog{
		quests: cache.NewLoadingCache(ttl, func(ctx context.Context, name string) (*model.Quest, bool, error) {
			q, err := gw.FindQuest(ctx, name)
			return q, q != nil, err
		}),
	}
}

// Get returns the quest, or nil if it does not exist.
func (c *Catalog) Get(ctx context.Context, name string) (*model.Quest, error) {
	q, _, err := c.quests.Get(ctx, name)
	return q, err
}

// Refresh reloads the quest from the store. Call it only after the write
// that changed the quest has committed.
func (c *Catalog) Refresh(ctx context.Context, name string) error {
	_, _, err := c.quests.Refresh(ctx, name)
	return err
}

// Invalidate drops the quest from the cache.
func (c *Catalog) Invalidate(name string) {
	c.quests.Invalidate(name)
}

// EvictIdle drops quests not accessed within the TTL.
func (c *Catalog) EvictIdle() int {
	return c.quests.EvictIdle()
}
