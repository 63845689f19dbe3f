package quest

import (
	"context"
	"time"

	"github.com/kasuganosora/questkeeper/cache"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
)

// ProgressCache caches each player's open (uncompleted) progress rows.
// Returned slices are shared and must not be modified.
type ProgressCache struct {
	gw      *store.Gateway
	entries *cache.LoadingCache[string, []model.QuestUserProgress]
}

// NewProgressCache creates a read-through progress cache over gw.
func NewProgressCache(gw *store.Gateway, ttl time.Duration) *ProgressCache {
	return &ProgressCache{
		gw: gw,
		entries: cache.NewLoadingCache(ttl, func(ctx context.Context, playerID string) ([]model.QuestUserProgress, bool, error) {
			rows, err := gw.FindOpenProgress(ctx, playerID)
			return rows, err == nil, err
		}),
	}
}

// Get returns the player's open progress rows.
func (c *ProgressCache) Get(ctx context.Context, playerID string) ([]model.QuestUserProgress, error) {
	rows, _, err := c.entries.Get(ctx, playerID)
	return rows, err
}

// Refresh reloads the player's open progress rows from the store.
func (c *ProgressCache) Refresh(ctx context.Context, playerID string) ([]model.QuestUserProgress, error) {
	rows, _, err := c.entries.Refresh(ctx, playerID)
	return rows, err
}

// HasActiveQuest reports whether the player has any open progress.
func (c *ProgressCache) HasActiveQuest(ctx context.Context, playerID string) (bool, error) {
	rows, err := c.Get(ctx, playerID)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// IsQuestCompleted asks the store whether the player ever finished the quest.
// The open-progress cache cannot answer this.
func (c *ProgressCache) IsQuestCompleted(ctx context.Context, playerID, questName string) (bool, error) {
	return c.gw.HasCompleted(ctx, playerID, questName)
}

// DeleteAll removes the player's assignment and progress, then refreshes.
func (c *ProgressCache) DeleteAll(ctx context.Context, playerID string) (store.Result, error) {
	res := c.gw.DeleteAllForPlayer(ctx, playerID)
	if res == store.ResultError {
		return res, nil
	}
	_, err := c.Refresh(ctx, playerID)
	return res, err
}

// DeleteForQuest removes the player's assignment to questName and its
// progress, then refreshes.
func (c *ProgressCache) DeleteForQuest(ctx context.Context, playerID, questName string) (store.Result, error) {
	res := c.gw.DeleteAssignmentAndProgress(ctx, playerID, questName)
	if res == store.ResultError {
		return res, nil
	}
	_, err := c.Refresh(ctx, playerID)
	return res, err
}

// EvictIdle drops players not accessed within the TTL.
func (c *ProgressCache) EvictIdle() int {
	return c.entries.EvictIdle()
}

func openForQuest(rows []model.QuestUserProgress, questName string) int {
	n := 0
	for _, r := range rows {
		if r.QuestName == questName && !r.Completed {
			n++
		}
	}
	return n
}

