package quest

import (
	"context"
	"strings"
	"sync"

	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
)

// GameEventKind names a gameplay event that can advance requirements.
type GameEventKind string

const (
	GameEventItemPickup  GameEventKind = "item_pickup"
	GameEventEntityDeath GameEventKind = "entity_death"
)

// GameEvent is a gameplay event reported by the game server. Target is the
// material picked up or the entity type killed.
type GameEvent struct {
	Kind     GameEventKind `json:"kind" binding:"required"`
	PlayerID string        `json:"player_id" binding:"required"`
	Target   string        `json:"target" binding:"required"`
	Amount   int           `json:"amount"`
}

// EventKindFor maps a requirement kind to the event that advances it.
func EventKindFor(k model.RequirementKind) (GameEventKind, bool) {
	switch k {
	case model.RequirementCollect:
		return GameEventItemPickup, true
	case model.RequirementKill:
		return GameEventEntityDeath, true
	default:
		return "", false
	}
}

// amount returns how far the event advances a matching requirement.
func (ev GameEvent) amount() int {
	switch ev.Kind {
	case GameEventItemPickup:
		return ev.Amount
	case GameEventEntityDeath:
		return 1
	default:
		return 0
	}
}

type subscription struct {
	requirementID int64
	questName     string
	target        string
}

// ProgressRecorder is the part of Lifecycle the router drives.
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, playerID string, requirementID int64, amount int) Outcome
}

// Router is the single subscription table mapping event kinds to the
// requirements they advance.
type Router struct {
	mu       sync.RWMutex
	table    map[GameEventKind][]subscription
	recorder ProgressRecorder
	registry *Registry
	logger   *zap.Logger
}

// NewRouter creates an empty router feeding recorder.
func NewRouter(recorder ProgressRecorder, registry *Registry, logger *zap.Logger) *Router {
	return &Router{
		table:    make(map[GameEventKind][]subscription),
		recorder: recorder,
		registry: registry,
		logger:   logger,
	}
}

// Load rebuilds the table from every requirement in the store.
func (r *Router) Load(ctx context.Context, gw *store.Gateway) error {
	reqs, err := gw.ListRequirements(ctx)
	if err != nil {
		return err
	}
	table := make(map[GameEventKind][]subscription)
	for _, req := range reqs {
		if kind, ok := EventKindFor(req.Kind); ok {
			table[kind] = append(table[kind], subscription{requirementID: req.ID, questName: req.QuestName, target: req.Target()})
		}
	}
	r.mu.Lock()
	r.table = table
	r.mu.Unlock()
	r.logger.Info("quest: requirement routes loaded", zap.Int("requirements", len(reqs)))
	return nil
}

// Subscribe adds a route for req.
func (r *Router) Subscribe(req model.QuestRequirement) {
	kind, ok := EventKindFor(req.Kind)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[kind] = append(r.table[kind], subscription{requirementID: req.ID, questName: req.QuestName, target: req.Target()})
}

// Unsubscribe removes the route for a requirement.
func (r *Router) Unsubscribe(requirementID int64) {
	r.removeWhere(func(s subscription) bool { return s.requirementID == requirementID })
}

// UnsubscribeQuest removes every route of a quest.
func (r *Router) UnsubscribeQuest(questName string) {
	r.removeWhere(func(s subscription) bool { return s.questName == questName })
}

func (r *Router) removeWhere(match func(subscription) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kind, subs := range r.table {
		kept := subs[:0]
		for _, s := range subs {
			if !match(s) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(r.table, kind)
		} else {
			r.table[kind] = kept
		}
	}
}

// Routes returns the number of subscriptions for kind.
func (r *Router) Routes(kind GameEventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table[kind])
}

// Dispatch advances every requirement of the player's active quest that
// matches the event. It returns the outcome per advanced requirement.
func (r *Router) Dispatch(ctx context.Context, ev GameEvent) map[int64]Outcome {
	amount := ev.amount()
	if amount <= 0 {
		return nil
	}
	a, err := r.registry.ByPlayer(ctx, ev.PlayerID)
	if err != nil {
		r.logger.Error("quest: route event", zap.String("player_id", ev.PlayerID), zap.Error(err))
		return nil
	}
	if a == nil {
		return nil
	}

	r.mu.RLock()
	var matched []int64
	for _, s := range r.table[ev.Kind] {
		if s.questName == a.QuestName && strings.EqualFold(s.target, ev.Target) {
			matched = append(matched, s.requirementID)
		}
	}
	r.mu.RUnlock()

	if len(matched) == 0 {
		return nil
	}
	out := make(map[int64]Outcome, len(matched))
	for _, id := range matched {
		out[id] = r.recorder.RecordProgress(ctx, ev.PlayerID, id, amount)
	}
	return out
}
