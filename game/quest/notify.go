package quest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kasuganosora/questkeeper/cache"
	"go.uber.org/zap"
)

// EventKind names a lifecycle notification.
type EventKind string

const (
	EventAccepted             EventKind = "accepted"
	EventProgress             EventKind = "progress"
	EventRequirementCompleted EventKind = "requirement_completed"
	EventCompleted            EventKind = "completed"
	EventCanceled             EventKind = "canceled"
	EventExpired              EventKind = "expired"
)

// Event is emitted after a lifecycle transition commits.
type Event struct {
	Kind          EventKind `json:"kind"`
	PlayerID      string    `json:"player_id"`
	QuestName     string    `json:"quest_name"`
	RequirementID int64     `json:"requirement_id,omitempty"`
	Progress      int       `json:"progress,omitempty"`
	Required      int       `json:"required,omitempty"`
	Result        Outcome   `json:"result"`
	At            time.Time `json:"at"`
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event)

func (f NotifierFunc) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiNotifier fans an event out to every notifier in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// PlayerChannel is the pub/sub channel carrying a player's quest events.
func PlayerChannel(playerID string) string {
	return "quest:player:" + playerID
}

// PubSubNotifier publishes events as JSON on the player's channel.
type PubSubNotifier struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewPubSubNotifier creates a notifier publishing through ps.
func NewPubSubNotifier(ps cache.PubSub, logger *zap.Logger) *PubSubNotifier {
	return &PubSubNotifier{ps: ps, logger: logger}
}

func (n *PubSubNotifier) Notify(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.Error("quest: marshal event", zap.String("kind", string(ev.Kind)), zap.Error(err))
		return
	}
	if err := n.ps.Publish(ctx, PlayerChannel(ev.PlayerID), string(payload)); err != nil {
		n.logger.Warn("quest: publish event",
			zap.String("kind", string(ev.Kind)),
			zap.String("player_id", ev.PlayerID),
			zap.Error(err))
	}
}
