package quest

import (
	"context"
	"time"

	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
)

// Player is the caller of accept: an identity plus a permission check.
type Player interface {
	ID() string
	HasPermission(permission string) bool
}

// RewardDispatcher pays out one reward to a player. Dispatch must be
// idempotent per (assignmentID, reward.ID).
type RewardDispatcher interface {
	Dispatch(ctx context.Context, playerID string, assignmentID int64, reward model.QuestReward) error
}

// Lifecycle drives the per-player quest state machine:
// NONE -> ACTIVE -> {COMPLETED, CANCELED, EXPIRED} -> NONE.
//
// Every transition for one player runs under that player's lock, from the
// first guard to the last cache refresh. Caches are refreshed only after the
// store transaction committed.
type Lifecycle struct {
	gw       *store.Gateway
	catalog  *Catalog
	progress *ProgressCache
	registry *Registry
	rewards  RewardDispatcher
	notifier Notifier
	locks    *playerLocks
	logger   *zap.Logger
	now      func() time.Time
}

// NewLifecycle wires the state machine. rewards and notifier may be nil.
func NewLifecycle(gw *store.Gateway, catalog *Catalog, progress *ProgressCache, registry *Registry,
	rewards RewardDispatcher, notifier Notifier, logger *zap.Logger) *Lifecycle {
	if notifier == nil {
		notifier = MultiNotifier(nil)
	}
	return &Lifecycle{
		gw:       gw,
		catalog:  catalog,
		progress: progress,
		registry: registry,
		rewards:  rewards,
		notifier: notifier,
		locks:    newPlayerLocks(),
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source. Used by tests.
func (svc *Lifecycle) SetClock(now func() time.Time) {
	svc.now = now
}

func (svc *Lifecycle) failed(op string, err error, fields ...zap.Field) Outcome {
	svc.logger.Error("quest: "+op, append(fields, zap.Error(err))...)
	return OutcomeError
}

func (svc *Lifecycle) emit(ctx context.Context, ev Event) {
	ev.At = svc.now()
	if ev.Result == "" {
		ev.Result = OutcomeSuccess
	}
	svc.notifier.Notify(ctx, ev)
}

// refreshPlayer reloads the player's progress and assignment after a commit.
func (svc *Lifecycle) refreshPlayer(ctx context.Context, playerID string) ([]model.QuestUserProgress, error) {
	rows, err := svc.progress.Refresh(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if err := svc.registry.RefreshPlayer(ctx, playerID); err != nil {
		return nil, err
	}
	return rows, nil
}

// Accept assigns questName to the player. Guards run in order: the quest
// exists, is configured, the player holds its permission, has no active
// quest and never completed it.
func (svc *Lifecycle) Accept(ctx context.Context, p Player, questName string) Outcome {
	playerID := p.ID()
	unlock := svc.locks.lock(playerID)
	defer unlock()

	fields := []zap.Field{zap.String("player_id", playerID), zap.String("quest", questName)}

	q, err := svc.catalog.Get(ctx, questName)
	if err != nil {
		return svc.failed("accept: load quest", err, fields...)
	}
	if q == nil {
		return OutcomeQuestNotExist
	}
	if !q.IsConfigured() {
		return OutcomeQuestNotConfigured
	}
	if q.HasPermission() && !p.HasPermission(*q.Permission) {
		return OutcomeQuestNoPermission
	}

	active, err := svc.progress.HasActiveQuest(ctx, playerID)
	if err != nil {
		return svc.failed("accept: load progress", err, fields...)
	}
	if !active {
		a, err := svc.registry.ByPlayer(ctx, playerID)
		if err != nil {
			return svc.failed("accept: load assignment", err, fields...)
		}
		active = a != nil
	}
	if active {
		return OutcomeQuestAlreadyActive
	}

	done, err := svc.progress.IsQuestCompleted(ctx, playerID, questName)
	if err != nil {
		return svc.failed("accept: completion history", err, fields...)
	}
	if done {
		return OutcomeQuestAlreadyCompleted
	}

	a := &model.QuestUser{
		PlayerID:   playerID,
		QuestName:  q.Name,
		Expiration: svc.now().Add(time.Duration(q.Duration) * time.Second),
	}
	rows := make([]model.QuestUserProgress, 0, len(q.Requirements))
	for _, r := range q.Requirements {
		rows = append(rows, model.QuestUserProgress{PlayerID: playerID, QuestName: q.Name, RequirementID: r.ID})
	}
	if res := svc.gw.CreateAssignment(ctx, a, rows); res != store.ResultSuccess {
		return fromResult(res)
	}

	if err := svc.catalog.Refresh(ctx, questName); err != nil {
		return svc.failed("accept: refresh quest", err, fields...)
	}
	if _, err := svc.refreshPlayer(ctx, playerID); err != nil {
		return svc.failed("accept: refresh player", err, fields...)
	}

	svc.logger.Info("quest accepted", append(fields, zap.Int64("assignment_id", a.ID), zap.Time("expiration", a.Expiration))...)
	svc.emit(ctx, Event{Kind: EventAccepted, PlayerID: playerID, QuestName: q.Name})
	return OutcomeSuccess
}

// Cancel abandons the player's active quest, which must be questName.
func (svc *Lifecycle) Cancel(ctx context.Context, playerID, questName string) Outcome {
	unlock := svc.locks.lock(playerID)
	defer unlock()

	fields := []zap.Field{zap.String("player_id", playerID), zap.String("quest", questName)}

	a, err := svc.registry.ByPlayer(ctx, playerID)
	if err != nil {
		return svc.failed("cancel: load assignment", err, fields...)
	}
	if a == nil {
		return OutcomeQuestNoActive
	}
	if a.QuestName != questName {
		return OutcomeQuestNotActive
	}

	res, err := svc.progress.DeleteForQuest(ctx, playerID, questName)
	switch res {
	case store.ResultError:
		return OutcomeError
	case store.ResultNoRowsAffected:
		// Torn down by a transition that did not go through this process.
		_ = svc.registry.RefreshPlayer(ctx, playerID)
		return OutcomeQuestNoActive
	}
	if err != nil {
		return svc.failed("cancel: refresh progress", err, fields...)
	}
	if err := svc.registry.RefreshPlayer(ctx, playerID); err != nil {
		return svc.failed("cancel: refresh assignment", err, fields...)
	}
	svc.registry.Forget(a.ID)

	svc.logger.Info("quest canceled", append(fields, zap.Int64("assignment_id", a.ID))...)
	svc.emit(ctx, Event{Kind: EventCanceled, PlayerID: playerID, QuestName: questName})
	return OutcomeSuccess
}

// RecordProgress advances the player's counter for requirementID by amount,
// saturating at the required amount. When the last open requirement of the
// quest completes, the quest completes.
//
// A player without an active quest, a requirement outside the active quest,
// and an already completed requirement are no-ops.
func (svc *Lifecycle) RecordProgress(ctx context.Context, playerID string, requirementID int64, amount int) Outcome {
	if amount <= 0 {
		return OutcomeInvalidInput
	}
	unlock := svc.locks.lock(playerID)
	defer unlock()

	fields := []zap.Field{zap.String("player_id", playerID), zap.Int64("requirement_id", requirementID)}

	a, err := svc.registry.ByPlayer(ctx, playerID)
	if err != nil {
		return svc.failed("progress: load assignment", err, fields...)
	}
	if a == nil {
		return OutcomeQuestNoActive
	}
	q, err := svc.catalog.Get(ctx, a.QuestName)
	if err != nil {
		return svc.failed("progress: load quest", err, fields...)
	}
	if q == nil {
		return OutcomeQuestNotExist
	}
	req := q.Requirement(requirementID)
	if req == nil {
		return OutcomeRequirementNotExist
	}

	rows, err := svc.progress.Get(ctx, playerID)
	if err != nil {
		return svc.failed("progress: load progress", err, fields...)
	}
	var entry *model.QuestUserProgress
	for i := range rows {
		if rows[i].RequirementID == requirementID && rows[i].QuestName == a.QuestName {
			e := rows[i]
			entry = &e
			break
		}
	}
	if entry == nil || entry.Completed {
		// Nothing left open: a completion whose payout failed is retried.
		if openForQuest(rows, a.QuestName) == 0 {
			return svc.complete(ctx, a, q)
		}
		return OutcomeNoRowsAffected
	}

	entry.Progress = min(entry.Progress+amount, req.RequiredAmount)
	entry.Completed = entry.Progress >= req.RequiredAmount
	switch res := svc.gw.SaveProgress(ctx, entry); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		// The row went away with its assignment; refresh so the caches agree.
		_, _ = svc.refreshPlayer(ctx, playerID)
		return OutcomeNoRowsAffected
	default:
		return OutcomeError
	}

	rows, err = svc.progress.Refresh(ctx, playerID)
	if err != nil {
		return svc.failed("progress: refresh progress", err, fields...)
	}

	svc.emit(ctx, Event{
		Kind: EventProgress, PlayerID: playerID, QuestName: a.QuestName,
		RequirementID: requirementID, Progress: entry.Progress, Required: req.RequiredAmount,
	})
	if !entry.Completed {
		return OutcomeSuccess
	}
	svc.emit(ctx, Event{
		Kind: EventRequirementCompleted, PlayerID: playerID, QuestName: a.QuestName,
		RequirementID: requirementID, Progress: entry.Progress, Required: req.RequiredAmount,
	})
	if openForQuest(rows, a.QuestName) > 0 {
		return OutcomeSuccess
	}
	return svc.complete(ctx, a, q)
}

// complete pays out the quest's rewards, then tears down the finished
// assignment and records the completion. A failed payout leaves the
// assignment in place so completion can be retried; receipts keep rewards
// already paid from being paid again. The caller holds the player's lock.
func (svc *Lifecycle) complete(ctx context.Context, a *model.QuestUser, q *model.Quest) Outcome {
	fields := []zap.Field{
		zap.String("player_id", a.PlayerID),
		zap.String("quest", a.QuestName),
		zap.Int64("assignment_id", a.ID),
	}

	if svc.rewards != nil {
		for _, r := range q.Rewards {
			if err := svc.rewards.Dispatch(ctx, a.PlayerID, a.ID, r); err != nil {
				return svc.failed("complete: reward dispatch", err, append(fields, zap.Int64("reward_id", r.ID))...)
			}
		}
	}

	switch res := svc.gw.CompleteAssignment(ctx, a.ID); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		_, _ = svc.refreshPlayer(ctx, a.PlayerID)
		return OutcomeNoRowsAffected
	default:
		return OutcomeError
	}

	if _, err := svc.refreshPlayer(ctx, a.PlayerID); err != nil {
		return svc.failed("complete: refresh player", err, fields...)
	}
	svc.registry.Forget(a.ID)

	svc.logger.Info("quest completed", fields...)
	svc.emit(ctx, Event{Kind: EventCompleted, PlayerID: a.PlayerID, QuestName: a.QuestName})
	return OutcomeSuccess
}

// Settle re-evaluates the player's active quest after its requirements
// changed. A quest whose remaining requirements are all completed completes;
// a quest left without requirements is withdrawn like a cancel. Anything else
// is left as is.
func (svc *Lifecycle) Settle(ctx context.Context, playerID string) Outcome {
	unlock := svc.locks.lock(playerID)
	defer unlock()

	fields := []zap.Field{zap.String("player_id", playerID)}

	a, err := svc.registry.ByPlayer(ctx, playerID)
	if err != nil {
		return svc.failed("settle: load assignment", err, fields...)
	}
	if a == nil {
		return OutcomeQuestNoActive
	}
	fields = append(fields, zap.String("quest", a.QuestName), zap.Int64("assignment_id", a.ID))

	q, err := svc.catalog.Get(ctx, a.QuestName)
	if err != nil {
		return svc.failed("settle: load quest", err, fields...)
	}
	if q == nil || len(q.Requirements) == 0 {
		switch res := svc.gw.DeleteAssignment(ctx, a.ID); res {
		case store.ResultSuccess, store.ResultNoRowsAffected:
		default:
			return OutcomeError
		}
		svc.registry.Forget(a.ID)
		if _, err := svc.refreshPlayer(ctx, playerID); err != nil {
			return svc.failed("settle: refresh player", err, fields...)
		}
		svc.logger.Info("quest withdrawn", fields...)
		svc.emit(ctx, Event{Kind: EventCanceled, PlayerID: playerID, QuestName: a.QuestName})
		return OutcomeSuccess
	}

	rows, err := svc.progress.Get(ctx, playerID)
	if err != nil {
		return svc.failed("settle: load progress", err, fields...)
	}
	if openForQuest(rows, a.QuestName) > 0 {
		return OutcomeSuccess
	}
	return svc.complete(ctx, a, q)
}

// Expire removes an assignment whose deadline has passed. An assignment
// already removed, or not yet due, is a silent no-op.
func (svc *Lifecycle) Expire(ctx context.Context, assignmentID int64) Outcome {
	fields := []zap.Field{zap.Int64("assignment_id", assignmentID)}

	a, err := svc.registry.Get(ctx, assignmentID)
	if err != nil {
		return svc.failed("expire: load assignment", err, fields...)
	}
	if a == nil {
		return OutcomeNoRowsAffected
	}
	unlock := svc.locks.lock(a.PlayerID)
	defer unlock()

	if !a.Expired(svc.now()) {
		return OutcomeNoRowsAffected
	}

	fields = append(fields, zap.String("player_id", a.PlayerID), zap.String("quest", a.QuestName))

	// Finished before the deadline but not yet paid out: complete instead.
	q, err := svc.catalog.Get(ctx, a.QuestName)
	if err != nil {
		return svc.failed("expire: load quest", err, fields...)
	}
	if q != nil && len(q.Requirements) > 0 {
		rows, err := svc.progress.Get(ctx, a.PlayerID)
		if err != nil {
			return svc.failed("expire: load progress", err, fields...)
		}
		if openForQuest(rows, a.QuestName) == 0 {
			return svc.complete(ctx, a, q)
		}
	}

	switch res := svc.gw.DeleteAssignment(ctx, assignmentID); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		svc.registry.Forget(assignmentID)
		return OutcomeNoRowsAffected
	default:
		return OutcomeError
	}

	svc.registry.Forget(assignmentID)
	if _, err := svc.refreshPlayer(ctx, a.PlayerID); err != nil {
		return svc.failed("expire: refresh player", err, fields...)
	}

	svc.logger.Info("quest expired", fields...)
	svc.emit(ctx, Event{Kind: EventExpired, PlayerID: a.PlayerID, QuestName: a.QuestName})
	return OutcomeSuccess
}
