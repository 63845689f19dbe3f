package quest

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kasuganosora/questkeeper/game/reward"
	"github.com/kasuganosora/questkeeper/model"
	"github.com/kasuganosora/questkeeper/store"
	"go.uber.org/zap"
)

// Admin implements the quest authoring operations. Every mutation commits
// first and refreshes the affected cache entries before returning.
type Admin struct {
	gw         *store.Gateway
	catalog    *Catalog
	progress   *ProgressCache
	registry   *Registry
	router     *Router
	life       *Lifecycle
	maxNameLen int
	logger     *zap.Logger
}

// NewAdmin creates the admin operations. router may be nil. life settles
// active players whose quest lost a requirement; it may be nil.
func NewAdmin(gw *store.Gateway, catalog *Catalog, progress *ProgressCache, registry *Registry,
	router *Router, life *Lifecycle, maxNameLen int, logger *zap.Logger) *Admin {
	if maxNameLen <= 0 {
		maxNameLen = 40
	}
	return &Admin{
		gw:         gw,
		catalog:    catalog,
		progress:   progress,
		registry:   registry,
		router:     router,
		life:       life,
		maxNameLen: maxNameLen,
		logger:     logger,
	}
}

func (svc *Admin) failed(op string, err error, fields ...zap.Field) Outcome {
	svc.logger.Error("quest admin: "+op, append(fields, zap.Error(err))...)
	return OutcomeError
}

// refreshQuest reloads the catalog entry after a committed write.
func (svc *Admin) refreshQuest(ctx context.Context, name string) Outcome {
	if err := svc.catalog.Refresh(ctx, name); err != nil {
		return svc.failed("refresh quest", err, zap.String("quest", name))
	}
	return OutcomeSuccess
}

// refreshPlayers reloads progress and assignments of players touched by a write.
func (svc *Admin) refreshPlayers(ctx context.Context, players []string) Outcome {
	out := OutcomeSuccess
	for _, p := range players {
		if _, err := svc.progress.Refresh(ctx, p); err != nil {
			out = svc.failed("refresh progress", err, zap.String("player_id", p))
			continue
		}
		if err := svc.registry.RefreshPlayer(ctx, p); err != nil {
			out = svc.failed("refresh assignment", err, zap.String("player_id", p))
		}
	}
	return out
}

// Create adds an unconfigured quest whose display name is its name.
func (svc *Admin) Create(ctx context.Context, name string) Outcome {
	name = strings.TrimSpace(name)
	if name == "" {
		return OutcomeInvalidInput
	}
	if utf8.RuneCountInString(name) > svc.maxNameLen {
		return OutcomeQuestNameTooLong
	}
	existing, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return svc.failed("create: load quest", err, zap.String("quest", name))
	}
	if existing != nil {
		return OutcomeQuestExist
	}
	switch res := svc.gw.CreateQuest(ctx, &model.Quest{Name: name, DisplayName: name}); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		return OutcomeQuestExist
	default:
		return OutcomeError
	}
	return svc.refreshQuest(ctx, name)
}

// Delete removes a quest and everything that references it.
func (svc *Admin) Delete(ctx context.Context, name string) Outcome {
	players, res := svc.gw.DeleteQuest(ctx, name)
	switch res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		return OutcomeQuestNotExist
	default:
		return OutcomeError
	}
	svc.catalog.Invalidate(name)
	if svc.router != nil {
		svc.router.UnsubscribeQuest(name)
	}
	svc.logger.Info("quest deleted", zap.String("quest", name), zap.Int("active_players", len(players)))
	return svc.refreshPlayers(ctx, players)
}

// update loads the quest, applies mutate to a copy and saves it.
func (svc *Admin) update(ctx context.Context, name string, mutate func(q *model.Quest)) Outcome {
	q, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return svc.failed("update: load quest", err, zap.String("quest", name))
	}
	if q == nil {
		return OutcomeQuestNotExist
	}
	cp := *q
	mutate(&cp)
	switch res := svc.gw.UpdateQuest(ctx, &cp); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		svc.catalog.Invalidate(name)
		return OutcomeQuestNotExist
	default:
		return OutcomeError
	}
	return svc.refreshQuest(ctx, name)
}

// SetDisplayName changes the quest's display name.
func (svc *Admin) SetDisplayName(ctx context.Context, name, displayName string) Outcome {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return OutcomeInvalidInput
	}
	return svc.update(ctx, name, func(q *model.Quest) { q.DisplayName = displayName })
}

// SetDescription changes the description. An empty text clears it.
func (svc *Admin) SetDescription(ctx context.Context, name, description string) Outcome {
	description = strings.TrimSpace(description)
	return svc.update(ctx, name, func(q *model.Quest) {
		if description == "" {
			q.Description = nil
			return
		}
		q.Description = &description
	})
}

// SetDuration parses text (e.g. "1d12h") and sets the quest duration.
func (svc *Admin) SetDuration(ctx context.Context, name, text string) Outcome {
	seconds := ParseDuration(text)
	if seconds == 0 {
		return OutcomeInvalidDuration
	}
	return svc.update(ctx, name, func(q *model.Quest) { q.Duration = seconds })
}

// SetPermission sets the permission needed to accept. An empty value clears it.
func (svc *Admin) SetPermission(ctx context.Context, name, permission string) Outcome {
	permission = strings.TrimSpace(permission)
	return svc.update(ctx, name, func(q *model.Quest) {
		if permission == "" {
			q.Permission = nil
			return
		}
		q.Permission = &permission
	})
}

// AddRequirement adds a requirement of the named kind. target is the
// material for COLLECT and the entity type for KILL.
func (svc *Admin) AddRequirement(ctx context.Context, name, kind string, amount int, target string) (*model.QuestRequirement, Outcome) {
	k, ok := model.ParseRequirementKind(kind)
	if !ok {
		return nil, OutcomeInvalidRequirementType
	}
	target = strings.ToUpper(strings.TrimSpace(target))
	if amount <= 0 || target == "" {
		return nil, OutcomeInvalidInput
	}
	q, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return nil, svc.failed("add requirement: load quest", err, zap.String("quest", name))
	}
	if q == nil {
		return nil, OutcomeQuestNotExist
	}

	req := &model.QuestRequirement{QuestName: q.Name, Kind: k, RequiredAmount: amount}
	switch k {
	case model.RequirementCollect:
		req.Material = target
	case model.RequirementKill:
		req.EntityType = target
	}
	players, res := svc.gw.AddRequirement(ctx, req)
	switch res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		svc.catalog.Invalidate(name)
		return nil, OutcomeQuestNotExist
	default:
		return nil, OutcomeError
	}
	if svc.router != nil {
		svc.router.Subscribe(*req)
	}
	if out := svc.refreshQuest(ctx, name); !out.OK() {
		return req, out
	}
	return req, svc.refreshPlayers(ctx, players)
}

// RemoveRequirement removes a requirement of the quest with its progress rows.
// Active players left with nothing open complete the quest; if the quest has
// no requirements left their assignment is withdrawn.
func (svc *Admin) RemoveRequirement(ctx context.Context, name string, requirementID int64) Outcome {
	q, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return svc.failed("remove requirement: load quest", err, zap.String("quest", name))
	}
	if q == nil {
		return OutcomeQuestNotExist
	}
	if q.Requirement(requirementID) == nil {
		return OutcomeRequirementNotExist
	}
	players, res := svc.gw.RemoveRequirementFromQuest(ctx, name, requirementID)
	switch res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		_ = svc.refreshQuest(ctx, name)
		return OutcomeRequirementNotExist
	default:
		return OutcomeError
	}
	if svc.router != nil {
		svc.router.Unsubscribe(requirementID)
	}
	if out := svc.refreshQuest(ctx, name); !out.OK() {
		return out
	}
	if out := svc.refreshPlayers(ctx, players); !out.OK() {
		return out
	}
	if svc.life != nil {
		for _, p := range players {
			if out := svc.life.Settle(ctx, p); out == OutcomeError {
				svc.logger.Warn("quest admin: settle after requirement removal",
					zap.String("quest", name), zap.String("player_id", p))
			}
		}
	}
	return OutcomeSuccess
}

// RequirementInfo returns a requirement by id.
func (svc *Admin) RequirementInfo(ctx context.Context, requirementID int64) (*model.QuestRequirement, Outcome) {
	r, err := svc.gw.FindRequirement(ctx, requirementID)
	if err != nil {
		return nil, OutcomeError
	}
	if r == nil {
		return nil, OutcomeRequirementNotExist
	}
	return r, OutcomeSuccess
}

// CreateReward adds a reward catalog entry.
func (svc *Admin) CreateReward(ctx context.Context, kind, payload string) (*model.QuestReward, Outcome) {
	k, ok := model.ParseRewardKind(kind)
	if !ok {
		return nil, OutcomeInvalidInput
	}
	if err := reward.ValidatePayload(k, payload); err != nil {
		return nil, OutcomeInvalidInput
	}
	r := &model.QuestReward{Kind: k, Payload: payload}
	if res := svc.gw.CreateReward(ctx, r); res != store.ResultSuccess {
		return nil, fromResult(res)
	}
	return r, OutcomeSuccess
}

// AddReward links an existing reward to the quest.
func (svc *Admin) AddReward(ctx context.Context, name string, rewardID int64) Outcome {
	q, out := svc.rewardTarget(ctx, name, rewardID)
	if !out.OK() {
		return out
	}
	if q.HasReward(rewardID) {
		return OutcomeRewardAlreadyAdded
	}
	switch res := svc.gw.LinkReward(ctx, name, rewardID); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		_ = svc.refreshQuest(ctx, name)
		return OutcomeRewardAlreadyAdded
	default:
		return OutcomeError
	}
	return svc.refreshQuest(ctx, name)
}

// RemoveReward unlinks a reward from the quest.
func (svc *Admin) RemoveReward(ctx context.Context, name string, rewardID int64) Outcome {
	q, out := svc.rewardTarget(ctx, name, rewardID)
	if !out.OK() {
		return out
	}
	if !q.HasReward(rewardID) {
		return OutcomeRewardNotAdded
	}
	switch res := svc.gw.UnlinkReward(ctx, name, rewardID); res {
	case store.ResultSuccess:
	case store.ResultNoRowsAffected:
		_ = svc.refreshQuest(ctx, name)
		return OutcomeRewardNotAdded
	default:
		return OutcomeError
	}
	return svc.refreshQuest(ctx, name)
}

func (svc *Admin) rewardTarget(ctx context.Context, name string, rewardID int64) (*model.Quest, Outcome) {
	q, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return nil, svc.failed("reward: load quest", err, zap.String("quest", name))
	}
	if q == nil {
		return nil, OutcomeQuestNotExist
	}
	r, err := svc.gw.FindReward(ctx, rewardID)
	if err != nil {
		return nil, OutcomeError
	}
	if r == nil {
		return nil, OutcomeRewardNotExist
	}
	return q, OutcomeSuccess
}

// Describe returns the quest definition.
func (svc *Admin) Describe(ctx context.Context, name string) (*model.Quest, Outcome) {
	q, err := svc.catalog.Get(ctx, name)
	if err != nil {
		return nil, svc.failed("describe: load quest", err, zap.String("quest", name))
	}
	if q == nil {
		return nil, OutcomeQuestNotExist
	}
	return q, OutcomeSuccess
}

// ActiveQuest is a player's current quest with its open progress.
type ActiveQuest struct {
	Quest      *model.Quest              `json:"quest"`
	Progress   []model.QuestUserProgress `json:"progress"`
	Expiration time.Time                 `json:"expiration"`
}

// Info returns the player's active quest.
func (svc *Admin) Info(ctx context.Context, playerID string) (*ActiveQuest, Outcome) {
	a, err := svc.registry.ByPlayer(ctx, playerID)
	if err != nil {
		return nil, svc.failed("info: load assignment", err, zap.String("player_id", playerID))
	}
	if a == nil {
		return nil, OutcomeQuestNoActive
	}
	q, err := svc.catalog.Get(ctx, a.QuestName)
	if err != nil {
		return nil, svc.failed("info: load quest", err, zap.String("quest", a.QuestName))
	}
	if q == nil {
		return nil, OutcomeQuestNotExist
	}
	rows, err := svc.progress.Get(ctx, playerID)
	if err != nil {
		return nil, svc.failed("info: load progress", err, zap.String("player_id", playerID))
	}
	open := make([]model.QuestUserProgress, 0, len(rows))
	for _, r := range rows {
		if r.QuestName == a.QuestName {
			open = append(open, r)
		}
	}
	return &ActiveQuest{Quest: q, Progress: open, Expiration: a.Expiration}, OutcomeSuccess
}

// ParseID parses a numeric id argument.
func ParseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
