package store

import (
	"context"
	"errors"
	"time"

	"github.com/kasuganosora/questkeeper/model"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Result is the outcome of a gateway write.
type Result string

const (
	ResultSuccess        Result = "SUCCESS"
	ResultError          Result = "ERROR"
	ResultNoRowsAffected Result = "NO_ROWS_AFFECTED"
)

// errNoRows rolls back a transaction that found nothing to change.
var errNoRows = errors.New("store: no rows affected")

// Gateway is the transactional persistence layer for quests, requirements,
// rewards, assignments and progress. Store I/O is bounded by a pool of
// worker slots; callers block on ctx while waiting for one.
//
// Gateway methods must not call each other: each one holds a worker slot for
// its whole duration.
type Gateway struct {
	db     *gorm.DB
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// NewGateway creates a Gateway allowing at most workers concurrent store operations.
func NewGateway(db *gorm.DB, workers int, logger *zap.Logger) *Gateway {
	if workers <= 0 {
		workers = 1
	}
	return &Gateway{
		db:     db,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

// write runs fn in one transaction. fn returns errNoRows to roll back a
// request that targeted nothing.
func (g *Gateway) write(ctx context.Context, op string, fn func(tx *gorm.DB) error, fields ...zap.Field) Result {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.logger.Error("store: worker slot", append(fields, zap.String("op", op), zap.Error(err))...)
		return ResultError
	}
	defer g.sem.Release(1)

	err := g.db.WithContext(ctx).Transaction(fn)
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, errNoRows):
		return ResultNoRowsAffected
	default:
		g.logger.Error("store: transaction rolled back", append(fields, zap.String("op", op), zap.Error(err))...)
		return ResultError
	}
}

// read runs fn on a worker slot. A gorm.ErrRecordNotFound from fn is
// reported as the zero value with a nil error.
func read[T any](ctx context.Context, g *Gateway, op string, fn func(db *gorm.DB) (T, error), fields ...zap.Field) (T, error) {
	var zero T
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer g.sem.Release(1)

	v, err := fn(g.db.WithContext(ctx))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, nil
	}
	if err != nil {
		g.logger.Error("store: read failed", append(fields, zap.String("op", op), zap.Error(err))...)
		return zero, err
	}
	return v, nil
}

func affected(tx *gorm.DB) error {
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return errNoRows
	}
	return nil
}

func mustExist(tx *gorm.DB, dest interface{}, query string, args ...interface{}) error {
	err := tx.Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNoRows
	}
	return err
}

// ---- Quests ----

// FindQuest loads a quest with its requirements and linked rewards.
// Returns nil if the quest does not exist.
func (g *Gateway) FindQuest(ctx context.Context, name string) (*model.Quest, error) {
	return read(ctx, g, "find_quest", func(db *gorm.DB) (*model.Quest, error) {
		var q model.Quest
		if err := db.Where("name = ?", name).Take(&q).Error; err != nil {
			return nil, err
		}
		if err := db.Where("quest_name = ?", name).Order("id").Find(&q.Requirements).Error; err != nil {
			return nil, err
		}
		err := db.Model(&model.QuestReward{}).
			Select("quest_reward.*").
			Joins("JOIN quest_reward_relation rel ON rel.reward_id = quest_reward.id").
			Where("rel.quest_name = ?", name).
			Order("quest_reward.id").
			Find(&q.Rewards).Error
		if err != nil {
			return nil, err
		}
		return &q, nil
	}, zap.String("quest", name))
}

// CreateQuest inserts a new quest. An existing name yields NO_ROWS_AFFECTED.
func (g *Gateway) CreateQuest(ctx context.Context, q *model.Quest) Result {
	return g.write(ctx, "create_quest", func(tx *gorm.DB) error {
		return affected(tx.Clauses(clause.OnConflict{DoNothing: true}).Create(q))
	}, zap.String("quest", q.Name))
}

// UpdateQuest writes the scalar columns of an existing quest.
func (g *Gateway) UpdateQuest(ctx context.Context, q *model.Quest) Result {
	return g.write(ctx, "update_quest", func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.Quest{}, "name = ?", q.Name); err != nil {
			return err
		}
		return tx.Model(&model.Quest{}).Where("name = ?", q.Name).Updates(map[string]interface{}{
			"display_name": q.DisplayName,
			"description":  q.Description,
			"duration":     q.Duration,
			"permission":   q.Permission,
		}).Error
	}, zap.String("quest", q.Name))
}

// DeleteQuest removes a quest together with its requirements, reward links,
// assignments, progress and completion history. It returns the players whose
// active assignment was removed.
func (g *Gateway) DeleteQuest(ctx context.Context, name string) ([]string, Result) {
	var players []string
	res := g.write(ctx, "delete_quest", func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.Quest{}, "name = ?", name); err != nil {
			return err
		}
		if err := tx.Model(&model.QuestUser{}).Where("quest_name = ?", name).Pluck("uuid", &players).Error; err != nil {
			return err
		}
		for _, m := range []interface{}{
			&model.QuestUserProgress{},
			&model.QuestUser{},
			&model.QuestUserCompletion{},
			&model.QuestRewardRelation{},
			&model.QuestRequirement{},
		} {
			if err := tx.Where("quest_name = ?", name).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("name = ?", name).Delete(&model.Quest{}).Error
	}, zap.String("quest", name))
	if res != ResultSuccess {
		return nil, res
	}
	return players, res
}

// ---- Requirements ----

// AddRequirement persists req under its quest and opens a progress row for
// every player currently on that quest. It returns those players.
func (g *Gateway) AddRequirement(ctx context.Context, req *model.QuestRequirement) ([]string, Result) {
	var players []string
	res := g.write(ctx, "add_requirement", func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.Quest{}, "name = ?", req.QuestName); err != nil {
			return err
		}
		if err := tx.Create(req).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.QuestUser{}).Where("quest_name = ?", req.QuestName).Pluck("uuid", &players).Error; err != nil {
			return err
		}
		if len(players) == 0 {
			return nil
		}
		rows := make([]model.QuestUserProgress, 0, len(players))
		for _, p := range players {
			rows = append(rows, model.QuestUserProgress{PlayerID: p, QuestName: req.QuestName, RequirementID: req.ID})
		}
		return tx.Create(&rows).Error
	}, zap.String("quest", req.QuestName))
	if res != ResultSuccess {
		return nil, res
	}
	return players, res
}

// RemoveRequirementFromQuest deletes a requirement owned by questName and
// every progress row referencing it. It returns the players who had one.
func (g *Gateway) RemoveRequirementFromQuest(ctx context.Context, questName string, requirementID int64) ([]string, Result) {
	var players []string
	res := g.write(ctx, "remove_requirement", func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.QuestRequirement{}, "id = ? AND quest_name = ?", requirementID, questName); err != nil {
			return err
		}
		if err := tx.Model(&model.QuestUserProgress{}).Where("requirement_id = ?", requirementID).Pluck("uuid", &players).Error; err != nil {
			return err
		}
		if err := tx.Where("requirement_id = ?", requirementID).Delete(&model.QuestUserProgress{}).Error; err != nil {
			return err
		}
		return affected(tx.Where("id = ?", requirementID).Delete(&model.QuestRequirement{}))
	}, zap.String("quest", questName), zap.Int64("requirement_id", requirementID))
	if res != ResultSuccess {
		return nil, res
	}
	return players, res
}

// FindRequirement returns the requirement, or nil if it does not exist.
func (g *Gateway) FindRequirement(ctx context.Context, id int64) (*model.QuestRequirement, error) {
	return read(ctx, g, "find_requirement", func(db *gorm.DB) (*model.QuestRequirement, error) {
		var r model.QuestRequirement
		if err := db.Where("id = ?", id).Take(&r).Error; err != nil {
			return nil, err
		}
		return &r, nil
	}, zap.Int64("requirement_id", id))
}

// ListRequirements returns every requirement of every quest.
func (g *Gateway) ListRequirements(ctx context.Context) ([]model.QuestRequirement, error) {
	return read(ctx, g, "list_requirements", func(db *gorm.DB) ([]model.QuestRequirement, error) {
		var out []model.QuestRequirement
		err := db.Order("id").Find(&out).Error
		return out, err
	})
}

// ---- Rewards ----

// CreateReward inserts a reward catalog entry.
func (g *Gateway) CreateReward(ctx context.Context, r *model.QuestReward) Result {
	return g.write(ctx, "create_reward", func(tx *gorm.DB) error {
		return tx.Create(r).Error
	}, zap.String("kind", string(r.Kind)))
}

// FindReward returns the reward, or nil if it does not exist.
func (g *Gateway) FindReward(ctx context.Context, id int64) (*model.QuestReward, error) {
	return read(ctx, g, "find_reward", func(db *gorm.DB) (*model.QuestReward, error) {
		var r model.QuestReward
		if err := db.Where("id = ?", id).Take(&r).Error; err != nil {
			return nil, err
		}
		return &r, nil
	}, zap.Int64("reward_id", id))
}

// LinkReward attaches a reward to a quest. An existing link yields NO_ROWS_AFFECTED.
func (g *Gateway) LinkReward(ctx context.Context, questName string, rewardID int64) Result {
	return g.write(ctx, "link_reward", func(tx *gorm.DB) error {
		rel := &model.QuestRewardRelation{QuestName: questName, RewardID: rewardID}
		return affected(tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rel))
	}, zap.String("quest", questName), zap.Int64("reward_id", rewardID))
}

// UnlinkReward detaches a reward from a quest.
func (g *Gateway) UnlinkReward(ctx context.Context, questName string, rewardID int64) Result {
	return g.write(ctx, "unlink_reward", func(tx *gorm.DB) error {
		return affected(tx.Where("quest_name = ? AND reward_id = ?", questName, rewardID).Delete(&model.QuestRewardRelation{}))
	}, zap.String("quest", questName), zap.Int64("reward_id", rewardID))
}

// ---- Assignments ----

// FindAssignment returns the assignment, or nil if it does not exist.
func (g *Gateway) FindAssignment(ctx context.Context, id int64) (*model.QuestUser, error) {
	return read(ctx, g, "find_assignment", func(db *gorm.DB) (*model.QuestUser, error) {
		var a model.QuestUser
		if err := db.Where("id = ?", id).Take(&a).Error; err != nil {
			return nil, err
		}
		return &a, nil
	}, zap.Int64("assignment_id", id))
}

// FindAssignmentByPlayer returns the player's assignment, or nil.
func (g *Gateway) FindAssignmentByPlayer(ctx context.Context, playerID string) (*model.QuestUser, error) {
	return read(ctx, g, "find_assignment_by_player", func(db *gorm.DB) (*model.QuestUser, error) {
		var a model.QuestUser
		if err := db.Where("uuid = ?", playerID).Take(&a).Error; err != nil {
			return nil, err
		}
		return &a, nil
	}, zap.String("player_id", playerID))
}

// ListAssignments returns every assignment.
func (g *Gateway) ListAssignments(ctx context.Context) ([]model.QuestUser, error) {
	return read(ctx, g, "list_assignments", func(db *gorm.DB) ([]model.QuestUser, error) {
		var out []model.QuestUser
		err := db.Order("id").Find(&out).Error
		return out, err
	})
}

// ListExpiredAssignments returns assignments whose expiration is at or before now.
func (g *Gateway) ListExpiredAssignments(ctx context.Context, now time.Time) ([]model.QuestUser, error) {
	return read(ctx, g, "list_expired_assignments", func(db *gorm.DB) ([]model.QuestUser, error) {
		var out []model.QuestUser
		err := db.Where("expiration <= ?", now).Order("expiration").Find(&out).Error
		return out, err
	})
}

// CreateAssignment persists an assignment and its progress rows atomically.
func (g *Gateway) CreateAssignment(ctx context.Context, a *model.QuestUser, progress []model.QuestUserProgress) Result {
	return g.write(ctx, "create_assignment", func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		if len(progress) == 0 {
			return nil
		}
		return tx.Create(&progress).Error
	}, zap.String("player_id", a.PlayerID), zap.String("quest", a.QuestName))
}

// DeleteAssignmentAndProgress removes the player's assignment to questName
// and its progress rows.
func (g *Gateway) DeleteAssignmentAndProgress(ctx context.Context, playerID, questName string) Result {
	return g.write(ctx, "delete_assignment_and_progress", func(tx *gorm.DB) error {
		if err := affected(tx.Where("uuid = ? AND quest_name = ?", playerID, questName).Delete(&model.QuestUser{})); err != nil {
			return err
		}
		return tx.Where("uuid = ? AND quest_name = ?", playerID, questName).Delete(&model.QuestUserProgress{}).Error
	}, zap.String("player_id", playerID), zap.String("quest", questName))
}

// DeleteAllForPlayer removes the player's assignment and all their progress rows.
func (g *Gateway) DeleteAllForPlayer(ctx context.Context, playerID string) Result {
	return g.write(ctx, "delete_all_for_player", func(tx *gorm.DB) error {
		res := tx.Where("uuid = ?", playerID).Delete(&model.QuestUserProgress{})
		if res.Error != nil {
			return res.Error
		}
		progressRows := res.RowsAffected
		res = tx.Where("uuid = ?", playerID).Delete(&model.QuestUser{})
		if res.Error != nil {
			return res.Error
		}
		if progressRows+res.RowsAffected == 0 {
			return errNoRows
		}
		return nil
	}, zap.String("player_id", playerID))
}

// DeleteAssignment removes one assignment by id with its progress rows.
func (g *Gateway) DeleteAssignment(ctx context.Context, id int64) Result {
	return g.write(ctx, "delete_assignment", func(tx *gorm.DB) error {
		_, err := teardown(tx, id)
		return err
	}, zap.Int64("assignment_id", id))
}

// CompleteAssignment removes one assignment by id with its progress rows and
// records the completion in the same transaction.
func (g *Gateway) CompleteAssignment(ctx context.Context, id int64) Result {
	return g.write(ctx, "complete_assignment", func(tx *gorm.DB) error {
		a, err := teardown(tx, id)
		if err != nil {
			return err
		}
		return tx.Create(&model.QuestUserCompletion{PlayerID: a.PlayerID, QuestName: a.QuestName}).Error
	}, zap.Int64("assignment_id", id))
}

func teardown(tx *gorm.DB, id int64) (*model.QuestUser, error) {
	var a model.QuestUser
	if err := mustExist(tx, &a, "id = ?", id); err != nil {
		return nil, err
	}
	if err := tx.Where("uuid = ? AND quest_name = ?", a.PlayerID, a.QuestName).Delete(&model.QuestUserProgress{}).Error; err != nil {
		return nil, err
	}
	if err := affected(tx.Where("id = ?", id).Delete(&model.QuestUser{})); err != nil {
		return nil, err
	}
	return &a, nil
}

// ---- Progress ----

// FindOpenProgress returns the player's uncompleted progress rows.
func (g *Gateway) FindOpenProgress(ctx context.Context, playerID string) ([]model.QuestUserProgress, error) {
	return read(ctx, g, "find_open_progress", func(db *gorm.DB) ([]model.QuestUserProgress, error) {
		var out []model.QuestUserProgress
		err := db.Where("uuid = ? AND completed = ?", playerID, false).Order("id").Find(&out).Error
		return out, err
	}, zap.String("player_id", playerID))
}

// SaveProgress writes the counter and completed flag of an existing row.
// A row removed by a concurrent teardown yields NO_ROWS_AFFECTED.
func (g *Gateway) SaveProgress(ctx context.Context, p *model.QuestUserProgress) Result {
	return g.write(ctx, "save_progress", func(tx *gorm.DB) error {
		if err := mustExist(tx, &model.QuestUserProgress{}, "id = ?", p.ID); err != nil {
			return err
		}
		return tx.Model(&model.QuestUserProgress{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"progress":  p.Progress,
			"completed": p.Completed,
		}).Error
	}, zap.String("player_id", p.PlayerID), zap.Int64("requirement_id", p.RequirementID))
}

// HasCompleted reports whether the player ever finished questName.
func (g *Gateway) HasCompleted(ctx context.Context, playerID, questName string) (bool, error) {
	return read(ctx, g, "has_completed", func(db *gorm.DB) (bool, error) {
		var n int64
		err := db.Model(&model.QuestUserCompletion{}).
			Where("uuid = ? AND quest_name = ?", playerID, questName).
			Count(&n).Error
		return n > 0, err
	}, zap.String("player_id", playerID), zap.String("quest", questName))
}
