package model

import (
	"strings"
	"time"
)

// RequirementKind tags a QuestRequirement variant.
type RequirementKind string

const (
	RequirementCollect RequirementKind = "COLLECT"
	RequirementKill    RequirementKind = "KILL"
)

// ParseRequirementKind matches a kind case-insensitively.
func ParseRequirementKind(s string) (RequirementKind, bool) {
	for _, k := range []RequirementKind{RequirementCollect, RequirementKill} {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// RewardKind tags a QuestReward variant.
type RewardKind string

const (
	RewardCoins      RewardKind = "COINS"
	RewardItems      RewardKind = "ITEMS"
	RewardExperience RewardKind = "EXPERIENCE"
)

// ParseRewardKind matches a kind case-insensitively.
func ParseRewardKind(s string) (RewardKind, bool) {
	for _, k := range []RewardKind{RewardCoins, RewardItems, RewardExperience} {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// Quest is a quest definition. Requirements and Rewards are loaded
// explicitly by the store and are never written through this struct.
type Quest struct {
	Name        string  `gorm:"primaryKey;size:40" json:"name"`
	DisplayName string  `gorm:"size:128;not null" json:"display_name"`
	Description *string `gorm:"type:text" json:"description,omitempty"`
	Duration    int64   `gorm:"not null;default:0" json:"duration"` // seconds
	Permission  *string `gorm:"size:128" json:"permission,omitempty"`

	Requirements []QuestRequirement `gorm:"-" json:"requirements"`
	Rewards      []QuestReward      `gorm:"-" json:"rewards"`
}

func (Quest) TableName() string { return "quest" }

// IsConfigured reports whether the quest can be accepted.
func (q *Quest) IsConfigured() bool {
	return q.Duration > 0 && len(q.Requirements) > 0
}

// HasPermission reports whether accepting the quest needs a permission.
func (q *Quest) HasPermission() bool {
	return q.Permission != nil && *q.Permission != ""
}

// Requirement returns the requirement with the given id, or nil.
func (q *Quest) Requirement(id int64) *QuestRequirement {
	for i := range q.Requirements {
		if q.Requirements[i].ID == id {
			return &q.Requirements[i]
		}
	}
	return nil
}

// HasReward reports whether the reward is linked to the quest.
func (q *Quest) HasReward(id int64) bool {
	for _, r := range q.Rewards {
		if r.ID == id {
			return true
		}
	}
	return false
}

// QuestRequirement is one measurable condition of a quest. Only the field
// matching Kind is set: Material for COLLECT, EntityType for KILL.
type QuestRequirement struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestName      string          `gorm:"index:idx_requirement_quest;size:40;not null" json:"quest_name"`
	Kind           RequirementKind `gorm:"column:quest_requirement_type;size:16;not null" json:"kind"`
	RequiredAmount int             `gorm:"not null" json:"required_amount"`
	Material       string          `gorm:"size:90" json:"material,omitempty"`
	EntityType     string          `gorm:"size:90" json:"entity_type,omitempty"`
}

func (QuestRequirement) TableName() string { return "quest_requirement" }

// Target returns the variant payload: the material or the entity type.
func (r *QuestRequirement) Target() string {
	switch r.Kind {
	case RequirementCollect:
		return r.Material
	case RequirementKill:
		return r.EntityType
	default:
		return ""
	}
}

// QuestReward is a reward catalog entry. Payload encoding depends on Kind.
type QuestReward struct {
	ID      int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Kind    RewardKind `gorm:"column:quest_reward_type;size:16;not null" json:"kind"`
	Payload string     `gorm:"type:text;not null" json:"payload"`
}

func (QuestReward) TableName() string { return "quest_reward" }

// QuestRewardRelation links quests and rewards (many-to-many).
type QuestRewardRelation struct {
	QuestName string `gorm:"primaryKey;size:40"`
	RewardID  int64  `gorm:"primaryKey"`
}

func (QuestRewardRelation) TableName() string { return "quest_reward_relation" }

// QuestUser is a player's assignment to a quest. The unique player index
// enforces at most one active assignment per player.
type QuestUser struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID   string    `gorm:"column:uuid;uniqueIndex:idx_quest_user_player;size:36;not null" json:"player_id"`
	QuestName  string    `gorm:"index:idx_quest_user_quest;size:40;not null" json:"quest_name"`
	Expiration time.Time `gorm:"index:idx_quest_user_expiration;not null" json:"expiration"`
}

func (QuestUser) TableName() string { return "quest_user" }

// Expired reports whether the assignment is past its deadline at now.
func (a *QuestUser) Expired(now time.Time) bool {
	return !a.Expiration.After(now)
}

// QuestUserProgress counts a player's progress on one requirement.
type QuestUserProgress struct {
	ID            int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID      string `gorm:"column:uuid;index:idx_progress_player;size:36;not null" json:"player_id"`
	QuestName     string `gorm:"index:idx_progress_quest;size:40;not null" json:"quest_name"`
	RequirementID int64  `gorm:"index:idx_progress_requirement;not null" json:"requirement_id"`
	Progress      int    `gorm:"not null;default:0" json:"progress"`
	Completed     bool   `gorm:"not null;default:false" json:"completed"`
}

func (QuestUserProgress) TableName() string { return "quest_user_progress" }

// QuestUserCompletion records that a player finished a quest.
type QuestUserCompletion struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID    string    `gorm:"column:uuid;index:idx_completion_player_quest;size:36;not null" json:"player_id"`
	QuestName   string    `gorm:"index:idx_completion_player_quest;size:40;not null" json:"quest_name"`
	CompletedAt time.Time `gorm:"autoCreateTime" json:"completed_at"`
}

func (QuestUserCompletion) TableName() string { return "quest_user_completion" }
