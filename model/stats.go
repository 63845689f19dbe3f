package model

import "time"

// PlayerStatistics accumulates currency and experience paid out by quest rewards.
type PlayerStatistics struct {
	PlayerID   string    `gorm:"column:uuid;primaryKey;size:36" json:"player_id"`
	Coins      int64     `gorm:"not null;default:0" json:"coins"`
	Experience float64   `gorm:"not null;default:0" json:"experience"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PlayerStatistics) TableName() string { return "player_statistics" }

// PlayerItem is an item stack granted to a player by an ITEMS reward.
type PlayerItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID  string    `gorm:"column:uuid;index:idx_player_item_player;size:36;not null" json:"player_id"`
	Material  string    `gorm:"size:90;not null" json:"material"`
	Amount    int       `gorm:"not null" json:"amount"`
	RewardID  int64     `gorm:"index" json:"reward_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (PlayerItem) TableName() string { return "player_item" }
