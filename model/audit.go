package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records quest lifecycle transitions.
type AuditLog struct {
	ID            int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	PlayerID      string         `gorm:"column:uuid;index:idx_audit_player;size:36" json:"player_id"`
	QuestName     string         `gorm:"index:idx_audit_quest;size:40" json:"quest_name"`
	Action        string         `gorm:"size:64;not null" json:"action"`
	Result        string         `gorm:"size:32" json:"result"`
	RequirementID *int64         `json:"requirement_id"`
	Detail        datatypes.JSON `json:"detail"`
	CreatedAt     time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}

func (AuditLog) TableName() string { return "quest_audit_log" }
