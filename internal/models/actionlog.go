package models

import (
	"time"
)

// Action log types
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionUpload = "UPLOAD"
	ActionLogin  = "LOGIN"
)

// ActionLog is the system-wide audit trail written by every mutating endpoint
type ActionLog struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID      string    `gorm:"type:varchar(36);index" json:"user_id"`
	UserName    string    `gorm:"type:varchar(255)" json:"user_name"`
	ActionType  string    `gorm:"not null;type:varchar(50);index" json:"action_type"`
	TargetTable string    `gorm:"not null;type:varchar(100)" json:"target_table"`
	TargetID    string    `gorm:"type:varchar(36);index" json:"target_id"`
	Details     JSONMap   `gorm:"type:text" json:"details"`
	CreatedAt   time.Time `gorm:"not null;index" json:"created_at"`
}

func (ActionLog) TableName() string {
	return "action_logs"
}
