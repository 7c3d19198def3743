package models

import (
	"time"
)

type Project struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string    `gorm:"not null;type:varchar(255)" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedBy   string    `gorm:"type:varchar(255)" json:"created_by"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Sprints []Sprint `gorm:"foreignKey:ProjectID" json:"sprints,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}

// Sprint is a time-boxed container for test files inside a project
type Sprint struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProjectID string     `gorm:"not null;type:varchar(36);index" json:"project_id"`
	Name      string     `gorm:"not null;type:varchar(255)" json:"name"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Project *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
}

func (Sprint) TableName() string {
	return "sprints"
}
