package models

import (
	"time"
)

// User roles
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleTester  = "tester"
	RoleViewer  = "viewer"
)

type User struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null;type:varchar(255)" json:"username"`
	DisplayName  string    `gorm:"type:varchar(255)" json:"display_name"`
	PasswordHash string    `gorm:"not null;type:varchar(255)" json:"-"`
	Role         string    `gorm:"not null;type:varchar(20);default:'tester'" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Name returns the name shown in audit trails
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
