package models

import (
	"time"
)

// Test file statuses
const (
	StatusPending = "Pending"
	StatusPass    = "Pass"
	StatusFail    = "Fail"
	StatusDeleted = "Deleted"
)

// History actions
const (
	HistoryUpload = "upload"
	HistoryCreate = "create"
	HistoryModify = "modify"
	HistoryDelete = "delete"
)

// TestFile is one uploaded JSON test report. Rows are never removed; deleting
// a file flips Status to Deleted so its history stays readable.
type TestFile struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Filename         string    `gorm:"not null;type:varchar(500)" json:"filename"`
	OriginalFilename string    `gorm:"not null;type:varchar(500);index" json:"original_filename"`
	FileSize         int64     `gorm:"not null;default:0" json:"file_size"`
	UploadDate       time.Time `gorm:"not null" json:"upload_date"`
	LastModified     time.Time `gorm:"not null" json:"last_modified"`
	LastModifiedBy   string    `gorm:"type:varchar(255)" json:"last_modified_by"`
	SprintID         string    `gorm:"not null;type:varchar(36);index" json:"sprint_id"`
	Content          string    `gorm:"type:text" json:"-"` // raw JSON report
	Status           string    `gorm:"not null;type:varchar(20);default:'Pending';index" json:"status"`

	Sprint *Sprint `gorm:"foreignKey:SprintID" json:"sprint,omitempty"`
}

func (TestFile) TableName() string {
	return "test_files"
}

// TestFileHistory is an append-only record of an action taken on a TestFile
type TestFileHistory struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TestFileID string    `gorm:"not null;type:varchar(36);index" json:"test_file_id"`
	Action     string    `gorm:"not null;type:varchar(20)" json:"action"` // upload, create, modify, delete
	Actor      string    `gorm:"type:varchar(255)" json:"actor"`
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`
	Details    JSONMap   `gorm:"type:text" json:"details"`
}

func (TestFileHistory) TableName() string {
	return "test_file_history"
}
