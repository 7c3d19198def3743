package auditlog

import (
	"context"
	"fmt"
	"time"

	"testtrack/server/internal/auth"
	"testtrack/server/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides append-only access to the action log
type Store struct {
	db *gorm.DB
}

// NewStore creates a new action log store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store that writes through tx
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Record appends an entry for an action p performed on target
func (s *Store) Record(ctx context.Context, p auth.Principal, actionType, targetTable, targetID string, details models.JSONMap) error {
	return s.Append(ctx, &models.ActionLog{
		UserID:      p.UserID,
		UserName:    p.Name,
		ActionType:  actionType,
		TargetTable: targetTable,
		TargetID:    targetID,
		Details:     details,
	})
}

// Append writes entry, filling ID and CreatedAt when unset
func (s *Store) Append(ctx context.Context, entry *models.ActionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append action log: %w", err)
	}
	return nil
}

// Filter narrows List results. Empty fields match everything.
type Filter struct {
	UserID      string
	ActionType  string
	TargetTable string
	TargetID    string
	Limit       int
	Offset      int
}

// List returns entries newest first together with the total match count
func (s *Store) List(ctx context.Context, f Filter) ([]models.ActionLog, int64, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	query := s.db.WithContext(ctx).Model(&models.ActionLog{})
	if f.UserID != "" {
		query = query.Where("user_id = ?", f.UserID)
	}
	if f.ActionType != "" {
		query = query.Where("action_type = ?", f.ActionType)
	}
	if f.TargetTable != "" {
		query = query.Where("target_table = ?", f.TargetTable)
	}
	if f.TargetID != "" {
		query = query.Where("target_id = ?", f.TargetID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count action logs: %w", err)
	}

	var entries []models.ActionLog
	if err := query.Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("list action logs: %w", err)
	}

	return entries, total, nil
}
