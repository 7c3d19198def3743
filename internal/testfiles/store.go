package testfiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"testtrack/server/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store persists test files and their history
type Store struct {
	db *gorm.DB
}

// NewStore creates a new test file store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a store that reads and writes through tx
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// Get returns an active test file with its sprint
func (s *Store) Get(ctx context.Context, id string) (*models.TestFile, error) {
	var file models.TestFile
	err := s.db.WithContext(ctx).
		Preload("Sprint").
		Where("id = ? AND status <> ?", id, models.StatusDeleted).
		First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("test file", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test file: %w", err)
	}
	return &file, nil
}

// exists reports whether a row with id exists, deleted or not
func (s *Store) exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.TestFile{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check test file: %w", err)
	}
	return count > 0, nil
}

// FindSprint returns a sprint by ID
func (s *Store) FindSprint(ctx context.Context, id string) (*models.Sprint, error) {
	var sprint models.Sprint
	err := s.db.WithContext(ctx).First(&sprint, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("sprint", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint: %w", err)
	}
	return &sprint, nil
}

// Create inserts a new test file. Unique violations are reported as errDuplicateKey.
func (s *Store) Create(ctx context.Context, file *models.TestFile) error {
	if file.ID == "" {
		file.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(file).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %v", errDuplicateKey, err)
		}
		return fmt.Errorf("failed to create test file: %w", err)
	}
	return nil
}

// Save writes every column of an existing test file
func (s *Store) Save(ctx context.Context, file *models.TestFile) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(file).Error; err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %v", errDuplicateKey, err)
		}
		return fmt.Errorf("failed to update test file: %w", err)
	}
	return nil
}

// AppendHistory writes a history entry for a test file
func (s *Store) AppendHistory(ctx context.Context, fileID, action, actor string, details models.JSONMap) error {
	entry := &models.TestFileHistory{
		ID:         uuid.New().String(),
		TestFileID: fileID,
		Action:     action,
		Actor:      actor,
		Timestamp:  time.Now(),
		Details:    details,
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

// History returns the entries of a test file, newest first
func (s *Store) History(ctx context.Context, fileID string) ([]models.TestFileHistory, error) {
	var entries []models.TestFileHistory
	if err := s.db.WithContext(ctx).
		Where("test_file_id = ?", fileID).
		Order("timestamp DESC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return entries, nil
}

// ListFilter narrows List results. Deleted files are never listed.
type ListFilter struct {
	SprintID  string
	ProjectID string
	Filename  string // substring of display or original filename
	Status    string
	Limit     int
	Offset    int
}

func (s *Store) scoped(ctx context.Context, f ListFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.TestFile{}).
		Where("test_files.status <> ?", models.StatusDeleted)
	if f.SprintID != "" {
		query = query.Where("test_files.sprint_id = ?", f.SprintID)
	}
	if f.ProjectID != "" {
		query = query.Where("test_files.sprint_id IN (?)",
			s.db.Model(&models.Sprint{}).Select("id").Where("project_id = ?", f.ProjectID))
	}
	if f.Filename != "" {
		like := "%" + strings.ToLower(f.Filename) + "%"
		query = query.Where("(LOWER(test_files.filename) LIKE ? OR LOWER(test_files.original_filename) LIKE ?)", like, like)
	}
	if f.Status != "" {
		query = query.Where("test_files.status = ?", f.Status)
	}
	return query
}

// List returns active test files matching f, newest upload first, and the total count
func (s *Store) List(ctx context.Context, f ListFilter) ([]models.TestFile, int64, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 500 {
		f.Limit = 500
	}

	var total int64
	if err := s.scoped(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count test files: %w", err)
	}

	var files []models.TestFile
	if err := s.scoped(ctx, f).
		Preload("Sprint").
		Order("test_files.upload_date DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&files).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list test files: %w", err)
	}

	return files, total, nil
}

// Stats summarises active test files
type Stats struct {
	Total      int64   `json:"total"`
	Pending    int64   `json:"pending"`
	Pass       int64   `json:"pass"`
	Fail       int64   `json:"fail"`
	TotalBytes int64   `json:"total_bytes"`
	PassRate   float64 `json:"pass_rate"` // pass / (pass + fail), 0 when nothing is classified
}

// Stats counts active test files by status for the sprint/project in f
func (s *Store) Stats(ctx context.Context, f ListFilter) (*Stats, error) {
	var rows []struct {
		Status string
		Count  int64
		Bytes  int64
	}
	if err := s.scoped(ctx, ListFilter{SprintID: f.SprintID, ProjectID: f.ProjectID}).
		Select("test_files.status AS status, COUNT(*) AS count, COALESCE(SUM(test_files.file_size), 0) AS bytes").
		Group("test_files.status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}

	stats := &Stats{}
	for _, row := range rows {
		stats.Total += row.Count
		stats.TotalBytes += row.Bytes
		switch row.Status {
		case models.StatusPending:
			stats.Pending = row.Count
		case models.StatusPass:
			stats.Pass = row.Count
		case models.StatusFail:
			stats.Fail = row.Count
		}
	}
	if classified := stats.Pass + stats.Fail; classified > 0 {
		stats.PassRate = float64(stats.Pass) / float64(classified)
	}

	return stats, nil
}
