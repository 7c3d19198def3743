package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"testtrack/server/internal/auditlog"
	"testtrack/server/internal/auth"
	"testtrack/server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Service manages projects and their sprints
type Service struct {
	db     *gorm.DB
	audit  *auditlog.Store
	logger *zap.Logger
}

// NewService creates a new project service
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		audit:  auditlog.NewStore(db),
		logger: logger.Named("projects"),
	}
}

// CreateProjectInput holds the fields of a new project
type CreateProjectInput struct {
	Name        string
	Description string
}

// CreateProject creates a project on behalf of p
func (s *Service) CreateProject(ctx context.Context, p auth.Principal, in CreateProjectInput) (*models.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}

	now := time.Now()
	project := &models.Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: in.Description,
		CreatedBy:   p.Name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return s.audit.WithTx(tx).Record(ctx, p, models.ActionCreate, project.TableName(), project.ID,
			models.JSONMap{"name": project.Name})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("project created", zap.String("project_id", project.ID), zap.String("user", p.Name))
	return project, nil
}

// GetProject returns a project with its sprints
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).
		Preload("Sprints", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// ListProjects returns projects, newest first, and the total count
func (s *Service) ListProjects(ctx context.Context, limit, offset int) ([]models.Project, int64, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count projects: %w", err)
	}

	var projects []models.Project
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&projects).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list projects: %w", err)
	}

	return projects, total, nil
}

// CreateSprintInput holds the fields of a new sprint
type CreateSprintInput struct {
	ProjectID string
	Name      string
	StartDate *time.Time
	EndDate   *time.Time
}

// CreateSprint adds a sprint to an existing project
func (s *Service) CreateSprint(ctx context.Context, p auth.Principal, in CreateSprintInput) (*models.Sprint, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return nil, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
	}

	now := time.Now()
	sprint := &models.Sprint{
		ID:        uuid.New().String(),
		ProjectID: in.ProjectID,
		Name:      name,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Project{}).Where("id = ?", in.ProjectID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check project: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("project %s: %w", in.ProjectID, ErrNotFound)
		}
		if err := tx.Create(sprint).Error; err != nil {
			return fmt.Errorf("failed to create sprint: %w", err)
		}
		return s.audit.WithTx(tx).Record(ctx, p, models.ActionCreate, sprint.TableName(), sprint.ID,
			models.JSONMap{"name": sprint.Name, "project_id": sprint.ProjectID})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sprint created",
		zap.String("sprint_id", sprint.ID),
		zap.String("project_id", sprint.ProjectID),
		zap.String("user", p.Name),
	)
	return sprint, nil
}

// GetSprint returns a sprint with its project
func (s *Service) GetSprint(ctx context.Context, id string) (*models.Sprint, error) {
	var sprint models.Sprint
	err := s.db.WithContext(ctx).Preload("Project").First(&sprint, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("sprint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint: %w", err)
	}
	return &sprint, nil
}

// ListSprints returns the sprints of a project, oldest first
func (s *Service) ListSprints(ctx context.Context, projectID string) ([]models.Sprint, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	var sprints []models.Sprint
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").
		Find(&sprints).Error; err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	return sprints, nil
}
