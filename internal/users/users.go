package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"testtrack/server/internal/auditlog"
	"testtrack/server/internal/auth"
	"testtrack/server/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotFound           = errors.New("user not found")
)

// Service authenticates users and issues access tokens
type Service struct {
	db     *gorm.DB
	issuer *auth.TokenIssuer
	audit  *auditlog.Store
	logger *zap.Logger
}

// NewService creates a new user service
func NewService(db *gorm.DB, issuer *auth.TokenIssuer, logger *zap.Logger) *Service {
	return &Service{
		db:     db,
		issuer: issuer,
		audit:  auditlog.NewStore(db),
		logger: logger.Named("users"),
	}
}

// Principal returns the identity a user acts as
func Principal(u *models.User) auth.Principal {
	return auth.Principal{UserID: u.ID, Name: u.Name(), Role: u.Role}
}

// Login checks a username and password and returns a signed token
func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("failed login", zap.String("username", username))
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(Principal(&user))
	if err != nil {
		return "", nil, err
	}

	if err := s.audit.Record(ctx, Principal(&user), models.ActionLogin, user.TableName(), user.ID, nil); err != nil {
		s.logger.Warn("failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return token, &user, nil
}

// Get returns a user by ID
func (s *Service) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// EnsureAdmin creates an admin account when no users exist yet. It reports
// whether one was created.
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	if username == "" || password == "" {
		return false, errors.New("no users exist and no admin credentials are configured")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return false, fmt.Errorf("failed to create admin: %w", err)
	}

	s.logger.Info("seeded admin user", zap.String("username", username))
	return true, nil
}
