package api

import (
	"net/http"
	"strconv"
	"time"

	"testtrack/server/internal/auditlog"
	"testtrack/server/internal/projects"
	"testtrack/server/internal/testfiles"
	"testtrack/server/internal/users"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler contains API handlers
type Handler struct {
	db          *gorm.DB
	testFiles   *testfiles.Service
	projects    *projects.Service
	users       *users.Service
	audit       *auditlog.Store
	logger      *zap.Logger
	development bool
}

// pagination reads limit and offset query parameters
func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Health reports whether the database is reachable
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges credentials for an access token
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	token, user, err := h.users.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// GetCurrentUser returns the authenticated user
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user, err := h.users.Get(c.Request.Context(), principal(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// ListProjects returns a page of projects
func (h *Handler) ListProjects(c *gin.Context) {
	limit, offset := pagination(c)
	list, total, err := h.projects.ListProjects(c.Request.Context(), limit, offset)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": list, "total": total, "limit": limit, "offset": offset})
}

// CreateProjectRequest represents project creation request
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,max=255"`
	Description string `json:"description"`
}

// CreateProject creates a new project
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	project, err := h.projects.CreateProject(c.Request.Context(), principal(c), projects.CreateProjectInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}

// GetProject returns a project with its sprints
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// ListSprints returns the sprints of a project
func (h *Handler) ListSprints(c *gin.Context) {
	sprints, err := h.projects.ListSprints(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sprints": sprints})
}

// CreateSprintRequest represents sprint creation request
type CreateSprintRequest struct {
	ProjectID string     `json:"project_id" binding:"required"`
	Name      string     `json:"name" binding:"required,max=255"`
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// CreateSprint creates a sprint in a project
func (h *Handler) CreateSprint(c *gin.Context) {
	var req CreateSprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindingMessage(err)})
		return
	}

	sprint, err := h.projects.CreateSprint(c.Request.Context(), principal(c), projects.CreateSprintInput{
		ProjectID: req.ProjectID,
		Name:      req.Name,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sprint)
}

// GetSprint returns a sprint
func (h *Handler) GetSprint(c *gin.Context) {
	sprint, err := h.projects.GetSprint(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sprint)
}

// ListActionLogs returns audit entries, newest first
func (h *Handler) ListActionLogs(c *gin.Context) {
	limit, offset := pagination(c)
	logs, total, err := h.audit.List(c.Request.Context(), auditlog.Filter{
		UserID:      c.Query("user_id"),
		ActionType:  c.Query("action_type"),
		TargetTable: c.Query("target_table"),
		TargetID:    c.Query("target_id"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total, "limit": limit, "offset": offset})
}
