package api

import (
	"net/http"

	"testtrack/server/internal/auditlog"
	"testtrack/server/internal/auth"
	"testtrack/server/internal/logging"
	"testtrack/server/internal/models"
	"testtrack/server/internal/projects"
	"testtrack/server/internal/testfiles"
	"testtrack/server/internal/users"
	"testtrack/server/internal/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options holds the dependencies of the API server
type Options struct {
	DB          *gorm.DB
	TestFiles   *testfiles.Service
	Projects    *projects.Service
	Users       *users.Service
	Issuer      *auth.TokenIssuer
	Hub         *websocket.Hub
	Logger      *zap.Logger
	Development bool
	WebDistPath string
}

// Server wraps the REST API server
type Server struct {
	handler *Handler
	router  *gin.Engine
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	useJSONFieldNames()

	handler := &Handler{
		db:          opts.DB,
		testFiles:   opts.TestFiles,
		projects:    opts.Projects,
		users:       opts.Users,
		audit:       auditlog.NewStore(opts.DB),
		logger:      opts.Logger.Named("api"),
		development: opts.Development,
	}

	router := gin.New()
	router.Use(logging.GinLogger(opts.Logger))
	router.Use(recovery(opts.Logger, opts.Development))
	router.Use(cors())

	router.GET("/healthz", handler.Health)

	authenticated := AuthMiddleware(opts.Issuer)
	writers := RequireRole(models.RoleAdmin, models.RoleManager, models.RoleTester)

	// Event stream for the dashboard
	router.GET("/ws", authenticated, websocket.HandleWebSocket(opts.Hub))

	api := router.Group("/api")
	{
		api.POST("/auth/login", handler.Login)

		protected := api.Group("")
		protected.Use(authenticated)
		{
			protected.GET("/auth/me", handler.GetCurrentUser)

			// Projects and sprints
			protected.GET("/projects", handler.ListProjects)
			protected.POST("/projects", RequireRole(models.RoleAdmin, models.RoleManager), handler.CreateProject)
			protected.GET("/projects/:id", handler.GetProject)
			protected.GET("/projects/:id/sprints", handler.ListSprints)
			protected.POST("/sprints", RequireRole(models.RoleAdmin, models.RoleManager), handler.CreateSprint)
			protected.GET("/sprints/:id", handler.GetSprint)

			// Test files
			files := protected.Group("/test-files")
			files.GET("", handler.ListTestFiles)
			files.GET("/stats", handler.GetTestFileStats)
			files.GET("/content/:id", handler.GetTestFileContent)
			files.GET("/:id", handler.GetTestFile)
			files.GET("/:id/history", handler.GetTestFileHistory)
			files.POST("/upload", writers, handler.UploadTestFile)
			files.POST("/upload/:id", writers, handler.UploadTestFile)
			files.POST("", writers, handler.CreateTestFile)
			files.PUT("/:id", writers, handler.UpdateTestFile)
			files.DELETE("/:id", writers, handler.DeleteTestFile)

			// Audit trail
			protected.GET("/action-logs", RequireRole(models.RoleAdmin, models.RoleManager), handler.ListActionLogs)
		}
	}

	// Serve static files (web app) - must be last
	ServeStaticFiles(router, opts.WebDistPath)

	return &Server{
		handler: handler,
		router:  router,
	}
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
