package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"testtrack/server/internal/api"
	"testtrack/server/internal/auth"
	"testtrack/server/internal/config"
	"testtrack/server/internal/database"
	"testtrack/server/internal/lock"
	"testtrack/server/internal/logging"
	"testtrack/server/internal/projects"
	"testtrack/server/internal/storage"
	"testtrack/server/internal/tasks"
	"testtrack/server/internal/testfiles"
	"testtrack/server/internal/users"
	"testtrack/server/internal/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.JWTSecret == "" {
		// development only, tokens do not survive a restart
		if cfg.JWTSecret, err = auth.GenerateSecret(); err != nil {
			logger.Fatal("failed to generate jwt secret", zap.Error(err))
		}
		logger.Warn("JWT_SECRET not set, using a random secret")
	}

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}

	storageService, err := storage.NewStorage(cfg.StoragePath)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err))
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, "testtrack:lock:", cfg.LockTTL)
		logger.Info("using redis locks", zap.String("addr", cfg.RedisAddr))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	userService := users.NewService(db, issuer, logger)
	if _, err := userService.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logger.Fatal("failed to seed admin user", zap.Error(err))
	}

	scheduler := tasks.NewScheduler(logger)
	if err := scheduler.Register(cfg.TmpSweepSchedule, tasks.NewTmpSweepJob(storageService, cfg.TmpMaxAge, logger)); err != nil {
		logger.Fatal("failed to schedule tmp sweep", zap.Error(err))
	}
	scheduler.Start()

	apiServer := api.NewServer(api.Options{
		DB:          db,
		TestFiles:   testfiles.NewService(db, storageService, locker, hub, logger),
		Projects:    projects.NewService(db, logger),
		Users:       userService,
		Issuer:      issuer,
		Hub:         hub,
		Logger:      logger,
		Development: cfg.IsDevelopment(),
		WebDistPath: cfg.WebDistPath,
	})

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTPPort,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server",
			zap.String("addr", httpServer.Addr),
			zap.String("env", cfg.AppEnv),
			zap.String("db_driver", cfg.DBDriver),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	scheduler.Stop()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
