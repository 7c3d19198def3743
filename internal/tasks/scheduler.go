package tasks

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a periodic job with a name for logs
type Job interface {
	cron.Job
	Name() string
}

// Scheduler runs periodic maintenance jobs
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler creates a scheduler. Jobs never overlap with themselves and
// a panicking job is logged instead of crashing the server.
func NewScheduler(logger *zap.Logger) *Scheduler {
	logger = logger.Named("cron")
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DiscardLogger),
			loggingWrapper(logger),
			recoverWrapper(logger),
		)),
		logger: logger,
	}
}

// Register schedules job with a standard cron spec or a descriptor such as "@every 15m"
func (s *Scheduler) Register(spec string, job Job) error {
	if _, err := s.cron.AddJob(spec, job); err != nil {
		return fmt.Errorf("failed to register %s: %w", job.Name(), err)
	}
	s.logger.Info("registered job", zap.String("job", job.Name()), zap.String("schedule", spec))
	return nil
}

// Start starts the scheduler in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func loggingWrapper(logger *zap.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			jobLogger := logger.With(
				zap.String("job", jobName(j)),
				zap.String("execution_id", uuid.New().String()),
			)
			start := time.Now()
			jobLogger.Debug("job started")
			j.Run()
			jobLogger.Debug("job finished", zap.Duration("duration", time.Since(start)))
		})
	}
}

func recoverWrapper(logger *zap.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("job panicked",
						zap.String("job", jobName(j)),
						zap.Any("panic", r),
						zap.String("stack", string(debug.Stack())),
					)
				}
			}()
			j.Run()
		})
	}
}

func jobName(j cron.Job) string {
	if named, ok := j.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", j)
}
