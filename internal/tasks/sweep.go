package tasks

import (
	"time"

	"testtrack/server/internal/storage"

	"go.uber.org/zap"
)

// TmpSweepJob removes staged uploads left behind by aborted requests
type TmpSweepJob struct {
	storage *storage.Storage
	maxAge  time.Duration
	logger  *zap.Logger
}

// NewTmpSweepJob creates a sweep of files older than maxAge
func NewTmpSweepJob(st *storage.Storage, maxAge time.Duration, logger *zap.Logger) *TmpSweepJob {
	return &TmpSweepJob{storage: st, maxAge: maxAge, logger: logger.Named("tmp-sweep")}
}

func (j *TmpSweepJob) Name() string {
	return "TmpSweepJob"
}

func (j *TmpSweepJob) Run() {
	removed, err := j.storage.SweepTmp(j.maxAge)
	if err != nil {
		j.logger.Error("tmp sweep failed", zap.Error(err))
		return
	}
	if removed > 0 {
		j.logger.Info("removed stale staged uploads", zap.Int("count", removed))
	}
}
