package janitor

import (
	"time"

	"ledger/internal/repositories"

	"go.uber.org/zap"
)

const (
	DefaultSchedule      = "@every 30s"
	DefaultKeepCompleted = 100
	DefaultKeepDead      = 50
	DefaultOrphanGrace   = time.Minute
	DefaultBatchSize     = 100
	DefaultSweepTimeout  = 20 * time.Second
)

type Config struct {
	Queue   Queue
	Jobs    repositories.QueueJobRepository
	Metrics MetricsCollector
	Logger  *zap.Logger

	// Schedule is a robfig/cron spec, e.g. "@every 30s" or "*/1 * * * *".
	Schedule      string
	KeepCompleted int
	KeepDead      int
	OrphanGrace   time.Duration
	BatchSize     int
	SweepTimeout  time.Duration
}

// Report summarises one sweep.
type Report struct {
	Promoted int
	Requeued int
	Repushed int
	Pruned   map[string]int64
}
