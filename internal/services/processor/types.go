package processor

import (
	"time"

	"ledger/internal/events"
	"ledger/internal/repositories"

	"go.uber.org/zap"
)

// ProcessorConfig holds the processor's collaborators and tuning.
type ProcessorConfig struct {
	Engine         Engine
	Queue          Queue
	Jobs           repositories.QueueJobRepository
	Events         events.Publisher
	Metrics        MetricsCollector
	Logger         *zap.Logger
	Workers        int
	ReserveTimeout time.Duration
	ErrorBackoff   time.Duration
}
