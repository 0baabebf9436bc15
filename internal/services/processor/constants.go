package processor

import "time"

// Default configuration values
const (
	DefaultWorkers        = 4
	DefaultReserveTimeout = 5 * time.Second
	DefaultErrorBackoff   = time.Second
)

// Job outcomes used in logs, metrics and events
const (
	OutcomeCompleted    = "completed"
	OutcomeRetrying     = "retrying"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeSkipped      = "skipped"
)
