package dispatchnotifications

import (
	"context"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/reminders/dispatch"
)

type Input struct {
	MaxBatches int `json:"maxBatches,omitempty"`
}

type Output struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Batches int              `json:"batches"`
	Summary dispatch.Summary `json:"summary"`
}

// Dispatcher is satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	RunOnce(ctx context.Context) (*dispatch.Summary, error)
}

type ServiceDependencies struct {
	Dispatcher    Dispatcher
	BatchSize     int
	Observability *observability.Observability
	Logger        logger.Logger
}
