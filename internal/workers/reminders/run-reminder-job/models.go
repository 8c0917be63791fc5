package runreminderjob

import (
	"context"
	"time"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/reminders/jobrunner"
)

type Input struct {
	JobRunID string `json:"jobRunId"`
	// Date overrides "today" as YYYY-MM-DD, for backfills.
	Date string `json:"date,omitempty"`
}

type Output struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Summary *jobrunner.Summary `json:"summary,omitempty"`
}

// JobRunner is satisfied by *jobrunner.Runner.
type JobRunner interface {
	Run(ctx context.Context, jobRunID string) (*jobrunner.Summary, error)
	RunFor(ctx context.Context, jobRunID string, today time.Time) (*jobrunner.Summary, error)
}

type ServiceDependencies struct {
	Runner        JobRunner
	Observability *observability.Observability
	Logger        logger.Logger
}
