package runreminderjob

import (
	"context"
	"fmt"
	"time"

	"reminder-engine/internal/common/errors"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/reminders/jobrunner"
)

type Service struct {
	config *Config
	runner JobRunner
	obs    *observability.Observability
	logger logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config: config,
		runner: deps.Runner,
		obs:    deps.Observability,
		logger: deps.Logger,
	}
}

func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()
	s.logger.Info("Executing reminder job", map[string]interface{}{
		"jobRunId": input.JobRunID,
		"date":     input.Date,
	})

	sum, err := s.run(ctx, input)
	if err != nil {
		s.obs.RecordJob(ctx, TaskType, "failed", time.Since(start))
		return nil, err
	}
	s.obs.RecordJob(ctx, TaskType, "completed", time.Since(start))

	msg := fmt.Sprintf("scheduled %d notifications", sum.Scheduled)
	if sum.Locked {
		msg = "another run holds the reminder job lock"
	}
	return &Output{Success: true, Message: msg, Summary: sum}, nil
}

func (s *Service) run(ctx context.Context, input *Input) (*jobrunner.Summary, error) {
	if input.Date == "" {
		return s.runner.Run(ctx, input.JobRunID)
	}
	loc := s.config.Location
	if loc == nil {
		loc = time.UTC
	}
	today, err := time.ParseInLocation("2006-01-02", input.Date, loc)
	if err != nil {
		return nil, errors.NewInputValidationError(fmt.Sprintf("date: %v", err))
	}
	return s.runner.RunFor(ctx, input.JobRunID, today)
}
