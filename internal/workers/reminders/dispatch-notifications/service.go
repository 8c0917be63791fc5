package dispatchnotifications

import (
	"context"
	"fmt"
	"time"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/observability"
)

type Service struct {
	config     *Config
	dispatcher Dispatcher
	batchSize  int
	obs        *observability.Observability
	logger     logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	return &Service{
		config:     config,
		dispatcher: deps.Dispatcher,
		batchSize:  deps.BatchSize,
		obs:        deps.Observability,
		logger:     deps.Logger,
	}
}

// Execute claims batches until one comes back short or the batch limit is hit.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	start := time.Now()
	maxBatches := s.config.MaxBatches
	if input.MaxBatches > 0 {
		maxBatches = input.MaxBatches
	}

	out := &Output{Success: true}
	for out.Batches < maxBatches {
		sum, err := s.dispatcher.RunOnce(ctx)
		if err != nil {
			s.obs.RecordJob(ctx, TaskType, "failed", time.Since(start))
			return nil, err
		}
		out.Batches++
		out.Summary.Claimed += sum.Claimed
		out.Summary.Sent += sum.Sent
		out.Summary.Delivered += sum.Delivered
		out.Summary.Failed += sum.Failed
		out.Summary.InvalidAddress += sum.InvalidAddress
		out.Summary.Conflicts += sum.Conflicts

		if sum.Claimed == 0 || (s.batchSize > 0 && sum.Claimed < s.batchSize) {
			break
		}
	}

	s.obs.RecordJob(ctx, TaskType, "completed", time.Since(start))
	out.Message = fmt.Sprintf("dispatched %d of %d claimed notifications", out.Summary.Sent, out.Summary.Claimed)
	s.logger.Info("Dispatch job finished", map[string]interface{}{
		"batches": out.Batches,
		"claimed": out.Summary.Claimed,
		"sent":    out.Summary.Sent,
		"failed":  out.Summary.Failed,
	})
	return out, nil
}
