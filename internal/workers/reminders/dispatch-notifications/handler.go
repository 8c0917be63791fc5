package dispatchnotifications

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"reminder-engine/internal/common/camunda"
	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/errors"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/metrics"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/common/validation"
	"reminder-engine/pkg/registry"
)

const (
	TaskType      = "reminders.notifications.dispatch"
	WorkerName    = "dispatch-notifications"
	BPMNErrorCode = "DISPATCH_FAILED"
)

type Handler struct {
	config    *Config
	logger    logger.Logger
	camunda   *camunda.Client
	service   *Service
	jobWorker worker.JobWorker
}

type HandlerOptions struct {
	AppConfig     *config.Config
	Camunda       *camunda.Client
	CustomConfig  *Config
	Dispatcher    Dispatcher
	Observability *observability.Observability
	Logger        logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("invalid configuration for %s: dispatcher is required", WorkerName)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}

	batchSize := 0
	if opts.AppConfig != nil {
		batchSize = opts.AppConfig.Dispatch.BatchSize
	}

	return &Handler{
		config:  workerConfig,
		logger:  log,
		camunda: opts.Camunda,
		service: NewService(ServiceDependencies{
			Dispatcher:    opts.Dispatcher,
			BatchSize:     batchSize,
			Observability: opts.Observability,
			Logger:        log,
		}, workerConfig),
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if !h.config.Enabled {
		h.completeJob(ctx, client, job, &Output{Message: "notification dispatch disabled"})
		return
	}

	input, err := h.parseInput(job)
	if err == nil {
		var output *Output
		if output, err = h.service.Execute(ctx, input); err == nil {
			h.completeJob(ctx, client, job, output)
			metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
			metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
			return
		}
	}

	code := "UNKNOWN_ERROR"
	if c := errors.CodeOf(err); c != "" {
		code = string(c)
	}
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, code).Inc()
	h.failJob(ctx, client, job, err)
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInputParsingError(err)
	}

	result, err := validation.Validate(GetInputSchema(), variables)
	if err != nil {
		return nil, errors.NewInputParsingError(err)
	}
	if !result.Valid {
		return nil, errors.NewInputValidationError(
			fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	input := &Input{}
	if n, ok := variables["maxBatches"].(float64); ok {
		input.MaxBatches = int(n)
	}
	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	variables := map[string]interface{}{
		"dispatchSucceeded":      output.Success,
		"dispatchMessage":        output.Message,
		"dispatchBatches":        output.Batches,
		"dispatchClaimed":        output.Summary.Claimed,
		"dispatchSent":           output.Summary.Sent,
		"dispatchFailed":         output.Summary.Failed,
		"dispatchInvalidAddress": output.Summary.InvalidAddress,
	}

	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(variables)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}
	if err := h.send(ctx, "complete job", func(ctx context.Context) (interface{}, error) {
		return request.Send(ctx)
	}); err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	bpmnErr := errors.ToBPMNError(BPMNErrorCode, err)

	retries := int32(0)
	if bpmnErr.Retryable && job.GetRetries() > 0 {
		retries = job.GetRetries() - 1
	}

	h.logger.Error("Notification dispatch failed", map[string]interface{}{
		"jobKey":       job.GetKey(),
		"errorCode":    bpmnErr.Code,
		"errorMessage": bpmnErr.Message,
		"retries":      retries,
		"worker":       TaskType,
	})

	failCmd := client.NewFailJobCommand().
		JobKey(job.GetKey()).
		Retries(retries).
		ErrorMessage(fmt.Sprintf("[%s] %s", bpmnErr.Code, bpmnErr.Message))

	if failErr := h.send(ctx, "fail job", func(ctx context.Context) (interface{}, error) {
		return failCmd.Send(ctx)
	}); failErr != nil {
		h.logger.Error("Failed to send BPMN error to Camunda", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  failErr.Error(),
			"worker": TaskType,
		})
	}
}

// send delivers a job command, retrying transient broker errors when a
// Camunda client is configured.
func (h *Handler) send(ctx context.Context, operation string, cmd func(context.Context) (interface{}, error)) error {
	if h.camunda == nil {
		_, err := cmd(ctx)
		return err
	}
	_, err := h.camunda.ExecuteWithRetry(ctx, cmd, operation)
	return err
}

func (h *Handler) Register() error {
	if !h.config.Enabled {
		h.logger.Info("Worker is disabled, skipping registration", map[string]interface{}{
			"worker": TaskType,
		})
		return nil
	}
	if h.camunda == nil {
		return fmt.Errorf("%s: camunda client is required to register", WorkerName)
	}

	h.jobWorker = h.camunda.GetClient().NewJobWorker().
		JobType(TaskType).
		Handler(h.Handle).
		MaxJobsActive(h.config.MaxJobsActive).
		Timeout(h.config.Timeout).
		Name(fmt.Sprintf("%s-worker", TaskType)).
		Open()

	h.logger.Info("Dispatch worker registered with Camunda", map[string]interface{}{
		"taskType":      TaskType,
		"maxJobsActive": h.config.MaxJobsActive,
		"maxBatches":    h.config.MaxBatches,
	})
	return nil
}

func (h *Handler) Close() {
	if h.jobWorker != nil {
		h.jobWorker.Close()
		h.jobWorker = nil
	}
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) Activity() registry.Activity {
	return registry.Activity{
		ID:            WorkerName,
		DisplayName:   "Dispatch notifications",
		Description:   "Delivers scheduled notifications whose send time has passed",
		TaskType:      TaskType,
		InputSchema:   GetInputSchema(),
		BPMNErrorCode: BPMNErrorCode,
		ErrorCodes:    []string{string(errors.ErrCodeStorageFailed), string(errors.ErrCodeInputValidationFailed)},
		Timeout:       h.config.Timeout.String(),
		Enabled:       h.config.Enabled,
	}
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}
	if appConfig.Dispatch.Timeout > 0 {
		cfg.Timeout = config.GetDuration(appConfig.Dispatch.Timeout)
	}
	if workerCfg, exists := appConfig.Workers[WorkerName]; exists {
		cfg.Enabled = workerCfg.Enabled
		if workerCfg.MaxJobsActive > 0 {
			cfg.MaxJobsActive = workerCfg.MaxJobsActive
		}
		if workerCfg.Timeout > 0 {
			cfg.Timeout = config.GetDuration(workerCfg.Timeout)
		}
	}
	return cfg
}
