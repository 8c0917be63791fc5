package runreminderjob

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
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
	TaskType      = "reminders.job.run"
	WorkerName    = "run-reminder-job"
	BPMNErrorCode = "REMINDER_JOB_FAILED"
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
	Runner        JobRunner
	Observability *observability.Observability
	Logger        logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("invalid configuration for %s: runner is required", WorkerName)
	}

	loggerInstance := opts.Logger
	if loggerInstance == nil {
		loggerInstance = logger.NewStructured("info", "json")
	}

	handler := &Handler{
		config:  workerConfig,
		logger:  loggerInstance,
		camunda: opts.Camunda,
	}
	handler.service = NewService(ServiceDependencies{
		Runner:        opts.Runner,
		Observability: opts.Observability,
		Logger:        loggerInstance,
	}, workerConfig)

	return handler, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing reminder job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"worker":             TaskType,
	})

	if !h.config.Enabled {
		h.completeJob(ctx, client, job, &Output{
			Success: false,
			Message: "reminder job disabled",
		})
		return
	}

	input, err := h.parseInput(job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, extractErrorCode(err)).Inc()
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, extractErrorCode(err)).Inc()
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

// parseInput reads the job variables. Without a jobRunId the process instance
// key is used, so a retried job reuses the run id of its first attempt.
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
	if id, ok := variables["jobRunId"].(string); ok {
		input.JobRunID = id
	}
	if date, ok := variables["date"].(string); ok {
		input.Date = date
	}
	if input.JobRunID == "" {
		input.JobRunID = fmt.Sprintf("zeebe-%d", job.GetProcessInstanceKey())
	}
	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	variables := outputVariables(output)

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
		return
	}
	h.logger.Info("Completed reminder job", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"success": output.Success,
		"worker":  TaskType,
	})
}

func outputVariables(output *Output) map[string]interface{} {
	variables := map[string]interface{}{
		"reminderJobSucceeded": output.Success,
		"reminderJobMessage":   output.Message,
	}
	if s := output.Summary; s != nil {
		variables["reminderJobRunId"] = s.JobRunID
		variables["reminderJobLocked"] = s.Locked
		variables["reminderNotificationsScheduled"] = s.Scheduled
		variables["reminderAlreadyFired"] = s.AlreadyFired + s.Duplicates
		variables["reminderRulesSkipped"] = s.RulesSkipped
		variables["reminderEntitiesSkipped"] = s.EntitiesSkipped
	}
	return variables
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	bpmnErr := errors.ToBPMNError(BPMNErrorCode, err)

	retries := int32(0)
	if bpmnErr.Retryable && job.GetRetries() > 0 {
		retries = job.GetRetries() - 1
	}

	h.logger.Error("Reminder job failed", map[string]interface{}{
		"jobKey":       job.GetKey(),
		"errorCode":    bpmnErr.Code,
		"errorMessage": bpmnErr.Message,
		"retryable":    bpmnErr.Retryable,
		"retries":      retries,
		"worker":       TaskType,
	})

	failCmd := client.NewFailJobCommand().
		JobKey(job.GetKey()).
		Retries(retries).
		ErrorMessage(fmt.Sprintf("[%s] %s", bpmnErr.Code, bpmnErr.Message))

	var finalCmd interface {
		Send(context.Context) (*pb.FailJobResponse, error)
	} = failCmd
	if varCmd, varErr := failCmd.VariablesFromMap(bpmnErr.ToErrorVariables()); varErr == nil {
		finalCmd = varCmd
	} else {
		h.logger.Error("Failed to set error variables, sending without them", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  varErr.Error(),
			"worker": TaskType,
		})
	}

	if failErr := h.send(ctx, "fail job", func(ctx context.Context) (interface{}, error) {
		return finalCmd.Send(ctx)
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

	h.logger.Info("Reminder job worker registered with Camunda", map[string]interface{}{
		"taskType":      TaskType,
		"maxJobsActive": h.config.MaxJobsActive,
		"timeout":       h.config.Timeout.String(),
	})
	return nil
}

func (h *Handler) Close() {
	if h.jobWorker != nil {
		h.logger.Info("Shutting down worker gracefully", map[string]interface{}{
			"worker": TaskType,
		})
		h.jobWorker.Close()
		h.jobWorker = nil
	}
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	if h.camunda == nil {
		return nil
	}
	if err := h.camunda.HealthCheck(ctx); err != nil {
		return fmt.Errorf("camunda health check failed: %w", err)
	}
	return nil
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

// Activity describes the worker for the activity registry.
func (h *Handler) Activity() registry.Activity {
	return registry.Activity{
		ID:            WorkerName,
		DisplayName:   "Run reminder job",
		Description:   "Evaluates active reminder rules and schedules the notifications due today",
		TaskType:      TaskType,
		InputSchema:   GetInputSchema(),
		BPMNErrorCode: BPMNErrorCode,
		ErrorCodes: []string{
			string(errors.ErrCodeStorageFailed),
			string(errors.ErrCodeCommitFailed),
			string(errors.ErrCodeJobTimeout),
			string(errors.ErrCodeInputValidationFailed),
		},
		Timeout: h.config.Timeout.String(),
		Enabled: h.config.Enabled,
	}
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

// Execute runs the reminder job for input.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.service.Execute(ctx, input)
}

func extractErrorCode(err error) string {
	if code := errors.CodeOf(err); code != "" {
		return string(code)
	}
	return "UNKNOWN_ERROR"
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if appConfig.Reminders.JobTimeout > 0 {
		cfg.Timeout = config.GetDuration(appConfig.Reminders.JobTimeout)
	}
	cfg.Location = appConfig.Reminders.Location()
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
