// Package jobrunner runs one pass of the reminder engine: every active rule is
// evaluated for "today" and each matching entity gets at most one
// notification per event date.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "reminder-engine/internal/common/errors"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/metrics"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/common/validation"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/ledger"
	"reminder-engine/internal/reminders/matcher"
	"reminder-engine/internal/reminders/offset"
	"reminder-engine/internal/reminders/recipient"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/reminders/runlock"
	"reminder-engine/internal/reminders/scheduler"
	"reminder-engine/internal/store"
)

type RuleStore interface {
	ActiveRules(ctx context.Context, eventTypes []models.EventType) ([]models.ReminderRule, error)
	TemplateByID(ctx context.Context, id string) (*models.NotificationTemplate, error)
}

type EventMatcher interface {
	FindCandidates(ctx context.Context, landlordID string, eventType models.EventType, targetDate time.Time) ([]models.Entity, error)
}

type TriggerLedger interface {
	AlreadyFired(ctx context.Context, ruleID, entityID string, targetEventDate time.Time) (bool, error)
}

type RecipientResolver interface {
	Resolve(ctx context.Context, rule models.ReminderRule, entity models.Entity) (models.Recipient, error)
}

type TemplateRenderer interface {
	Render(tpl *models.NotificationTemplate, data map[string]interface{}, lang string) (render.Rendered, error)
}

type NotificationScheduler interface {
	ScheduleAndRecord(ctx context.Context, req scheduler.Request, trig scheduler.Trigger) (string, error)
}

// UserDirectory supplies tenant and landlord display names.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

// Locker is an optional run-wide mutual exclusion.
type Locker interface {
	Acquire(ctx context.Context) (runlock.ReleaseFunc, error)
}

type Dependencies struct {
	Rules     RuleStore
	Matcher   EventMatcher
	Ledger    TriggerLedger
	Resolver  RecipientResolver
	Renderer  TemplateRenderer
	Scheduler NotificationScheduler
	Users     UserDirectory
	Lock      Locker
	Logger    logger.Logger
}

type Options struct {
	EventTypes []models.EventType
	Location   *time.Location
	DateFormat string
	Timeout    time.Duration
	Now        func() time.Time
}

type Runner struct {
	deps Dependencies
	opts Options
}

func New(deps Dependencies, opts Options) *Runner {
	if len(opts.EventTypes) == 0 {
		opts.EventTypes = []models.EventType{models.EventLeaseEndDate}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	return &Runner{deps: deps, opts: opts}
}

// Summary reports what one run did.
type Summary struct {
	JobRunID        string    `json:"jobRunId"`
	Today           string    `json:"today"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	Locked          bool      `json:"locked,omitempty"`
	RulesEvaluated  int       `json:"rulesEvaluated"`
	RulesSkipped    int       `json:"rulesSkipped"`
	Matched         int       `json:"matched"`
	Scheduled       int       `json:"scheduled"`
	AlreadyFired    int       `json:"alreadyFired"`
	Duplicates      int       `json:"duplicates"`
	EntitiesSkipped int       `json:"entitiesSkipped"`
	NotificationIDs []string  `json:"notificationIds,omitempty"`
}

// Run evaluates all active rules for the current date in the configured
// location. An empty jobRunID gets a generated one.
func (r *Runner) Run(ctx context.Context, jobRunID string) (*Summary, error) {
	return r.RunFor(ctx, jobRunID, r.opts.Now().In(r.opts.Location))
}

// RunFor is Run with an explicit "today". Only a fatal error is returned;
// rule and entity skips are counted in the summary.
func (r *Runner) RunFor(ctx context.Context, jobRunID string, today time.Time) (*Summary, error) {
	if jobRunID == "" {
		jobRunID = uuid.New().String()
	}
	y, m, d := today.Date()
	today = time.Date(y, m, d, 0, 0, 0, 0, r.opts.Location)

	sum := &Summary{JobRunID: jobRunID, Today: today.Format("2006-01-02"), StartedAt: r.opts.Now()}
	log := r.deps.Logger.WithFields(map[string]interface{}{"jobRunId": jobRunID})

	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	ctx, span := observability.Tracer().Start(ctx, "reminders.run", trace.WithAttributes(
		attribute.String("job_run_id", jobRunID),
		attribute.String("today", sum.Today),
	))
	defer span.End()

	if r.deps.Lock != nil {
		release, err := r.deps.Lock.Acquire(ctx)
		switch {
		case errors.Is(err, runlock.ErrLockHeld):
			log.Warn("Another reminder run holds the lock, skipping", nil)
			sum.Locked = true
			sum.FinishedAt = r.opts.Now()
			metrics.ReminderRuns.WithLabelValues("locked").Inc()
			return sum, nil
		case err != nil:
			log.Warn("Run lock unavailable, continuing under the trigger log constraint", map[string]interface{}{
				"error": err,
			})
		default:
			defer func() {
				if err := release(context.Background()); err != nil {
					log.Warn("Failed to release run lock", map[string]interface{}{"error": err})
				}
			}()
		}
	}

	log.Info("Reminder job started", map[string]interface{}{
		"today":      sum.Today,
		"eventTypes": r.opts.EventTypes,
	})

	err := r.run(ctx, log, today, sum)
	sum.FinishedAt = r.opts.Now()
	metrics.ReminderRunDuration.Observe(sum.FinishedAt.Sub(sum.StartedAt).Seconds())

	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && apperrors.CodeOf(err) != apperrors.ErrCodeJobTimeout {
			err = apperrors.NewJobTimeoutError(err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ReminderRuns.WithLabelValues("failed").Inc()
		log.Error("Reminder job aborted", map[string]interface{}{
			"error":      err,
			"errorCode":  string(apperrors.CodeOf(err)),
			"stackTrace": fmt.Sprintf("%+v", stackOf(err)),
			"scheduled":  sum.Scheduled,
		})
		return sum, err
	}

	span.SetAttributes(
		attribute.Int("rules_evaluated", sum.RulesEvaluated),
		attribute.Int("scheduled", sum.Scheduled),
	)
	metrics.ReminderRuns.WithLabelValues("success").Inc()
	log.Info("Reminder job finished", map[string]interface{}{
		"rulesEvaluated":  sum.RulesEvaluated,
		"rulesSkipped":    sum.RulesSkipped,
		"matched":         sum.Matched,
		"scheduled":       sum.Scheduled,
		"alreadyFired":    sum.AlreadyFired,
		"duplicates":      sum.Duplicates,
		"entitiesSkipped": sum.EntitiesSkipped,
		"durationMs":      sum.FinishedAt.Sub(sum.StartedAt).Milliseconds(),
	})
	return sum, nil
}

func (r *Runner) run(ctx context.Context, log logger.Logger, today time.Time, sum *Summary) error {
	rules, err := r.deps.Rules.ActiveRules(ctx, r.opts.EventTypes)
	if err != nil {
		return apperrors.NewStorageError("load active rules", err)
	}

	names := newNameCache(r.deps.Users)
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return apperrors.NewJobTimeoutError(err)
		}
		sum.RulesEvaluated++

		err := r.runRule(ctx, log.WithFields(map[string]interface{}{"ruleId": rule.ID}), rule, today, names, sum)
		if err == nil {
			continue
		}
		if apperrors.KindOf(err) == apperrors.KindConfiguration {
			sum.RulesSkipped++
			metrics.ReminderRulesSkipped.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
			log.Warn("Skipping reminder rule", map[string]interface{}{
				"ruleId":    rule.ID,
				"eventType": string(rule.EventType),
				"errorCode": string(apperrors.CodeOf(err)),
				"error":     err,
			})
			continue
		}
		return err
	}
	return nil
}

func (r *Runner) runRule(ctx context.Context, log logger.Logger, rule models.ReminderRule, today time.Time, names *nameCache, sum *Summary) error {
	ctx, span := observability.Tracer().Start(ctx, "reminders.rule", trace.WithAttributes(
		attribute.String("rule_id", rule.ID),
		attribute.String("event_type", string(rule.EventType)),
	))
	defer span.End()

	if err := validation.ValidateRule(rule); err != nil {
		return apperrors.NewInvalidRuleError(rule.ID, err)
	}

	target, err := offset.TargetDate(today, rule.OffsetValue, rule.OffsetUnit)
	if err != nil {
		return apperrors.NewUnsupportedOffsetUnitError(string(rule.OffsetUnit), err)
	}
	span.SetAttributes(attribute.String("target_date", target.Format("2006-01-02")))

	tpl, err := r.deps.Rules.TemplateByID(ctx, rule.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NewTemplateNotFoundError(rule.TemplateID)
	}
	if err != nil {
		return apperrors.NewStorageError("load template", err)
	}
	if !tpl.IsActive {
		return apperrors.NewTemplateInactiveError(tpl.ID)
	}

	entities, err := r.deps.Matcher.FindCandidates(ctx, rule.LandlordID, rule.EventType, target)
	if errors.Is(err, matcher.ErrUnsupportedEventType) {
		return apperrors.NewUnsupportedEventTypeError(string(rule.EventType), err)
	}
	if err != nil {
		return apperrors.NewStorageError("find candidates", err)
	}

	sum.Matched += len(entities)
	log.Info("Evaluated reminder rule", map[string]interface{}{
		"eventType":  string(rule.EventType),
		"targetDate": target.Format("2006-01-02"),
		"matched":    len(entities),
	})

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return apperrors.NewJobTimeoutError(err)
		}
		elog := log.WithFields(entityFields(entity))

		id, err := r.processEntity(ctx, rule, tpl, entity, target, today, names, sum.JobRunID)
		switch {
		case err == nil && id == "":
			sum.AlreadyFired++
			metrics.ReminderDuplicateTriggers.Inc()
			elog.Debug("Trigger already recorded", nil)
		case err == nil:
			sum.Scheduled++
			sum.NotificationIDs = append(sum.NotificationIDs, id)
			metrics.ReminderNotificationsScheduled.WithLabelValues(string(rule.EventType)).Inc()
			elog.Info("Notification scheduled", map[string]interface{}{"notificationId": id})
		case apperrors.IsDuplicate(err):
			sum.Duplicates++
			metrics.ReminderDuplicateTriggers.Inc()
			elog.Info("Trigger claimed by a concurrent run", nil)
		case apperrors.IsSkip(err):
			sum.EntitiesSkipped++
			metrics.ReminderEntitiesSkipped.WithLabelValues(string(apperrors.CodeOf(err))).Inc()
			elog.Error("Skipping entity", map[string]interface{}{
				"errorCode": string(apperrors.CodeOf(err)),
				"error":     err,
			})
		default:
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// processEntity returns the new notification id, or "" with a nil error when
// the ledger already holds the trigger.
func (r *Runner) processEntity(ctx context.Context, rule models.ReminderRule, tpl *models.NotificationTemplate,
	entity models.Entity, target, today time.Time, names *nameCache, jobRunID string) (string, error) {
	fired, err := r.deps.Ledger.AlreadyFired(ctx, rule.ID, entity.ID, target)
	if err != nil {
		return "", apperrors.NewStorageError("check trigger log", err)
	}
	if fired {
		return "", nil
	}

	rcpt, err := r.deps.Resolver.Resolve(ctx, rule, entity)
	if errors.Is(err, recipient.ErrNoRecipient) {
		return "", apperrors.NewNoRecipientError(string(rule.RecipientType), entity.ID, err)
	}
	if err != nil {
		return "", apperrors.NewStorageError("resolve recipient", err)
	}

	parties, err := names.parties(ctx, rule, entity)
	if err != nil {
		return "", apperrors.NewStorageError("load party names", err)
	}

	data := render.BuildContext(rule, entity, rcpt, parties, today, r.opts.DateFormat)
	if err := render.CheckRequired(tpl, data); err != nil {
		return "", apperrors.NewPlaceholderMissingError(tpl.ID, err)
	}
	if _, err := r.deps.Renderer.Render(tpl, data, rcpt.Language); err != nil {
		return "", apperrors.NewTemplateRenderFailedError(tpl.ID, err)
	}

	id, err := r.deps.Scheduler.ScheduleAndRecord(ctx, scheduler.Request{
		RecipientUserID:   rcpt.UserID,
		NotificationType:  notificationType(tpl, rule.EventType),
		Template:          tpl,
		Context:           data,
		ScheduledSendTime: rule.SendTime.On(today, r.opts.Location),
		Links:             entity.Links,
		JobRunID:          jobRunID,
	}, scheduler.Trigger{
		RuleID:          rule.ID,
		EntityID:        entity.ID,
		TargetEventDate: target,
	})
	switch {
	case errors.Is(err, ledger.ErrAlreadyFired):
		return "", apperrors.NewDuplicateTriggerError(rule.ID, entity.ID, err)
	case err != nil && apperrors.IsFatal(err) && apperrors.CodeOf(err) != "":
		return "", err
	case err != nil:
		return "", apperrors.NewStorageError("schedule notification", err)
	}
	return id, nil
}

func notificationType(tpl *models.NotificationTemplate, et models.EventType) string {
	if tpl.TemplateType != "" {
		return tpl.TemplateType
	}
	return strings.TrimSuffix(string(et), "_DATE") + "_REMINDER"
}

func entityFields(e models.Entity) map[string]interface{} {
	fields := map[string]interface{}{"entityId": e.ID}
	if e.Links.LeaseID != "" {
		fields["leaseId"] = e.Links.LeaseID
	}
	return fields
}

func stackOf(err error) interface{} {
	var e *apperrors.EngineError
	if errors.As(err, &e) {
		if st := e.StackTrace(); st != nil {
			return st
		}
	}
	return ""
}
