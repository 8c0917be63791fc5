// Package scheduler creates SCHEDULED notifications together with their
// trigger ledger entries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/ledger"
	"reminder-engine/internal/store"
)

// Request is everything needed to schedule one notification.
type Request struct {
	RecipientUserID   string
	NotificationType  string
	Template          *models.NotificationTemplate
	Context           map[string]interface{}
	ScheduledSendTime time.Time
	Links             models.Links
	JobRunID          string
}

// Trigger identifies the ledger triple a notification claims.
type Trigger struct {
	RuleID          string
	EntityID        string
	TargetEventDate time.Time
}

type Scheduler struct {
	tx store.TxRunner
}

func New(tx store.TxRunner) *Scheduler {
	return &Scheduler{tx: tx}
}

// Schedule inserts a SCHEDULED notification through q and returns its id.
func Schedule(ctx context.Context, q store.Querier, req Request) (string, error) {
	notificationType := req.NotificationType
	if notificationType == "" {
		notificationType = req.Template.TemplateType
	}

	n, err := store.NewNotificationRepository(q).Insert(ctx, models.Notification{
		UserID:            req.RecipientUserID,
		NotificationType:  notificationType,
		Channel:           req.Template.Channel,
		TemplateID:        req.Template.ID,
		TemplateContext:   req.Context,
		ScheduledSendTime: req.ScheduledSendTime,
		Links:             req.Links,
		JobRunID:          req.JobRunID,
	})
	if err != nil {
		return "", err
	}
	return n.ID, nil
}

// ScheduleAndRecord inserts the notification and its ledger entry in one
// transaction. If the triple is already claimed nothing is kept and the
// returned error wraps ledger.ErrAlreadyFired.
func (s *Scheduler) ScheduleAndRecord(ctx context.Context, req Request, trig Trigger) (string, error) {
	var id string
	err := s.tx.WithTx(ctx, func(q store.Querier) error {
		notificationID, err := Schedule(ctx, q, req)
		if err != nil {
			return err
		}
		if _, err := ledger.New(q).Record(ctx, models.TriggerLogEntry{
			RuleID:          trig.RuleID,
			EntityID:        trig.EntityID,
			TargetEventDate: trig.TargetEventDate,
			NotificationID:  notificationID,
			JobRunID:        req.JobRunID,
		}); err != nil {
			return fmt.Errorf("record trigger for notification %s: %w", notificationID, err)
		}
		id = notificationID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}
