// Package ledger is the idempotency record of fired triggers. The unique
// constraint on (rule_id, entity_id, target_event_date) is what keeps a rule
// from firing twice for the same entity and date; AlreadyFired is only a
// cheap pre-check.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reminder-engine/internal/common/database"
	"reminder-engine/internal/models"
	"reminder-engine/internal/store"
)

// UniqueConstraint is the storage constraint that enforces at-most-once firing.
const UniqueConstraint = "uq_trigger_rule_entity_date"

// ErrAlreadyFired is returned by Record when the triple is already claimed.
var ErrAlreadyFired = errors.New("trigger already recorded")

type Ledger struct {
	db store.Querier
}

// New binds the ledger to db, which may be a transaction.
func New(db store.Querier) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) AlreadyFired(ctx context.Context, ruleID, entityID string, targetEventDate time.Time) (bool, error) {
	var exists bool
	err := l.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reminder_trigger_log
			WHERE rule_id = $1 AND entity_id = $2 AND target_event_date = $3::date
		)`, ruleID, entityID, targetEventDate.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check trigger log: %w", err)
	}
	return exists, nil
}

// Record inserts entry. A fresh id is assigned when entry.ID is empty.
func (l *Ledger) Record(ctx context.Context, entry models.TriggerLogEntry) (models.TriggerLogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	err := l.db.QueryRowContext(ctx, `
		INSERT INTO reminder_trigger_log (id, rule_id, entity_id, target_event_date, notification_id, job_run_id)
		VALUES ($1, $2, $3, $4::date, $5, $6)
		RETURNING created_at`,
		entry.ID, entry.RuleID, entry.EntityID, entry.TargetEventDate.Format("2006-01-02"),
		entry.NotificationID, entry.JobRunID,
	).Scan(&entry.CreatedAt)
	if database.IsUniqueViolation(err, UniqueConstraint) {
		return entry, fmt.Errorf("%w: rule %s entity %s on %s", ErrAlreadyFired,
			entry.RuleID, entry.EntityID, entry.TargetEventDate.Format("2006-01-02"))
	}
	if err != nil {
		return entry, fmt.Errorf("insert trigger log: %w", err)
	}
	return entry, nil
}
