// internal/store/notifications.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reminder-engine/internal/models"
)

// ErrStatusChanged is returned when a status update finds the row in a
// different status than expected.
var ErrStatusChanged = errors.New("notification status changed concurrently")

type NotificationRepository struct {
	db Querier
}

func NewNotificationRepository(db Querier) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores n as SCHEDULED and returns it with its id and created_at set.
func (r *NotificationRepository) Insert(ctx context.Context, n models.Notification) (models.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Status = models.StatusScheduled

	ctxJSON, err := json.Marshal(n.TemplateContext)
	if err != nil {
		return n, fmt.Errorf("encode template context: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (
			id, user_id, notification_type, channel, template_id, template_context, status,
			scheduled_send_time, lease_id, payment_id, invoice_id, document_id,
			maintenance_request_id, job_run_id
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`,
		n.ID, n.UserID, n.NotificationType, string(n.Channel), n.TemplateID, string(ctxJSON),
		string(n.Status), n.ScheduledSendTime,
		nullable(n.Links.LeaseID), nullable(n.Links.PaymentID), nullable(n.Links.InvoiceID),
		nullable(n.Links.DocumentID), nullable(n.Links.MaintenanceRequestID), nullable(n.JobRunID),
	).Scan(&n.CreatedAt)
	if err != nil {
		return n, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

const claimDueQuery = `
	UPDATE notifications SET status = 'PENDING', updated_at = now()
	WHERE id IN (
		SELECT id FROM notifications
		WHERE scheduled_send_time <= $1
		  AND (status = 'SCHEDULED' OR (status = 'PENDING' AND updated_at < $2))
		ORDER BY scheduled_send_time, id
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, user_id, notification_type, channel, template_id, template_context, status,
	          scheduled_send_time, COALESCE(lease_id, ''), COALESCE(payment_id, ''),
	          COALESCE(invoice_id, ''), COALESCE(document_id, ''),
	          COALESCE(maintenance_request_id, ''), COALESCE(job_run_id, ''), created_at`

// ClaimDue moves up to limit due notifications to PENDING and returns them.
// PENDING rows whose claim is older than staleBefore are claimed again.
func (r *NotificationRepository) ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx, claimDueQuery, now, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n       models.Notification
			rawCtx  []byte
			channel string
			status  string
		)
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.NotificationType, &channel, &n.TemplateID, &rawCtx, &status,
			&n.ScheduledSendTime, &n.Links.LeaseID, &n.Links.PaymentID, &n.Links.InvoiceID,
			&n.Links.DocumentID, &n.Links.MaintenanceRequestID, &n.JobRunID, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Channel = models.Channel(channel)
		n.Status = models.NotificationStatus(status)
		if len(rawCtx) > 0 {
			if err := json.Unmarshal(rawCtx, &n.TemplateContext); err != nil {
				return nil, fmt.Errorf("decode template context of %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

// StatusUpdate describes one lifecycle transition.
type StatusUpdate struct {
	From         models.NotificationStatus
	To           models.NotificationStatus
	ErrorMessage string
	ExternalID   string
	At           time.Time
}

// UpdateStatus applies u if the row is still in u.From. SENT stamps sent_at,
// DELIVERED stamps delivered_at and READ stamps read_at.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id string, u StatusUpdate) error {
	var sentAt, deliveredAt, readAt sql.NullTime
	switch u.To {
	case models.StatusSent:
		sentAt = sql.NullTime{Time: u.At, Valid: true}
	case models.StatusDelivered:
		deliveredAt = sql.NullTime{Time: u.At, Valid: true}
	case models.StatusRead:
		readAt = sql.NullTime{Time: u.At, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = $2,
		    error_message = COALESCE($3, error_message),
		    external_id = COALESCE($4, external_id),
		    sent_at = COALESCE($5, sent_at),
		    delivered_at = COALESCE($6, delivered_at),
		    read_at = COALESCE($7, read_at),
		    updated_at = now()
		WHERE id = $1 AND status = $8`,
		id, string(u.To), nullable(u.ErrorMessage), nullable(u.ExternalID),
		sentAt, deliveredAt, readAt, string(u.From),
	)
	if err != nil {
		return fmt.Errorf("update notification %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s no longer %s", ErrStatusChanged, id, u.From)
	}
	return nil
}

// CountByJobRun returns how many notifications a job run created.
func (r *NotificationRepository) CountByJobRun(ctx context.Context, jobRunID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE job_run_id = $1`, jobRunID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
