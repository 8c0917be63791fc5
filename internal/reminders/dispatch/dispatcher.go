// Package dispatch delivers due notifications: it claims SCHEDULED rows whose
// send time has passed, renders them in the recipient's language, hands them
// to the channel sender and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/metrics"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/store"
)

type NotificationStore interface {
	ClaimDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]models.Notification, error)
	UpdateStatus(ctx context.Context, id string, u store.StatusUpdate) error
}

type TemplateSource interface {
	TemplateByID(ctx context.Context, id string) (*models.NotificationTemplate, error)
}

type UserDirectory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

type Options struct {
	BatchSize int
	// ClaimTimeout is how long a PENDING claim is honoured before another
	// dispatcher may take the row over.
	ClaimTimeout time.Duration
	Now          func() time.Time
}

type Dispatcher struct {
	notifications NotificationStore
	templates     TemplateSource
	users         UserDirectory
	renderer      *render.Renderer
	senders       map[models.Channel]Sender
	opts          Options
	log           logger.Logger
}

func New(n NotificationStore, t TemplateSource, u UserDirectory, r *render.Renderer,
	senders map[models.Channel]Sender, opts Options, log logger.Logger) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		notifications: n, templates: t, users: u, renderer: r,
		senders: senders, opts: opts, log: log,
	}
}

type Summary struct {
	Claimed        int `json:"claimed"`
	Sent           int `json:"sent"`
	Delivered      int `json:"delivered"`
	Failed         int `json:"failed"`
	InvalidAddress int `json:"invalidAddress"`
	Conflicts      int `json:"conflicts"`
}

// RunOnce dispatches one batch. Per-notification failures are recorded on the
// row; only claim errors and unexpected storage errors are returned.
func (d *Dispatcher) RunOnce(ctx context.Context) (*Summary, error) {
	now := d.opts.Now()
	claimed, err := d.notifications.ClaimDue(ctx, now, now.Add(-d.opts.ClaimTimeout), d.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Claimed: len(claimed)}
	for _, n := range claimed {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if err := d.dispatch(ctx, n, sum); err != nil {
			if errors.Is(err, store.ErrStatusChanged) {
				sum.Conflicts++
				d.log.Warn("Notification changed while dispatching", map[string]interface{}{
					"notificationId": n.ID,
					"error":          err,
				})
				continue
			}
			return sum, err
		}
	}

	if sum.Claimed > 0 {
		d.log.Info("Dispatched notifications", map[string]interface{}{
			"claimed":        sum.Claimed,
			"sent":           sum.Sent,
			"delivered":      sum.Delivered,
			"failed":         sum.Failed,
			"invalidAddress": sum.InvalidAddress,
		})
	}
	return sum, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, n models.Notification, sum *Summary) error {
	log := d.log.WithFields(map[string]interface{}{
		"notificationId": n.ID,
		"channel":        string(n.Channel),
		"userId":         n.UserID,
	})

	delivery, err := d.prepare(ctx, n)
	if err != nil {
		if errors.Is(err, errLookup) {
			return err
		}
		to := models.StatusFailed
		if errors.Is(err, ErrInvalidAddress) {
			to = models.StatusInvalidAddress
		}
		log.Warn("Notification could not be prepared", map[string]interface{}{"error": err, "status": string(to)})
		return d.finish(ctx, n, to, err.Error(), "", sum)
	}

	sender, ok := d.senders[n.Channel]
	if !ok {
		return d.finish(ctx, n, models.StatusFailed, fmt.Sprintf("no sender configured for channel %s", n.Channel), "", sum)
	}

	externalID, err := sender.Send(ctx, delivery)
	switch {
	case errors.Is(err, ErrInvalidAddress):
		log.Warn("Recipient address rejected", map[string]interface{}{"error": err})
		return d.finish(ctx, n, models.StatusInvalidAddress, err.Error(), "", sum)
	case err != nil:
		log.Error("Delivery failed", map[string]interface{}{"error": err})
		return d.finish(ctx, n, models.StatusFailed, err.Error(), "", sum)
	}

	if err := d.finish(ctx, n, models.StatusSent, "", externalID, sum); err != nil {
		return err
	}
	if n.Channel == models.ChannelInApp {
		n.Status = models.StatusSent
		return d.finish(ctx, n, models.StatusDelivered, "", "", sum)
	}
	return nil
}

var errLookup = errors.New("dispatch lookup failed")

func (d *Dispatcher) prepare(ctx context.Context, n models.Notification) (Delivery, error) {
	user, err := d.users.UserByID(ctx, n.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return Delivery{}, fmt.Errorf("%w: user %s not found", ErrInvalidAddress, n.UserID)
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: user %s: %v", errLookup, n.UserID, err)
	}

	tpl, err := d.templates.TemplateByID(ctx, n.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return Delivery{}, fmt.Errorf("template %s not found", n.TemplateID)
	}
	if err != nil {
		return Delivery{}, fmt.Errorf("%w: template %s: %v", errLookup, n.TemplateID, err)
	}

	out, err := d.renderer.Render(tpl, n.TemplateContext, user.PreferredLanguage)
	if err != nil {
		return Delivery{}, err
	}

	to := user.Email
	if n.Channel == models.ChannelSMS {
		to = user.Phone
	}
	if n.Channel != models.ChannelInApp && to == "" {
		return Delivery{}, fmt.Errorf("%w: user %s has no %s address", ErrInvalidAddress, user.ID, n.Channel)
	}

	return Delivery{
		NotificationID: n.ID,
		Channel:        n.Channel,
		To:             to,
		Subject:        out.Subject,
		Body:           out.Body,
	}, nil
}

func (d *Dispatcher) finish(ctx context.Context, n models.Notification, to models.NotificationStatus,
	errMsg, externalID string, sum *Summary) error {
	if !models.CanTransition(n.Status, to) {
		return fmt.Errorf("illegal notification transition %s -> %s for %s", n.Status, to, n.ID)
	}
	if err := d.notifications.UpdateStatus(ctx, n.ID, store.StatusUpdate{
		From:         n.Status,
		To:           to,
		ErrorMessage: errMsg,
		ExternalID:   externalID,
		At:           d.opts.Now(),
	}); err != nil {
		return err
	}

	metrics.NotificationsDispatched.WithLabelValues(string(n.Channel), string(to)).Inc()
	switch to {
	case models.StatusSent:
		sum.Sent++
	case models.StatusDelivered:
		sum.Delivered++
	case models.StatusFailed:
		sum.Failed++
	case models.StatusInvalidAddress:
		sum.InvalidAddress++
	}
	return nil
}
