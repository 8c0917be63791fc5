// Package recipient maps a rule's recipient policy and a matched entity to the
// user who receives the reminder.
package recipient

import (
	"context"
	"errors"
	"fmt"

	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/models"
	"reminder-engine/internal/store"
)

// ErrNoRecipient means the policy could not name a user for the entity.
var ErrNoRecipient = errors.New("no recipient")

// UserLookup is the read access the resolver needs to the user directory.
type UserLookup interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
}

type policy func(ctx context.Context, r *Resolver, rule models.ReminderRule, entity models.Entity) (models.Recipient, error)

// policies is keyed by every RecipientType; types missing here fall back to TENANT.
var policies = map[models.RecipientType]policy{
	models.RecipientTenant:          tenant,
	models.RecipientLandlord:        landlord,
	models.RecipientPropertyManager: propertyManager,
	models.RecipientOtherUser:       otherUser,
	models.RecipientCustomEmail:     customEmail,
}

type Resolver struct {
	users       UserLookup
	defaultLang string
	log         logger.Logger
}

func New(users UserLookup, defaultLang string, log logger.Logger) *Resolver {
	if defaultLang == "" {
		defaultLang = models.DefaultLanguage
	}
	return &Resolver{users: users, defaultLang: defaultLang, log: log}
}

// Resolve returns ErrNoRecipient (wrapped) when nobody can be addressed. Any
// other error is a lookup failure.
func (r *Resolver) Resolve(ctx context.Context, rule models.ReminderRule, entity models.Entity) (models.Recipient, error) {
	p, ok := policies[rule.RecipientType]
	if !ok {
		r.log.Warn("Unhandled recipient type, falling back to tenant", map[string]interface{}{
			"ruleId":        rule.ID,
			"recipientType": string(rule.RecipientType),
			"entityId":      entity.ID,
		})
		p = tenant
	}
	return p(ctx, r, rule, entity)
}

func tenant(ctx context.Context, r *Resolver, _ models.ReminderRule, entity models.Entity) (models.Recipient, error) {
	if entity.TenantUserID == "" {
		return models.Recipient{}, fmt.Errorf("%w: %s %s has no tenant", ErrNoRecipient, entity.Kind, entity.ID)
	}
	return r.lookup(ctx, entity.TenantUserID)
}

func landlord(ctx context.Context, r *Resolver, rule models.ReminderRule, _ models.Entity) (models.Recipient, error) {
	return r.lookup(ctx, rule.LandlordID)
}

// Property managers are not modelled yet; the landlord receives their reminders.
func propertyManager(ctx context.Context, r *Resolver, rule models.ReminderRule, entity models.Entity) (models.Recipient, error) {
	r.log.Warn("PROPERTY_MANAGER recipient not implemented, falling back to landlord", map[string]interface{}{
		"ruleId":     rule.ID,
		"landlordId": rule.LandlordID,
		"entityId":   entity.ID,
	})
	return landlord(ctx, r, rule, entity)
}

func otherUser(ctx context.Context, r *Resolver, rule models.ReminderRule, _ models.Entity) (models.Recipient, error) {
	if rule.SpecificRecipientUserID == "" {
		return models.Recipient{}, fmt.Errorf("%w: rule %s names no user", ErrNoRecipient, rule.ID)
	}
	return r.lookup(ctx, rule.SpecificRecipientUserID)
}

// Custom email addresses have no user row to attach a notification to, so the
// tenant is addressed instead.
func customEmail(ctx context.Context, r *Resolver, rule models.ReminderRule, entity models.Entity) (models.Recipient, error) {
	r.log.Warn("CUSTOM_EMAIL recipient not supported, falling back to tenant", map[string]interface{}{
		"ruleId":   rule.ID,
		"entityId": entity.ID,
	})
	return tenant(ctx, r, rule, entity)
}

func (r *Resolver) lookup(ctx context.Context, userID string) (models.Recipient, error) {
	u, err := r.users.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Recipient{}, fmt.Errorf("%w: user %s not found", ErrNoRecipient, userID)
	}
	if err != nil {
		return models.Recipient{}, fmt.Errorf("lookup user %s: %w", userID, err)
	}

	lang := u.PreferredLanguage
	if lang == "" {
		lang = r.defaultLang
	}
	return models.Recipient{
		UserID:   u.ID,
		FullName: u.FullName,
		Email:    u.Email,
		Language: lang,
	}, nil
}
