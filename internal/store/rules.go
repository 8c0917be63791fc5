// internal/store/rules.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"reminder-engine/internal/models"
)

// RuleRepository gives read access to reminder rules and their templates.
type RuleRepository struct {
	db Querier
}

func NewRuleRepository(db Querier) *RuleRepository {
	return &RuleRepository{db: db}
}

const activeRulesQuery = `
	SELECT id, landlord_id, name, event_type, offset_value, offset_unit,
	       to_char(send_time, 'HH24:MI'), recipient_type,
	       COALESCE(specific_recipient_user_id, ''), COALESCE(custom_recipient_email, ''),
	       template_id, is_active
	FROM reminder_rules
	WHERE is_active = TRUE AND event_type = ANY($1)
	ORDER BY event_type, landlord_id, id`

// ActiveRules returns every active rule watching one of eventTypes.
func (r *RuleRepository) ActiveRules(ctx context.Context, eventTypes []models.EventType) ([]models.ReminderRule, error) {
	types := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		types[i] = string(et)
	}

	rows, err := r.db.QueryContext(ctx, activeRulesQuery, pq.Array(types))
	if err != nil {
		return nil, fmt.Errorf("query active rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ReminderRule
	for rows.Next() {
		var (
			rule     models.ReminderRule
			sendTime sql.NullString
		)
		if err := rows.Scan(
			&rule.ID, &rule.LandlordID, &rule.Name, &rule.EventType,
			&rule.OffsetValue, &rule.OffsetUnit, &sendTime, &rule.RecipientType,
			&rule.SpecificRecipientUserID, &rule.CustomRecipientEmail,
			&rule.TemplateID, &rule.IsActive,
		); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.SendTime, err = models.ParseTimeOfDay(sendTime.String)
		if err != nil {
			rule.SendTime = models.DefaultSendTime
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

const templateByIDQuery = `
	SELECT id, template_type, channel, subject_by_lang, body_by_lang,
	       required_placeholders, is_active
	FROM notification_templates
	WHERE id = $1`

// TemplateByID returns ErrNotFound when the template does not exist.
func (r *RuleRepository) TemplateByID(ctx context.Context, id string) (*models.NotificationTemplate, error) {
	var (
		tpl              models.NotificationTemplate
		subjects, bodies []byte
	)
	err := r.db.QueryRowContext(ctx, templateByIDQuery, id).Scan(
		&tpl.ID, &tpl.TemplateType, &tpl.Channel, &subjects, &bodies,
		pq.Array(&tpl.RequiredPlaceholders), &tpl.IsActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query template %s: %w", id, err)
	}

	if err := decodeLangMap(subjects, &tpl.SubjectByLang); err != nil {
		return nil, fmt.Errorf("template %s subject_by_lang: %w", id, err)
	}
	if err := decodeLangMap(bodies, &tpl.BodyByLang); err != nil {
		return nil, fmt.Errorf("template %s body_by_lang: %w", id, err)
	}
	return &tpl, nil
}

func decodeLangMap(raw []byte, dst *map[string]string) error {
	*dst = map[string]string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
