package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"reminder-engine/internal/models"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validate checks document against a JSON schema given as a Go map.
// The document is marshalled with its json tags before validation.
func Validate(schema map[string]interface{}, document interface{}) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if desc.Type() == "required" {
			if p, ok := desc.Details()["property"].(string); ok {
				field = p
			}
		}
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// RequiredKeysSchema builds an object schema in which every key must be
// present and non-null.
func RequiredKeysSchema(keys []string) map[string]interface{} {
	required := make([]interface{}, 0, len(keys))
	props := make(map[string]interface{}, len(keys))
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		required = append(required, k)
		props[k] = map[string]interface{}{"not": map[string]interface{}{"type": "null"}}
	}

	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func enumOf[T ~string](values ...T) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var nonEmpty = map[string]interface{}{"type": "string", "minLength": 1}

// RuleSchema describes a well-formed reminder rule. OTHER_USER rules must name
// the user; a custom email, when given, must be an address.
var RuleSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"id", "landlordId", "eventType", "offsetValue", "offsetUnit", "recipientType", "templateId"},
	"properties": map[string]interface{}{
		"id":          nonEmpty,
		"landlordId":  nonEmpty,
		"templateId":  nonEmpty,
		"eventType":   map[string]interface{}{"enum": enumOf(models.AllEventTypes...)},
		"offsetValue": map[string]interface{}{"type": "integer"},
		"offsetUnit": map[string]interface{}{"enum": enumOf(
			models.UnitMinutes, models.UnitHours, models.UnitDays, models.UnitWeeks, models.UnitMonths)},
		// Unknown recipient types are left to the resolver, which falls back to the tenant.
		"recipientType": nonEmpty,
		"sendTime": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"hour":   map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 23},
				"minute": map[string]interface{}{"type": "integer", "minimum": 0, "maximum": 59},
			},
		},
		"customRecipientEmail": map[string]interface{}{"type": "string", "format": "email"},
	},
	"if": map[string]interface{}{
		"properties": map[string]interface{}{"recipientType": map[string]interface{}{"const": string(models.RecipientOtherUser)}},
	},
	"then": map[string]interface{}{
		"required":   []interface{}{"specificRecipientUserId"},
		"properties": map[string]interface{}{"specificRecipientUserId": nonEmpty},
	},
}

// ValidateRule returns an error listing every schema violation of rule.
func ValidateRule(rule models.ReminderRule) error {
	res, err := Validate(RuleSchema, rule)
	if err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("rule validation failed: %s", strings.Join(res.GetErrorMessages(), "; "))
	}
	return nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Fields lists the fields that failed, in order.
func (vr *ValidationResult) Fields() []string {
	out := make([]string, 0, len(vr.Errors))
	for _, err := range vr.Errors {
		out = append(out, err.Field)
	}
	return out
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
