package render

import (
	"strings"
	"time"

	"reminder-engine/internal/models"
)

// Parties carries the display names the context needs besides the recipient.
type Parties struct {
	TenantName   string
	LandlordName string
}

// BuildContext assembles the placeholder values for one rule firing for one
// entity. Every event type gets event_date plus its own date key, e.g.
// lease_end_date or rent_due_date.
func BuildContext(rule models.ReminderRule, entity models.Entity, recipient models.Recipient,
	parties Parties, today time.Time, dateFormat string) map[string]interface{} {
	if dateFormat == "" {
		dateFormat = "January 02, 2006"
	}
	eventDate := entity.EventDate.Format(dateFormat)

	ctx := map[string]interface{}{
		"rule_name":        rule.Name,
		"recipient_name":   recipient.FullName,
		"tenant_name":      parties.TenantName,
		"landlord_name":    parties.LandlordName,
		"event_date":       eventDate,
		"days_remaining":   daysBetween(today, entity.EventDate),
		"property_address": entity.PropertyAddress,
		"property_unit":    entity.PropertyUnit,
	}
	ctx[strings.ToLower(string(entity.Kind))] = eventDate

	for k, v := range map[string]string{
		"lease_id":               entity.Links.LeaseID,
		"payment_id":             entity.Links.PaymentID,
		"invoice_id":             entity.Links.InvoiceID,
		"document_id":            entity.Links.DocumentID,
		"maintenance_request_id": entity.Links.MaintenanceRequestID,
	} {
		if v != "" {
			ctx[k] = v
		}
	}
	return ctx
}

// daysBetween is the absolute number of calendar days between a and b.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	n := int(db.Sub(da).Hours() / 24)
	if n < 0 {
		return -n
	}
	return n
}
