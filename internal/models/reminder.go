// internal/models/reminder.go
package models

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventRentDueDate              EventType = "RENT_DUE_DATE"
	EventLeaseStartDate           EventType = "LEASE_START_DATE"
	EventLeaseEndDate             EventType = "LEASE_END_DATE"
	EventInvoiceDueDate           EventType = "INVOICE_DUE_DATE"
	EventDocumentExpiryDate       EventType = "DOCUMENT_EXPIRY_DATE"
	EventMaintenanceScheduledDate EventType = "MAINTENANCE_SCHEDULED_DATE"
)

// AllEventTypes lists every event type a rule may watch, in evaluation order.
var AllEventTypes = []EventType{
	EventLeaseEndDate,
	EventLeaseStartDate,
	EventRentDueDate,
	EventInvoiceDueDate,
	EventDocumentExpiryDate,
	EventMaintenanceScheduledDate,
}

func (e EventType) Valid() bool {
	for _, t := range AllEventTypes {
		if t == e {
			return true
		}
	}
	return false
}

type OffsetUnit string

const (
	UnitMinutes OffsetUnit = "MINUTES"
	UnitHours   OffsetUnit = "HOURS"
	UnitDays    OffsetUnit = "DAYS"
	UnitWeeks   OffsetUnit = "WEEKS"
	UnitMonths  OffsetUnit = "MONTHS"
)

type RecipientType string

const (
	RecipientTenant          RecipientType = "TENANT"
	RecipientLandlord        RecipientType = "LANDLORD"
	RecipientPropertyManager RecipientType = "PROPERTY_MANAGER"
	RecipientOtherUser       RecipientType = "OTHER_USER"
	RecipientCustomEmail     RecipientType = "CUSTOM_EMAIL"
)

// TimeOfDay is a wall-clock send time stored as "HH:MM" or "HH:MM:SS".
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// DefaultSendTime is applied when a rule carries no send time.
var DefaultSendTime = TimeOfDay{Hour: 9, Minute: 0}

// On returns the instant at this time of day on the calendar date of d, in loc.
func (t TimeOfDay) On(d time.Time, loc *time.Location) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, t.Hour, t.Minute, 0, 0, loc)
}

// ReminderRule is a landlord-configured policy: remind OffsetValue OffsetUnit
// before (negative) or after (positive) EventType.
type ReminderRule struct {
	ID                      string        `json:"id"`
	LandlordID              string        `json:"landlordId"`
	Name                    string        `json:"name"`
	EventType               EventType     `json:"eventType"`
	OffsetValue             int           `json:"offsetValue"`
	OffsetUnit              OffsetUnit    `json:"offsetUnit"`
	SendTime                TimeOfDay     `json:"sendTime"`
	RecipientType           RecipientType `json:"recipientType"`
	SpecificRecipientUserID string        `json:"specificRecipientUserId,omitempty"`
	CustomRecipientEmail    string        `json:"customRecipientEmail,omitempty"`
	TemplateID              string        `json:"templateId"`
	IsActive                bool          `json:"isActive"`
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". An empty string yields DefaultSendTime.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "" {
		return DefaultSendTime, nil
	}
	layout := "15:04"
	if len(s) > 5 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}
