// internal/models/notification.go
package models

import "time"

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelInApp Channel = "IN_APP"
)

type NotificationStatus string

const (
	StatusScheduled       NotificationStatus = "SCHEDULED"
	StatusPending         NotificationStatus = "PENDING"
	StatusSent            NotificationStatus = "SENT"
	StatusDelivered       NotificationStatus = "DELIVERED"
	StatusRead            NotificationStatus = "READ"
	StatusArchived        NotificationStatus = "ARCHIVED"
	StatusDeliveryFailure NotificationStatus = "DELIVERY_FAILURE"
	StatusFailed          NotificationStatus = "FAILED"
	StatusCancelled       NotificationStatus = "CANCELLED"
	StatusInvalidAddress  NotificationStatus = "INVALID_ADDRESS"
)

// transitions is the notification lifecycle graph. INVALID_ADDRESS is reachable
// from every state a dispatch attempt can start from.
var transitions = map[NotificationStatus][]NotificationStatus{
	StatusScheduled: {StatusPending, StatusCancelled, StatusInvalidAddress},
	StatusPending:   {StatusSent, StatusFailed, StatusInvalidAddress},
	StatusSent:      {StatusDelivered, StatusDeliveryFailure, StatusInvalidAddress},
	StatusDelivered: {StatusRead, StatusArchived},
	StatusRead:      {StatusArchived},
}

// CanTransition reports whether a notification may move from one status to another.
func CanTransition(from, to NotificationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Dispatchable reports whether the dispatcher may pick the notification up.
func (s NotificationStatus) Dispatchable() bool {
	return s == StatusScheduled || s == StatusPending
}

// Notification is one scheduled or sent communication.
type Notification struct {
	ID                string                 `json:"id"`
	UserID            string                 `json:"userId"`
	NotificationType  string                 `json:"notificationType"`
	Channel           Channel                `json:"channel"`
	TemplateID        string                 `json:"templateId"`
	TemplateContext   map[string]interface{} `json:"templateContext"`
	Status            NotificationStatus     `json:"status"`
	ScheduledSendTime time.Time              `json:"scheduledSendTime"`
	SentAt            *time.Time             `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time             `json:"deliveredAt,omitempty"`
	ReadAt            *time.Time             `json:"readAt,omitempty"`
	Links             Links                  `json:"links"`
	ErrorMessage      string                 `json:"errorMessage,omitempty"`
	ExternalID        string                 `json:"externalId,omitempty"`
	JobRunID          string                 `json:"jobRunId,omitempty"`
	CreatedAt         time.Time              `json:"createdAt"`
}

// Links ties a notification to the domain rows it talks about.
type Links struct {
	LeaseID              string `json:"leaseId,omitempty"`
	PaymentID            string `json:"paymentId,omitempty"`
	InvoiceID            string `json:"invoiceId,omitempty"`
	DocumentID           string `json:"documentId,omitempty"`
	MaintenanceRequestID string `json:"maintenanceRequestId,omitempty"`
}

// DefaultLanguage is used whenever a template or user carries no language.
const DefaultLanguage = "en"

type NotificationTemplate struct {
	ID                   string            `json:"id"`
	TemplateType         string            `json:"templateType"`
	Channel              Channel           `json:"channel"`
	SubjectByLang        map[string]string `json:"subjectByLang"`
	BodyByLang           map[string]string `json:"bodyByLang"`
	RequiredPlaceholders []string          `json:"requiredPlaceholders"`
	IsActive             bool              `json:"isActive"`
}
