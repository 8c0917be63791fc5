// internal/models/entity.go
package models

import "time"

// Entity is a dated subject row a rule can fire for: a lease, a payment,
// an invoice, a document or a maintenance request.
type Entity struct {
	ID              string    `json:"id"`
	Kind            EventType `json:"kind"`
	LandlordID      string    `json:"landlordId"`
	EventDate       time.Time `json:"eventDate"`
	TenantUserID    string    `json:"tenantUserId,omitempty"`
	PropertyID      string    `json:"propertyId,omitempty"`
	PropertyAddress string    `json:"propertyAddress,omitempty"`
	PropertyUnit    string    `json:"propertyUnit,omitempty"`
	Links           Links     `json:"links"`
}

type User struct {
	ID                string `json:"id"`
	FullName          string `json:"fullName"`
	Email             string `json:"email"`
	Phone             string `json:"phone,omitempty"`
	PreferredLanguage string `json:"preferredLanguage,omitempty"`
}

// Recipient is the resolved addressee of one notification.
type Recipient struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Language string `json:"language"`
}

// TriggerLogEntry records that a rule fired for an entity on a concrete event date.
// (RuleID, EntityID, TargetEventDate) is unique.
type TriggerLogEntry struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"ruleId"`
	EntityID        string    `json:"entityId"`
	TargetEventDate time.Time `json:"targetEventDate"`
	NotificationID  string    `json:"notificationId"`
	JobRunID        string    `json:"jobRunId"`
	CreatedAt       time.Time `json:"createdAt"`
}
