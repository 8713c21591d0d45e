package models

import (
	"time"

	"github.com/gpilot-io/gpilot/pkg/database"
)

// DeliveryStatus is the lifecycle state of one webhook delivery.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryRetrying DeliveryStatus = "retrying"
	DeliverySent     DeliveryStatus = "sent"
	DeliveryFailed   DeliveryStatus = "failed"
)

// Valid reports whether s is a known delivery status code.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliveryRetrying, DeliverySent, DeliveryFailed:
		return true
	}
	return false
}

// WebhookEndpoint is a subscriber URL with the event types it wants.
// The signing secret is encrypted at rest and never serialized.
type WebhookEndpoint struct {
	Base
	UserID   string                   `gorm:"size:128;not null;index" json:"user_id"`
	URL      string                   `gorm:"size:2048;not null" json:"url"`
	Secret   database.EncryptedString `gorm:"type:text" json:"-"`
	Events   StringList               `gorm:"type:text" json:"events"`
	IsActive bool                     `gorm:"not null" json:"is_active"`
}

// Subscribed reports whether the endpoint wants the given event type.
func (e *WebhookEndpoint) Subscribed(eventType string) bool {
	return e.Events.Contains(eventType)
}

// WebhookDelivery is one fan-out attempt record for one endpoint. Retained
// for 30 days; response bodies are truncated to 1 KiB.
type WebhookDelivery struct {
	Base
	EndpointID   string         `gorm:"size:36;not null;index" json:"endpoint_id"`
	EventID      string         `gorm:"size:36;not null;index" json:"event_id"`
	EventType    string         `gorm:"size:128;not null" json:"event_type"`
	Payload      JSON           `gorm:"type:text" json:"payload"`
	Status       DeliveryStatus `gorm:"size:16;not null;index" json:"status"`
	Attempts     int            `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts  int            `gorm:"not null;default:5" json:"max_attempts"`
	ResponseCode int            `gorm:"not null;default:0" json:"response_code,omitempty"`
	ResponseBody string         `gorm:"size:1024" json:"response_body,omitempty"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
}
