package models

import (
	"encoding/json"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WebhookEventModel is the persistence model for integration.WebhookEvent
type WebhookEventModel struct {
	ID            uuid.UUID              `gorm:"type:uuid;primaryKey"`
	Vendor        integration.VendorCode `gorm:"type:varchar(32);not null;uniqueIndex:uq_webhook_events_event,priority:1"`
	EventID       string                 `gorm:"type:varchar(255);not null;uniqueIndex:uq_webhook_events_event,priority:2"`
	TenantID      *uuid.UUID             `gorm:"type:uuid;index"`
	ConnectionID  string                 `gorm:"type:varchar(255)"`
	EventType     string                 `gorm:"type:varchar(100);not null"`
	ReceivedAt    time.Time              `gorm:"not null"`
	ProcessedAt   *time.Time
	Outcome       integration.WebhookOutcome `gorm:"type:varchar(32)"`
	Error         string                     `gorm:"type:text"`
	Payload       datatypes.JSON
	DeliveryCount int       `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (WebhookEventModel) TableName() string {
	return "webhook_events"
}

// FromDomain populates the model from a domain event
func (m *WebhookEventModel) FromDomain(e *integration.WebhookEvent) {
	m.ID = e.ID
	m.Vendor = e.Vendor
	m.EventID = e.EventID
	m.TenantID = e.TenantID
	m.ConnectionID = e.ConnectionID
	m.EventType = e.EventType
	m.ReceivedAt = e.ReceivedAt
	m.ProcessedAt = e.ProcessedAt
	m.Outcome = e.Outcome
	m.Error = e.Error
	m.Payload = datatypes.JSON(e.Payload)
	m.DeliveryCount = e.DeliveryCount
}

// ToDomain converts the model to a domain event
func (m *WebhookEventModel) ToDomain() *integration.WebhookEvent {
	return &integration.WebhookEvent{
		ID:            m.ID,
		Vendor:        m.Vendor,
		EventID:       m.EventID,
		TenantID:      m.TenantID,
		ConnectionID:  m.ConnectionID,
		EventType:     m.EventType,
		ReceivedAt:    m.ReceivedAt.UTC(),
		ProcessedAt:   utcPtr(m.ProcessedAt),
		Outcome:       m.Outcome,
		Error:         m.Error,
		Payload:       json.RawMessage(m.Payload),
		DeliveryCount: m.DeliveryCount,
	}
}
