package models

import (
	"encoding/json"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ExternalRecordModel is the persistence model for integration.ExternalRecord.
// The unique index on (tenant_id, entity_type, external_id) backs the
// conditional upsert.
type ExternalRecordModel struct {
	ID               uuid.UUID                    `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID                    `gorm:"type:uuid;not null;uniqueIndex:uq_wms_records_key,priority:1"`
	EntityType       integration.EntityType       `gorm:"type:varchar(32);not null;uniqueIndex:uq_wms_records_key,priority:2"`
	ExternalID       string                       `gorm:"type:varchar(255);not null;uniqueIndex:uq_wms_records_key,priority:3"`
	VendorStatus     string                       `gorm:"type:varchar(100)"`
	NormalizedStatus integration.NormalizedStatus `gorm:"type:varchar(32);not null;index"`
	RawPayload       datatypes.JSON               `gorm:"not null"`
	PayloadHash      string                       `gorm:"type:char(64);not null"`
	RemoteUpdatedAt  *time.Time
	SyncedAt         time.Time `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExternalRecordModel) TableName() string {
	return "wms_records"
}

// FromDomain populates the model from a domain record
func (m *ExternalRecordModel) FromDomain(r *integration.ExternalRecord) {
	m.ID = r.LocalID
	m.TenantID = r.TenantID
	m.EntityType = r.EntityType
	m.ExternalID = r.ExternalID
	m.VendorStatus = r.VendorStatus
	m.NormalizedStatus = r.NormalizedStatus
	m.RawPayload = datatypes.JSON(r.RawPayload)
	m.PayloadHash = r.PayloadHash
	m.RemoteUpdatedAt = r.UpdatedAtRemote
	m.SyncedAt = r.SyncedAt
}

// ToDomain converts the model (without children) to a domain record
func (m *ExternalRecordModel) ToDomain() *integration.ExternalRecord {
	var remote *time.Time
	if m.RemoteUpdatedAt != nil {
		t := m.RemoteUpdatedAt.UTC()
		remote = &t
	}
	return &integration.ExternalRecord{
		LocalID:          m.ID,
		TenantID:         m.TenantID,
		EntityType:       m.EntityType,
		ExternalID:       m.ExternalID,
		VendorStatus:     m.VendorStatus,
		NormalizedStatus: m.NormalizedStatus,
		RawPayload:       json.RawMessage(m.RawPayload),
		PayloadHash:      m.PayloadHash,
		UpdatedAtRemote:  remote,
		SyncedAt:         m.SyncedAt.UTC(),
	}
}

// ExternalRecordChildModel is one fan-out row of an ExternalRecordModel
type ExternalRecordChildModel struct {
	ID         uuid.UUID             `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID             `gorm:"type:uuid;not null;index"`
	RecordID   uuid.UUID             `gorm:"type:uuid;not null;index:idx_wms_record_children_record,priority:1"`
	Kind       integration.ChildKind `gorm:"type:varchar(32);not null"`
	Position   int                   `gorm:"not null;index:idx_wms_record_children_record,priority:2"`
	ExternalID string                `gorm:"type:varchar(255)"`
	SKU        string                `gorm:"type:varchar(255)"`
	Quantity   decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Status     string                `gorm:"type:varchar(100)"`
	OccurredAt *time.Time
	Payload    datatypes.JSON
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ExternalRecordChildModel) TableName() string {
	return "wms_record_children"
}

// NewChildModel builds the row for a child of the given parent
func NewChildModel(tenantID, recordID uuid.UUID, c integration.ChildRecord) *ExternalRecordChildModel {
	var occurred *time.Time
	if c.OccurredAt != nil {
		t := c.OccurredAt.UTC()
		occurred = &t
	}
	return &ExternalRecordChildModel{
		ID:         uuid.New(),
		TenantID:   tenantID,
		RecordID:   recordID,
		Kind:       c.Kind,
		Position:   c.Position,
		ExternalID: c.ExternalID,
		SKU:        c.SKU,
		Quantity:   c.Quantity,
		Status:     c.Status,
		OccurredAt: occurred,
		Payload:    datatypes.JSON(c.Payload),
	}
}

// ToDomain converts the model to a domain child record
func (m *ExternalRecordChildModel) ToDomain() integration.ChildRecord {
	return integration.ChildRecord{
		Kind:       m.Kind,
		Position:   m.Position,
		ExternalID: m.ExternalID,
		SKU:        m.SKU,
		Quantity:   m.Quantity,
		Status:     m.Status,
		OccurredAt: m.OccurredAt,
		Payload:    json.RawMessage(m.Payload),
	}
}
