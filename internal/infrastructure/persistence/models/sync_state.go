package models

import (
	"encoding/json"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SyncStateModel is the persistence model for integration.SyncState
type SyncStateModel struct {
	TenantID         uuid.UUID              `gorm:"type:uuid;primaryKey"`
	EntityType       integration.EntityType `gorm:"type:varchar(32);primaryKey"`
	Status           integration.SyncStatus `gorm:"type:varchar(16);not null"`
	LastSyncAt       *time.Time
	LastSuccessAt    *time.Time
	LastStartedAt    *time.Time
	LastTier         string `gorm:"type:varchar(32)"`
	RecordsProcessed int    `gorm:"not null"`
	ErrorCount       int    `gorm:"not null"`
	ErrorDetail      datatypes.JSON
	NextScheduledAt  *time.Time `gorm:"index"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SyncStateModel) TableName() string {
	return "sync_states"
}

// ToDomain converts the model to a domain SyncState
func (m *SyncStateModel) ToDomain() *integration.SyncState {
	state := &integration.SyncState{
		TenantID:         m.TenantID,
		EntityType:       m.EntityType,
		Status:           m.Status,
		LastSyncAt:       utcPtr(m.LastSyncAt),
		LastSuccessAt:    utcPtr(m.LastSuccessAt),
		LastStartedAt:    utcPtr(m.LastStartedAt),
		LastTier:         m.LastTier,
		RecordsProcessed: m.RecordsProcessed,
		ErrorCount:       m.ErrorCount,
		NextScheduledAt:  utcPtr(m.NextScheduledAt),
		UpdatedAt:        m.UpdatedAt,
	}
	if len(m.ErrorDetail) > 0 && string(m.ErrorDetail) != "null" {
		var detail integration.SyncErrorDetail
		if err := json.Unmarshal(m.ErrorDetail, &detail); err == nil {
			state.ErrorDetail = &detail
		}
	}
	return state
}

// EncodeErrorDetail serializes an error detail for the error_detail column.
// A nil detail encodes to nil so the column is cleared.
func EncodeErrorDetail(detail *integration.SyncErrorDetail) (datatypes.JSON, error) {
	if detail == nil {
		return nil, nil
	}
	b, err := json.Marshal(detail)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
