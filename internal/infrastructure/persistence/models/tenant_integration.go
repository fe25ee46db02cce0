package models

import (
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
)

// TenantIntegrationModel maps the tenant_integrations table, which is owned
// by the tenant subsystem. This service only reads it.
type TenantIntegrationModel struct {
	ID           uuid.UUID              `gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID              `gorm:"type:uuid;not null;uniqueIndex"`
	Name         string                 `gorm:"type:varchar(255)"`
	ConnectionID string                 `gorm:"type:varchar(255);not null;uniqueIndex"`
	Vendor       integration.VendorCode `gorm:"type:varchar(32);not null"`
	AccessToken  string                 `gorm:"type:text"`
	BaseURL      string                 `gorm:"type:varchar(512)"`
	Enabled      bool                   `gorm:"not null;index"`
	CreatedAt    time.Time              `gorm:"not null"`
	UpdatedAt    time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (TenantIntegrationModel) TableName() string {
	return "tenant_integrations"
}

// ToDomain converts the model to a domain Tenant
func (m *TenantIntegrationModel) ToDomain() integration.Tenant {
	return integration.Tenant{
		ID:           m.TenantID,
		Name:         m.Name,
		ConnectionID: m.ConnectionID,
		Vendor:       m.Vendor,
		Credentials: integration.Credentials{
			AccessToken: m.AccessToken,
			BaseURL:     m.BaseURL,
		},
	}
}
