package persistence

import (
	"context"
	"errors"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTenantDirectory reads tenant WMS connections from tenant_integrations.
// Disabled connections are invisible to every lookup.
type GormTenantDirectory struct {
	db *gorm.DB
}

// NewGormTenantDirectory creates a new GormTenantDirectory
func NewGormTenantDirectory(db *gorm.DB) *GormTenantDirectory {
	return &GormTenantDirectory{db: db}
}

// Ensure GormTenantDirectory implements the interface
var _ integration.TenantDirectory = (*GormTenantDirectory)(nil)

// ListActiveTenants returns every enabled tenant ordered by tenant ID
func (d *GormTenantDirectory) ListActiveTenants(ctx context.Context) ([]integration.Tenant, error) {
	var rows []models.TenantIntegrationModel
	if err := d.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("tenant_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	tenants := make([]integration.Tenant, 0, len(rows))
	for i := range rows {
		tenants = append(tenants, rows[i].ToDomain())
	}
	return tenants, nil
}

// FindByID returns the enabled tenant or ErrTenantNotFound
func (d *GormTenantDirectory) FindByID(ctx context.Context, tenantID uuid.UUID) (*integration.Tenant, error) {
	return d.findOne(ctx, "tenant_id = ?", tenantID)
}

// FindByConnectionID resolves a webhook connection ID to its tenant
func (d *GormTenantDirectory) FindByConnectionID(ctx context.Context, connectionID string) (*integration.Tenant, error) {
	if connectionID == "" {
		return nil, integration.ErrTenantNotFound
	}
	return d.findOne(ctx, "connection_id = ?", connectionID)
}

func (d *GormTenantDirectory) findOne(ctx context.Context, query string, arg any) (*integration.Tenant, error) {
	var row models.TenantIntegrationModel
	err := d.db.WithContext(ctx).
		Where(query, arg).
		Where("enabled = ?", true).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrTenantNotFound
		}
		return nil, err
	}
	t := row.ToDomain()
	return &t, nil
}
