// Package tenant provides tenant scoping for GORM queries.
//
// Every repository query against a tenant-owned table goes through Scope so
// a missing tenant ID fails loudly instead of reading across tenants.
//
// Usage:
//
//	db.WithContext(ctx).Scopes(tenant.Scope(tenantID)).Find(&records)
package tenant

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTenantIDRequired is returned when a scoped query is built without a tenant
var ErrTenantIDRequired = errors.New("tenant_id is required for scoped queries")

// Column is the tenant column used by every tenant-owned table
const Column = "tenant_id"

// Scope applies tenant filtering to GORM queries. A nil tenant ID adds
// ErrTenantIDRequired to the statement so it never executes.
func Scope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if tenantID == uuid.Nil {
			_ = db.AddError(ErrTenantIDRequired)
			return db
		}
		return db.Where(Column+" = ?", tenantID)
	}
}
