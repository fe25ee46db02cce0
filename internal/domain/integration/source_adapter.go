package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Tenant
// ---------------------------------------------------------------------------

// Credentials are the per-tenant secrets needed to call the vendor API
type Credentials struct {
	// AccessToken is sent as a bearer token
	AccessToken string
	// BaseURL overrides the adapter's default API endpoint when set
	BaseURL string
}

// Tenant is a brand/organization with an active WMS connection
type Tenant struct {
	// ID is the tenant identifier every record is scoped by
	ID uuid.UUID
	// Name is a display name for logs
	Name string
	// ConnectionID is the vendor-side identifier carried by webhook events
	ConnectionID string
	// Vendor selects the SourceAdapter implementation
	Vendor VendorCode
	// Credentials for the vendor API
	Credentials Credentials
}

// TenantDirectory is the read-only view of the tenant subsystem this service
// depends on
type TenantDirectory interface {
	// ListActiveTenants returns every tenant with an enabled WMS connection
	ListActiveTenants(ctx context.Context) ([]Tenant, error)
	// FindByID returns a tenant or ErrTenantNotFound
	FindByID(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	// FindByConnectionID resolves a webhook connection ID, or ErrTenantNotFound
	FindByConnectionID(ctx context.Context, connectionID string) (*Tenant, error)
}

// ---------------------------------------------------------------------------
// SourceAdapter Port
// ---------------------------------------------------------------------------

// ListResult is the accumulated result of following a cursor chain
type ListResult struct {
	// Records from every page fetched
	Records []RawRecord
	// NextCursor is non-empty when MaxPages stopped pagination early
	NextCursor string
	// Pages is the number of pages fetched
	Pages int
	// PossibleTruncation is set when the vendor appears to have silently
	// capped the result set (a round-number page with no cursor) or when
	// pagination stopped at the page cap
	PossibleTruncation bool
}

// SourceAdapter is the port for one WMS vendor's API.
//
// since is advisory: vendors may ignore it, so implementations re-check
// timestamps client-side. Transient failures are retried internally and rate
// limit waits happen inside the call.
type SourceAdapter interface {
	// Vendor returns the vendor this adapter implements
	Vendor() VendorCode

	// ListEntities fetches entities updated since the given time, following
	// cursors from cursor (empty for the first page) until exhausted or the
	// page cap is reached
	ListEntities(ctx context.Context, tenant Tenant, entityType EntityType, since time.Time, cursor string) (*ListResult, error)

	// FetchOne fetches a single entity by external ID
	FetchOne(ctx context.Context, tenant Tenant, entityType EntityType, externalID string) (*RawRecord, error)

	// DecodeRecord decodes one vendor entity body, as found in webhook
	// payloads, into a RawRecord
	DecodeRecord(entityType EntityType, data json.RawMessage) (*RawRecord, error)

	// VerifySignature checks a webhook signature against the raw body
	VerifySignature(payload []byte, signature string, secret string) bool
}

// SourceAdapterRegistry resolves the adapter for a vendor
type SourceAdapterRegistry interface {
	// Get returns the adapter for a vendor or ErrAdapterNotFound
	Get(vendor VendorCode) (SourceAdapter, error)
	// Vendors lists registered vendors
	Vendors() []VendorCode
}
