package integration

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// ChildKind identifies a fan-out collection owned by a parent record
// ---------------------------------------------------------------------------

// ChildKind identifies a fan-out collection owned by a parent record
type ChildKind string

const (
	// ChildKindLineItem is an order line item
	ChildKindLineItem ChildKind = "line_item"
	// ChildKindTrackingEvent is a shipment tracking event
	ChildKindTrackingEvent ChildKind = "tracking_event"
	// ChildKindInboundLine is an expected line on an inbound shipment
	ChildKindInboundLine ChildKind = "inbound_line"
)

// String returns the string representation of ChildKind
func (k ChildKind) String() string {
	return string(k)
}

// ---------------------------------------------------------------------------
// Value Objects
// ---------------------------------------------------------------------------

// ChildRecord is one row of a parent's child collection. Children are always
// replaced as a whole set together with their parent.
type ChildRecord struct {
	// Kind is the collection this row belongs to
	Kind ChildKind
	// Position is the zero-based index within the vendor payload
	Position int
	// ExternalID is the vendor's ID for the row, if it has one
	ExternalID string
	// SKU for line items
	SKU string
	// Quantity for line items and inbound lines
	Quantity decimal.Decimal
	// Status as reported by the vendor (tracking event code, line status)
	Status string
	// OccurredAt for tracking events
	OccurredAt *time.Time
	// Payload is the verbatim vendor JSON for the row
	Payload json.RawMessage
}

// RawRecord is one entity as returned by a SourceAdapter, before
// normalization.
type RawRecord struct {
	// ExternalID is the vendor-assigned identifier
	ExternalID string
	// VendorStatus is the status string in the vendor's vocabulary
	VendorStatus string
	// UpdatedAtRemote is the vendor's last-modified timestamp, if provided
	UpdatedAtRemote *time.Time
	// Payload is the verbatim vendor JSON
	Payload json.RawMessage
	// Children holds the entity's fan-out rows decoded by the adapter
	Children []ChildRecord
	// DecodeErr is set when the adapter could not decode the payload. Such a
	// record never validates.
	DecodeErr error
}

// Validate checks that the raw record can be reconciled
func (r *RawRecord) Validate() error {
	if r.DecodeErr != nil {
		if errors.Is(r.DecodeErr, ErrInvalidRecord) {
			return r.DecodeErr
		}
		return fmt.Errorf("%w: %v", ErrInvalidRecord, r.DecodeErr)
	}
	if strings.TrimSpace(r.ExternalID) == "" {
		return fmt.Errorf("%w: missing external ID", ErrInvalidRecord)
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidRecord)
	}
	return nil
}

// ExternalRecord is the local copy of a vendor entity. (TenantID, EntityType,
// ExternalID) identifies it; at most one row exists per key.
type ExternalRecord struct {
	// LocalID is the system-assigned primary key
	LocalID uuid.UUID
	// TenantID is the tenant owning the record
	TenantID uuid.UUID
	// EntityType is the kind of entity
	EntityType EntityType
	// ExternalID is the vendor-assigned identifier
	ExternalID string
	// VendorStatus is the original vendor status string
	VendorStatus string
	// NormalizedStatus is VendorStatus mapped to the internal vocabulary
	NormalizedStatus NormalizedStatus
	// RawPayload is the verbatim vendor JSON, kept for audit and replay
	RawPayload json.RawMessage
	// PayloadHash is the SHA-256 of the compacted payload
	PayloadHash string
	// UpdatedAtRemote is the vendor's last-modified timestamp
	UpdatedAtRemote *time.Time
	// SyncedAt is when the record was last seen by a sync or webhook
	SyncedAt time.Time
	// Children is the full child collection
	Children []ChildRecord
}

// NewExternalRecord builds the record to upsert from a raw vendor record
func NewExternalRecord(tenantID uuid.UUID, entityType EntityType, raw RawRecord, status NormalizedStatus, syncedAt time.Time) (*ExternalRecord, error) {
	if tenantID == uuid.Nil {
		return nil, ErrInvalidTenantID
	}
	if !entityType.IsValid() {
		return nil, ErrInvalidEntityType
	}
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	payload := raw.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var updatedAt *time.Time
	if raw.UpdatedAtRemote != nil && !raw.UpdatedAtRemote.IsZero() {
		// Postgres stores microseconds; truncate so later comparisons are exact.
		t := raw.UpdatedAtRemote.UTC().Truncate(time.Microsecond)
		updatedAt = &t
	}

	return &ExternalRecord{
		TenantID:         tenantID,
		EntityType:       entityType,
		ExternalID:       strings.TrimSpace(raw.ExternalID),
		VendorStatus:     raw.VendorStatus,
		NormalizedStatus: status,
		RawPayload:       payload,
		PayloadHash:      HashPayload(payload),
		UpdatedAtRemote:  updatedAt,
		SyncedAt:         syncedAt.UTC().Truncate(time.Microsecond),
		Children:         raw.Children,
	}, nil
}

// HashPayload returns the hex SHA-256 of the payload with insignificant
// whitespace removed, so re-serialized but identical payloads hash equally.
func HashPayload(payload json.RawMessage) string {
	var buf bytes.Buffer
	data := []byte(payload)
	if err := json.Compact(&buf, payload); err == nil {
		data = buf.Bytes()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ---------------------------------------------------------------------------
// ExternalRecordRepository
// ---------------------------------------------------------------------------

// UpsertOutcome reports what an upsert did
type UpsertOutcome string

const (
	// UpsertCreated means no record existed and one was inserted
	UpsertCreated UpsertOutcome = "created"
	// UpsertUpdated means the stored record was older and was overwritten
	UpsertUpdated UpsertOutcome = "updated"
	// UpsertSkipped means the stored record was the same or newer (ConflictSkipped)
	UpsertSkipped UpsertOutcome = "skipped"
)

// ExternalRecordRepository persists ExternalRecords. Every method is scoped
// to a single tenant.
type ExternalRecordRepository interface {
	// Upsert creates or conditionally updates the record keyed by
	// (TenantID, EntityType, ExternalID) as a single atomic write. An existing
	// record is only overwritten when the incoming UpdatedAtRemote is newer,
	// or when the stored timestamp is null. Children are replaced in the same
	// transaction when the parent is written. rec.LocalID is set on return.
	Upsert(ctx context.Context, rec *ExternalRecord) (UpsertOutcome, error)

	// TouchSynced updates SyncedAt for records that were seen but not changed
	TouchSynced(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalIDs []string, at time.Time) error

	// FindByExternalID returns the record with its children, or ErrRecordNotFound
	FindByExternalID(ctx context.Context, tenantID uuid.UUID, entityType EntityType, externalID string) (*ExternalRecord, error)

	// CountByTenant counts records of a type for a tenant
	CountByTenant(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (int64, error)
}
