package integration

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// WebhookOutcome
// ---------------------------------------------------------------------------

// WebhookOutcome is the result of handling one webhook delivery
type WebhookOutcome string

const (
	// WebhookOutcomeProcessed means the entity was reconciled
	WebhookOutcomeProcessed WebhookOutcome = "processed"
	// WebhookOutcomeFailed means the event could never succeed (malformed entity, permanent source error)
	WebhookOutcomeFailed WebhookOutcome = "failed"
	// WebhookOutcomeUnknownConnection means no tenant matched the connection ID
	WebhookOutcomeUnknownConnection WebhookOutcome = "unknown_connection"
	// WebhookOutcomeIgnored means the event category is not synced
	WebhookOutcomeIgnored WebhookOutcome = "ignored"
	// WebhookOutcomeTransientFailure means processing should be retried on redelivery
	WebhookOutcomeTransientFailure WebhookOutcome = "transient_failure"
	// WebhookOutcomeAlreadyProcessed is reported for redeliveries of processed events
	WebhookOutcomeAlreadyProcessed WebhookOutcome = "already_processed"
	// WebhookOutcomeInFlight is reported when another delivery of the same event is being processed
	WebhookOutcomeInFlight WebhookOutcome = "in_flight"
)

// String returns the string representation of WebhookOutcome
func (o WebhookOutcome) String() string {
	return string(o)
}

// ---------------------------------------------------------------------------
// WebhookEvent
// ---------------------------------------------------------------------------

// WebhookEvent records an inbound push event for deduplication and replay.
// (Vendor, EventID) is unique; ProcessedAt is set exactly once.
type WebhookEvent struct {
	ID           uuid.UUID
	Vendor       VendorCode
	EventID      string
	TenantID     *uuid.UUID
	ConnectionID string
	EventType    string
	ReceivedAt   time.Time
	ProcessedAt  *time.Time
	Outcome      WebhookOutcome
	Error        string
	Payload      json.RawMessage
	// DeliveryCount is how many times the vendor delivered the event
	DeliveryCount int
}

// IsProcessed reports whether the event reached a final outcome
func (e *WebhookEvent) IsProcessed() bool {
	return e.ProcessedAt != nil
}

// WebhookCompletion is the result written back to a WebhookEvent
type WebhookCompletion struct {
	TenantID *uuid.UUID
	Outcome  WebhookOutcome
	Error    string
	// ProcessedAt marks the event final. Nil leaves the event open for redelivery.
	ProcessedAt *time.Time
}

// WebhookEventRepository persists WebhookEvents
type WebhookEventRepository interface {
	// Record inserts the event, or returns the stored one with its delivery
	// count incremented when the (Vendor, EventID) pair already exists.
	// inserted is true only for the first delivery.
	Record(ctx context.Context, event *WebhookEvent) (stored *WebhookEvent, inserted bool, err error)

	// Complete writes the outcome. Completing an already processed event is a no-op.
	Complete(ctx context.Context, vendor VendorCode, eventID string, completion WebhookCompletion) error

	// FindByEventID returns the event or ErrRecordNotFound
	FindByEventID(ctx context.Context, vendor VendorCode, eventID string) (*WebhookEvent, error)
}

// ClaimStore collapses concurrent deliveries of one webhook event. Claim
// returns true for exactly one caller until the TTL expires or the claim is
// released. It is a fast path only; WebhookEventRepository stays the source
// of truth for processed events.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
