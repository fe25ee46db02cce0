package integration

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// SyncStatus represents the state of a (tenant, entity type) sync
// ---------------------------------------------------------------------------

// SyncStatus represents the state of a (tenant, entity type) sync
type SyncStatus string

const (
	// SyncStatusIdle means no sync has run yet
	SyncStatusIdle SyncStatus = "idle"
	// SyncStatusRunning means a sync is in flight
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusSuccess means the last sync completed cleanly
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusPartial means the last sync completed with record errors or possible truncation
	SyncStatusPartial SyncStatus = "partial"
	// SyncStatusError means the last sync failed
	SyncStatusError SyncStatus = "error"
)

// IsValid returns true if the status is valid
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusIdle, SyncStatusRunning, SyncStatusSuccess, SyncStatusPartial, SyncStatusError:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for the outcomes a finished sync can record
func (s SyncStatus) IsTerminal() bool {
	return s == SyncStatusSuccess || s == SyncStatusPartial || s == SyncStatusError
}

// String returns the string representation of SyncStatus
func (s SyncStatus) String() string {
	return string(s)
}

// ---------------------------------------------------------------------------
// SyncState
// ---------------------------------------------------------------------------

// SyncState is the durable sync record for one (tenant, entity type) pair.
// It is created lazily on the first attempt and only deleted on tenant
// offboarding.
type SyncState struct {
	TenantID   uuid.UUID
	EntityType EntityType
	Status     SyncStatus
	// LastSyncAt is the start time of the last success or partial run
	LastSyncAt *time.Time
	// LastSuccessAt is the start time of the last run without record errors
	// or possible truncation
	LastSuccessAt *time.Time
	// LastStartedAt is when the most recent attempt began
	LastStartedAt *time.Time
	// LastTier is the scheduler tier (or "manual") of the most recent attempt
	LastTier         string
	RecordsProcessed int
	// ErrorCount is the number of consecutive failed attempts
	ErrorCount      int
	ErrorDetail     *SyncErrorDetail
	NextScheduledAt *time.Time
	UpdatedAt       time.Time
}

// IsRunning reports whether a sync is in flight
func (s *SyncState) IsRunning() bool {
	return s.Status == SyncStatusRunning
}

// IsDue reports whether the pair should be synced at now
func (s *SyncState) IsDue(now time.Time) bool {
	if s.IsRunning() {
		return false
	}
	return s.NextScheduledAt == nil || !now.Before(*s.NextScheduledAt)
}

// SyncOutcome is what a finished attempt writes back to SyncState
type SyncOutcome struct {
	// Status must be terminal
	Status           SyncStatus
	RecordsProcessed int
	// StartedAt becomes LastSyncAt on success or partial, and LastSuccessAt
	// on success
	StartedAt       time.Time
	FinishedAt      time.Time
	NextScheduledAt time.Time
	ErrorDetail     *SyncErrorDetail
}

// ---------------------------------------------------------------------------
// SyncStateRepository
// ---------------------------------------------------------------------------

// SyncStateRepository persists SyncState. TryStart is the overlap guard: it
// must be a single conditional write so concurrent starters cannot both win.
type SyncStateRepository interface {
	// Get returns the state or ErrSyncStateNotFound
	Get(ctx context.Context, tenantID uuid.UUID, entityType EntityType) (*SyncState, error)

	// ListByTenant returns every state for a tenant ordered by entity type
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]SyncState, error)

	// TryStart marks the pair running, creating the row if needed. It fails
	// with ErrSyncAlreadyRunning when another attempt holds the row, unless
	// that attempt started more than staleAfter ago.
	TryStart(ctx context.Context, tenantID uuid.UUID, entityType EntityType, tier string, startedAt time.Time, staleAfter time.Duration) (*SyncState, error)

	// Finish records the outcome of an attempt started with TryStart
	Finish(ctx context.Context, tenantID uuid.UUID, entityType EntityType, outcome SyncOutcome) error

	// NextRetryAt returns the earliest NextScheduledAt after the given time
	// among failed pairs of the entity types, or nil when none is pending
	NextRetryAt(ctx context.Context, entityTypes []EntityType, after time.Time) (*time.Time, error)

	// DeleteByTenant removes every state for an offboarded tenant
	DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error)
}
