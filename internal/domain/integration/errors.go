package integration

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// Source errors
	ErrTransientSource    = errors.New("integration: transient source error")
	ErrPermanentSource    = errors.New("integration: permanent source error")
	ErrPossibleTruncation = errors.New("integration: source result possibly truncated")
	ErrAdapterNotFound    = errors.New("integration: source adapter not found")

	// Reconciliation outcomes and errors
	ErrConflictSkipped   = errors.New("integration: newer version already stored")
	ErrInvalidRecord     = errors.New("integration: invalid record")
	ErrInvalidEntityType = errors.New("integration: invalid entity type")
	ErrInvalidTenantID   = errors.New("integration: invalid tenant ID")
	ErrRecordNotFound    = errors.New("integration: record not found")

	// Webhook errors
	ErrAuthentication = errors.New("integration: webhook signature verification failed")

	// Sync state errors
	ErrSyncAlreadyRunning = errors.New("integration: sync already running")
	ErrSyncStateNotFound  = errors.New("integration: sync state not found")
	ErrSyncSuperseded     = errors.New("integration: sync run was reclaimed by another worker")

	// Tenant directory errors
	ErrTenantNotFound = errors.New("integration: tenant not found")
)

// SourceError is returned by source adapters. Transient errors (network,
// 5xx, 429) are retried inside the adapter before they surface; permanent
// errors (4xx except 429, malformed payloads) are never retried.
type SourceError struct {
	// Op is the adapter operation, e.g. "list orders"
	Op string
	// StatusCode is the HTTP status, or 0 for transport failures
	StatusCode int
	// Transient marks the error as retryable
	Transient bool
	// RetryAfter is the server-provided wait hint, if any
	RetryAfter time.Duration
	// Err is the underlying cause
	Err error
}

// NewTransientSourceError creates a retryable source error
func NewTransientSourceError(op string, statusCode int, err error) *SourceError {
	return &SourceError{Op: op, StatusCode: statusCode, Transient: true, Err: err}
}

// NewPermanentSourceError creates a non-retryable source error
func NewPermanentSourceError(op string, statusCode int, err error) *SourceError {
	return &SourceError{Op: op, StatusCode: statusCode, Err: err}
}

// Error implements the error interface
func (e *SourceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("integration: %s source error during %s (status %d): %v", kind, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("integration: %s source error during %s: %v", kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause
func (e *SourceError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransientSource or ErrPermanentSource according to Transient
func (e *SourceError) Is(target error) bool {
	switch target {
	case ErrTransientSource:
		return e.Transient
	case ErrPermanentSource:
		return !e.Transient
	default:
		return false
	}
}

// IsTransient reports whether err is worth retrying later
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientSource) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ---------------------------------------------------------------------------
// Sync error details
// ---------------------------------------------------------------------------

// SyncErrorKind classifies why a sync attempt did not fully succeed
type SyncErrorKind string

const (
	SyncErrorTimeout            SyncErrorKind = "timeout"
	SyncErrorCancelled          SyncErrorKind = "cancelled"
	SyncErrorTransientSource    SyncErrorKind = "transient_source"
	SyncErrorPermanentSource    SyncErrorKind = "permanent_source"
	SyncErrorPossibleTruncation SyncErrorKind = "possible_truncation"
	SyncErrorRecordErrors       SyncErrorKind = "record_errors"
	SyncErrorStorage            SyncErrorKind = "storage"
	SyncErrorInternal           SyncErrorKind = "internal"
)

// ClassifySyncError maps a sync failure to its SyncErrorKind.
// Errors that are not source or context errors are assumed to come from storage.
func ClassifySyncError(err error) SyncErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return SyncErrorTimeout
	case errors.Is(err, context.Canceled):
		return SyncErrorCancelled
	case errors.Is(err, ErrTransientSource):
		return SyncErrorTransientSource
	case errors.Is(err, ErrPermanentSource):
		return SyncErrorPermanentSource
	case errors.Is(err, ErrPossibleTruncation):
		return SyncErrorPossibleTruncation
	case errors.Is(err, ErrAdapterNotFound), errors.Is(err, ErrInvalidEntityType):
		return SyncErrorInternal
	default:
		return SyncErrorStorage
	}
}

// RecordError identifies one record that failed during reconciliation
type RecordError struct {
	ExternalID string `json:"external_id"`
	Reason     string `json:"reason"`
}

// SyncErrorDetail is the structured error stored on a SyncState
type SyncErrorDetail struct {
	Kind         SyncErrorKind `json:"kind"`
	Message      string        `json:"message"`
	RecordErrors []RecordError `json:"record_errors,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}
