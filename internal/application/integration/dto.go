package integration

import (
	"encoding/json"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Reconciliation
// ---------------------------------------------------------------------------

// ReconcileResult summarizes one reconciled batch
type ReconcileResult struct {
	Created     int                       `json:"created"`
	Updated     int                       `json:"updated"`
	Skipped     int                       `json:"skipped"`
	MappingGaps []integration.MappingGap  `json:"-"`
	Errors      []integration.RecordError `json:"errors,omitempty"`
	// ErrorsTotal counts every failed record; Errors holds at most the
	// configured number of them
	ErrorsTotal int         `json:"errors_total"`
	CreatedIDs  []uuid.UUID `json:"created_ids,omitempty"`
	UpdatedIDs  []uuid.UUID `json:"updated_ids,omitempty"`
	// StorageErr is the first storage failure seen, if any. Records that
	// failed this way may succeed on retry.
	StorageErr error `json:"-"`
}

// Processed returns the number of records that were attempted
func (r *ReconcileResult) Processed() int {
	return r.Created + r.Updated + r.Skipped + r.ErrorsTotal
}

// Merge adds other's counts and IDs into r, keeping at most maxErrors errors
func (r *ReconcileResult) Merge(other *ReconcileResult, maxErrors int) {
	if other == nil {
		return
	}
	r.Created += other.Created
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.MappingGaps = append(r.MappingGaps, other.MappingGaps...)
	r.ErrorsTotal += other.ErrorsTotal
	for _, e := range other.Errors {
		if len(r.Errors) >= maxErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
	r.CreatedIDs = append(r.CreatedIDs, other.CreatedIDs...)
	r.UpdatedIDs = append(r.UpdatedIDs, other.UpdatedIDs...)
	if r.StorageErr == nil {
		r.StorageErr = other.StorageErr
	}
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// WebhookEnvelope is the generic push event body
type WebhookEnvelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	ConnectionID string          `json:"connection_id"`
	OccurredAt   string          `json:"occurred_at,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// WebhookResult is returned for every authenticated delivery
type WebhookResult struct {
	EventID   string                     `json:"event_id,omitempty"`
	EventType string                     `json:"event_type,omitempty"`
	Outcome   integration.WebhookOutcome `json:"outcome"`
	Message   string                     `json:"message,omitempty"`
	TenantID  *uuid.UUID                 `json:"-"`
	Reconcile *ReconcileResult           `json:"-"`
}
