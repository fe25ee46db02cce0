package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
)

// TriggerSyncRequest is the body of a manual sync request
type TriggerSyncRequest struct {
	// EntityType is a single entity type or "all"
	EntityType string `json:"entityType" binding:"required,entity_selector" example:"orders"`
	// LookbackDays overrides the window start; defaults to the last successful sync
	LookbackDays *int `json:"lookbackDays,omitempty" binding:"omitnil,min=1,max=365" example:"7"`
}

// SyncStateResponse is the API view of one (tenant, entity type) sync state
type SyncStateResponse struct {
	TenantID         uuid.UUID                    `json:"tenant_id"`
	EntityType       string                       `json:"entity_type"`
	Status           string                       `json:"status"`
	LastSyncAt       *time.Time                   `json:"last_sync_at,omitempty"`
	LastSuccessAt    *time.Time                   `json:"last_success_at,omitempty"`
	LastStartedAt    *time.Time                   `json:"last_started_at,omitempty"`
	LastTier         string                       `json:"last_tier,omitempty"`
	RecordsProcessed int                          `json:"records_processed"`
	ErrorCount       int                          `json:"error_count"`
	ErrorDetail      *integration.SyncErrorDetail `json:"error_detail,omitempty"`
	NextScheduledAt  *time.Time                   `json:"next_scheduled_at,omitempty"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

// ToSyncStateResponse converts a domain SyncState
func ToSyncStateResponse(s integration.SyncState) SyncStateResponse {
	return SyncStateResponse{
		TenantID:         s.TenantID,
		EntityType:       s.EntityType.String(),
		Status:           s.Status.String(),
		LastSyncAt:       s.LastSyncAt,
		LastSuccessAt:    s.LastSuccessAt,
		LastStartedAt:    s.LastStartedAt,
		LastTier:         s.LastTier,
		RecordsProcessed: s.RecordsProcessed,
		ErrorCount:       s.ErrorCount,
		ErrorDetail:      s.ErrorDetail,
		NextScheduledAt:  s.NextScheduledAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// ToSyncStateResponses converts a list of domain SyncStates
func ToSyncStateResponses(states []integration.SyncState) []SyncStateResponse {
	out := make([]SyncStateResponse, 0, len(states))
	for _, s := range states {
		out = append(out, ToSyncStateResponse(s))
	}
	return out
}

// PurgeSyncStateResponse reports how many sync states were removed
type PurgeSyncStateResponse struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Deleted  int64     `json:"deleted"`
}

// WebhookAck is the body returned to the WMS for every authenticated
// delivery. It is deliberately not wrapped in Response.
type WebhookAck struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message,omitempty"`
}
