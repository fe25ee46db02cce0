package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/logger"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/scheduler"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/dto"
	"github.com/gobbleclark/packr-cursor-sub005/internal/interfaces/http/middleware"
)

const (
	defaultRunHistoryLimit = 20
	maxRunHistoryLimit     = 100
)

// SyncController is the part of the scheduler the sync endpoints drive
type SyncController interface {
	TriggerManualSync(ctx context.Context, req scheduler.ManualSyncRequest) (*scheduler.ManualSyncResult, error)
	GetRunHistoryByTenant(tenantID uuid.UUID, limit int) []scheduler.SyncRun
	Stats() scheduler.SchedulerStats
}

// SyncHandler handles manual sync and sync status endpoints
type SyncHandler struct {
	BaseHandler
	controller SyncController
	states     integration.SyncStateRepository
	tenants    integration.TenantDirectory
}

// NewSyncHandler creates a new SyncHandler
func NewSyncHandler(controller SyncController, states integration.SyncStateRepository, tenants integration.TenantDirectory) *SyncHandler {
	return &SyncHandler{
		controller: controller,
		states:     states,
		tenants:    tenants,
	}
}

// TriggerSync godoc
// @Summary      Trigger a manual sync
// @Description  Runs a sync for one entity type or "all" immediately, ignoring cadence.
// @Description  Entity types already being synced are reported as skipped_running.
// @Tags         sync
// @Accept       json
// @Produce      json
// @Param        id path string true "Tenant ID" format(uuid)
// @Param        request body dto.TriggerSyncRequest true "Sync request"
// @Success      200 {object} APIResponse[scheduler.ManualSyncResult]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Failure      409 {object} APIResponse[scheduler.ManualSyncResult]
// @Failure      500 {object} ErrorResponse
// @Router       /tenants/{id}/sync [post]
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	tenantID, err := getTenantIDParam(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID format")
		return
	}

	var req dto.TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			middleware.HandleValidationError(c, err)
			return
		}
		h.BadRequest(c, "Invalid request body")
		return
	}

	ctx := logger.WithTenantID(c.Request.Context(), tenantID.String())
	result, err := h.controller.TriggerManualSync(ctx, scheduler.ManualSyncRequest{
		TenantID:     tenantID,
		EntityType:   req.EntityType,
		LookbackDays: req.LookbackDays,
	})
	if errors.Is(err, scheduler.ErrAllEntitiesRunning) {
		h.ErrorWithData(c, http.StatusConflict, dto.ErrCodeSyncRunning, "Every requested entity type is already syncing", result)
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Manual sync finished",
		zap.String("tenant_id", tenantID.String()),
		zap.String("entity_type", req.EntityType),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors),
	)
	h.Success(c, result)
}

// GetSyncStatus godoc
// @Summary      Get sync status
// @Description  Returns the sync state of every entity type synced for a tenant
// @Tags         sync
// @Produce      json
// @Param        id path string true "Tenant ID" format(uuid)
// @Success      200 {object} APIResponse[[]dto.SyncStateResponse]
// @Failure      400 {object} ErrorResponse
// @Failure      404 {object} ErrorResponse
// @Router       /tenants/{id}/sync-status [get]
func (h *SyncHandler) GetSyncStatus(c *gin.Context) {
	tenantID, ok := h.resolveTenant(c)
	if !ok {
		return
	}

	states, err := h.states.ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToSyncStateResponses(states))
}

// GetSyncRuns godoc
// @Summary      List recent sync runs
// @Description  Returns the most recent runs for a tenant held in scheduler memory, newest first
// @Tags         sync
// @Produce      json
// @Param        id path string true "Tenant ID" format(uuid)
// @Param        limit query int false "Maximum runs" default(20) maximum(100)
// @Success      200 {object} APIResponse[[]scheduler.SyncRun]
// @Failure      400 {object} ErrorResponse
// @Router       /tenants/{id}/sync-runs [get]
func (h *SyncHandler) GetSyncRuns(c *gin.Context) {
	tenantID, err := getTenantIDParam(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID format")
		return
	}

	limit := defaultRunHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunHistoryLimit)
	}
	h.Success(c, h.controller.GetRunHistoryByTenant(tenantID, limit))
}

// PurgeSyncState godoc
// @Summary      Purge sync state
// @Description  Removes every sync state row for an offboarded tenant. Synced records are kept.
// @Tags         sync
// @Produce      json
// @Param        id path string true "Tenant ID" format(uuid)
// @Success      200 {object} APIResponse[dto.PurgeSyncStateResponse]
// @Failure      400 {object} ErrorResponse
// @Router       /tenants/{id}/sync-state [delete]
func (h *SyncHandler) PurgeSyncState(c *gin.Context) {
	tenantID, err := getTenantIDParam(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID format")
		return
	}

	deleted, err := h.states.DeleteByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Purged sync state",
		zap.String("tenant_id", tenantID.String()),
		zap.Int64("deleted", deleted),
	)
	h.Success(c, dto.PurgeSyncStateResponse{TenantID: tenantID, Deleted: deleted})
}

// GetSchedulerStats godoc
// @Summary      Get scheduler stats
// @Description  Returns per-tier tick times, run totals and recent runs
// @Tags         sync
// @Produce      json
// @Success      200 {object} APIResponse[scheduler.SchedulerStats]
// @Router       /sync/scheduler [get]
func (h *SyncHandler) GetSchedulerStats(c *gin.Context) {
	h.Success(c, h.controller.Stats())
}

// resolveTenant parses the tenant path parameter and checks the tenant exists.
// It writes the error response and returns false on failure.
func (h *SyncHandler) resolveTenant(c *gin.Context) (uuid.UUID, bool) {
	tenantID, err := getTenantIDParam(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID format")
		return uuid.Nil, false
	}
	if _, err := h.tenants.FindByID(c.Request.Context(), tenantID); err != nil {
		h.HandleError(c, err)
		return uuid.Nil, false
	}
	return tenantID, true
}
