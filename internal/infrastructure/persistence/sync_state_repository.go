package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/tenant"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSyncStateRepository implements integration.SyncStateRepository
type GormSyncStateRepository struct {
	db *gorm.DB
}

// NewGormSyncStateRepository creates a new GormSyncStateRepository
func NewGormSyncStateRepository(db *gorm.DB) *GormSyncStateRepository {
	return &GormSyncStateRepository{db: db}
}

// Ensure GormSyncStateRepository implements the interface
var _ integration.SyncStateRepository = (*GormSyncStateRepository)(nil)

// Get returns the state for one (tenant, entity type)
func (r *GormSyncStateRepository) Get(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) (*integration.SyncState, error) {
	var model models.SyncStateModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("entity_type = ?", entityType).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrSyncStateNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListByTenant returns every state row of a tenant ordered by entity type
func (r *GormSyncStateRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]integration.SyncState, error) {
	var rows []models.SyncStateModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Order("entity_type ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	states := make([]integration.SyncState, 0, len(rows))
	for i := range rows {
		states = append(states, *rows[i].ToDomain())
	}
	return states, nil
}

// TryStart marks the pair as running. The row is created on first use; an
// existing row is only taken over when it is not running, or when its run
// started before now-staleAfter. Losing the race returns ErrSyncAlreadyRunning.
func (r *GormSyncStateRepository) TryStart(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, tier string, startedAt time.Time, staleAfter time.Duration) (*integration.SyncState, error) {
	if tenantID == uuid.Nil {
		return nil, integration.ErrInvalidTenantID
	}
	started := startedAt.UTC().Truncate(time.Microsecond)
	db := r.db.WithContext(ctx)

	model := &models.SyncStateModel{
		TenantID:      tenantID,
		EntityType:    entityType,
		Status:        integration.SyncStatusRunning,
		LastStartedAt: &started,
		LastTier:      tier,
		CreatedAt:     started,
		UpdatedAt:     started,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "entity_type"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return nil, fmt.Errorf("create sync state: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		staleCutoff := started.Add(-staleAfter)
		result = db.Model(&models.SyncStateModel{}).
			Scopes(tenant.Scope(tenantID)).
			Where("entity_type = ?", entityType).
			Where("(status <> ? OR last_started_at IS NULL OR last_started_at < ?)", integration.SyncStatusRunning, staleCutoff).
			Updates(map[string]any{
				"status":          integration.SyncStatusRunning,
				"last_started_at": started,
				"last_tier":       tier,
				"updated_at":      started,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("claim sync state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil, integration.ErrSyncAlreadyRunning
		}
	}

	return r.Get(ctx, tenantID, entityType)
}

// Finish records the outcome of the run started at outcome.StartedAt. If
// another worker reclaimed the row in the meantime nothing is written and
// ErrSyncSuperseded is returned.
func (r *GormSyncStateRepository) Finish(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, outcome integration.SyncOutcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finish sync state: status %q is not terminal", outcome.Status)
	}
	detail, err := models.EncodeErrorDetail(outcome.ErrorDetail)
	if err != nil {
		return fmt.Errorf("encode error detail: %w", err)
	}

	finished := outcome.FinishedAt.UTC()
	next := outcome.NextScheduledAt.UTC()
	updates := map[string]any{
		"status":            outcome.Status,
		"records_processed": outcome.RecordsProcessed,
		"error_detail":      detail,
		"next_scheduled_at": next,
		"updated_at":        finished,
	}
	started := outcome.StartedAt.UTC().Truncate(time.Microsecond)
	switch outcome.Status {
	case integration.SyncStatusError:
		updates["error_count"] = gorm.Expr("error_count + 1")
	case integration.SyncStatusSuccess:
		updates["last_success_at"] = started
		fallthrough
	default:
		updates["error_count"] = 0
		updates["last_sync_at"] = started
	}

	result := r.db.WithContext(ctx).
		Model(&models.SyncStateModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("entity_type = ? AND status = ? AND last_started_at = ?",
			entityType, integration.SyncStatusRunning, started).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("finish sync state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return integration.ErrSyncSuperseded
	}
	return nil
}

// NextRetryAt returns the earliest pending retry among failed pairs of the
// given entity types, across tenants
func (r *GormSyncStateRepository) NextRetryAt(ctx context.Context, entityTypes []integration.EntityType, after time.Time) (*time.Time, error) {
	if len(entityTypes) == 0 {
		return nil, nil
	}
	var model models.SyncStateModel
	err := r.db.WithContext(ctx).
		Select("next_scheduled_at").
		Where("status = ? AND entity_type IN ?", integration.SyncStatusError, entityTypes).
		Where("next_scheduled_at > ?", after.UTC()).
		Order("next_scheduled_at ASC").
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return utcTime(model.NextScheduledAt), nil
}

// DeleteByTenant removes every state row of an offboarded tenant
func (r *GormSyncStateRepository) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Delete(&models.SyncStateModel{})
	return result.RowsAffected, result.Error
}

func utcTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
