package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormWebhookEventRepository implements integration.WebhookEventRepository
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewGormWebhookEventRepository creates a new GormWebhookEventRepository
func NewGormWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Ensure GormWebhookEventRepository implements the interface
var _ integration.WebhookEventRepository = (*GormWebhookEventRepository)(nil)

// Record inserts the event or, if (vendor, event_id) already exists, bumps its
// delivery count. The stored row is returned either way.
func (r *GormWebhookEventRepository) Record(ctx context.Context, event *integration.WebhookEvent) (*integration.WebhookEvent, bool, error) {
	now := time.Now().UTC()
	model := &models.WebhookEventModel{}
	model.FromDomain(event)
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	if model.ReceivedAt.IsZero() {
		model.ReceivedAt = now
	}
	model.DeliveryCount = 1
	model.CreatedAt = now
	model.UpdatedAt = now

	db := r.db.WithContext(ctx)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vendor"}, {Name: "event_id"}},
		DoNothing: true,
	}).Create(model)
	if result.Error != nil {
		return nil, false, fmt.Errorf("insert webhook event: %w", result.Error)
	}
	inserted := result.RowsAffected == 1

	if !inserted {
		if err := db.Model(&models.WebhookEventModel{}).
			Where("vendor = ? AND event_id = ?", event.Vendor, event.EventID).
			Updates(map[string]any{
				"delivery_count": gorm.Expr("delivery_count + 1"),
				"updated_at":     now,
			}).Error; err != nil {
			return nil, false, fmt.Errorf("count webhook redelivery: %w", err)
		}
	}

	stored, err := r.FindByEventID(ctx, event.Vendor, event.EventID)
	if err != nil {
		return nil, false, err
	}
	return stored, inserted, nil
}

// Complete stores the processing outcome. Rows already marked processed are
// never overwritten. A nil ProcessedAt leaves the event open for redelivery.
func (r *GormWebhookEventRepository) Complete(ctx context.Context, vendor integration.VendorCode, eventID string, completion integration.WebhookCompletion) error {
	updates := map[string]any{
		"outcome":      completion.Outcome,
		"error":        completion.Error,
		"processed_at": completion.ProcessedAt,
		"updated_at":   time.Now().UTC(),
	}
	if completion.TenantID != nil {
		updates["tenant_id"] = *completion.TenantID
	}

	return r.db.WithContext(ctx).
		Model(&models.WebhookEventModel{}).
		Where("vendor = ? AND event_id = ? AND processed_at IS NULL", vendor, eventID).
		Updates(updates).Error
}

// FindByEventID returns the event or ErrRecordNotFound
func (r *GormWebhookEventRepository) FindByEventID(ctx context.Context, vendor integration.VendorCode, eventID string) (*integration.WebhookEvent, error) {
	var model models.WebhookEventModel
	err := r.db.WithContext(ctx).
		Where("vendor = ? AND event_id = ?", vendor, eventID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}
