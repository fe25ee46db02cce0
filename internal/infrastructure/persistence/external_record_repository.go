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

// touchChunkSize bounds the IN list of a TouchSynced statement
const touchChunkSize = 500

// GormExternalRecordRepository implements integration.ExternalRecordRepository
type GormExternalRecordRepository struct {
	db *gorm.DB
}

// NewGormExternalRecordRepository creates a new GormExternalRecordRepository
func NewGormExternalRecordRepository(db *gorm.DB) *GormExternalRecordRepository {
	return &GormExternalRecordRepository{db: db}
}

// Ensure GormExternalRecordRepository implements the interface
var _ integration.ExternalRecordRepository = (*GormExternalRecordRepository)(nil)

// Upsert writes the record with one insert-or-nothing followed, on conflict,
// by one conditional update. Concurrent writers of the same key never produce
// two rows and an older version never overwrites a newer one.
func (r *GormExternalRecordRepository) Upsert(ctx context.Context, rec *integration.ExternalRecord) (integration.UpsertOutcome, error) {
	if rec == nil {
		return "", integration.ErrInvalidRecord
	}
	if rec.TenantID == uuid.Nil {
		return "", integration.ErrInvalidTenantID
	}

	var outcome integration.UpsertOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		model := &models.ExternalRecordModel{}
		model.FromDomain(rec)
		model.ID = uuid.New()
		model.CreatedAt = now
		model.UpdatedAt = now

		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "entity_type"},
				{Name: "external_id"},
			},
			DoNothing: true,
		}).Create(model)
		if result.Error != nil {
			return fmt.Errorf("insert record: %w", result.Error)
		}

		if result.RowsAffected == 1 {
			outcome = integration.UpsertCreated
			rec.LocalID = model.ID
			return r.replaceChildren(tx, rec)
		}

		update := r.keyQuery(tx, rec.TenantID, rec.EntityType, rec.ExternalID)
		if rec.UpdatedAtRemote != nil {
			update = update.Where("(remote_updated_at IS NULL OR remote_updated_at < ?)", *rec.UpdatedAtRemote)
		} else {
			update = update.Where("remote_updated_at IS NULL AND payload_hash <> ?", rec.PayloadHash)
		}
		result = update.Updates(map[string]any{
			"vendor_status":     rec.VendorStatus,
			"normalized_status": rec.NormalizedStatus,
			"raw_payload":       model.RawPayload,
			"payload_hash":      rec.PayloadHash,
			"remote_updated_at": rec.UpdatedAtRemote,
			"synced_at":         rec.SyncedAt,
			"updated_at":        now,
		})
		if result.Error != nil {
			return fmt.Errorf("update record: %w", result.Error)
		}

		var stored models.ExternalRecordModel
		if err := r.keyQuery(tx, rec.TenantID, rec.EntityType, rec.ExternalID).
			Select("id").Take(&stored).Error; err != nil {
			return fmt.Errorf("load record id: %w", err)
		}
		rec.LocalID = stored.ID

		if result.RowsAffected == 0 {
			outcome = integration.UpsertSkipped
			return nil
		}
		outcome = integration.UpsertUpdated
		return r.replaceChildren(tx, rec)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (r *GormExternalRecordRepository) keyQuery(tx *gorm.DB, tenantID uuid.UUID, entityType integration.EntityType, externalID string) *gorm.DB {
	return tx.Model(&models.ExternalRecordModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("entity_type = ? AND external_id = ?", entityType, externalID)
}

// replaceChildren swaps the whole child set of a written parent
func (r *GormExternalRecordRepository) replaceChildren(tx *gorm.DB, rec *integration.ExternalRecord) error {
	if err := tx.Scopes(tenant.Scope(rec.TenantID)).
		Where("record_id = ?", rec.LocalID).
		Delete(&models.ExternalRecordChildModel{}).Error; err != nil {
		return fmt.Errorf("delete children: %w", err)
	}
	if len(rec.Children) == 0 {
		return nil
	}

	rows := make([]*models.ExternalRecordChildModel, 0, len(rec.Children))
	for _, c := range rec.Children {
		rows = append(rows, models.NewChildModel(rec.TenantID, rec.LocalID, c))
	}
	if err := tx.CreateInBatches(rows, 200).Error; err != nil {
		return fmt.Errorf("insert children: %w", err)
	}
	return nil
}

// TouchSynced bumps synced_at for records that were seen but not rewritten.
// Payload columns and updated_at are left untouched.
func (r *GormExternalRecordRepository) TouchSynced(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalIDs []string, at time.Time) error {
	for start := 0; start < len(externalIDs); start += touchChunkSize {
		end := min(start+touchChunkSize, len(externalIDs))
		err := r.db.WithContext(ctx).
			Model(&models.ExternalRecordModel{}).
			Scopes(tenant.Scope(tenantID)).
			Where("entity_type = ? AND external_id IN ?", entityType, externalIDs[start:end]).
			UpdateColumn("synced_at", at.UTC()).Error
		if err != nil {
			return fmt.Errorf("touch synced_at: %w", err)
		}
	}
	return nil
}

// FindByExternalID returns the record with its children ordered by kind and position
func (r *GormExternalRecordRepository) FindByExternalID(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, externalID string) (*integration.ExternalRecord, error) {
	var model models.ExternalRecordModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("entity_type = ? AND external_id = ?", entityType, externalID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, integration.ErrRecordNotFound
		}
		return nil, err
	}

	var children []models.ExternalRecordChildModel
	if err := r.db.WithContext(ctx).
		Scopes(tenant.Scope(tenantID)).
		Where("record_id = ?", model.ID).
		Order("kind ASC, position ASC").
		Find(&children).Error; err != nil {
		return nil, err
	}

	rec := model.ToDomain()
	rec.Children = make([]integration.ChildRecord, 0, len(children))
	for i := range children {
		rec.Children = append(rec.Children, children[i].ToDomain())
	}
	return rec, nil
}

// CountByTenant counts the tenant's records of one entity type
func (r *GormExternalRecordRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ExternalRecordModel{}).
		Scopes(tenant.Scope(tenantID)).
		Where("entity_type = ?", entityType).
		Count(&count).Error
	return count, err
}
