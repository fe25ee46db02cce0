package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, persistence.AutoMigrate(db))
	return db
}

func seedTenant(t *testing.T, db *gorm.DB, connectionID, baseURL string) uuid.UUID {
	t.Helper()
	tenantID := uuid.New()
	require.NoError(t, db.Create(&models.TenantIntegrationModel{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         "tenant " + connectionID,
		ConnectionID: connectionID,
		Vendor:       integration.VendorGenericREST,
		AccessToken:  "token-" + connectionID,
		BaseURL:      baseURL,
		Enabled:      true,
	}).Error)
	return tenantID
}

func newTestReconciler(db *gorm.DB) (*ReconciliationService, *persistence.GormExternalRecordRepository) {
	repo := persistence.NewGormExternalRecordRepository(db)
	return NewReconciliationService(repo, integration.NewStatusMapper(nil), zap.NewNop()), repo
}

func rawOrder(id, status string, updatedAt *time.Time) integration.RawRecord {
	ts := ""
	if updatedAt != nil {
		ts = updatedAt.Format(time.RFC3339)
	}
	return integration.RawRecord{
		ExternalID:      id,
		VendorStatus:    status,
		UpdatedAtRemote: updatedAt,
		Payload:         []byte(fmt.Sprintf(`{"id":%q,"status":%q,"updated_at":%q}`, id, status, ts)),
		Children: []integration.ChildRecord{
			{Kind: integration.ChildKindLineItem, Position: 0, SKU: "SKU-" + id, Payload: []byte(`{}`)},
		},
	}
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func findRecord(t *testing.T, repo *persistence.GormExternalRecordRepository, tenantID uuid.UUID, entityType integration.EntityType, id string) *integration.ExternalRecord {
	t.Helper()
	rec, err := repo.FindByExternalID(context.Background(), tenantID, entityType, id)
	require.NoError(t, err)
	return rec
}
