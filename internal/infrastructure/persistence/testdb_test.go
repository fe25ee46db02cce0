package persistence

import (
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an in-memory SQLite database with every table migrated.
// A single connection is used because each new connection to ":memory:"
// would see an empty database.
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

	require.NoError(t, AutoMigrate(db))
	return db
}

func seedTenant(t *testing.T, db *gorm.DB, connectionID string, enabled bool) uuid.UUID {
	t.Helper()
	tenantID := uuid.New()
	row := &models.TenantIntegrationModel{
		ID:           uuid.New(),
		TenantID:     tenantID,
		Name:         "tenant " + connectionID,
		ConnectionID: connectionID,
		Vendor:       integration.VendorGenericREST,
		AccessToken:  "token-" + connectionID,
		BaseURL:      "https://wms.example.com",
		Enabled:      enabled,
	}
	require.NoError(t, db.Create(row).Error)
	return tenantID
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	t = t.UTC()
	return &t
}
