package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockDatabase creates a Database backed by sqlmock with the postgres dialect
func newMockDatabase(t *testing.T) (*Database, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return &Database{DB: gormDB}, mock, mockDB
}

func TestDatabase_Ping(t *testing.T) {
	t.Run("successful ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing()
		assert.NoError(t, db.Ping(context.Background()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed ping", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()

		mock.ExpectPing().WillReturnError(errors.New("connection refused"))
		assert.Error(t, db.Ping(context.Background()))
	})
}

func TestDatabase_Stats(t *testing.T) {
	db, _, mockDB := newMockDatabase(t)
	defer mockDB.Close()

	stats, err := db.Stats()
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
}

func mockRecord(tenantID uuid.UUID, updatedAt *time.Time) *integration.ExternalRecord {
	rec, err := integration.NewExternalRecord(tenantID, integration.EntityTypeOrders, integration.RawRecord{
		ExternalID:      "ORD-1",
		VendorStatus:    "open",
		UpdatedAtRemote: updatedAt,
		Payload:         []byte(`{"id":"ORD-1"}`),
	}, integration.StatusProcessing, time.Now())
	if err != nil {
		panic(err)
	}
	return rec
}

func TestGormExternalRecordRepository_PostgresStatements(t *testing.T) {
	tenantID := uuid.New()

	t.Run("conflict runs a timestamp-guarded update", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		repo := NewGormExternalRecordRepository(db.DB)
		storedID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "wms_records" .* ON CONFLICT \("tenant_id","entity_type","external_id"\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE "wms_records" SET .* WHERE tenant_id = \$\d+ .*entity_type = \$\d+ AND external_id = \$\d+.*\(remote_updated_at IS NULL OR remote_updated_at < \$\d+\)`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT "id" FROM "wms_records" WHERE tenant_id = \$\d+`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(storedID.String()))
		mock.ExpectCommit()

		rec := mockRecord(tenantID, ts("2024-01-01T00:00:00Z"))
		outcome, err := repo.Upsert(context.Background(), rec)
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertSkipped, outcome)
		assert.Equal(t, storedID, rec.LocalID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("untimestamped record compares payload hashes", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		repo := NewGormExternalRecordRepository(db.DB)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "wms_records"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`UPDATE "wms_records" SET .*remote_updated_at IS NULL AND payload_hash <> \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT "id" FROM "wms_records"`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
		mock.ExpectExec(`DELETE FROM "wms_record_children" WHERE tenant_id = \$\d+ AND record_id = \$\d+`).
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		outcome, err := repo.Upsert(context.Background(), mockRecord(tenantID, nil))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertUpdated, outcome)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure rolls back", func(t *testing.T) {
		db, mock, mockDB := newMockDatabase(t)
		defer mockDB.Close()
		repo := NewGormExternalRecordRepository(db.DB)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO "wms_records"`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := repo.Upsert(context.Background(), mockRecord(tenantID, nil))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert record")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
