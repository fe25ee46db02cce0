package persistence

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, tenantID uuid.UUID, id, status string, updatedAt *time.Time, payload string, lines ...string) *integration.ExternalRecord {
	t.Helper()
	raw := integration.RawRecord{
		ExternalID:      id,
		VendorStatus:    status,
		UpdatedAtRemote: updatedAt,
		Payload:         json.RawMessage(payload),
	}
	for i, sku := range lines {
		raw.Children = append(raw.Children, integration.ChildRecord{
			Kind:     integration.ChildKindLineItem,
			Position: i,
			SKU:      sku,
			Quantity: decimal.NewFromInt(int64(i + 1)),
			Payload:  json.RawMessage(`{"sku":"` + sku + `"}`),
		})
	}
	rec, err := integration.NewExternalRecord(tenantID, integration.EntityTypeOrders, raw, integration.StatusProcessing, time.Now())
	require.NoError(t, err)
	return rec
}

func TestGormExternalRecordRepository_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("creates then skips an identical record", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		first := newOrder(t, tenantID, "A-1", "open", ts("2024-05-01T10:00:00Z"), `{"id":"A-1"}`, "SKU-1")
		outcome, err := repo.Upsert(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertCreated, outcome)
		assert.NotEqual(t, uuid.Nil, first.LocalID)

		again := newOrder(t, tenantID, "A-1", "open", ts("2024-05-01T10:00:00Z"), `{"id":"A-1"}`, "SKU-1")
		outcome, err = repo.Upsert(ctx, again)
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertSkipped, outcome)
		assert.Equal(t, first.LocalID, again.LocalID)

		count, err := repo.CountByTenant(ctx, tenantID, integration.EntityTypeOrders)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("newer version wins regardless of arrival order", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		newer := newOrder(t, tenantID, "A-2", "shipped", ts("2024-05-02T10:00:00Z"), `{"v":2}`, "SKU-2", "SKU-3")
		older := newOrder(t, tenantID, "A-2", "open", ts("2024-05-01T10:00:00Z"), `{"v":1}`, "SKU-1")

		outcome, err := repo.Upsert(ctx, newer)
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertCreated, outcome)

		outcome, err = repo.Upsert(ctx, older)
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertSkipped, outcome)

		stored, err := repo.FindByExternalID(ctx, tenantID, integration.EntityTypeOrders, "A-2")
		require.NoError(t, err)
		assert.Equal(t, "shipped", stored.VendorStatus)
		assert.JSONEq(t, `{"v":2}`, string(stored.RawPayload))
		require.Len(t, stored.Children, 2)
		assert.Equal(t, "SKU-2", stored.Children[0].SKU)
	})

	t.Run("update replaces children as a set", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-3", "open", ts("2024-05-01T10:00:00Z"), `{"v":1}`, "SKU-1", "SKU-2", "SKU-3"))
		require.NoError(t, err)

		outcome, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-3", "open", ts("2024-05-01T11:00:00Z"), `{"v":2}`, "SKU-9"))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertUpdated, outcome)

		stored, err := repo.FindByExternalID(ctx, tenantID, integration.EntityTypeOrders, "A-3")
		require.NoError(t, err)
		require.Len(t, stored.Children, 1)
		assert.Equal(t, "SKU-9", stored.Children[0].SKU)
		assert.True(t, decimal.NewFromInt(1).Equal(stored.Children[0].Quantity))
	})

	t.Run("stored null timestamp is overwritten by a timestamped record", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-4", "open", nil, `{"v":1}`))
		require.NoError(t, err)

		outcome, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-4", "open", ts("2024-01-01T00:00:00Z"), `{"v":1}`))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertUpdated, outcome)
	})

	t.Run("records without timestamps update only when the payload changed", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-5", "open", nil, `{"v":1}`))
		require.NoError(t, err)

		outcome, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-5", "open", nil, `{ "v" : 1 }`))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertSkipped, outcome)

		outcome, err = repo.Upsert(ctx, newOrder(t, tenantID, "A-5", "closed", nil, `{"v":2}`))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertUpdated, outcome)
	})

	t.Run("untimestamped record never overwrites a timestamped one", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-6", "open", ts("2024-01-01T00:00:00Z"), `{"v":1}`))
		require.NoError(t, err)

		outcome, err := repo.Upsert(ctx, newOrder(t, tenantID, "A-6", "closed", nil, `{"v":2}`))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertSkipped, outcome)
	})

	t.Run("same external ID is independent per tenant", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		tenantA, tenantB := uuid.New(), uuid.New()

		_, err := repo.Upsert(ctx, newOrder(t, tenantA, "X", "open", ts("2024-01-01T00:00:00Z"), `{"t":"a"}`, "A"))
		require.NoError(t, err)
		outcome, err := repo.Upsert(ctx, newOrder(t, tenantB, "X", "open", ts("2024-01-01T00:00:00Z"), `{"t":"b"}`, "B"))
		require.NoError(t, err)
		assert.Equal(t, integration.UpsertCreated, outcome)

		a, err := repo.FindByExternalID(ctx, tenantA, integration.EntityTypeOrders, "X")
		require.NoError(t, err)
		b, err := repo.FindByExternalID(ctx, tenantB, integration.EntityTypeOrders, "X")
		require.NoError(t, err)
		assert.NotEqual(t, a.LocalID, b.LocalID)
		assert.JSONEq(t, `{"t":"a"}`, string(a.RawPayload))
		require.Len(t, a.Children, 1)
		assert.Equal(t, "A", a.Children[0].SKU)
	})

	t.Run("rejects nil tenant", func(t *testing.T) {
		repo := NewGormExternalRecordRepository(setupTestDB(t))
		_, err := repo.Upsert(ctx, &integration.ExternalRecord{ExternalID: "x"})
		assert.ErrorIs(t, err, integration.ErrInvalidTenantID)
	})
}

func TestGormExternalRecordRepository_TouchSynced(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	repo := NewGormExternalRecordRepository(db)
	tenantID := uuid.New()

	rec := newOrder(t, tenantID, "T-1", "open", ts("2024-01-01T00:00:00Z"), `{"v":1}`)
	_, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)

	var before models.ExternalRecordModel
	require.NoError(t, db.Where("id = ?", rec.LocalID).Take(&before).Error)

	touchedAt := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchSynced(ctx, tenantID, integration.EntityTypeOrders, []string{"T-1", "missing"}, touchedAt))
	require.NoError(t, repo.TouchSynced(ctx, uuid.New(), integration.EntityTypeOrders, []string{"T-1"}, touchedAt.Add(time.Hour)))

	var after models.ExternalRecordModel
	require.NoError(t, db.Where("id = ?", rec.LocalID).Take(&after).Error)
	assert.True(t, touchedAt.Equal(after.SyncedAt))
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Equal(t, before.PayloadHash, after.PayloadHash)
}

func TestGormExternalRecordRepository_FindByExternalID_NotFound(t *testing.T) {
	repo := NewGormExternalRecordRepository(setupTestDB(t))
	_, err := repo.FindByExternalID(context.Background(), uuid.New(), integration.EntityTypeShipments, "nope")
	assert.ErrorIs(t, err, integration.ErrRecordNotFound)
}
