package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormSyncStateRepository_TryStart(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("creates the row lazily and refuses overlap", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		tenantID := uuid.New()

		state, err := repo.TryStart(ctx, tenantID, integration.EntityTypeOrders, "near_real_time", now, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusRunning, state.Status)
		assert.Equal(t, "near_real_time", state.LastTier)
		require.NotNil(t, state.LastStartedAt)
		assert.True(t, now.Equal(*state.LastStartedAt))

		_, err = repo.TryStart(ctx, tenantID, integration.EntityTypeOrders, "full", now.Add(time.Minute), time.Hour)
		assert.ErrorIs(t, err, integration.ErrSyncAlreadyRunning)

		// Other entity types of the same tenant are independent.
		_, err = repo.TryStart(ctx, tenantID, integration.EntityTypeShipments, "near_real_time", now, time.Hour)
		assert.NoError(t, err)
	})

	t.Run("reclaims a stale running row", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.TryStart(ctx, tenantID, integration.EntityTypeProducts, "medium", now, time.Hour)
		require.NoError(t, err)

		state, err := repo.TryStart(ctx, tenantID, integration.EntityTypeProducts, "medium", now.Add(2*time.Hour), time.Hour)
		require.NoError(t, err)
		assert.True(t, now.Add(2*time.Hour).Equal(*state.LastStartedAt))

		// The crashed run can no longer finish.
		err = repo.Finish(ctx, tenantID, integration.EntityTypeProducts, integration.SyncOutcome{
			Status:          integration.SyncStatusSuccess,
			StartedAt:       now,
			FinishedAt:      now.Add(3 * time.Hour),
			NextScheduledAt: now.Add(4 * time.Hour),
		})
		assert.ErrorIs(t, err, integration.ErrSyncSuperseded)
	})
}

func TestGormSyncStateRepository_Finish(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("error increments the counter and keeps last sync", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		tenantID := uuid.New()

		for i := 0; i < 2; i++ {
			started := now.Add(time.Duration(i) * time.Hour)
			_, err := repo.TryStart(ctx, tenantID, integration.EntityTypeOrders, "near_real_time", started, time.Hour)
			require.NoError(t, err)
			err = repo.Finish(ctx, tenantID, integration.EntityTypeOrders, integration.SyncOutcome{
				Status:          integration.SyncStatusError,
				StartedAt:       started,
				FinishedAt:      started.Add(time.Minute),
				NextScheduledAt: started.Add(3 * time.Minute),
				ErrorDetail: &integration.SyncErrorDetail{
					Kind:       integration.SyncErrorTimeout,
					Message:    "context deadline exceeded",
					OccurredAt: started.Add(time.Minute),
				},
			})
			require.NoError(t, err)
		}

		state, err := repo.Get(ctx, tenantID, integration.EntityTypeOrders)
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusError, state.Status)
		assert.Equal(t, 2, state.ErrorCount)
		assert.Nil(t, state.LastSyncAt)
		require.NotNil(t, state.ErrorDetail)
		assert.Equal(t, integration.SyncErrorTimeout, state.ErrorDetail.Kind)
	})

	t.Run("success resets the counter and advances last sync to run start", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		tenantID := uuid.New()

		_, err := repo.TryStart(ctx, tenantID, integration.EntityTypeOrders, "near_real_time", now, time.Hour)
		require.NoError(t, err)
		require.NoError(t, repo.Finish(ctx, tenantID, integration.EntityTypeOrders, integration.SyncOutcome{
			Status:     integration.SyncStatusError,
			StartedAt:  now,
			FinishedAt: now.Add(time.Minute),
			ErrorDetail: &integration.SyncErrorDetail{
				Kind: integration.SyncErrorTransientSource,
			},
			NextScheduledAt: now.Add(2 * time.Minute),
		}))

		started := now.Add(5 * time.Minute)
		_, err = repo.TryStart(ctx, tenantID, integration.EntityTypeOrders, "near_real_time", started, time.Hour)
		require.NoError(t, err)
		require.NoError(t, repo.Finish(ctx, tenantID, integration.EntityTypeOrders, integration.SyncOutcome{
			Status:           integration.SyncStatusPartial,
			RecordsProcessed: 1000,
			StartedAt:        started,
			FinishedAt:       started.Add(time.Minute),
			NextScheduledAt:  started.Add(5 * time.Minute),
			ErrorDetail: &integration.SyncErrorDetail{
				Kind: integration.SyncErrorPossibleTruncation,
			},
		}))

		state, err := repo.Get(ctx, tenantID, integration.EntityTypeOrders)
		require.NoError(t, err)
		assert.Equal(t, integration.SyncStatusPartial, state.Status)
		assert.Equal(t, 0, state.ErrorCount)
		assert.Equal(t, 1000, state.RecordsProcessed)
		require.NotNil(t, state.LastSyncAt)
		assert.True(t, started.Equal(*state.LastSyncAt))
		assert.Nil(t, state.LastSuccessAt, "a partial run is not a clean sync")
		require.NotNil(t, state.NextScheduledAt)
		assert.True(t, started.Add(5*time.Minute).Equal(*state.NextScheduledAt))
	})

	t.Run("last success only moves on clean runs", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		tenantID := uuid.New()
		finish := func(started time.Time, status integration.SyncStatus) {
			_, err := repo.TryStart(ctx, tenantID, integration.EntityTypeInventory, "medium", started, time.Hour)
			require.NoError(t, err)
			require.NoError(t, repo.Finish(ctx, tenantID, integration.EntityTypeInventory, integration.SyncOutcome{
				Status:          status,
				StartedAt:       started,
				FinishedAt:      started.Add(time.Minute),
				NextScheduledAt: started.Add(30 * time.Minute),
			}))
		}

		finish(now, integration.SyncStatusSuccess)
		finish(now.Add(time.Hour), integration.SyncStatusPartial)
		finish(now.Add(2*time.Hour), integration.SyncStatusError)

		state, err := repo.Get(ctx, tenantID, integration.EntityTypeInventory)
		require.NoError(t, err)
		require.NotNil(t, state.LastSuccessAt)
		assert.True(t, now.Equal(*state.LastSuccessAt))
		require.NotNil(t, state.LastSyncAt)
		assert.True(t, now.Add(time.Hour).Equal(*state.LastSyncAt))
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		repo := NewGormSyncStateRepository(setupTestDB(t))
		err := repo.Finish(ctx, uuid.New(), integration.EntityTypeOrders, integration.SyncOutcome{Status: integration.SyncStatusRunning})
		assert.Error(t, err)
	})
}

func TestGormSyncStateRepository_NextRetryAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := NewGormSyncStateRepository(setupTestDB(t))

	finish := func(tenantID uuid.UUID, entityType integration.EntityType, status integration.SyncStatus, next time.Time) {
		_, err := repo.TryStart(ctx, tenantID, entityType, "near_real_time", now, time.Hour)
		require.NoError(t, err)
		require.NoError(t, repo.Finish(ctx, tenantID, entityType, integration.SyncOutcome{
			Status:          status,
			StartedAt:       now,
			FinishedAt:      now.Add(time.Second),
			NextScheduledAt: next,
		}))
	}

	first, second := uuid.New(), uuid.New()
	finish(first, integration.EntityTypeOrders, integration.SyncStatusError, now.Add(4*time.Minute))
	finish(second, integration.EntityTypeShipments, integration.SyncStatusError, now.Add(2*time.Minute))
	finish(second, integration.EntityTypeOrders, integration.SyncStatusSuccess, now.Add(time.Minute))
	finish(first, integration.EntityTypeProducts, integration.SyncStatusError, now.Add(30*time.Second))

	nrt := []integration.EntityType{integration.EntityTypeOrders, integration.EntityTypeShipments}

	at, err := repo.NextRetryAt(ctx, nrt, now)
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, now.Add(2*time.Minute).Equal(*at), "earliest failed pair of the tier, across tenants")

	at, err = repo.NextRetryAt(ctx, nrt, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, at)
	assert.True(t, now.Add(4*time.Minute).Equal(*at))

	at, err = repo.NextRetryAt(ctx, nrt, now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, at)

	at, err = repo.NextRetryAt(ctx, nil, now)
	require.NoError(t, err)
	assert.Nil(t, at)
}

func TestGormSyncStateRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewGormSyncStateRepository(setupTestDB(t))
	now := time.Now().UTC()
	tenantA, tenantB := uuid.New(), uuid.New()

	for _, et := range []integration.EntityType{integration.EntityTypeShipments, integration.EntityTypeOrders} {
		_, err := repo.TryStart(ctx, tenantA, et, "near_real_time", now, time.Hour)
		require.NoError(t, err)
	}
	_, err := repo.TryStart(ctx, tenantB, integration.EntityTypeOrders, "near_real_time", now, time.Hour)
	require.NoError(t, err)

	states, err := repo.ListByTenant(ctx, tenantA)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, integration.EntityTypeOrders, states[0].EntityType)
	assert.Equal(t, integration.EntityTypeShipments, states[1].EntityType)

	deleted, err := repo.DeleteByTenant(ctx, tenantA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = repo.Get(ctx, tenantA, integration.EntityTypeOrders)
	assert.ErrorIs(t, err, integration.ErrSyncStateNotFound)
	_, err = repo.Get(ctx, tenantB, integration.EntityTypeOrders)
	assert.NoError(t, err)
}
