package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appintegration "github.com/gobbleclark/packr-cursor-sub005/internal/application/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/persistence"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/wms"
)

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

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

func testTenant() integration.Tenant {
	return integration.Tenant{
		ID:           uuid.New(),
		Name:         "Acme Apparel",
		ConnectionID: "conn-" + uuid.NewString()[:8],
		Vendor:       integration.VendorGenericREST,
		Credentials:  integration.Credentials{AccessToken: "token"},
	}
}

func rawOrder(id string, updatedAt time.Time) integration.RawRecord {
	ts := updatedAt.UTC()
	return integration.RawRecord{
		ExternalID:      id,
		VendorStatus:    "shipped",
		UpdatedAtRemote: &ts,
		Payload:         json.RawMessage(fmt.Sprintf(`{"id":%q,"status":"shipped","updated_at":%q}`, id, ts.Format(time.RFC3339))),
	}
}

// fakeAdapter serves ListEntities from a function
type fakeAdapter struct {
	calls atomic.Int32
	mu    sync.Mutex
	since []time.Time
	list  func(ctx context.Context, entityType integration.EntityType, since time.Time) (*integration.ListResult, error)
}

func (a *fakeAdapter) Vendor() integration.VendorCode { return integration.VendorGenericREST }

func (a *fakeAdapter) ListEntities(ctx context.Context, _ integration.Tenant, entityType integration.EntityType, since time.Time, _ string) (*integration.ListResult, error) {
	a.calls.Add(1)
	a.mu.Lock()
	a.since = append(a.since, since)
	a.mu.Unlock()
	if a.list == nil {
		return &integration.ListResult{Pages: 1}, nil
	}
	return a.list(ctx, entityType, since)
}

func (a *fakeAdapter) lastSince() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.since[len(a.since)-1]
}

func (a *fakeAdapter) FetchOne(context.Context, integration.Tenant, integration.EntityType, string) (*integration.RawRecord, error) {
	return nil, integration.ErrRecordNotFound
}

func (a *fakeAdapter) DecodeRecord(integration.EntityType, json.RawMessage) (*integration.RawRecord, error) {
	return nil, integration.ErrInvalidRecord
}

func (a *fakeAdapter) VerifySignature([]byte, string, string) bool { return false }

// staticRegistry resolves every vendor to one adapter
type staticRegistry struct {
	adapter integration.SourceAdapter
}

func (r staticRegistry) Get(integration.VendorCode) (integration.SourceAdapter, error) {
	return r.adapter, nil
}

func (r staticRegistry) Vendors() []integration.VendorCode {
	return []integration.VendorCode{r.adapter.Vendor()}
}

// countingReconciler counts Reconcile calls
type countingReconciler struct {
	inner Reconciler
	calls atomic.Int32
}

func (r *countingReconciler) Reconcile(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, raws []integration.RawRecord) (*appintegration.ReconcileResult, error) {
	r.calls.Add(1)
	return r.inner.Reconcile(ctx, tenantID, entityType, raws)
}

// fakeDirectory is an in-memory TenantDirectory
type fakeDirectory struct {
	tenants []integration.Tenant
}

func (d *fakeDirectory) ListActiveTenants(context.Context) ([]integration.Tenant, error) {
	return d.tenants, nil
}

func (d *fakeDirectory) FindByID(_ context.Context, tenantID uuid.UUID) (*integration.Tenant, error) {
	for i := range d.tenants {
		if d.tenants[i].ID == tenantID {
			return &d.tenants[i], nil
		}
	}
	return nil, integration.ErrTenantNotFound
}

func (d *fakeDirectory) FindByConnectionID(_ context.Context, connectionID string) (*integration.Tenant, error) {
	for i := range d.tenants {
		if d.tenants[i].ConnectionID == connectionID {
			return &d.tenants[i], nil
		}
	}
	return nil, integration.ErrTenantNotFound
}

// newWMSAdapter returns an HTTP adapter for a test server with fast retries
func newWMSAdapter(t *testing.T, baseURL string) *wms.HTTPSourceAdapter {
	t.Helper()
	adapter, err := wms.NewHTTPSourceAdapter(&wms.Config{
		BaseURL:              baseURL,
		RequestTimeout:       5 * time.Second,
		PageSize:             1000,
		MaxPages:             10,
		TruncationCaps:       []int{1000},
		MaxResponseSize:      4 << 20,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     5 * time.Millisecond,
		RetryMultiplier:      2,
		RetryMaxAttempts:     2,
		MaxRetryAfter:        10 * time.Millisecond,
		RateLimitPerSecond:   1000,
		RateLimitBurst:       100,
	}, zap.NewNop())
	require.NoError(t, err)
	return adapter
}

// executorFixture wires a SyncExecutor to sqlite repositories
type executorFixture struct {
	db         *gorm.DB
	states     *persistence.GormSyncStateRepository
	records    *persistence.GormExternalRecordRepository
	adapter    *fakeAdapter
	reconciler *countingReconciler
	executor   *SyncExecutor
	tenant     integration.Tenant
}

func newExecutorFixture(t *testing.T, cfg ExecutorConfig) *executorFixture {
	t.Helper()
	return newExecutorFixtureWithRegistry(t, cfg, nil)
}

func newExecutorFixtureWithRegistry(t *testing.T, cfg ExecutorConfig, registry integration.SourceAdapterRegistry) *executorFixture {
	t.Helper()
	db := setupTestDB(t)
	fx := &executorFixture{
		db:      db,
		states:  persistence.NewGormSyncStateRepository(db),
		records: persistence.NewGormExternalRecordRepository(db),
		adapter: &fakeAdapter{},
		tenant:  testTenant(),
	}
	if registry == nil {
		registry = staticRegistry{adapter: fx.adapter}
	}
	fx.reconciler = &countingReconciler{
		inner: appintegration.NewReconciliationService(fx.records, nil, zap.NewNop()),
	}
	fx.executor = NewSyncExecutor(cfg, fx.states, registry, fx.reconciler, nil, zap.NewNop())
	return fx
}

func (fx *executorFixture) request(entityType integration.EntityType) SyncRequest {
	return SyncRequest{
		Tenant:     fx.tenant,
		EntityType: entityType,
		Trigger:    TierNearRealTime,
		Lookback:   30 * time.Minute,
		Cadence:    5 * time.Minute,
	}
}

func (fx *executorFixture) state(t *testing.T, entityType integration.EntityType) *integration.SyncState {
	t.Helper()
	state, err := fx.states.Get(context.Background(), fx.tenant.ID, entityType)
	require.NoError(t, err)
	return state
}
