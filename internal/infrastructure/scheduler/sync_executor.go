package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appintegration "github.com/gobbleclark/packr-cursor-sub005/internal/application/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/logger"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// SyncRequest / SyncRun
// ---------------------------------------------------------------------------

// SyncRequest describes one (tenant, entity type) sync attempt
type SyncRequest struct {
	Tenant     integration.Tenant
	EntityType integration.EntityType
	// Trigger is the tier name, or TriggerManual
	Trigger string
	// Since overrides the computed window start when set
	Since *time.Time
	// Lookback bounds the window start. With FixedWindow the window is
	// always now-Lookback.
	Lookback    time.Duration
	FixedWindow bool
	// Cadence is added to the finish time to schedule the next run
	Cadence time.Duration
}

// windowStart returns max(lastSyncAt, now-Lookback), or now-Lookback for
// fixed windows and first runs
func (r *SyncRequest) windowStart(now time.Time, lastSyncAt *time.Time) time.Time {
	if r.Since != nil {
		return r.Since.UTC()
	}
	floor := now.Add(-r.Lookback)
	if r.FixedWindow || lastSyncAt == nil || lastSyncAt.Before(floor) {
		return floor
	}
	return lastSyncAt.UTC()
}

// SyncRun is the record of one executed attempt
type SyncRun struct {
	ID                 uuid.UUID                    `json:"id"`
	TenantID           uuid.UUID                    `json:"tenant_id"`
	EntityType         integration.EntityType       `json:"entity_type"`
	Trigger            string                       `json:"trigger"`
	Status             integration.SyncStatus       `json:"status"`
	WindowStart        time.Time                    `json:"window_start"`
	StartedAt          time.Time                    `json:"started_at"`
	FinishedAt         time.Time                    `json:"finished_at"`
	DurationMs         int64                        `json:"duration_ms"`
	Pages              int                          `json:"pages"`
	Fetched            int                          `json:"fetched"`
	Created            int                          `json:"created"`
	Updated            int                          `json:"updated"`
	Skipped            int                          `json:"skipped"`
	Errors             int                          `json:"errors"`
	MappingGaps        int                          `json:"mapping_gaps"`
	PossibleTruncation bool                         `json:"possible_truncation"`
	ErrorDetail        *integration.SyncErrorDetail `json:"error_detail,omitempty"`
	NextScheduledAt    time.Time                    `json:"next_scheduled_at"`
}

// ---------------------------------------------------------------------------
// SyncExecutor
// ---------------------------------------------------------------------------

// Reconciler applies fetched records. Implemented by
// appintegration.ReconciliationService.
type Reconciler interface {
	Reconcile(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType, raws []integration.RawRecord) (*appintegration.ReconcileResult, error)
}

// ExecutorConfig holds SyncExecutor settings
type ExecutorConfig struct {
	// StaleRunningAfter is when a running state may be reclaimed
	StaleRunningAfter time.Duration
	// RetryInterval is the first retry delay after an error
	RetryInterval      time.Duration
	ReconcileBatchSize int
	MaxRecordErrors    int
}

// DefaultExecutorConfig returns default configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		StaleRunningAfter:  time.Hour,
		RetryInterval:      2 * time.Minute,
		ReconcileBatchSize: 500,
		MaxRecordErrors:    appintegration.DefaultMaxRecordErrors,
	}
}

// SyncExecutor runs a single sync: claim the state, pull from the vendor,
// reconcile, and record the outcome.
type SyncExecutor struct {
	states     integration.SyncStateRepository
	adapters   integration.SourceAdapterRegistry
	reconciler Reconciler
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
	config     ExecutorConfig
	now        func() time.Time
}

// NewSyncExecutor creates a new SyncExecutor
func NewSyncExecutor(
	config ExecutorConfig,
	states integration.SyncStateRepository,
	adapters integration.SourceAdapterRegistry,
	reconciler Reconciler,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
) *SyncExecutor {
	defaults := DefaultExecutorConfig()
	if config.StaleRunningAfter <= 0 {
		config.StaleRunningAfter = defaults.StaleRunningAfter
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if config.ReconcileBatchSize <= 0 {
		config.ReconcileBatchSize = defaults.ReconcileBatchSize
	}
	if config.MaxRecordErrors <= 0 {
		config.MaxRecordErrors = defaults.MaxRecordErrors
	}
	return &SyncExecutor{
		states:     states,
		adapters:   adapters,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// Execute runs one sync attempt. It returns ErrSyncAlreadyRunning, without
// touching the vendor, when another attempt holds the state. Once the state
// is claimed every failure is recorded on it and reported through the
// returned run rather than as an error.
func (e *SyncExecutor) Execute(ctx context.Context, req SyncRequest) (*SyncRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx = logger.WithSyncRun(logger.WithTenantID(ctx, req.Tenant.ID.String()), req.EntityType.String(), req.Trigger)
	log := e.logger.With(
		zap.String("tenant_id", req.Tenant.ID.String()),
		zap.String("entity_type", req.EntityType.String()),
		zap.String("trigger", req.Trigger),
	)

	startedAt := e.now().UTC().Truncate(time.Microsecond)
	state, err := e.states.TryStart(ctx, req.Tenant.ID, req.EntityType, req.Trigger, startedAt, e.config.StaleRunningAfter)
	if err != nil {
		if errors.Is(err, integration.ErrSyncAlreadyRunning) {
			e.metrics.RecordSkipped(ctx, req.Trigger, req.EntityType.String())
			log.Debug("Sync already running, skipping")
		}
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "sync", "execute",
		telemetry.SpanAttrTenantID, req.Tenant.ID.String(),
		telemetry.SpanAttrEntityType, req.EntityType.String(),
		telemetry.SpanAttrTier, req.Trigger,
	)
	defer span.End()

	run := &SyncRun{
		ID:          uuid.New(),
		TenantID:    req.Tenant.ID,
		EntityType:  req.EntityType,
		Trigger:     req.Trigger,
		StartedAt:   startedAt,
		WindowStart: req.windowStart(startedAt, state.LastSyncAt),
	}
	log.Info("Sync started", zap.Time("window_start", run.WindowStart))

	total, listing, runErr := e.pull(ctx, req, run.WindowStart)
	if listing != nil {
		run.Pages = listing.Pages
		run.Fetched = len(listing.Records)
		run.PossibleTruncation = listing.PossibleTruncation
	}
	run.Created = total.Created
	run.Updated = total.Updated
	run.Skipped = total.Skipped
	run.Errors = total.ErrorsTotal
	run.MappingGaps = len(total.MappingGaps)

	run.FinishedAt = e.now().UTC()
	run.Status, run.ErrorDetail = classifyRun(total, run, runErr)
	if run.ErrorDetail != nil {
		run.ErrorDetail.OccurredAt = run.FinishedAt
	}
	run.NextScheduledAt = nextScheduledAt(run.Status, state.ErrorCount, req.Cadence, e.config.RetryInterval, run.FinishedAt)
	run.DurationMs = run.FinishedAt.Sub(startedAt).Milliseconds()

	// The outcome is recorded even when ctx has expired.
	err = e.states.Finish(context.WithoutCancel(ctx), req.Tenant.ID, req.EntityType, integration.SyncOutcome{
		Status:           run.Status,
		RecordsProcessed: total.Processed(),
		StartedAt:        startedAt,
		FinishedAt:       run.FinishedAt,
		NextScheduledAt:  run.NextScheduledAt,
		ErrorDetail:      run.ErrorDetail,
	})
	switch {
	case errors.Is(err, integration.ErrSyncSuperseded):
		log.Warn("Sync state was reclaimed before this run finished")
	case err != nil:
		log.Error("Failed to record sync outcome", zap.Error(err))
	}

	e.metrics.RecordRun(ctx, req.Trigger, req.EntityType.String(), run.Status.String(), run.FinishedAt.Sub(startedAt))
	telemetry.SetAttributes(span, "status", run.Status.String(), telemetry.SpanAttrRecords, run.Fetched)
	if runErr != nil {
		telemetry.RecordError(span, runErr)
	}

	fields := []zap.Field{
		zap.String("status", run.Status.String()),
		zap.Int("fetched", run.Fetched),
		zap.Int("created", run.Created),
		zap.Int("updated", run.Updated),
		zap.Int("skipped", run.Skipped),
		zap.Int("errors", run.Errors),
		zap.Bool("possible_truncation", run.PossibleTruncation),
		zap.Int64("duration_ms", run.DurationMs),
	}
	if run.Status == integration.SyncStatusError {
		log.Error("Sync failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("Sync completed", fields...)
	}
	return run, nil
}

// pull lists every page from the vendor and reconciles the records in chunks
func (e *SyncExecutor) pull(ctx context.Context, req SyncRequest, since time.Time) (*appintegration.ReconcileResult, *integration.ListResult, error) {
	total := &appintegration.ReconcileResult{}

	adapter, err := e.adapters.Get(req.Tenant.Vendor)
	if err != nil {
		return total, nil, err
	}
	listing, err := adapter.ListEntities(ctx, req.Tenant, req.EntityType, since, "")
	if err != nil {
		return total, nil, fmt.Errorf("list %s: %w", req.EntityType, err)
	}

	records := listing.Records
	for start := 0; start < len(records); start += e.config.ReconcileBatchSize {
		end := min(start+e.config.ReconcileBatchSize, len(records))
		result, err := e.reconciler.Reconcile(ctx, req.Tenant.ID, req.EntityType, records[start:end])
		total.Merge(result, e.config.MaxRecordErrors)
		if err != nil {
			return total, listing, fmt.Errorf("reconcile %s: %w", req.EntityType, err)
		}
	}
	return total, listing, nil
}

// classifyRun derives the terminal status. Source failures, timeouts and a
// batch that stored nothing are errors; truncation and record errors make a
// run partial.
func classifyRun(total *appintegration.ReconcileResult, run *SyncRun, runErr error) (integration.SyncStatus, *integration.SyncErrorDetail) {
	switch {
	case runErr != nil:
		return integration.SyncStatusError, &integration.SyncErrorDetail{
			Kind:         integration.ClassifySyncError(runErr),
			Message:      runErr.Error(),
			RecordErrors: total.Errors,
		}
	case total.StorageErr != nil && total.Created+total.Updated+total.Skipped == 0:
		return integration.SyncStatusError, &integration.SyncErrorDetail{
			Kind:         integration.SyncErrorStorage,
			Message:      total.StorageErr.Error(),
			RecordErrors: total.Errors,
		}
	case run.PossibleTruncation:
		err := fmt.Errorf("%w after %d records in %d pages", integration.ErrPossibleTruncation, run.Fetched, run.Pages)
		return integration.SyncStatusPartial, &integration.SyncErrorDetail{
			Kind:         integration.ClassifySyncError(err),
			Message:      err.Error(),
			RecordErrors: total.Errors,
		}
	case total.ErrorsTotal > 0:
		kind := integration.SyncErrorRecordErrors
		if total.StorageErr != nil {
			kind = integration.SyncErrorStorage
		}
		return integration.SyncStatusPartial, &integration.SyncErrorDetail{
			Kind:         kind,
			Message:      fmt.Sprintf("%d of %d records failed", total.ErrorsTotal, run.Fetched),
			RecordErrors: total.Errors,
		}
	}
	return integration.SyncStatusSuccess, nil
}

// nextScheduledAt is now+cadence after a completed run. After an error it is
// now+retry*2^errorCount, capped at the cadence.
func nextScheduledAt(status integration.SyncStatus, errorCount int, cadence, retry time.Duration, now time.Time) time.Time {
	if status != integration.SyncStatusError {
		return now.Add(cadence)
	}
	delay := retry
	for i := 0; i < errorCount && delay < cadence; i++ {
		delay *= 2
	}
	if cadence > 0 && delay > cadence {
		delay = cadence
	}
	return now.Add(delay)
}
