package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SyncMeterName is the instrumentation scope for sync metrics.
const SyncMeterName = "packr-sync/sync"

// SyncMetrics holds the instruments recorded by the scheduler, the
// reconciliation engine and the webhook receiver. A nil *SyncMetrics is valid
// and records nothing.
type SyncMetrics struct {
	runs          *Counter
	runDuration   *Histogram
	skippedTicks  *Counter
	records       *Counter
	recordErrors  *Counter
	mappingGaps   *Counter
	webhookEvents *Counter
}

// NewSyncMetrics creates the sync instruments on meter.
func NewSyncMetrics(meter metric.Meter) (*SyncMetrics, error) {
	m := &SyncMetrics{}
	var err error

	if m.runs, err = NewCounter(meter, "sync_runs_total",
		"Completed sync runs by tier, entity type and status", "{run}"); err != nil {
		return nil, err
	}
	if m.runDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "sync_run_duration_seconds",
		Description: "Duration of sync runs",
		Unit:        "s",
		Boundaries:  SyncDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.skippedTicks, err = NewCounter(meter, "sync_skipped_total",
		"Sync attempts skipped because the pair was already running", "{run}"); err != nil {
		return nil, err
	}
	if m.records, err = NewCounter(meter, "sync_records_total",
		"Reconciled records by outcome", "{record}"); err != nil {
		return nil, err
	}
	if m.recordErrors, err = NewCounter(meter, "sync_record_errors_total",
		"Records that failed reconciliation", "{record}"); err != nil {
		return nil, err
	}
	if m.mappingGaps, err = NewCounter(meter, "sync_status_mapping_gaps_total",
		"Vendor statuses with no entry in the mapping table", "{record}"); err != nil {
		return nil, err
	}
	if m.webhookEvents, err = NewCounter(meter, "webhook_events_total",
		"Webhook deliveries by category and outcome", "{event}"); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRun records one finished sync run.
func (m *SyncMetrics) RecordRun(ctx context.Context, tier, entityType, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{AttrTier.String(tier), AttrEntityType.String(entityType)}
	m.runs.Inc(ctx, append(attrs, AttrStatus.String(status))...)
	m.runDuration.RecordDuration(ctx, d, attrs...)
}

// RecordSkipped records an attempt refused by the overlap guard.
func (m *SyncMetrics) RecordSkipped(ctx context.Context, tier, entityType string) {
	if m == nil {
		return
	}
	m.skippedTicks.Inc(ctx, AttrTier.String(tier), AttrEntityType.String(entityType))
}

// RecordRecords records reconciliation outcome counts for one batch.
func (m *SyncMetrics) RecordRecords(ctx context.Context, entityType string, created, updated, skipped, errs int) {
	if m == nil {
		return
	}
	et := AttrEntityType.String(entityType)
	m.records.Add(ctx, int64(created), et, AttrOutcome.String("created"))
	m.records.Add(ctx, int64(updated), et, AttrOutcome.String("updated"))
	m.records.Add(ctx, int64(skipped), et, AttrOutcome.String("skipped"))
	m.recordErrors.Add(ctx, int64(errs), et)
}

// RecordMappingGap records one unmapped vendor status.
func (m *SyncMetrics) RecordMappingGap(ctx context.Context, entityType, vendorStatus string) {
	if m == nil {
		return
	}
	m.mappingGaps.Inc(ctx, AttrEntityType.String(entityType), AttrReason.String(vendorStatus))
}

// RecordWebhook records one webhook delivery.
func (m *SyncMetrics) RecordWebhook(ctx context.Context, category, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Inc(ctx, AttrCategory.String(category), AttrOutcome.String(outcome))
}
