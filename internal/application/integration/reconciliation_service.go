package integration

import (
	"context"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxRecordErrors bounds ReconcileResult.Errors
const DefaultMaxRecordErrors = 50

// ReconciliationService is the single write path for vendor records. Both the
// scheduler and the webhook receiver apply records through it.
type ReconciliationService struct {
	records   integration.ExternalRecordRepository
	mapper    *integration.StatusMapper
	metrics   *telemetry.SyncMetrics
	logger    *zap.Logger
	maxErrors int
	now       func() time.Time
}

// ReconciliationOption configures a ReconciliationService
type ReconciliationOption func(*ReconciliationService)

// WithMaxRecordErrors sets how many record errors a result keeps
func WithMaxRecordErrors(n int) ReconciliationOption {
	return func(s *ReconciliationService) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// WithSyncMetrics records reconciliation counters
func WithSyncMetrics(m *telemetry.SyncMetrics) ReconciliationOption {
	return func(s *ReconciliationService) {
		s.metrics = m
	}
}

// WithClock overrides the clock used for SyncedAt
func WithClock(now func() time.Time) ReconciliationOption {
	return func(s *ReconciliationService) {
		s.now = now
	}
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	records integration.ExternalRecordRepository,
	mapper *integration.StatusMapper,
	logger *zap.Logger,
	opts ...ReconciliationOption,
) *ReconciliationService {
	if mapper == nil {
		mapper = integration.NewStatusMapper(nil)
	}
	s := &ReconciliationService{
		records:   records,
		mapper:    mapper,
		logger:    logger,
		maxErrors: DefaultMaxRecordErrors,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile applies a batch of raw records for one tenant and entity type.
//
// Each record is normalized and upserted on its own; a failing record is
// reported in the result and never stops the batch. When ctx is cancelled
// the remaining records are left unattempted and ctx.Err() is returned with
// the partial result.
func (s *ReconciliationService) Reconcile(
	ctx context.Context,
	tenantID uuid.UUID,
	entityType integration.EntityType,
	raws []integration.RawRecord,
) (*ReconcileResult, error) {
	return s.reconcile(ctx, tenantID, entityType, raws, "")
}

// ReconcileWithStatus is Reconcile with every record's normalized status
// forced to status. Cancellation events use it so a stale vendor status in
// the body cannot keep a cancelled entity open.
func (s *ReconciliationService) ReconcileWithStatus(
	ctx context.Context,
	tenantID uuid.UUID,
	entityType integration.EntityType,
	raws []integration.RawRecord,
	status integration.NormalizedStatus,
) (*ReconcileResult, error) {
	return s.reconcile(ctx, tenantID, entityType, raws, status)
}

func (s *ReconciliationService) reconcile(
	ctx context.Context,
	tenantID uuid.UUID,
	entityType integration.EntityType,
	raws []integration.RawRecord,
	override integration.NormalizedStatus,
) (*ReconcileResult, error) {
	if tenantID == uuid.Nil {
		return nil, integration.ErrInvalidTenantID
	}
	if !entityType.IsValid() {
		return nil, integration.ErrInvalidEntityType
	}

	ctx, span := telemetry.StartSpan(ctx, "reconcile", "batch",
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrEntityType, entityType.String(),
		telemetry.SpanAttrRecords, len(raws),
	)
	defer span.End()

	log := s.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("entity_type", entityType.String()),
	)

	result := &ReconcileResult{}
	var unchanged []string
	syncedAt := s.now()

	var ctxErr error
	for i := range raws {
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		raw := &raws[i]

		status, gap := s.normalize(entityType, raw, override)
		rec, err := integration.NewExternalRecord(tenantID, entityType, *raw, status, syncedAt)
		if err != nil {
			s.addError(result, raw.ExternalID, err)
			continue
		}
		if gap != nil {
			result.MappingGaps = append(result.MappingGaps, *gap)
			s.metrics.RecordMappingGap(ctx, entityType.String(), gap.VendorStatus)
			log.Warn("Unmapped vendor status, applied default",
				zap.String("external_id", gap.ExternalID),
				zap.String("vendor_status", gap.VendorStatus),
				zap.String("applied", gap.Applied.String()),
			)
		}

		outcome, err := s.records.Upsert(ctx, rec)
		if err != nil {
			if ctxErr = ctx.Err(); ctxErr != nil {
				break
			}
			if result.StorageErr == nil {
				result.StorageErr = err
			}
			s.addError(result, rec.ExternalID, err)
			log.Error("Failed to upsert record",
				zap.String("external_id", rec.ExternalID),
				zap.Error(err),
			)
			continue
		}

		switch outcome {
		case integration.UpsertCreated:
			result.Created++
			result.CreatedIDs = append(result.CreatedIDs, rec.LocalID)
		case integration.UpsertUpdated:
			result.Updated++
			result.UpdatedIDs = append(result.UpdatedIDs, rec.LocalID)
		default:
			result.Skipped++
			unchanged = append(unchanged, rec.ExternalID)
		}
	}

	if ctxErr == nil && len(unchanged) > 0 {
		if err := s.records.TouchSynced(ctx, tenantID, entityType, unchanged, syncedAt); err != nil {
			log.Warn("Failed to update synced_at for unchanged records",
				zap.Int("count", len(unchanged)),
				zap.Error(err),
			)
		}
	}

	s.metrics.RecordRecords(ctx, entityType.String(), result.Created, result.Updated, result.Skipped, result.ErrorsTotal)
	telemetry.SetAttributes(span,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", result.ErrorsTotal,
	)

	log.Debug("Batch reconciled",
		zap.Int("records", len(raws)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", result.ErrorsTotal),
		zap.Int("mapping_gaps", len(result.MappingGaps)),
	)

	if ctxErr != nil {
		telemetry.RecordError(span, ctxErr)
		return result, ctxErr
	}
	return result, nil
}

// normalize maps the record's vendor status. A non-nil gap is returned when
// the status was unknown and the default was applied.
func (s *ReconciliationService) normalize(
	entityType integration.EntityType,
	raw *integration.RawRecord,
	override integration.NormalizedStatus,
) (integration.NormalizedStatus, *integration.MappingGap) {
	if override != "" {
		return override, nil
	}
	status, ok := s.mapper.Normalize(entityType, raw.VendorStatus)
	if ok {
		return status, nil
	}
	return status, &integration.MappingGap{
		EntityType:   entityType,
		ExternalID:   raw.ExternalID,
		VendorStatus: raw.VendorStatus,
		Applied:      status,
	}
}

func (s *ReconciliationService) addError(result *ReconcileResult, externalID string, err error) {
	result.ErrorsTotal++
	if len(result.Errors) >= s.maxErrors {
		return
	}
	result.Errors = append(result.Errors, integration.RecordError{
		ExternalID: externalID,
		Reason:     err.Error(),
	})
}
