package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultClaimTTL is how long a delivery claim blocks concurrent duplicates
const DefaultClaimTTL = 5 * time.Minute

// webhookCategories maps the event type prefix to the entity it carries
var webhookCategories = map[string]integration.EntityType{
	"order":            integration.EntityTypeOrders,
	"shipment":         integration.EntityTypeShipments,
	"inventory":        integration.EntityTypeInventory,
	"product":          integration.EntityTypeProducts,
	"inbound_shipment": integration.EntityTypeInboundShipments,
}

// WebhookConfig configures the webhook receiver
type WebhookConfig struct {
	// Vendor selects the adapter that verifies and decodes deliveries
	Vendor integration.VendorCode
	// Secret is the shared HMAC secret
	Secret   string
	ClaimTTL time.Duration
}

// WebhookService authenticates, deduplicates and applies vendor push events
type WebhookService struct {
	adapters   integration.SourceAdapterRegistry
	tenants    integration.TenantDirectory
	events     integration.WebhookEventRepository
	claims     integration.ClaimStore
	reconciler *ReconciliationService
	metrics    *telemetry.SyncMetrics
	logger     *zap.Logger
	config     WebhookConfig
	now        func() time.Time
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(
	config WebhookConfig,
	adapters integration.SourceAdapterRegistry,
	tenants integration.TenantDirectory,
	events integration.WebhookEventRepository,
	claims integration.ClaimStore,
	reconciler *ReconciliationService,
	metrics *telemetry.SyncMetrics,
	logger *zap.Logger,
) *WebhookService {
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = DefaultClaimTTL
	}
	return &WebhookService{
		adapters:   adapters,
		tenants:    tenants,
		events:     events,
		claims:     claims,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     logger,
		config:     config,
		now:        time.Now,
	}
}

// Handle processes one delivery. It returns ErrAuthentication, with nothing
// written, when the signature does not verify. Every authenticated delivery
// yields a result; failures are reported through its Outcome so the vendor
// is always acknowledged.
func (s *WebhookService) Handle(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	adapter, err := s.adapters.Get(s.config.Vendor)
	if err != nil {
		return nil, err
	}
	if !adapter.VerifySignature(rawBody, signature, s.config.Secret) {
		s.metrics.RecordWebhook(ctx, "unknown", "unauthenticated")
		return nil, integration.ErrAuthentication
	}

	var env WebhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil || strings.TrimSpace(env.EventID) == "" {
		reason := "missing event_id"
		if err != nil {
			reason = "malformed envelope"
		}
		s.logger.Warn("Ignoring authenticated webhook with unusable envelope", zap.String("reason", reason))
		s.metrics.RecordWebhook(ctx, "unknown", integration.WebhookOutcomeIgnored.String())
		return &WebhookResult{Outcome: integration.WebhookOutcomeIgnored, Message: reason}, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "webhook", "handle",
		telemetry.SpanAttrEventID, env.EventID,
		"event_type", env.EventType,
	)
	defer span.End()

	category, _, _ := strings.Cut(env.EventType, ".")
	result := s.handle(ctx, adapter, &env, rawBody)
	telemetry.SetAttributes(span, "outcome", result.Outcome.String())
	s.metrics.RecordWebhook(ctx, category, result.Outcome.String())
	return result, nil
}

func (s *WebhookService) handle(ctx context.Context, adapter integration.SourceAdapter, env *WebhookEnvelope, rawBody []byte) *WebhookResult {
	log := s.logger.With(
		zap.String("event_id", env.EventID),
		zap.String("event_type", env.EventType),
		zap.String("connection_id", env.ConnectionID),
	)
	result := &WebhookResult{EventID: env.EventID, EventType: env.EventType}

	stored, inserted, err := s.events.Record(ctx, &integration.WebhookEvent{
		ID:           uuid.New(),
		Vendor:       s.config.Vendor,
		EventID:      env.EventID,
		ConnectionID: env.ConnectionID,
		EventType:    env.EventType,
		ReceivedAt:   s.now().UTC(),
		Payload:      rawBody,
	})
	if err != nil {
		log.Error("Failed to record webhook event", zap.Error(err))
		result.Outcome = integration.WebhookOutcomeTransientFailure
		result.Message = "event could not be recorded"
		return result
	}
	if stored.IsProcessed() {
		log.Info("Duplicate webhook delivery", zap.Int("delivery_count", stored.DeliveryCount))
		result.Outcome = integration.WebhookOutcomeAlreadyProcessed
		return result
	}

	claimKey := string(s.config.Vendor) + ":" + env.EventID
	claimed, err := s.claims.Claim(ctx, claimKey, s.config.ClaimTTL)
	if err != nil {
		// The event table still deduplicates; proceed without the fast path.
		log.Warn("Webhook claim store unavailable", zap.Error(err))
		claimed = true
	}
	if !claimed {
		result.Outcome = integration.WebhookOutcomeInFlight
		return result
	}
	defer func() {
		// Released with a fresh context so a cancelled request still frees it.
		if err := s.claims.Release(context.WithoutCancel(ctx), claimKey); err != nil {
			log.Warn("Failed to release webhook claim", zap.Error(err))
		}
	}()

	// Another delivery may have finished between Record and Claim.
	if !inserted {
		current, err := s.events.FindByEventID(ctx, s.config.Vendor, env.EventID)
		if err == nil && current.IsProcessed() {
			result.Outcome = integration.WebhookOutcomeAlreadyProcessed
			return result
		}
	}

	outcome, tenantID, procErr := s.process(ctx, adapter, env, result)
	result.Outcome = outcome
	result.TenantID = tenantID

	completion := integration.WebhookCompletion{TenantID: tenantID, Outcome: outcome}
	if procErr != nil {
		completion.Error = procErr.Error()
		result.Message = procErr.Error()
	}
	if outcome != integration.WebhookOutcomeTransientFailure {
		processedAt := s.now().UTC()
		completion.ProcessedAt = &processedAt
	}

	switch outcome {
	case integration.WebhookOutcomeTransientFailure:
		log.Warn("Webhook processing failed, awaiting redelivery", zap.Error(procErr))
	case integration.WebhookOutcomeFailed:
		log.Warn("Webhook processing failed permanently", zap.Error(procErr))
	default:
		log.Info("Webhook processed", zap.String("outcome", outcome.String()))
	}

	if err := s.events.Complete(context.WithoutCancel(ctx), s.config.Vendor, env.EventID, completion); err != nil {
		log.Error("Failed to record webhook outcome", zap.Error(err))
		result.Outcome = integration.WebhookOutcomeTransientFailure
		result.Message = "outcome could not be recorded"
	}
	return result
}

// process resolves the tenant and applies the event body. Transient failures
// return WebhookOutcomeTransientFailure so the event stays open.
func (s *WebhookService) process(
	ctx context.Context,
	adapter integration.SourceAdapter,
	env *WebhookEnvelope,
	result *WebhookResult,
) (integration.WebhookOutcome, *uuid.UUID, error) {
	tenant, err := s.tenants.FindByConnectionID(ctx, env.ConnectionID)
	if err != nil {
		if errors.Is(err, integration.ErrTenantNotFound) {
			return integration.WebhookOutcomeUnknownConnection, nil, nil
		}
		return integration.WebhookOutcomeTransientFailure, nil, fmt.Errorf("resolve tenant: %w", err)
	}
	tenantID := tenant.ID

	entityType, forced, ok := classifyEvent(env.EventType)
	if !ok {
		return integration.WebhookOutcomeIgnored, &tenantID, nil
	}

	raw, err := s.loadRecord(ctx, adapter, *tenant, entityType, env.Data)
	if err != nil {
		if isTransientFailure(err) {
			return integration.WebhookOutcomeTransientFailure, &tenantID, err
		}
		return integration.WebhookOutcomeFailed, &tenantID, err
	}

	var rec *ReconcileResult
	batch := []integration.RawRecord{*raw}
	if forced != "" {
		rec, err = s.reconciler.ReconcileWithStatus(ctx, tenantID, entityType, batch, forced)
	} else {
		rec, err = s.reconciler.Reconcile(ctx, tenantID, entityType, batch)
	}
	result.Reconcile = rec
	switch {
	case err != nil:
		return integration.WebhookOutcomeTransientFailure, &tenantID, err
	case rec.StorageErr != nil:
		return integration.WebhookOutcomeTransientFailure, &tenantID, rec.StorageErr
	case rec.ErrorsTotal > 0:
		return integration.WebhookOutcomeFailed, &tenantID, errors.New(rec.Errors[0].Reason)
	}
	return integration.WebhookOutcomeProcessed, &tenantID, nil
}

// loadRecord decodes the entity body, fetching it from the vendor when the
// event only carries the entity ID.
func (s *WebhookService) loadRecord(
	ctx context.Context,
	adapter integration.SourceAdapter,
	tenant integration.Tenant,
	entityType integration.EntityType,
	data json.RawMessage,
) (*integration.RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: event has no data", integration.ErrInvalidRecord)
	}

	if id, thin := thinEntityID(data); thin {
		return adapter.FetchOne(ctx, tenant, entityType, id)
	}
	return adapter.DecodeRecord(entityType, data)
}

// classifyEvent maps an event type such as "order.updated" to its entity
// type. For "*.cancelled" events on cancellable entities the forced status
// is StatusCancelled.
func classifyEvent(eventType string) (integration.EntityType, integration.NormalizedStatus, bool) {
	category, action, _ := strings.Cut(strings.ToLower(strings.TrimSpace(eventType)), ".")
	entityType, ok := webhookCategories[category]
	if !ok {
		return "", "", false
	}
	if action == "cancelled" || action == "canceled" {
		switch entityType {
		case integration.EntityTypeOrders, integration.EntityTypeShipments, integration.EntityTypeInboundShipments:
			return entityType, integration.StatusCancelled, true
		}
	}
	return entityType, "", true
}

// thinEntityID reports whether data is an object carrying only an id.
func thinEntityID(data json.RawMessage) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || len(fields) != 1 {
		return "", false
	}
	rawID, ok := fields["id"]
	if !ok {
		return "", false
	}
	var id any
	dec := json.NewDecoder(bytes.NewReader(rawID))
	dec.UseNumber()
	if err := dec.Decode(&id); err != nil {
		return "", false
	}
	switch v := id.(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

func isTransientFailure(err error) bool {
	return integration.IsTransient(err) || errors.Is(err, context.Canceled)
}
