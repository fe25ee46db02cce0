// Package integration contains the WMS integration bounded context.
// It keeps the local system of record eventually consistent with an external
// warehouse management system that rate-limits, paginates inconsistently and
// delivers webhooks best-effort.
//
// Key concepts:
//   - SourceAdapter: Port interface for one WMS vendor's API (list, fetch, verify)
//   - ExternalRecord: Local copy of a vendor entity keyed by (tenant, entity type, external ID)
//   - SyncState: Per-tenant, per-entity-type record of sync progress and failures
//   - WebhookEvent: Dedup record for inbound push events
//   - StatusMapper: Per-entity-type table from vendor status to NormalizedStatus
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
