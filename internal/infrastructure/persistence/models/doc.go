// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns; each model has ToDomain/FromDomain mappers.
//
// Tables:
//   - wms_records / wms_record_children: reconciled vendor entities and their fan-out rows
//   - sync_states: per (tenant, entity type) sync progress
//   - webhook_events: inbound webhook dedup log
//   - tenant_integrations: read-only view of tenant WMS connections
package models
