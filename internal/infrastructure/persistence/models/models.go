package models

// All returns every model managed by this service, in dependency order.
// Used by AutoMigrate in tests and local development; production schemas
// come from the SQL migrations.
func All() []any {
	return []any{
		&TenantIntegrationModel{},
		&ExternalRecordModel{},
		&ExternalRecordChildModel{},
		&SyncStateModel{},
		&WebhookEventModel{},
	}
}
