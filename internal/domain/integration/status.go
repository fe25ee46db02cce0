package integration

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// NormalizedStatus is the closed internal status vocabulary
// ---------------------------------------------------------------------------

// NormalizedStatus is the closed internal status vocabulary that vendor
// statuses are mapped into
type NormalizedStatus string

const (
	StatusPending           NormalizedStatus = "pending"
	StatusProcessing        NormalizedStatus = "processing"
	StatusOnHold            NormalizedStatus = "on_hold"
	StatusShipped           NormalizedStatus = "shipped"
	StatusInTransit         NormalizedStatus = "in_transit"
	StatusDelivered         NormalizedStatus = "delivered"
	StatusCompleted         NormalizedStatus = "completed"
	StatusCancelled         NormalizedStatus = "cancelled"
	StatusReturned          NormalizedStatus = "returned"
	StatusException         NormalizedStatus = "exception"
	StatusActive            NormalizedStatus = "active"
	StatusInactive          NormalizedStatus = "inactive"
	StatusInStock           NormalizedStatus = "in_stock"
	StatusLowStock          NormalizedStatus = "low_stock"
	StatusOutOfStock        NormalizedStatus = "out_of_stock"
	StatusPartiallyReceived NormalizedStatus = "partially_received"
	StatusReceived          NormalizedStatus = "received"
)

// DefaultStatus is applied when a vendor status is unknown or missing
const DefaultStatus = StatusPending

// String returns the string representation of NormalizedStatus
func (s NormalizedStatus) String() string {
	return string(s)
}

// IsCancellation reports whether the status ends the entity's lifecycle by cancellation
func (s NormalizedStatus) IsCancellation() bool {
	return s == StatusCancelled
}

// ---------------------------------------------------------------------------
// StatusMapper
// ---------------------------------------------------------------------------

// MappingGap describes a vendor status that had no entry in the mapping
// table. The record is still applied, with Applied as its status.
type MappingGap struct {
	EntityType   EntityType
	ExternalID   string
	VendorStatus string
	Applied      NormalizedStatus
}

// String returns a human-readable description of the gap
func (g MappingGap) String() string {
	return fmt.Sprintf("unmapped %s status %q for %s, applied %q",
		g.EntityType, g.VendorStatus, g.ExternalID, g.Applied)
}

// StatusMapper maps vendor status strings into NormalizedStatus using one
// table per entity type. Vendor statuses are compared case-insensitively with
// spaces and hyphens folded to underscores.
type StatusMapper struct {
	tables map[EntityType]map[string]NormalizedStatus
}

// NewStatusMapper returns a mapper loaded with the default tables.
// overrides, keyed by entity type, add or replace individual entries.
func NewStatusMapper(overrides map[EntityType]map[string]NormalizedStatus) *StatusMapper {
	tables := defaultStatusTables()
	for entityType, entries := range overrides {
		if tables[entityType] == nil {
			tables[entityType] = make(map[string]NormalizedStatus, len(entries))
		}
		for vendor, status := range entries {
			tables[entityType][foldVendorStatus(vendor)] = status
		}
	}
	return &StatusMapper{tables: tables}
}

// Normalize maps a vendor status for the given entity type. ok is false when
// the status was non-empty but unknown, in which case DefaultStatus is returned
// and the caller should report a MappingGap.
func (m *StatusMapper) Normalize(entityType EntityType, vendorStatus string) (status NormalizedStatus, ok bool) {
	key := foldVendorStatus(vendorStatus)
	if key == "" {
		return DefaultStatus, true
	}
	if s, found := m.tables[entityType][key]; found {
		return s, true
	}
	return DefaultStatus, false
}

func foldVendorStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

func defaultStatusTables() map[EntityType]map[string]NormalizedStatus {
	return map[EntityType]map[string]NormalizedStatus{
		EntityTypeOrders: {
			"new":              StatusPending,
			"open":             StatusPending,
			"pending":          StatusPending,
			"awaiting_payment": StatusPending,
			"processing":       StatusProcessing,
			"allocated":        StatusProcessing,
			"picking":          StatusProcessing,
			"packing":          StatusProcessing,
			"in_progress":      StatusProcessing,
			"on_hold":          StatusOnHold,
			"hold":             StatusOnHold,
			"backordered":      StatusOnHold,
			"shipped":          StatusShipped,
			"fulfilled":        StatusShipped,
			"dispatched":       StatusShipped,
			"delivered":        StatusDelivered,
			"completed":        StatusCompleted,
			"closed":           StatusCompleted,
			"cancelled":        StatusCancelled,
			"canceled":         StatusCancelled,
			"void":             StatusCancelled,
			"returned":         StatusReturned,
			"refunded":         StatusReturned,
			"exception":        StatusException,
			"error":            StatusException,
		},
		EntityTypeShipments: {
			"created":          StatusPending,
			"pending":          StatusPending,
			"label_created":    StatusPending,
			"shipped":          StatusShipped,
			"picked_up":        StatusInTransit,
			"in_transit":       StatusInTransit,
			"out_for_delivery": StatusInTransit,
			"delivered":        StatusDelivered,
			"delayed":          StatusException,
			"exception":        StatusException,
			"failed_attempt":   StatusException,
			"lost":             StatusException,
			"returned":         StatusReturned,
			"return_to_sender": StatusReturned,
			"cancelled":        StatusCancelled,
			"canceled":         StatusCancelled,
			"void":             StatusCancelled,
		},
		EntityTypeProducts: {
			"active":       StatusActive,
			"enabled":      StatusActive,
			"live":         StatusActive,
			"inactive":     StatusInactive,
			"disabled":     StatusInactive,
			"archived":     StatusInactive,
			"discontinued": StatusInactive,
		},
		EntityTypeInventory: {
			"in_stock":     StatusInStock,
			"available":    StatusInStock,
			"low":          StatusLowStock,
			"low_stock":    StatusLowStock,
			"out_of_stock": StatusOutOfStock,
			"unavailable":  StatusOutOfStock,
			"oos":          StatusOutOfStock,
		},
		EntityTypeInboundShipments: {
			"draft":              StatusPending,
			"pending":            StatusPending,
			"scheduled":          StatusPending,
			"expected":           StatusPending,
			"shipped":            StatusInTransit,
			"in_transit":         StatusInTransit,
			"arrived":            StatusPartiallyReceived,
			"receiving":          StatusPartiallyReceived,
			"partially_received": StatusPartiallyReceived,
			"received":           StatusReceived,
			"completed":          StatusReceived,
			"closed":             StatusReceived,
			"cancelled":          StatusCancelled,
			"canceled":           StatusCancelled,
		},
		EntityTypeWarehouses: {
			"active":   StatusActive,
			"open":     StatusActive,
			"inactive": StatusInactive,
			"closed":   StatusInactive,
		},
	}
}
