package integration

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// EntityType identifies a kind of WMS entity
// ---------------------------------------------------------------------------

// EntityType identifies a kind of WMS entity
type EntityType string

const (
	// EntityTypeOrders represents customer orders
	EntityTypeOrders EntityType = "orders"
	// EntityTypeShipments represents outbound shipments
	EntityTypeShipments EntityType = "shipments"
	// EntityTypeProducts represents the product catalog
	EntityTypeProducts EntityType = "products"
	// EntityTypeInventory represents stock levels
	EntityTypeInventory EntityType = "inventory"
	// EntityTypeInboundShipments represents inbound (receiving) shipments
	EntityTypeInboundShipments EntityType = "inbound_shipments"
	// EntityTypeWarehouses represents warehouse reference data
	EntityTypeWarehouses EntityType = "warehouses"
)

// EntitySelectorAll selects every entity type in a manual sync request
const EntitySelectorAll = "all"

// AllEntityTypes returns every entity type in a stable order
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityTypeOrders,
		EntityTypeShipments,
		EntityTypeProducts,
		EntityTypeInventory,
		EntityTypeInboundShipments,
		EntityTypeWarehouses,
	}
}

// IsValid returns true if the entity type is known
func (e EntityType) IsValid() bool {
	switch e {
	case EntityTypeOrders, EntityTypeShipments, EntityTypeProducts,
		EntityTypeInventory, EntityTypeInboundShipments, EntityTypeWarehouses:
		return true
	default:
		return false
	}
}

// String returns the string representation of EntityType
func (e EntityType) String() string {
	return string(e)
}

// ChildKind returns the kind of child rows this entity type fans out to,
// or an empty kind if it has none.
func (e EntityType) ChildKind() ChildKind {
	switch e {
	case EntityTypeOrders:
		return ChildKindLineItem
	case EntityTypeShipments:
		return ChildKindTrackingEvent
	case EntityTypeInboundShipments:
		return ChildKindInboundLine
	default:
		return ""
	}
}

// ParseEntityType parses a single entity type name
func ParseEntityType(s string) (EntityType, error) {
	e := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !e.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntityType, s)
	}
	return e, nil
}

// ExpandEntitySelector resolves a manual-sync selector ("all" or a single
// entity type) into the entity types to sync.
func ExpandEntitySelector(selector string) ([]EntityType, error) {
	if strings.EqualFold(strings.TrimSpace(selector), EntitySelectorAll) {
		return AllEntityTypes(), nil
	}
	e, err := ParseEntityType(selector)
	if err != nil {
		return nil, err
	}
	return []EntityType{e}, nil
}

// ---------------------------------------------------------------------------
// VendorCode identifies a WMS vendor implementation
// ---------------------------------------------------------------------------

// VendorCode identifies a WMS vendor implementation
type VendorCode string

const (
	// VendorGenericREST is a generic cursor-paginated REST WMS
	VendorGenericREST VendorCode = "generic_rest"
)

// String returns the string representation of VendorCode
func (v VendorCode) String() string {
	return string(v)
}
