package wms

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
)

// Registry resolves source adapters by vendor code
type Registry struct {
	mu       sync.RWMutex
	adapters map[integration.VendorCode]integration.SourceAdapter
}

// Ensure Registry implements the interface
var _ integration.SourceAdapterRegistry = (*Registry)(nil)

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...integration.SourceAdapter) *Registry {
	r := &Registry{adapters: make(map[integration.VendorCode]integration.SourceAdapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its vendor
func (r *Registry) Register(adapter integration.SourceAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Vendor()] = adapter
}

// Get returns the adapter for a vendor, or ErrAdapterNotFound
func (r *Registry) Get(vendor integration.VendorCode) (integration.SourceAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrAdapterNotFound, vendor)
	}
	return adapter, nil
}

// Vendors lists registered vendor codes in sorted order
func (r *Registry) Vendors() []integration.VendorCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vendors := make([]integration.VendorCode, 0, len(r.adapters))
	for v := range r.adapters {
		vendors = append(vendors, v)
	}
	sort.Slice(vendors, func(i, j int) bool { return vendors[i] < vendors[j] })
	return vendors
}
