package scheduler

import (
	"fmt"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/config"
)

// Tier names
const (
	TierNearRealTime = "near_real_time"
	TierMedium       = "medium"
	TierLow          = "low"
	TierFull         = "full"

	// TriggerManual is recorded as the tier of operator-triggered runs
	TriggerManual = "manual"
)

// Tier is one cadence class of the scheduler
type Tier struct {
	Name        string
	EntityTypes []integration.EntityType
	Cadence     time.Duration
	// Lookback bounds the window start; with FixedWindow it is the window
	Lookback    time.Duration
	FixedWindow bool
	// Concurrency is the number of tenants synced at once
	Concurrency      int
	PerTenantTimeout time.Duration
	Enabled          bool
}

// Validate validates the tier
func (t Tier) Validate() error {
	if t.Name == "" || len(t.EntityTypes) == 0 {
		return fmt.Errorf("%w: tier needs a name and entity types", ErrInvalidConfig)
	}
	if t.Cadence <= 0 || t.Lookback <= 0 || t.PerTenantTimeout <= 0 {
		return fmt.Errorf("%w: tier %s needs positive cadence, lookback and timeout", ErrInvalidConfig, t.Name)
	}
	if t.Concurrency < 1 {
		return fmt.Errorf("%w: tier %s concurrency must be at least 1", ErrInvalidConfig, t.Name)
	}
	for _, et := range t.EntityTypes {
		if !et.IsValid() {
			return fmt.Errorf("%w: tier %s: %s", ErrInvalidConfig, t.Name, et)
		}
	}
	return nil
}

// TiersFromConfig builds the four standard tiers
func TiersFromConfig(cfg config.SyncConfig) []Tier {
	build := func(name string, tc config.TierConfig, entityTypes ...integration.EntityType) Tier {
		return Tier{
			Name:             name,
			EntityTypes:      entityTypes,
			Cadence:          tc.Cadence,
			Lookback:         tc.Lookback,
			FixedWindow:      tc.FixedWindow,
			Concurrency:      tc.Concurrency,
			PerTenantTimeout: tc.PerTenantTimeout,
			Enabled:          tc.Enabled,
		}
	}
	return []Tier{
		build(TierNearRealTime, cfg.NearRealTime,
			integration.EntityTypeOrders, integration.EntityTypeShipments),
		build(TierMedium, cfg.Medium,
			integration.EntityTypeProducts, integration.EntityTypeInventory, integration.EntityTypeInboundShipments),
		build(TierLow, cfg.Low,
			integration.EntityTypeWarehouses),
		build(TierFull, cfg.Full, integration.AllEntityTypes()...),
	}
}

// homeTiers maps each entity type to the shortest-cadence non-fixed tier
// that syncs it. Its cadence sets NextScheduledAt for every run of the type.
func homeTiers(tiers []Tier) map[integration.EntityType]Tier {
	home := make(map[integration.EntityType]Tier)
	for _, t := range tiers {
		if t.FixedWindow {
			continue
		}
		for _, et := range t.EntityTypes {
			if cur, ok := home[et]; !ok || t.Cadence < cur.Cadence {
				home[et] = t
			}
		}
	}
	// Types only covered by a fixed-window tier use that tier.
	for _, t := range tiers {
		for _, et := range t.EntityTypes {
			if _, ok := home[et]; !ok {
				home[et] = t
			}
		}
	}
	return home
}
