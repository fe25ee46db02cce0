package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/config"
)

// Executor runs one sync attempt. Implemented by SyncExecutor.
type Executor interface {
	Execute(ctx context.Context, req SyncRequest) (*SyncRun, error)
}

// ---------------------------------------------------------------------------
// SchedulerConfig
// ---------------------------------------------------------------------------

// SchedulerConfig holds configuration for the sync scheduler
type SchedulerConfig struct {
	// Enabled starts the periodic tiers; manual syncs work either way
	Enabled bool
	// StartupDelay is the wait before each tier's first tick
	StartupDelay time.Duration
	// Jitter is the +/- fraction applied to every tier interval
	Jitter float64
	// InterTenantDelay spaces out tenant dispatches within a tick
	InterTenantDelay time.Duration
	// ManualLookback is the manual window when a pair never synced
	ManualLookback time.Duration
	// HistorySize bounds the in-memory run history
	HistorySize int
	Tiers       []Tier
}

// SchedulerConfigFromConfig builds the scheduler configuration
func SchedulerConfigFromConfig(cfg config.SyncConfig) SchedulerConfig {
	return SchedulerConfig{
		Enabled:          cfg.Enabled,
		StartupDelay:     cfg.StartupDelay,
		Jitter:           cfg.Jitter,
		InterTenantDelay: cfg.InterTenantDelay,
		ManualLookback:   cfg.ManualLookback,
		HistorySize:      cfg.HistorySize,
		Tiers:            TiersFromConfig(cfg),
	}
}

// Validate validates the configuration
func (c *SchedulerConfig) Validate() error {
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidConfig)
	}
	if c.StartupDelay < 0 || c.InterTenantDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidConfig)
	}
	if c.ManualLookback <= 0 {
		return fmt.Errorf("%w: manual lookback must be positive", ErrInvalidConfig)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("%w: no tiers configured", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Tiers))
	for _, t := range c.Tiers {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate tier %s", ErrInvalidConfig, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// ---------------------------------------------------------------------------
// Manual sync types
// ---------------------------------------------------------------------------

// SummarySkippedRunning is the summary status of an entity type whose sync
// was already in flight
const SummarySkippedRunning = "skipped_running"

// ManualSyncRequest is an operator-triggered sync
type ManualSyncRequest struct {
	TenantID uuid.UUID
	// EntityType is a single entity type or "all"
	EntityType string
	// LookbackDays overrides the window (1..365)
	LookbackDays *int
}

// EntitySyncSummary reports the manual sync of one entity type
type EntitySyncSummary struct {
	EntityType         integration.EntityType `json:"entity_type"`
	Status             string                 `json:"status"`
	Created            int                    `json:"created"`
	Updated            int                    `json:"updated"`
	Skipped            int                    `json:"skipped"`
	Errors             int                    `json:"errors"`
	PossibleTruncation bool                   `json:"possible_truncation,omitempty"`
	Error              string                 `json:"error,omitempty"`
}

// ManualSyncResult totals a manual sync
type ManualSyncResult struct {
	TenantID uuid.UUID           `json:"tenant_id"`
	Created  int                 `json:"created"`
	Updated  int                 `json:"updated"`
	Skipped  int                 `json:"skipped"`
	Errors   int                 `json:"errors"`
	Entities []EntitySyncSummary `json:"entities"`
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// TierStats describes one tier's activity
type TierStats struct {
	Name        string                   `json:"name"`
	EntityTypes []integration.EntityType `json:"entity_types"`
	Enabled     bool                     `json:"enabled"`
	Cadence     string                   `json:"cadence"`
	Concurrency int                      `json:"concurrency"`
	Ticks       int64                    `json:"ticks"`
	// RetrySweeps counts wake-ups between ticks for failed pairs
	RetrySweeps int64                    `json:"retry_sweeps"`
	Runs        int64                    `json:"runs"`
	Skipped     int64                    `json:"skipped"`
	LastTickAt  *time.Time               `json:"last_tick_at,omitempty"`
	NextTickAt  *time.Time               `json:"next_tick_at,omitempty"`
}

// RunTotals counts runs by outcome since startup
type RunTotals struct {
	Runs    int64 `json:"runs"`
	Success int64 `json:"success"`
	Partial int64 `json:"partial"`
	Error   int64 `json:"error"`
	Skipped int64 `json:"skipped"`
}

// SchedulerStats is a snapshot of the scheduler
type SchedulerStats struct {
	Running    bool        `json:"running"`
	ActiveRuns int64       `json:"active_runs"`
	Tiers      []TierStats `json:"tiers"`
	Totals     RunTotals   `json:"totals"`
	History    []SyncRun   `json:"history"`
}

// statsHistoryLimit is how many runs Stats includes
const statsHistoryLimit = 20

// ---------------------------------------------------------------------------
// SyncScheduler
// ---------------------------------------------------------------------------

// SyncScheduler runs each tier as an independent periodic task and serves
// manual syncs through the same executor
type SyncScheduler struct {
	config   SchedulerConfig
	executor Executor
	tenants  integration.TenantDirectory
	states   integration.SyncStateRepository
	logger   *zap.Logger
	home     map[integration.EntityType]Tier
	now      func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	active    atomic.Int64

	statsMu   sync.Mutex
	tierStats map[string]*TierStats
	totals    RunTotals

	// Run history for monitoring (in-memory, limited size, newest first)
	historyMu  sync.RWMutex
	history    []SyncRun
	maxHistory int
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(
	config SchedulerConfig,
	executor Executor,
	tenants integration.TenantDirectory,
	states integration.SyncStateRepository,
	logger *zap.Logger,
) (*SyncScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 200
	}

	tierStats := make(map[string]*TierStats, len(config.Tiers))
	for _, t := range config.Tiers {
		tierStats[t.Name] = &TierStats{
			Name:        t.Name,
			EntityTypes: t.EntityTypes,
			Enabled:     t.Enabled,
			Cadence:     t.Cadence.String(),
			Concurrency: t.Concurrency,
		}
	}

	return &SyncScheduler{
		config:     config,
		executor:   executor,
		tenants:    tenants,
		states:     states,
		logger:     logger,
		home:       homeTiers(config.Tiers),
		now:        time.Now,
		tierStats:  tierStats,
		history:    make([]SyncRun, 0, config.HistorySize),
		maxHistory: config.HistorySize,
	}, nil
}

// Start launches one goroutine per enabled tier
func (s *SyncScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Sync scheduler disabled, only manual syncs will run")
		return nil
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	// Detached from the caller so Stop alone ends the loops.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	started := make([]string, 0, len(s.config.Tiers))
	for _, tier := range s.config.Tiers {
		if !tier.Enabled {
			continue
		}
		s.wg.Add(1)
		go s.runTier(ctx, tier)
		started = append(started, tier.Name)
	}

	s.logger.Info("Sync scheduler started",
		zap.Strings("tiers", started),
		zap.Duration("startup_delay", s.config.StartupDelay),
		zap.Float64("jitter", s.config.Jitter),
	)
	return nil
}

// Stop cancels the tier loops and waits for in-flight runs
func (s *SyncScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Sync scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Sync scheduler stop timed out", zap.Int64("active_runs", s.active.Load()))
		return ctx.Err()
	}
}

// IsRunning returns true if the tier loops are running
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// runTier ticks one tier until ctx is cancelled. Ticks never overlap: the
// next interval starts after the previous tick has finished. Between ticks
// the loop also wakes for failed pairs whose retry falls before the next
// tick, so the retry interval is honoured on long cadences.
func (s *SyncScheduler) runTier(ctx context.Context, tier Tier) {
	defer s.wg.Done()

	nextTick := s.now().Add(s.config.StartupDelay)
	retryAfter := s.now()
	for {
		wake, retry := nextTick, false
		if at := s.nextRetry(ctx, tier, retryAfter); at != nil && at.Before(nextTick) {
			wake, retry = *at, true
		}
		s.setNextTick(tier.Name, nextTick)

		timer := time.NewTimer(max(wake.Sub(s.now()), 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Debug("Sync tier stopping", zap.String("tier", tier.Name))
			return
		case <-timer.C:
		}

		started := s.now()
		if retry {
			s.retrySweep(ctx, tier)
		} else {
			s.tick(ctx, tier)
			nextTick = s.now().Add(s.jittered(tier.Cadence))
		}
		retryAfter = started
	}
}

// nextRetry returns the earliest retry after the given time among the
// tier's failed pairs. Fixed-window tiers do not retry between ticks.
func (s *SyncScheduler) nextRetry(ctx context.Context, tier Tier, after time.Time) *time.Time {
	if tier.FixedWindow {
		return nil
	}
	at, err := s.states.NextRetryAt(ctx, tier.EntityTypes, after)
	if err != nil {
		s.logger.Warn("Failed to read pending retries", zap.String("tier", tier.Name), zap.Error(err))
		return nil
	}
	return at
}

// dueFunc decides whether a pair runs in the current pass
type dueFunc func(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) bool

// tick syncs every active tenant for the tier with a bounded pool
func (s *SyncScheduler) tick(ctx context.Context, tier Tier) {
	s.recordTick(tier.Name)

	var due dueFunc
	// Fixed-window tiers run on their own clock.
	if !tier.FixedWindow {
		due = func(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) bool {
			return s.isDue(ctx, tier, tenantID, entityType)
		}
	}
	s.dispatch(ctx, tier, due)
}

// retrySweep reruns the tier's failed pairs whose retry time has passed
func (s *SyncScheduler) retrySweep(ctx context.Context, tier Tier) {
	s.recordRetrySweep(tier.Name)
	s.dispatch(ctx, tier, s.isRetryDue)
}

// dispatch runs the pairs accepted by due (all of them when due is nil) for
// every active tenant
func (s *SyncScheduler) dispatch(ctx context.Context, tier Tier, due dueFunc) {
	tenants, err := s.tenants.ListActiveTenants(ctx)
	if err != nil {
		s.logger.Error("Failed to list active tenants", zap.String("tier", tier.Name), zap.Error(err))
		return
	}
	s.logger.Debug("Sync tier tick",
		zap.String("tier", tier.Name),
		zap.Int("tenants", len(tenants)),
	)

	var g errgroup.Group
	g.SetLimit(tier.Concurrency)
	for i, tenant := range tenants {
		if i > 0 && !sleepContext(ctx, s.config.InterTenantDelay) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			s.syncTenant(ctx, tier, tenant, due)
			return nil
		})
	}
	_ = g.Wait()
}

// syncTenant runs the tier's due entity types for one tenant under the
// tier's per-tenant timeout
func (s *SyncScheduler) syncTenant(ctx context.Context, tier Tier, tenant integration.Tenant, due dueFunc) {
	ctx, cancel := context.WithTimeout(ctx, tier.PerTenantTimeout)
	defer cancel()

	for _, entityType := range tier.EntityTypes {
		if ctx.Err() != nil {
			s.logger.Warn("Tenant sync timed out before all entity types ran",
				zap.String("tier", tier.Name),
				zap.String("tenant_id", tenant.ID.String()),
				zap.String("next_entity_type", entityType.String()),
			)
			return
		}
		if due != nil && !due(ctx, tenant.ID, entityType) {
			continue
		}

		run, err := s.execute(ctx, SyncRequest{
			Tenant:      tenant,
			EntityType:  entityType,
			Trigger:     tier.Name,
			Lookback:    tier.Lookback,
			FixedWindow: tier.FixedWindow,
			Cadence:     s.cadenceFor(entityType),
		})
		s.recordTierRun(tier.Name, run, err)
	}
}

// isDue reports whether the pair should run in this tick. A run finishing
// just after the tick fired would otherwise miss the following tick, so
// NextScheduledAt is compared with half a cadence of slack. Running rows
// are passed through so TryStart can count the skip or reclaim a stale run.
func (s *SyncScheduler) isDue(ctx context.Context, tier Tier, tenantID uuid.UUID, entityType integration.EntityType) bool {
	state, ok := s.state(ctx, tenantID, entityType)
	if !ok || state.IsRunning() {
		return true
	}
	return state.IsDue(s.now().Add(tier.Cadence / 2))
}

// isRetryDue accepts only failed pairs whose retry time has passed
func (s *SyncScheduler) isRetryDue(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) bool {
	state, ok := s.state(ctx, tenantID, entityType)
	if !ok {
		return false
	}
	return state.Status == integration.SyncStatusError && state.IsDue(s.now())
}

// state reads the pair's sync state. ok is false when there is none or it
// could not be read.
func (s *SyncScheduler) state(ctx context.Context, tenantID uuid.UUID, entityType integration.EntityType) (*integration.SyncState, bool) {
	state, err := s.states.Get(ctx, tenantID, entityType)
	if err != nil {
		if !errors.Is(err, integration.ErrSyncStateNotFound) {
			s.logger.Warn("Failed to read sync state",
				zap.String("tenant_id", tenantID.String()),
				zap.String("entity_type", entityType.String()),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return state, true
}

// execute runs the executor and records the result in history
func (s *SyncScheduler) execute(ctx context.Context, req SyncRequest) (*SyncRun, error) {
	s.active.Add(1)
	defer s.active.Add(-1)

	run, err := s.executor.Execute(ctx, req)
	if err != nil {
		if !errors.Is(err, integration.ErrSyncAlreadyRunning) {
			s.logger.Error("Sync could not start",
				zap.String("tenant_id", req.Tenant.ID.String()),
				zap.String("entity_type", req.EntityType.String()),
				zap.String("trigger", req.Trigger),
				zap.Error(err),
			)
		}
		s.recordTotals(nil, err)
		return nil, err
	}
	s.recordTotals(run, nil)
	s.addToHistory(*run)
	return run, nil
}

// cadenceFor returns the cadence of the entity type's home tier
func (s *SyncScheduler) cadenceFor(entityType integration.EntityType) time.Duration {
	return s.home[entityType].Cadence
}

// manualTimeout is the longest per-tenant timeout of any tier
func (s *SyncScheduler) manualTimeout() time.Duration {
	var d time.Duration
	for _, t := range s.config.Tiers {
		d = max(d, t.PerTenantTimeout)
	}
	return d
}

func (s *SyncScheduler) jittered(d time.Duration) time.Duration {
	if s.config.Jitter <= 0 {
		return d
	}
	spread := float64(d) * s.config.Jitter
	return d + time.Duration((rand.Float64()*2-1)*spread)
}

// ---------------------------------------------------------------------------
// Manual sync
// ---------------------------------------------------------------------------

// TriggerManualSync runs the requested entity types for one tenant now,
// ignoring cadence. Entity types already running are reported as
// SummarySkippedRunning; when that is every requested type the result is
// returned together with ErrAllEntitiesRunning.
//
// The runs are detached from ctx cancellation and bounded by the longest
// tier timeout, so a disconnecting caller does not abort them.
func (s *SyncScheduler) TriggerManualSync(ctx context.Context, req ManualSyncRequest) (*ManualSyncResult, error) {
	if req.LookbackDays != nil && (*req.LookbackDays < 1 || *req.LookbackDays > 365) {
		return nil, ErrInvalidLookback
	}
	entityTypes, err := integration.ExpandEntitySelector(req.EntityType)
	if err != nil {
		return nil, err
	}
	tenant, err := s.tenants.FindByID(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.manualTimeout())
	defer cancel()

	s.logger.Info("Manual sync requested",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("entity_type", req.EntityType),
	)

	result := &ManualSyncResult{TenantID: tenant.ID, Entities: make([]EntitySyncSummary, 0, len(entityTypes))}
	skippedRunning := 0
	for _, entityType := range entityTypes {
		summary := EntitySyncSummary{EntityType: entityType}

		run, err := s.execute(ctx, SyncRequest{
			Tenant:     *tenant,
			EntityType: entityType,
			Trigger:    TriggerManual,
			Since:      s.manualSince(ctx, req, tenant.ID, entityType),
			Cadence:    s.cadenceFor(entityType),
		})
		switch {
		case errors.Is(err, integration.ErrSyncAlreadyRunning):
			summary.Status = SummarySkippedRunning
			skippedRunning++
		case err != nil:
			summary.Status = integration.SyncStatusError.String()
			summary.Error = err.Error()
		default:
			summary.Status = run.Status.String()
			summary.Created = run.Created
			summary.Updated = run.Updated
			summary.Skipped = run.Skipped
			summary.Errors = run.Errors
			summary.PossibleTruncation = run.PossibleTruncation
			if run.ErrorDetail != nil && run.Status == integration.SyncStatusError {
				summary.Error = run.ErrorDetail.Message
			}
		}

		result.Created += summary.Created
		result.Updated += summary.Updated
		result.Skipped += summary.Skipped
		result.Errors += summary.Errors
		result.Entities = append(result.Entities, summary)
	}

	if skippedRunning == len(entityTypes) {
		return result, ErrAllEntitiesRunning
	}
	return result, nil
}

// manualSince is now-LookbackDays when given, else the start of the last
// clean run, else now-ManualLookback. Partial runs are skipped so records
// they missed fall back inside the window.
func (s *SyncScheduler) manualSince(ctx context.Context, req ManualSyncRequest, tenantID uuid.UUID, entityType integration.EntityType) *time.Time {
	now := s.now().UTC()
	if req.LookbackDays != nil {
		since := now.AddDate(0, 0, -*req.LookbackDays)
		return &since
	}
	if state, err := s.states.Get(ctx, tenantID, entityType); err == nil && state.LastSuccessAt != nil {
		since := state.LastSuccessAt.UTC()
		return &since
	}
	since := now.Add(-s.config.ManualLookback)
	return &since
}

// ---------------------------------------------------------------------------
// History and stats
// ---------------------------------------------------------------------------

// addToHistory adds a finished run to history
func (s *SyncScheduler) addToHistory(run SyncRun) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append([]SyncRun{run}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

// GetRunHistory returns recent runs, newest first
func (s *SyncScheduler) GetRunHistory(limit int) []SyncRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]SyncRun, limit)
	copy(result, s.history[:limit])
	return result
}

// GetRunHistoryByTenant returns recent runs for one tenant
func (s *SyncScheduler) GetRunHistoryByTenant(tenantID uuid.UUID, limit int) []SyncRun {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	result := make([]SyncRun, 0, limit)
	for _, run := range s.history {
		if run.TenantID == tenantID {
			result = append(result, run)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

// Stats returns a snapshot of scheduler activity
func (s *SyncScheduler) Stats() SchedulerStats {
	stats := SchedulerStats{
		Running:    s.IsRunning(),
		ActiveRuns: s.active.Load(),
		History:    s.GetRunHistory(statsHistoryLimit),
	}

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	stats.Totals = s.totals
	for _, t := range s.config.Tiers {
		ts := *s.tierStats[t.Name]
		stats.Tiers = append(stats.Tiers, ts)
	}
	return stats
}

func (s *SyncScheduler) recordTick(tier string) {
	now := s.now()
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	ts := s.tierStats[tier]
	ts.Ticks++
	ts.LastTickAt = &now
}

func (s *SyncScheduler) recordRetrySweep(tier string) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.tierStats[tier].RetrySweeps++
}

func (s *SyncScheduler) setNextTick(tier string, at time.Time) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.tierStats[tier].NextTickAt = &at
}

func (s *SyncScheduler) recordTierRun(tier string, run *SyncRun, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	ts := s.tierStats[tier]
	switch {
	case run != nil:
		ts.Runs++
	case errors.Is(err, integration.ErrSyncAlreadyRunning):
		ts.Skipped++
	}
}

func (s *SyncScheduler) recordTotals(run *SyncRun, err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if run == nil {
		if errors.Is(err, integration.ErrSyncAlreadyRunning) {
			s.totals.Skipped++
		}
		return
	}
	s.totals.Runs++
	switch run.Status {
	case integration.SyncStatusSuccess:
		s.totals.Success++
	case integration.SyncStatusPartial:
		s.totals.Partial++
	case integration.SyncStatusError:
		s.totals.Error++
	}
}

// sleepContext waits for d, returning false if ctx ends first
func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
