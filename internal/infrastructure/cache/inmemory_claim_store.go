package cache

import (
	"context"
	"sync"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
)

// claim is a held key with its expiry
type claim struct {
	expiresAt time.Time
}

// InMemoryClaimStore implements integration.ClaimStore with an in-memory map.
// Claims are not shared between processes.
type InMemoryClaimStore struct {
	mu        sync.Mutex
	claims    map[string]claim
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// NewInMemoryClaimStore creates a store and starts its expiry sweeper
func NewInMemoryClaimStore() *InMemoryClaimStore {
	s := &InMemoryClaimStore{
		claims:   make(map[string]claim),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
	s.wg.Add(1)
	go s.sweepLoop(time.Minute)
	return s
}

// Claim takes the key unless a live claim exists
func (s *InMemoryClaimStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if c, ok := s.claims[key]; ok && now.Before(c.expiresAt) {
		return false, nil
	}
	s.claims[key] = claim{expiresAt: now.Add(ttl)}
	return true, nil
}

// Release drops the claim so a redelivery can take it
func (s *InMemoryClaimStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

// Close stops the sweeper. Safe to call multiple times.
func (s *InMemoryClaimStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

// Size returns the number of held claims, expired or not
func (s *InMemoryClaimStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.claims)
}

func (s *InMemoryClaimStore) sweepLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InMemoryClaimStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.claims {
		if !now.Before(c.expiresAt) {
			delete(s.claims, key)
		}
	}
}

// Ensure InMemoryClaimStore implements the interface
var _ integration.ClaimStore = (*InMemoryClaimStore)(nil)
