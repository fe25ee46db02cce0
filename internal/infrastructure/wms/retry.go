package wms

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// hintedBackOff wraps an exponential policy so that a server-provided wait
// (Retry-After) replaces the next computed interval once.
type hintedBackOff struct {
	mu   sync.Mutex
	next backoff.BackOff
	hint time.Duration
}

func (b *hintedBackOff) NextBackOff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.next.NextBackOff()
	if d == backoff.Stop {
		return backoff.Stop
	}
	if b.hint > 0 {
		d, b.hint = b.hint, 0
	}
	return d
}

func (b *hintedBackOff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hint = 0
	b.next.Reset()
}

func (b *hintedBackOff) setHint(d time.Duration) {
	b.mu.Lock()
	b.hint = d
	b.mu.Unlock()
}

// newRetryPolicy builds the per-call backoff: exponential with jitter,
// RetryMaxAttempts total attempts, bound to ctx.
func (c *Config) newRetryPolicy(ctx context.Context) (*hintedBackOff, backoff.BackOff) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.RetryInitialInterval
	exp.MaxInterval = c.RetryMaxInterval
	exp.Multiplier = c.RetryMultiplier
	exp.RandomizationFactor = c.RetryJitter
	exp.MaxElapsedTime = 0
	exp.Reset()

	hinted := &hintedBackOff{next: exp}
	retries := uint64(c.RetryMaxAttempts - 1)
	return hinted, backoff.WithContext(backoff.WithMaxRetries(hinted, retries), ctx)
}
