package wms

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// HeaderRateRemaining is the remaining requests header
	HeaderRateRemaining = "X-RateLimit-Remaining"
	// HeaderRateReset is the reset header, Unix seconds or delta seconds
	HeaderRateReset = "X-RateLimit-Reset"
	// HeaderRetryAfter is the retry-after header, delta seconds or HTTP-date
	HeaderRetryAfter = "Retry-After"
)

// epochThreshold separates Unix timestamps from delta seconds in reset headers
const epochThreshold = 1_000_000_000

// RateLimiter throttles requests for one tenant. A token bucket paces calls
// proactively; the vendor's quota headers make calls wait for the reset once
// the remaining quota reaches the buffer.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	known     bool
	resetTime time.Time
	bucket    *rate.Limiter
	minBuffer int
	maxWait   time.Duration
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given burst
func NewRateLimiter(perSecond float64, burst, minBuffer int, maxWait time.Duration) *RateLimiter {
	return &RateLimiter{
		bucket:    rate.NewLimiter(rate.Limit(perSecond), burst),
		minBuffer: minBuffer,
		maxWait:   maxWait,
	}
}

// Wait blocks until it is safe to make a request
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	exhausted := r.known && r.remaining <= r.minBuffer
	resetTime := r.resetTime
	r.mu.Unlock()

	if !exhausted || !time.Now().Before(resetTime) {
		return nil
	}
	return sleepContext(ctx, min(time.Until(resetTime), r.maxWait))
}

// Update records the quota headers of a response
func (r *RateLimiter) Update(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v := resp.Header.Get(HeaderRateRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.remaining = n
			r.known = true
		}
	}
	if v := resp.Header.Get(HeaderRateReset); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			if n >= epochThreshold {
				r.resetTime = time.Unix(n, 0)
			} else {
				r.resetTime = time.Now().Add(time.Duration(n) * time.Second)
			}
		}
	}
}

// Remaining returns the last reported remaining quota and whether one was seen
func (r *RateLimiter) Remaining() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.known
}

// limiterSet hands out one RateLimiter per tenant
type limiterSet struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*RateLimiter
	newFn    func() *RateLimiter
}

func newLimiterSet(newFn func() *RateLimiter) *limiterSet {
	return &limiterSet{limiters: make(map[uuid.UUID]*RateLimiter), newFn: newFn}
}

func (s *limiterSet) get(tenantID uuid.UUID) *RateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[tenantID]
	if !ok {
		l = s.newFn()
		s.limiters[tenantID] = l
	}
	return l
}

// ParseRetryAfter parses a Retry-After value given as delta seconds or an
// HTTP-date. It returns 0 when the value is absent or unparsable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
