package wms

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "30", 30 * time.Second},
		{"negative", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soon", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRetryAfter(tt.value, now))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("waits for reset once the buffer is reached", func(t *testing.T) {
		limiter := NewRateLimiter(1000, 10, 5, 50*time.Millisecond)
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set(HeaderRateRemaining, "5")
		resp.Header.Set(HeaderRateReset, strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		limiter.Update(resp)

		remaining, known := limiter.Remaining()
		assert.True(t, known)
		assert.Equal(t, 5, remaining)

		start := time.Now()
		require.NoError(t, limiter.Wait(context.Background()))
		// Capped by maxWait rather than the hour-long reset.
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
	})

	t.Run("does not wait with quota left", func(t *testing.T) {
		limiter := NewRateLimiter(1000, 10, 5, time.Minute)
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set(HeaderRateRemaining, "100")
		resp.Header.Set(HeaderRateReset, "60")
		limiter.Update(resp)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.NoError(t, limiter.Wait(ctx))
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		limiter := NewRateLimiter(1000, 10, 5, time.Minute)
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set(HeaderRateRemaining, "0")
		resp.Header.Set(HeaderRateReset, "60")
		limiter.Update(resp)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, limiter.Wait(ctx), context.DeadlineExceeded)
	})

	t.Run("limiters are per tenant", func(t *testing.T) {
		set := newLimiterSet(func() *RateLimiter { return NewRateLimiter(1, 1, 0, time.Second) })
		a, b := uuid.New(), uuid.New()
		assert.Same(t, set.get(a), set.get(a))
		assert.NotSame(t, set.get(a), set.get(b))
	})
}

func TestRegistry(t *testing.T) {
	adapter := newTestAdapter(t, testConfig("http://wms.test"))
	registry := NewRegistry(adapter)

	got, err := registry.Get(integration.VendorGenericREST)
	require.NoError(t, err)
	assert.Same(t, adapter, got)
	assert.Equal(t, []integration.VendorCode{integration.VendorGenericREST}, registry.Vendors())

	_, err = registry.Get("acme")
	assert.ErrorIs(t, err, integration.ErrAdapterNotFound)
}

func TestConfig_Validate(t *testing.T) {
	cfg := testConfig("http://wms.test")
	cfg.MaxPages = 0
	assert.ErrorIs(t, cfg.Validate(), ErrConfigMaxPages)

	cfg = testConfig("http://wms.test")
	cfg.PageSize = 5000
	assert.ErrorIs(t, cfg.Validate(), ErrConfigPageSize)

	cfg = &Config{MaxPages: 1, PageSize: 10, RetryMaxAttempts: 1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 1, cfg.RateLimitBurst)
}
