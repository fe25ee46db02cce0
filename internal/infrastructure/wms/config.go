package wms

import (
	"errors"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/config"
)

// Config holds the HTTP source adapter settings
type Config struct {
	// BaseURL is used for tenants whose credentials carry no base URL
	BaseURL string
	// RequestTimeout bounds each HTTP request
	RequestTimeout time.Duration
	// PageSize is sent as the limit query parameter
	PageSize int
	// MaxPages caps how many pages one ListEntities call follows
	MaxPages int
	// TruncationCaps are page sizes the vendor silently stops at
	TruncationCaps []int
	// MaxResponseSize bounds each response body
	MaxResponseSize int64

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
	RetryJitter          float64
	RetryMaxAttempts     int
	// MaxRetryAfter bounds how long a server-provided Retry-After is honored
	MaxRetryAfter time.Duration

	// RateLimitPerSecond and RateLimitBurst size the per-tenant token bucket
	RateLimitPerSecond float64
	RateLimitBurst     int
	// RateLimitBuffer is the remaining-quota level at which calls wait for reset
	RateLimitBuffer int
}

// Configuration errors
var (
	ErrConfigMaxPages    = errors.New("wms: max pages must be at least 1")
	ErrConfigPageSize    = errors.New("wms: page size must be between 1 and 1000")
	ErrConfigMaxAttempts = errors.New("wms: retry max attempts must be at least 1")
)

// NewConfigFromSource maps the service configuration to adapter settings
func NewConfigFromSource(src config.SourceConfig) *Config {
	return &Config{
		BaseURL:              src.BaseURL,
		RequestTimeout:       src.RequestTimeout,
		PageSize:             src.PageSize,
		MaxPages:             src.MaxPages,
		TruncationCaps:       append([]int(nil), src.TruncationCaps...),
		MaxResponseSize:      src.MaxResponseSize,
		RetryInitialInterval: src.RetryInitialInterval,
		RetryMaxInterval:     src.RetryMaxInterval,
		RetryMultiplier:      src.RetryMultiplier,
		RetryJitter:          src.RetryJitter,
		RetryMaxAttempts:     src.RetryMaxAttempts,
		MaxRetryAfter:        src.MaxRetryAfter,
		RateLimitPerSecond:   src.RateLimitPerSecond,
		RateLimitBurst:       src.RateLimitBurst,
		RateLimitBuffer:      src.RateLimitBuffer,
	}
}

// Validate validates the configuration and fills zero values with defaults
func (c *Config) Validate() error {
	if c.MaxPages < 1 {
		return ErrConfigMaxPages
	}
	if c.PageSize < 1 || c.PageSize > 1000 {
		return ErrConfigPageSize
	}
	if c.RetryMaxAttempts < 1 {
		return ErrConfigMaxAttempts
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxResponseSize <= 0 {
		c.MaxResponseSize = 32 << 20
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = 500 * time.Millisecond
	}
	if c.RetryMaxInterval <= 0 {
		c.RetryMaxInterval = 30 * time.Second
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = 2
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = 2 * time.Minute
	}
	if c.RateLimitPerSecond <= 0 {
		c.RateLimitPerSecond = 5
	}
	if c.RateLimitBurst < 1 {
		c.RateLimitBurst = 1
	}
	return nil
}

func (c *Config) isTruncationCap(n int) bool {
	for _, limit := range c.TruncationCaps {
		if n == limit {
			return true
		}
	}
	return false
}
