package cache

import (
	"context"
	"fmt"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/gobbleclark/packr-cursor-sub005/internal/infrastructure/config"
	"go.uber.org/zap"
)

// ClaimStore is an integration.ClaimStore that owns resources
type ClaimStore interface {
	integration.ClaimStore
	Close() error
}

// ClaimStoreFactory creates claim stores based on configuration
type ClaimStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// ClaimStoreFactoryOption is a functional option for configuring the factory
type ClaimStoreFactoryOption func(*ClaimStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to
// the in-memory store. Default is true.
func WithInMemoryFallback(allow bool) ClaimStoreFactoryOption {
	return func(f *ClaimStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewClaimStoreFactory creates a new factory
func NewClaimStoreFactory(cfg config.RedisConfig, opts ...ClaimStoreFactoryOption) *ClaimStoreFactory {
	f := &ClaimStoreFactory{
		redisConfig:           cfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore returns a Redis store when Redis is enabled and reachable,
// otherwise an in-memory store if fallback is allowed.
func (f *ClaimStoreFactory) CreateStore(ctx context.Context) (ClaimStore, error) {
	if !f.redisConfig.Enabled {
		f.logger.Info("Redis disabled, using in-memory webhook claim store")
		return NewInMemoryClaimStore(), nil
	}

	client, err := NewRedisClient(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err == nil {
		f.logger.Info("Using Redis webhook claim store", zap.String("addr", f.redisConfig.Addr()))
		return NewRedisClaimStore(client, ""), nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("redis required for webhook claims but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory webhook claim store; "+
		"concurrent duplicate deliveries to different instances are no longer collapsed",
		zap.Error(err))
	return NewInMemoryClaimStore(), nil
}
