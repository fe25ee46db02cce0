package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gobbleclark/packr-cursor-sub005/internal/domain/integration"
	"github.com/redis/go-redis/v9"
)

// DefaultClaimKeyPrefix namespaces webhook claims in Redis
const DefaultClaimKeyPrefix = "packr:webhook:claim:"

// RedisClaimStore implements integration.ClaimStore with Redis SETNX, so
// claims are shared by every instance of the service.
type RedisClaimStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisClient opens a Redis client and verifies it with PING
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisClaimStore creates a store on an existing client
func NewRedisClaimStore(client *redis.Client, keyPrefix string) *RedisClaimStore {
	if keyPrefix == "" {
		keyPrefix = DefaultClaimKeyPrefix
	}
	return &RedisClaimStore{client: client, keyPrefix: keyPrefix}
}

// Claim sets the key only if it does not exist, with a TTL, in one command
func (s *RedisClaimStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Release deletes the claim
func (s *RedisClaimStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to release %s: %w", key, err)
	}
	return nil
}

// Ping checks the Redis connection
func (s *RedisClaimStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisClaimStore) Close() error {
	return s.client.Close()
}

// Ensure RedisClaimStore implements the interface
var _ integration.ClaimStore = (*RedisClaimStore)(nil)
