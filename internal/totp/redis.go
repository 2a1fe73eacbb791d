package totp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-based implementation of CodeStore. It lets
// parallel invocations on one controller share a generated code within
// its window instead of each generating their own. Entries carry a TTL
// equal to the remaining window, so nothing outlives a single code.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-based code store
func NewRedisStore(address, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		prefix: "kvmd-totp:",
	}, nil
}

// key derives the Redis key for a secret. The secret itself never
// appears in the keyspace.
func (r *RedisStore) key(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return r.prefix + hex.EncodeToString(sum[:])
}

// Get retrieves the cached entry for a secret
func (r *RedisStore) Get(secret string) (Entry, bool) {
	ctx := context.Background()
	key := r.key(secret)

	code, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return Entry{}, false
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return Entry{}, false
	}

	return Entry{Code: code, Expiry: time.Now().Add(ttl)}, true
}

// Put stores the entry for a secret with a TTL matching its expiry
func (r *RedisStore) Put(secret string, e Entry) error {
	ttl := time.Until(e.Expiry)
	if ttl <= 0 {
		// Already expired, nothing worth storing
		return nil
	}

	ctx := context.Background()
	return r.client.Set(ctx, r.key(secret), e.Code, ttl).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}
