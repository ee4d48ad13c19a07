package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trailtag/trailtag/pkg/config"
)

const redisPingTimeout = 5 * time.Second

// RedisStore keeps cache entries in Redis keyed by fingerprint, with native
// expiry instead of tombstone records. Selected via cache.backend: redis.
type RedisStore struct {
	client *redis.Client
	expiry time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
// A failed ping is returned as an error so startup can abort instead of
// running with a silently dead cache.
func NewRedisStore(cfg *config.RedisConfig) (*RedisStore, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	expiry := time.Duration(cfg.ExpiryDays) * 24 * time.Hour
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}

	slog.Info("Redis cache store connected", "addr", addr, "db", cfg.DB, "expiry", expiry)
	return &RedisStore{client: client, expiry: expiry}, nil
}

// Get returns the content stored under the fingerprint. The caller key is
// unused; Redis lookups are fingerprint-only.
func (r *RedisStore) Get(ctx context.Context, _ string, fingerprint string) (string, bool) {
	val, err := r.client.Get(ctx, fingerprint).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("Redis cache get failed", "key", fingerprint, "error", err)
		}
		return "", false
	}
	return val, true
}

// Set stores content under the fingerprint. A positive ttl overrides the
// store-wide default expiry.
func (r *RedisStore) Set(ctx context.Context, _ string, fingerprint, content string, ttl time.Duration) bool {
	expiry := r.expiry
	if ttl > 0 {
		expiry = ttl
	}
	if err := r.client.Set(ctx, fingerprint, content, expiry).Err(); err != nil {
		slog.Warn("Redis cache set failed", "key", fingerprint, "error", err)
		return false
	}
	return true
}

// Delete removes the fingerprint. Redis deletes are hard; there is no masked
// history to compact.
func (r *RedisStore) Delete(ctx context.Context, fingerprint string) bool {
	if err := r.client.Del(ctx, fingerprint).Err(); err != nil {
		slog.Warn("Redis cache delete failed", "key", fingerprint, "error", err)
		return false
	}
	return true
}

// Close releases the underlying Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
